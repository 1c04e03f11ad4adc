package orchestrator

import (
	"context"
	"fmt"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"spectra/domain/entities"
	"spectra/infrastructure/security"
)

// task is one queued intent execution.
type task struct {
	in      *entities.Intent
	execCtx entities.ExecutionContext
	done    chan *entities.ExecutionResult
}

// ExecuteRequest carries one intent execution order.
type ExecuteRequest struct {
	Text      string
	SessionID string
	UserID    string
	Priority  entities.ExecutionPriority
	Timeout   time.Duration
}

// ExecuteIntent compiles text into an intent, queues it at medium
// priority and waits for the result. An empty sessionID creates a
// fresh session for the run.
func (o *Orchestrator) ExecuteIntent(ctx context.Context, text, sessionID string) (*entities.ExecutionResult, error) {
	return o.Execute(ctx, ExecuteRequest{
		Text:      text,
		SessionID: sessionID,
		Priority:  entities.ExecMedium,
	})
}

// Execute compiles the request text into an intent, queues it and
// waits for the result. Critical requests wait briefly for queue room
// instead of failing fast.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*entities.ExecutionResult, error) {
	if !o.running.Load() {
		return nil, ErrNotRunning
	}

	text, sessionID := req.Text, req.SessionID
	if sessionID == "" {
		created, err := o.sessions.Create("Intent: "+truncateText(text, 50), entities.SessionStandard, req.UserID)
		if err != nil {
			return nil, err
		}
		sessionID = created.ID
	} else if _, err := o.sessions.Get(sessionID); err != nil {
		return nil, err
	}

	in := o.compiler.Compile(ctx, text)
	if in.Status == entities.IntentStatusFailed {
		return &entities.ExecutionResult{
			IntentID:  in.ID,
			SessionID: sessionID,
			Error:     in.Metadata["error"],
		}, nil
	}
	problems := o.compiler.ValidateParameters(in)
	if o.requirementSatisfied(sessionID, entities.RequirementPaymentInfo) {
		kept := problems[:0]
		for _, problem := range problems {
			if !strings.Contains(problem, "payment info") {
				kept = append(kept, problem)
			}
		}
		problems = kept
	}
	if len(problems) > 0 {
		o.compiler.SetStatus(in.ID, entities.IntentStatusFailed)
		return &entities.ExecutionResult{
			IntentID:  in.ID,
			SessionID: sessionID,
			Error:     strings.Join(problems, "; "),
		}, nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	t := &task{
		in: in,
		execCtx: entities.ExecutionContext{
			SessionID:       sessionID,
			IntentID:        in.ID,
			UserID:          req.UserID,
			Priority:        req.Priority,
			Timeout:         timeout,
			ValidateActions: o.validator != nil,
			AnalyzeMedia:    o.media != nil,
			SaveScreenshots: o.cfg.SaveScreenshots,
		},
		done: make(chan *entities.ExecutionResult, 1),
	}

	select {
	case o.queue <- t:
	default:
		if req.Priority != entities.ExecCritical {
			return nil, ErrQueueFull
		}
		// critical work waits a beat for the consumer to drain
		select {
		case o.queue <- t:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return nil, ErrQueueFull
		}
	}

	select {
	case result := <-t.done:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout + time.Second):
		o.compiler.SetStatus(in.ID, entities.IntentStatusCancelled)
		return &entities.ExecutionResult{
			IntentID:  in.ID,
			SessionID: sessionID,
			Error:     "Execution timeout",
		}, nil
	}
}

// consume drains the queue one intent at a time. The browser is a
// single shared resource; concurrency lives at the session level.
func (o *Orchestrator) consume() {
	for {
		select {
		case <-o.runCtx.Done():
			return
		case t := <-o.queue:
			o.metrics.begin()
			started := time.Now()

			ctx, cancel := context.WithTimeout(o.runCtx, t.execCtx.Timeout)
			result := o.executeIntent(ctx, t.in, t.execCtx)
			cancel()

			result.ExecutionTime = time.Since(started)
			o.metrics.finish(result.Success, result.ExecutionTime)
			t.done <- result
		}
	}
}

func (o *Orchestrator) executeIntent(ctx context.Context, in *entities.Intent, execCtx entities.ExecutionContext) *entities.ExecutionResult {
	result := &entities.ExecutionResult{
		IntentID:  in.ID,
		SessionID: execCtx.SessionID,
	}

	o.compiler.SetStatus(in.ID, entities.IntentStatusExecuting)
	o.logger.WithFields(logrus.Fields{
		"intent_id":  in.ID,
		"type":       in.Type,
		"session_id": execCtx.SessionID,
		"goals":      len(in.Goals),
	}).Info("Executing intent")

	// multi-goal intents get a workflow so progress survives restarts
	var workflow *entities.Workflow
	if len(in.Goals) > 1 {
		steps := make([]entities.WorkflowStep, len(in.Goals))
		for i, goal := range in.Goals {
			steps[i] = entities.WorkflowStep{
				ID:         goal.ID,
				Name:       goal.Description,
				MaxRetries: 1,
			}
		}
		wf, err := o.sessions.AddWorkflow(execCtx.SessionID, string(in.Type)+" workflow", truncateText(in.RawText, 120), steps)
		if err != nil {
			o.logger.WithError(err).Warn("Failed to create workflow")
		} else {
			workflow = wf
		}
	}

	aborted := false
	var firstErr error
	for gi := range in.Goals {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			aborted = true
			break
		}

		goal := &in.Goals[gi]
		err := o.executeGoal(ctx, goal, execCtx, result)

		if workflow != nil {
			stepResult, stepErr := "completed", ""
			if err != nil {
				stepResult, stepErr = "", err.Error()
			}
			if uerr := o.sessions.UpdateWorkflowProgress(execCtx.SessionID, workflow.ID, gi, err == nil, stepResult, stepErr); uerr != nil {
				o.logger.WithError(uerr).Warn("Failed to record workflow progress")
			}
		}

		if err != nil {
			o.logger.WithError(err).WithField("goal", goal.Description).Warn("Goal failed")
			if firstErr == nil {
				firstErr = err
			}
			if goal.Critical {
				aborted = true
				break
			}
		}
	}

	o.updateSessionState(execCtx.SessionID)

	result.Success = !aborted
	if firstErr != nil {
		result.Error = firstErr.Error()
	}
	if result.Success {
		o.compiler.SetStatus(in.ID, entities.IntentStatusCompleted)
	} else {
		o.compiler.SetStatus(in.ID, entities.IntentStatusFailed)
	}

	o.logger.WithFields(logrus.Fields{
		"intent_id": in.ID,
		"success":   result.Success,
		"actions":   result.ActionsPerformed,
	}).Info("Intent finished")
	return result
}

func (o *Orchestrator) executeGoal(ctx context.Context, goal *entities.Goal, execCtx entities.ExecutionContext, result *entities.ExecutionResult) error {
	for _, requirement := range goal.Requirements {
		if !o.requirementSatisfied(execCtx.SessionID, requirement) {
			return fmt.Errorf("requirement %q not satisfied for goal %q", requirement, goal.Description)
		}
	}

	for si := range goal.Sequences {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if err := o.executeSequence(ctx, &goal.Sequences[si], execCtx, result); err != nil {
			return err
		}
	}
	return nil
}

// requirementSatisfied checks a goal precondition against session
// state. Payment steps need stored credentials before they may run.
func (o *Orchestrator) requirementSatisfied(sessionID, requirement string) bool {
	if requirement != entities.RequirementPaymentInfo {
		return true
	}
	s, err := o.sessions.Get(sessionID)
	if err != nil {
		return false
	}
	return len(s.Credentials) > 0
}

func (o *Orchestrator) executeSequence(ctx context.Context, seq *entities.ActionSequence, execCtx entities.ExecutionContext, result *entities.ExecutionResult) error {
	seqCtx := ctx
	if seq.TotalTimeout > 0 {
		var cancel context.CancelFunc
		seqCtx, cancel = context.WithTimeout(ctx, seq.TotalTimeout)
		defer cancel()
	}

	if seq.MaxParallel > 1 && readOnlySequence(seq) {
		return o.executeParallel(seqCtx, seq, execCtx, result)
	}

	for ai := range seq.Actions {
		// cancellation is cooperative: an abort takes effect between
		// actions, never in the middle of one
		if err := seqCtx.Err(); err != nil {
			return fmt.Errorf("%w: sequence %s: %v", ErrTimeout, seq.Name, err)
		}
		if err := o.executeAction(seqCtx, &seq.Actions[ai], execCtx, result); err != nil {
			if seq.ContinueOnError {
				o.logger.WithError(err).WithField("sequence", seq.Name).Warn("Continuing after action failure")
				continue
			}
			return err
		}
	}
	return nil
}

// executeParallel runs independent read-only actions with a bounded
// worker count.
func (o *Orchestrator) executeParallel(ctx context.Context, seq *entities.ActionSequence, execCtx entities.ExecutionContext, result *entities.ExecutionResult) error {
	sem := make(chan struct{}, seq.MaxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	local := &entities.ExecutionResult{}
	for ai := range seq.Actions {
		action := &seq.Actions[ai]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			part := &entities.ExecutionResult{}
			err := o.executeAction(ctx, action, execCtx, part)

			mu.Lock()
			defer mu.Unlock()
			local.ActionsPerformed += part.ActionsPerformed
			local.Validations = append(local.Validations, part.Validations...)
			local.Screenshots = append(local.Screenshots, part.Screenshots...)
			local.MediaAnalyses = append(local.MediaAnalyses, part.MediaAnalyses...)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}()
	}
	wg.Wait()

	result.ActionsPerformed += local.ActionsPerformed
	result.Validations = append(result.Validations, local.Validations...)
	result.Screenshots = append(result.Screenshots, local.Screenshots...)
	result.MediaAnalyses = append(result.MediaAnalyses, local.MediaAnalyses...)

	if firstErr != nil && !seq.ContinueOnError {
		return firstErr
	}
	return nil
}

func (o *Orchestrator) executeAction(ctx context.Context, stored *entities.Action, execCtx entities.ExecutionContext, result *entities.ExecutionResult) error {
	// work on a copy so credential substitution never touches the
	// compiled intent
	action := *stored
	o.resolveCredential(ctx, &action, execCtx.SessionID)

	currentURL := o.currentURL(ctx)
	if level := o.risk.Assess(&action, currentURL); level == security.RiskHigh {
		o.logger.WithFields(logrus.Fields{
			"action_id": action.ID,
			"type":      action.Type,
			"selector":  action.Selector,
			"url":       currentURL,
		}).Warn("Executing high-risk action")
	}

	var baseline *entities.ValidationSnapshot
	if execCtx.ValidateActions && o.validator != nil && affectsPage(action.Type) {
		snap, err := o.validator.CaptureBaseline(ctx)
		if err != nil {
			o.logger.WithError(err).Debug("Baseline capture failed, skipping validation")
		} else {
			baseline = snap
		}
	}

	output, err := o.engine.Execute(ctx, &action)
	// outcome fields flow back to the compiled intent; Value stays as
	// compiled so substituted credentials never leave the copy
	stored.Status = action.Status
	stored.Error = action.Error
	stored.ExecutionTime = action.ExecutionTime
	if err != nil {
		return err
	}
	result.ActionsPerformed++
	if output != "" {
		o.logger.WithFields(logrus.Fields{
			"action_id": action.ID,
			"output":    truncateText(output, 200),
		}).Debug("Action produced output")
	}

	if baseline != nil {
		report, verr := o.validator.Validate(ctx, action.ID, baseline, action.Expected)
		if verr != nil {
			o.logger.WithError(verr).Debug("Validation unavailable for action")
		} else {
			result.Validations = append(result.Validations, *report)
			if report.Result == entities.ValidationFailure {
				return fmt.Errorf("action %s had no valid effect: %s", action.ID, report.Message)
			}
		}
	}

	if execCtx.SaveScreenshots {
		o.captureEvidence(ctx, &action, execCtx, result)
	}
	return nil
}

// captureEvidence saves a post-action screenshot and optionally runs
// media analysis over it.
func (o *Orchestrator) captureEvidence(ctx context.Context, action *entities.Action, execCtx entities.ExecutionContext, result *entities.ExecutionResult) {
	shot, err := o.engine.TakeScreenshot(ctx)
	if err != nil || len(shot) == 0 {
		return
	}

	dir := o.cfg.ScreenshotsDir
	if dir == "" {
		dir = filepath.Join(o.cfg.StorageDir, "screenshots")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		o.logger.WithError(err).Debug("Cannot create screenshots directory")
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", execCtx.IntentID, action.ID))
	if err := os.WriteFile(path, shot, 0644); err != nil {
		o.logger.WithError(err).Debug("Failed to save screenshot")
		return
	}
	result.Screenshots = append(result.Screenshots, path)

	if execCtx.AnalyzeMedia && o.media != nil {
		analysis, err := o.media.Analyze(ctx, shot)
		if err != nil {
			o.logger.WithError(err).Debug("Media analysis failed")
			return
		}
		result.MediaAnalyses = append(result.MediaAnalyses, analysis)
	}
}

// resolveCredential substitutes stored credentials into actions that
// reference them. The plaintext lives only in the action copy.
func (o *Orchestrator) resolveCredential(ctx context.Context, action *entities.Action, sessionID string) {
	field := action.Parameters["credential"]
	if field == "" {
		return
	}

	domain := hostOf(o.currentURL(ctx))
	if domain == "" {
		return
	}

	plain, err := o.sessions.GetCredentials(sessionID, domain)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"domain":     domain,
		}).Warn("No stored credentials for domain")
		return
	}

	switch field {
	case "username":
		action.Value = plain.Username
	case "password":
		action.Value = plain.Password
	case "token":
		action.Value = plain.Token
	}
}

// updateSessionState pushes the live browser position into the session.
func (o *Orchestrator) updateSessionState(sessionID string) {
	ctx, cancel := context.WithTimeout(o.runCtx, 5*time.Second)
	defer cancel()

	url, err := o.driver.CurrentURL(ctx)
	if err != nil {
		return
	}
	title, _ := o.driver.Title(ctx)

	state := entities.BrowserState{
		URL:   url,
		Title: title,
		Tabs:  o.driver.Tabs(),
	}
	if err := o.sessions.UpdateState(sessionID, state); err != nil {
		o.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to update session state")
	}
}

func (o *Orchestrator) currentURL(ctx context.Context) string {
	url, err := o.driver.CurrentURL(ctx)
	if err != nil {
		return ""
	}
	return url
}

// readOnlySequence reports whether every action only observes the page.
func readOnlySequence(seq *entities.ActionSequence) bool {
	for _, action := range seq.Actions {
		switch action.Type {
		case entities.ActionExtractText, entities.ActionExtractLinks,
			entities.ActionExtractImages, entities.ActionScreenshot,
			entities.ActionWait:
		default:
			return false
		}
	}
	return len(seq.Actions) > 0
}

// affectsPage reports whether an action can change observable page
// state. Pure reads skip validation.
func affectsPage(t entities.ActionType) bool {
	switch t {
	case entities.ActionExtractText, entities.ActionExtractLinks,
		entities.ActionExtractImages, entities.ActionScreenshot,
		entities.ActionWait:
		return false
	}
	return true
}

func hostOf(rawURL string) string {
	parsed, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := parsed.Hostname()
	return strings.TrimPrefix(host, "www.")
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
