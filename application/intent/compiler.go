package intent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"spectra/domain/entities"
)

// ErrUnclassifiable marks input no pattern or verb heuristic could
// type. Compile records it in intent metadata instead of returning it.
var ErrUnclassifiable = errors.New("intent could not be classified")

// Stats aggregates compiler counters.
type Stats struct {
	Total          int           `json:"total"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	AverageCompile time.Duration `json:"average_compile"`
}

// Compiler turns natural-language instructions into executable intents.
// Compile never fails: unclassifiable input yields an unknown intent
// with zero confidence and the failure recorded in metadata.
type Compiler struct {
	logger *logrus.Logger

	mu           sync.Mutex
	active       map[string]*entities.Intent
	stats        Stats
	totalCompile time.Duration
}

func NewCompiler(logger *logrus.Logger) *Compiler {
	return &Compiler{
		logger: logger,
		active: make(map[string]*entities.Intent),
	}
}

// Compile classifies text, extracts entities, binds parameters and
// builds the goal tree.
func (c *Compiler) Compile(ctx context.Context, text string) *entities.Intent {
	started := time.Now()

	in := &entities.Intent{
		ID:        uuid.NewString(),
		RawText:   text,
		Status:    entities.IntentStatusPending,
		CreatedAt: started,
		Metadata:  map[string]string{},
	}

	kind, confidence, target := classify(text)
	in.Type = kind
	in.Confidence = confidence

	if kind == entities.IntentUnknown {
		in.Status = entities.IntentStatusFailed
		in.Metadata["error"] = ErrUnclassifiable.Error()
		c.record(in, time.Since(started), false)
		c.logger.WithField("text", truncate(text, 50)).Warn("Intent could not be classified")
		return in
	}

	in.Entities = extractEntities(text)
	in.Parameters = bindParameters(kind, target, in.Entities)
	in.Goals = decomposeGoals(kind, text, in.Parameters)
	in.EstimatedDuration = estimateDuration(in.Goals)
	in.Status = entities.IntentStatusReady

	c.record(in, time.Since(started), true)
	c.logger.WithFields(logrus.Fields{
		"intent_id":  in.ID,
		"type":       in.Type,
		"confidence": in.Confidence,
		"actions":    in.ActionCount(),
	}).Info("Intent compiled")
	return in
}

func (c *Compiler) record(in *entities.Intent, elapsed time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active[in.ID] = in
	c.stats.Total++
	if ok {
		c.stats.Succeeded++
	} else {
		c.stats.Failed++
	}
	c.totalCompile += elapsed
	c.stats.AverageCompile = c.totalCompile / time.Duration(c.stats.Total)
}

// Optimize dedupes and reorders every sequence of the intent.
func (c *Compiler) Optimize(in *entities.Intent) {
	for gi := range in.Goals {
		for si := range in.Goals[gi].Sequences {
			optimizeSequence(&in.Goals[gi].Sequences[si])
		}
	}
	in.EstimatedDuration = estimateDuration(in.Goals)
}

// Get returns a registered intent by id.
func (c *Compiler) Get(id string) (*entities.Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.active[id]
	return in, ok
}

// SetStatus updates the lifecycle state of a registered intent.
func (c *Compiler) SetStatus(id string, status entities.IntentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if in, ok := c.active[id]; ok {
		in.Status = status
	}
}

// Cancel marks a registered intent cancelled. Execution already in
// flight observes the status between actions.
func (c *Compiler) Cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.active[id]
	if !ok {
		return false
	}
	switch in.Status {
	case entities.IntentStatusCompleted, entities.IntentStatusFailed, entities.IntentStatusCancelled:
		return false
	}
	in.Status = entities.IntentStatusCancelled
	return true
}

// ClearCompleted drops finished intents from the registry and returns
// how many were removed.
func (c *Compiler) ClearCompleted() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, in := range c.active {
		switch in.Status {
		case entities.IntentStatusCompleted, entities.IntentStatusFailed, entities.IntentStatusCancelled:
			delete(c.active, id)
			removed++
		}
	}
	return removed
}

// Stats returns a copy of the compiler counters.
func (c *Compiler) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Suggestions proposes completions for a partial instruction based on
// the known leading verbs.
func (c *Compiler) Suggestions(partial string) []string {
	prefix := strings.ToLower(strings.TrimSpace(partial))
	if prefix == "" {
		return nil
	}

	var out []string
	for verb := range leadingVerbs {
		if strings.HasPrefix(verb, prefix) {
			out = append(out, verb+" ...")
		}
	}
	sort.Strings(out)
	return out
}

// ValidateParameters reports missing required parameters for the
// intent's type.
func (c *Compiler) ValidateParameters(in *entities.Intent) []string {
	var issues []string
	switch in.Type {
	case entities.IntentNavigate:
		if in.Parameters["url"] == "" {
			issues = append(issues, "navigate intent is missing a url")
		}
	case entities.IntentSearch:
		if in.Parameters["query"] == "" {
			issues = append(issues, "search intent is missing a query")
		}
	case entities.IntentUpload:
		if in.Parameters["target"] == "" {
			issues = append(issues, "upload intent is missing a file target")
		}
	case entities.IntentAuthenticate:
		// Credentials come from the session at execution time.
	}
	for _, g := range in.Goals {
		for _, req := range g.Requirements {
			if req == entities.RequirementPaymentInfo {
				issues = append(issues, fmt.Sprintf("goal %q requires stored payment info", g.Description))
			}
		}
	}
	return issues
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
