package intent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"spectra/domain/entities"
)

const (
	defaultActionTimeout  = 30 * time.Second
	defaultRetryCount     = 3
	defaultRetryDelay     = time.Second
	defaultMaxParallel    = 3
	defaultSequenceBudget = 5 * time.Minute
)

// Common selectors the templates target. Sites vary, the navigation
// engine falls back to text search when these miss.
const (
	searchInputSelector  = `input[type="search"], input[name*="search"], .search-box`
	emailInputSelector   = `input[type="email"], input[name*="email"], input[name*="username"]`
	passwordSelector     = `input[type="password"], input[name*="password"]`
	submitSelector       = `button[type="submit"], input[type="submit"], .login-button, .signin-button`
	addToCartSelector    = `.add-to-cart, .buy-now, .purchase-button`
	checkoutSelector     = `.checkout, .proceed-to-checkout`
	downloadLinkSelector = `a[download], .download-button, a[href*="download"]`
	uploadInputSelector  = `input[type="file"]`
)

func newAction(kind entities.ActionType, priority entities.Priority) entities.Action {
	return entities.Action{
		ID:         uuid.NewString(),
		Type:       kind,
		Timeout:    defaultActionTimeout,
		RetryCount: defaultRetryCount,
		RetryDelay: defaultRetryDelay,
		Priority:   priority,
	}
}

// templateActions builds the action list for an intent type from its
// bound parameters.
func templateActions(kind entities.IntentType, params map[string]string) []entities.Action {
	priority := intentPriority(kind)

	switch kind {
	case entities.IntentNavigate:
		nav := newAction(entities.ActionNavigateTo, priority)
		nav.URL = params["url"]
		nav.Description = "Navigate to " + nav.URL
		nav.Expected = []entities.ChangeType{entities.ChangeURL}
		return []entities.Action{nav}

	case entities.IntentSearch:
		click := newAction(entities.ActionClick, priority)
		click.Selector = searchInputSelector
		click.Description = "Focus the search input"

		typeText := newAction(entities.ActionTypeText, priority)
		typeText.Selector = searchInputSelector
		typeText.Value = params["query"]
		typeText.Description = "Type the search query"

		press := newAction(entities.ActionPressKey, priority)
		press.Selector = searchInputSelector
		press.Value = "Enter"
		press.Description = "Submit the search"
		press.Expected = []entities.ChangeType{entities.ChangeURL, entities.ChangeDOM}

		return []entities.Action{click, typeText, press}

	case entities.IntentAuthenticate:
		clickEmail := newAction(entities.ActionClick, priority)
		clickEmail.Selector = emailInputSelector
		clickEmail.Description = "Focus the username field"

		typeEmail := newAction(entities.ActionTypeText, priority)
		typeEmail.Selector = emailInputSelector
		if email := params["email"]; email != "" {
			typeEmail.Value = email
			typeEmail.Description = "Enter the email address"
		} else {
			// no address in the instruction, resolve from stored credentials
			typeEmail.Parameters = map[string]string{"credential": "username"}
			typeEmail.Description = "Enter the username"
		}

		clickPassword := newAction(entities.ActionClick, priority)
		clickPassword.Selector = passwordSelector
		clickPassword.Description = "Focus the password field"

		typePassword := newAction(entities.ActionTypeText, priority)
		typePassword.Selector = passwordSelector
		typePassword.Parameters = map[string]string{"credential": "password"}
		typePassword.Description = "Enter the password"

		submit := newAction(entities.ActionClick, priority)
		submit.Selector = submitSelector
		submit.Description = "Submit the login form"
		submit.Expected = []entities.ChangeType{entities.ChangeURL, entities.ChangeNetwork}

		return []entities.Action{clickEmail, typeEmail, clickPassword, typePassword, submit}

	case entities.IntentExtract:
		extract := newAction(entities.ActionExtractText, priority)
		extract.Selector = "body"
		extract.Description = "Extract page text"
		return []entities.Action{extract}

	case entities.IntentPurchase:
		addToCart := newAction(entities.ActionClick, priority)
		addToCart.Selector = addToCartSelector
		addToCart.Description = "Add the item to the cart"
		addToCart.Expected = []entities.ChangeType{entities.ChangeDOM, entities.ChangeNetwork}

		wait := newAction(entities.ActionWait, priority)
		wait.Value = "2s"
		wait.Description = "Wait for the cart to update"

		checkout := newAction(entities.ActionClick, priority)
		checkout.Selector = checkoutSelector
		checkout.Description = "Proceed to checkout"
		checkout.Expected = []entities.ChangeType{entities.ChangeURL}

		return []entities.Action{addToCart, wait, checkout}

	case entities.IntentDownload:
		click := newAction(entities.ActionDownloadFile, priority)
		click.Selector = downloadLinkSelector
		click.Description = "Download " + params["target"]
		return []entities.Action{click}

	case entities.IntentUpload:
		upload := newAction(entities.ActionUploadFile, priority)
		upload.Selector = uploadInputSelector
		upload.Value = params["target"]
		upload.Description = "Upload " + params["target"]
		return []entities.Action{upload}

	case entities.IntentFormFill:
		fill := newAction(entities.ActionCustom, priority)
		fill.Parameters = map[string]string{"operation": "form_fill"}
		fill.Description = "Fill the form from bound parameters"
		fill.Expected = []entities.ChangeType{entities.ChangeDOM}
		return []entities.Action{fill}

	case entities.IntentMonitor:
		shot := newAction(entities.ActionScreenshot, priority)
		shot.Description = "Capture the monitored page"

		wait := newAction(entities.ActionWait, priority)
		wait.Value = "5s"
		wait.Description = "Wait before the next check"
		return []entities.Action{shot, wait}

	case entities.IntentInteract:
		click := newAction(entities.ActionClick, priority)
		click.Selector = params["target"]
		click.Description = "Interact with " + params["target"]
		return []entities.Action{click}
	}

	// No template: capture context so the caller can inspect the page.
	shot := newAction(entities.ActionScreenshot, priority)
	shot.Description = "Capture current page state"
	extract := newAction(entities.ActionExtractText, priority)
	extract.Selector = "body"
	extract.Description = "Extract page text"
	return []entities.Action{shot, extract}
}

func intentPriority(kind entities.IntentType) entities.Priority {
	switch kind {
	case entities.IntentPurchase, entities.IntentAuthenticate:
		return entities.PriorityCritical
	case entities.IntentFormFill, entities.IntentUpload, entities.IntentDownload:
		return entities.PriorityHigh
	case entities.IntentSearch, entities.IntentNavigate, entities.IntentInteract:
		return entities.PriorityMedium
	}
	return entities.PriorityLow
}

func newSequence(name string, actions []entities.Action) entities.ActionSequence {
	return entities.ActionSequence{
		ID:           uuid.NewString(),
		Name:         name,
		Actions:      actions,
		MaxParallel:  defaultMaxParallel,
		TotalTimeout: defaultSequenceBudget,
	}
}

// decomposeGoals builds the goal tree for an intent: one primary goal
// from the action template plus type-specific secondary goals.
func decomposeGoals(kind entities.IntentType, rawText string, params map[string]string) []entities.Goal {
	priority := intentPriority(kind)

	primary := entities.Goal{
		ID:          uuid.NewString(),
		Description: rawText,
		Priority:    priority,
		Critical:    priority == entities.PriorityCritical,
		Sequences:   []entities.ActionSequence{newSequence("primary", templateActions(kind, params))},
	}
	goals := []entities.Goal{primary}

	switch kind {
	case entities.IntentPurchase:
		nav := newAction(entities.ActionNavigateTo, entities.PriorityHigh)
		nav.URL = params["url"]
		nav.Description = "Open the product page"

		cart := newAction(entities.ActionClick, entities.PriorityHigh)
		cart.Selector = addToCartSelector
		cart.Description = "Add to cart"

		pay := newAction(entities.ActionClick, entities.PriorityCritical)
		pay.Selector = checkoutSelector
		pay.Description = "Complete checkout"

		goals = append(goals,
			entities.Goal{
				ID:          uuid.NewString(),
				Description: "Locate the product",
				Priority:    entities.PriorityHigh,
				Sequences:   []entities.ActionSequence{newSequence("locate", []entities.Action{nav})},
			},
			entities.Goal{
				ID:          uuid.NewString(),
				Description: "Stage the cart",
				Priority:    entities.PriorityHigh,
				Sequences:   []entities.ActionSequence{newSequence("cart", []entities.Action{cart})},
			},
			entities.Goal{
				ID:           uuid.NewString(),
				Description:  "Complete the purchase",
				Priority:     entities.PriorityCritical,
				Critical:     true,
				Requirements: []string{entities.RequirementPaymentInfo},
				Sequences:    []entities.ActionSequence{newSequence("checkout", []entities.Action{pay})},
			},
		)

	case entities.IntentFormFill:
		verify := newAction(entities.ActionExtractText, entities.PriorityMedium)
		verify.Selector = "body"
		verify.Description = "Verify the submission result"
		goals = append(goals, entities.Goal{
			ID:          uuid.NewString(),
			Description: "Validate the submitted form",
			Priority:    entities.PriorityMedium,
			Sequences:   []entities.ActionSequence{newSequence("validate", []entities.Action{verify})},
		})

	case entities.IntentSearch:
		review := newAction(entities.ActionExtractLinks, entities.PriorityMedium)
		review.Selector = "body"
		review.Description = "Collect result links"
		goals = append(goals, entities.Goal{
			ID:          uuid.NewString(),
			Description: "Review search results",
			Priority:    entities.PriorityMedium,
			Sequences:   []entities.ActionSequence{newSequence("results", []entities.Action{review})},
		})
	}

	return goals
}

// actionBaseCost estimates how long an action type takes to run.
func actionBaseCost(kind entities.ActionType) time.Duration {
	switch kind {
	case entities.ActionClick:
		return time.Second
	case entities.ActionTypeText:
		return 2 * time.Second
	case entities.ActionNavigateTo:
		return 5 * time.Second
	case entities.ActionWait:
		return 3 * time.Second
	case entities.ActionScroll:
		return 1500 * time.Millisecond
	case entities.ActionExtractText:
		return 2 * time.Second
	case entities.ActionUploadFile:
		return 10 * time.Second
	case entities.ActionDownloadFile:
		return 15 * time.Second
	case entities.ActionCustom:
		return 5 * time.Second
	}
	return 3 * time.Second
}

// estimateDuration sums base costs plus a tenth of each action's
// timeout as retry slack.
func estimateDuration(goals []entities.Goal) time.Duration {
	var total time.Duration
	for _, g := range goals {
		for _, s := range g.Sequences {
			for _, a := range s.Actions {
				total += actionBaseCost(a.Type) + a.Timeout/10
			}
		}
	}
	return total
}

// bindParameters maps recognized entities and the captured target onto
// template parameters.
func bindParameters(kind entities.IntentType, target string, found []entities.Entity) map[string]string {
	params := map[string]string{}
	if target != "" {
		params["target"] = target
	}

	for _, e := range found {
		switch e.Type {
		case entities.EntityURL:
			if _, ok := params["url"]; !ok {
				params["url"] = e.Value
			}
		case entities.EntityPrice:
			params["price"] = e.Value
		case entities.EntityQuantity:
			params["quantity"] = e.Value
		case entities.EntityEmail:
			params["email"] = e.Value
		case entities.EntityDate:
			params["date"] = e.Value
		case entities.EntityTime:
			params["time"] = e.Value
		}
	}

	switch kind {
	case entities.IntentSearch:
		if target != "" {
			params["query"] = target
		}
	case entities.IntentNavigate:
		if _, ok := params["url"]; !ok && target != "" {
			params["url"] = normalizeURL(target)
		}
	}
	return params
}

// normalizeURL adds a scheme to bare hostnames.
func normalizeURL(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if strings.Contains(target, ".") && !strings.Contains(target, " ") {
		return "https://" + target
	}
	return target
}

// actionSignature identifies duplicate actions for the optimizer.
func actionSignature(a entities.Action) string {
	return fmt.Sprintf("%s|%s|%s|%s|%v", a.Type, a.Selector, a.Value, a.URL, a.Parameters)
}

// optimizeSequence removes duplicate actions and orders the remainder
// by priority, then by shorter timeout first.
func optimizeSequence(seq *entities.ActionSequence) {
	seen := map[string]bool{}
	deduped := seq.Actions[:0]
	for _, a := range seq.Actions {
		sig := actionSignature(a)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		deduped = append(deduped, a)
	}
	seq.Actions = deduped

	sort.SliceStable(seq.Actions, func(i, j int) bool {
		if seq.Actions[i].Priority != seq.Actions[j].Priority {
			return seq.Actions[i].Priority < seq.Actions[j].Priority
		}
		return seq.Actions[i].Timeout < seq.Actions[j].Timeout
	})
}
