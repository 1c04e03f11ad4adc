package intent

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectra/domain/entities"
)

func testCompiler() *Compiler {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewCompiler(logger)
}

func TestCompileClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		wantType   entities.IntentType
		confidence float64
	}{
		{"navigate with url", "go to https://example.com", entities.IntentNavigate, 0.9},
		{"navigate phrase", "navigate to the dashboard", entities.IntentNavigate, 0.9},
		{"search", "search for wireless headphones", entities.IntentSearch, 0.9},
		{"purchase", "buy a mechanical keyboard", entities.IntentPurchase, 0.9},
		{"authenticate", "log in to github.com", entities.IntentAuthenticate, 0.9},
		{"extract", "extract all product names", entities.IntentExtract, 0.9},
		{"form fill", "fill out the form", entities.IntentFormFill, 0.9},
		{"download", "download the quarterly report", entities.IntentDownload, 0.9},
		{"monitor", "monitor the price page", entities.IntentMonitor, 0.9},
		{"booking", "book a table for two", entities.IntentBooking, 0.9},
		{"comparison", "compare laptop A and laptop B", entities.IntentComparison, 0.9},
		{"verb fallback", "lookup cheap flights to Lisbon", entities.IntentSearch, 0.7},
		{"gibberish", "qwzx flrm blorp", entities.IntentUnknown, 0.0},
		{"empty", "", entities.IntentUnknown, 0.0},
	}

	c := testCompiler()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := c.Compile(context.Background(), tc.text)
			require.NotNil(t, in)
			assert.Equal(t, tc.wantType, in.Type)
			assert.InDelta(t, tc.confidence, in.Confidence, 0.21)
			assert.NotEmpty(t, in.ID)
		})
	}
}

func TestCompileNeverFails(t *testing.T) {
	t.Parallel()

	c := testCompiler()
	in := c.Compile(context.Background(), "zzzz nonsense input with no verb")
	require.NotNil(t, in)
	assert.Equal(t, entities.IntentUnknown, in.Type)
	assert.Equal(t, entities.IntentStatusFailed, in.Status)
	assert.Equal(t, 0.0, in.Confidence)
	assert.Contains(t, in.Metadata["error"], "classified")
	assert.Empty(t, in.Goals)
}

func TestCompileNavigateWorkedExample(t *testing.T) {
	t.Parallel()

	c := testCompiler()
	in := c.Compile(context.Background(), "go to https://example.com")

	require.Equal(t, entities.IntentNavigate, in.Type)
	require.Equal(t, entities.IntentStatusReady, in.Status)
	require.Len(t, in.Goals, 1)
	require.Len(t, in.Goals[0].Sequences, 1)

	actions := in.Goals[0].Sequences[0].Actions
	require.Len(t, actions, 1)
	assert.Equal(t, entities.ActionNavigateTo, actions[0].Type)
	assert.Equal(t, "https://example.com", actions[0].URL)
	assert.Equal(t, 30*time.Second, actions[0].Timeout)
	assert.Equal(t, 3, actions[0].RetryCount)
}

func TestCompileAuthenticateTemplate(t *testing.T) {
	t.Parallel()

	c := testCompiler()
	in := c.Compile(context.Background(), "log in to my account")

	require.Equal(t, entities.IntentAuthenticate, in.Type)
	require.Len(t, in.Goals, 1)
	actions := in.Goals[0].Sequences[0].Actions
	require.Len(t, actions, 5)

	assert.Equal(t, entities.ActionClick, actions[0].Type)
	assert.Equal(t, entities.ActionTypeText, actions[1].Type)
	assert.Equal(t, entities.ActionClick, actions[2].Type)
	assert.Equal(t, entities.ActionTypeText, actions[3].Type)
	assert.Equal(t, entities.ActionClick, actions[4].Type)

	assert.Contains(t, actions[1].Selector, `input[type="email"]`)
	assert.Contains(t, actions[3].Selector, `input[type="password"]`)
	assert.Contains(t, actions[4].Selector, `button[type="submit"]`)
	assert.Equal(t, entities.PriorityCritical, actions[0].Priority)
	assert.True(t, in.Goals[0].Critical)
}

func TestAuthenticateTemplatePrefersExtractedEmail(t *testing.T) {
	t.Parallel()

	actions := templateActions(entities.IntentAuthenticate, map[string]string{"email": "bob@example.com"})
	require.Len(t, actions, 5)
	assert.Equal(t, "bob@example.com", actions[1].Value)
	assert.Empty(t, actions[1].Parameters["credential"])

	// without an address the template falls back to stored credentials
	fallback := templateActions(entities.IntentAuthenticate, map[string]string{})
	require.Len(t, fallback, 5)
	assert.Empty(t, fallback[1].Value)
	assert.Equal(t, "username", fallback[1].Parameters["credential"])
}

func TestCompilePurchaseGoals(t *testing.T) {
	t.Parallel()

	c := testCompiler()
	in := c.Compile(context.Background(), "buy 2 items of the blue mug for $19.99")

	require.Equal(t, entities.IntentPurchase, in.Type)
	// primary goal plus locate, cart and checkout
	require.Len(t, in.Goals, 4)

	checkout := in.Goals[3]
	assert.True(t, checkout.Critical)
	assert.Contains(t, checkout.Requirements, entities.RequirementPaymentInfo)

	assert.Equal(t, "$19.99", in.Parameters["price"])
	assert.Equal(t, "2 items", in.Parameters["quantity"])
}

func TestExtractEntities(t *testing.T) {
	t.Parallel()

	found := extractEntities("email bob@corp.io about https://shop.example/item at 3:30pm on 12/05/2026 for $5.00")

	kinds := map[entities.EntityType]string{}
	for _, e := range found {
		kinds[e.Type] = e.Value
	}

	assert.Equal(t, "bob@corp.io", kinds[entities.EntityEmail])
	assert.Contains(t, kinds[entities.EntityURL], "https://shop.example/item")
	assert.Equal(t, "3:30pm", kinds[entities.EntityTime])
	assert.Equal(t, "12/05/2026", kinds[entities.EntityDate])
	assert.Equal(t, "$5.00", kinds[entities.EntityPrice])

	for _, e := range found {
		assert.Equal(t, e.Value, "email bob@corp.io about https://shop.example/item at 3:30pm on 12/05/2026 for $5.00"[e.Start:e.End])
	}
}

func TestOptimizeDedupesAndSorts(t *testing.T) {
	t.Parallel()

	click := newAction(entities.ActionClick, entities.PriorityLow)
	click.Selector = ".button"
	dup := click
	dup.ID = "other-id"
	urgent := newAction(entities.ActionNavigateTo, entities.PriorityCritical)
	urgent.URL = "https://example.com"

	seq := newSequence("test", []entities.Action{click, dup, urgent})
	in := &entities.Intent{
		Goals: []entities.Goal{{Sequences: []entities.ActionSequence{seq}}},
	}

	c := testCompiler()
	c.Optimize(in)

	actions := in.Goals[0].Sequences[0].Actions
	require.Len(t, actions, 2)
	assert.Equal(t, entities.ActionNavigateTo, actions[0].Type)
	assert.Equal(t, entities.ActionClick, actions[1].Type)
}

func TestEstimateDuration(t *testing.T) {
	t.Parallel()

	nav := newAction(entities.ActionNavigateTo, entities.PriorityMedium)
	goals := []entities.Goal{{
		Sequences: []entities.ActionSequence{newSequence("one", []entities.Action{nav})},
	}}

	// 5s base cost plus a tenth of the 30s timeout
	assert.Equal(t, 8*time.Second, estimateDuration(goals))
}

func TestValidateParameters(t *testing.T) {
	t.Parallel()

	c := testCompiler()

	navigate := c.Compile(context.Background(), "go to https://example.com")
	assert.Empty(t, c.ValidateParameters(navigate))

	purchase := c.Compile(context.Background(), "buy the red one")
	issues := c.ValidateParameters(purchase)
	require.NotEmpty(t, issues)
	assert.Contains(t, issues[0], "payment info")
}

func TestCancelAndClear(t *testing.T) {
	t.Parallel()

	c := testCompiler()
	in := c.Compile(context.Background(), "search for shoes")

	require.True(t, c.Cancel(in.ID))
	got, ok := c.Get(in.ID)
	require.True(t, ok)
	assert.Equal(t, entities.IntentStatusCancelled, got.Status)

	// cancelled intents cannot be cancelled again
	assert.False(t, c.Cancel(in.ID))

	removed := c.ClearCompleted()
	assert.Equal(t, 1, removed)
	_, ok = c.Get(in.ID)
	assert.False(t, ok)
}

func TestSuggestions(t *testing.T) {
	t.Parallel()

	c := testCompiler()
	got := c.Suggestions("do")
	assert.Contains(t, got, "download ...")
	assert.Empty(t, c.Suggestions(""))
}

func TestStats(t *testing.T) {
	t.Parallel()

	c := testCompiler()
	c.Compile(context.Background(), "go to https://example.com")
	c.Compile(context.Background(), "xyzzy")

	stats := c.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
}
