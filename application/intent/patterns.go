package intent

import (
	"regexp"
	"strings"

	"spectra/domain/entities"
)

// patternRule maps a phrase pattern to an intent type. The first
// capture group, when present, becomes the target parameter.
type patternRule struct {
	re   *regexp.Regexp
	kind entities.IntentType
}

// patternConfidence is assigned when a phrase pattern matches.
const patternConfidence = 0.9

// verbConfidence is assigned when only the leading-verb heuristic
// classifies the text.
const verbConfidence = 0.7

var patternRules = []patternRule{
	{regexp.MustCompile(`(?i)^go to\s+(.+)`), entities.IntentNavigate},
	{regexp.MustCompile(`(?i)^navigate to\s+(.+)`), entities.IntentNavigate},
	{regexp.MustCompile(`(?i)^visit\s+(.+)`), entities.IntentNavigate},
	{regexp.MustCompile(`(?i)^open\s+(.+)`), entities.IntentNavigate},
	{regexp.MustCompile(`(?i)^load\s+(.+)`), entities.IntentNavigate},
	{regexp.MustCompile(`(?i)^browse to\s+(.+)`), entities.IntentNavigate},

	{regexp.MustCompile(`(?i)^search for\s+(.+)`), entities.IntentSearch},
	{regexp.MustCompile(`(?i)^look for\s+(.+)`), entities.IntentSearch},
	{regexp.MustCompile(`(?i)^look up\s+(.+)`), entities.IntentSearch},
	{regexp.MustCompile(`(?i)^find\s+(.+)`), entities.IntentSearch},
	{regexp.MustCompile(`(?i)^google\s+(.+)`), entities.IntentSearch},

	{regexp.MustCompile(`(?i)^extract\s+(.+)`), entities.IntentExtract},
	{regexp.MustCompile(`(?i)^scrape\s+(.+)`), entities.IntentExtract},
	{regexp.MustCompile(`(?i)^collect\s+(.+)`), entities.IntentExtract},
	{regexp.MustCompile(`(?i)^get (?:all )?(?:the )?(.+) from`), entities.IntentExtract},

	{regexp.MustCompile(`(?i)^(?:buy|purchase)\s+(.+)`), entities.IntentPurchase},
	{regexp.MustCompile(`(?i)^order\s+(.+)`), entities.IntentPurchase},
	{regexp.MustCompile(`(?i)add .+ to (?:the )?cart`), entities.IntentPurchase},
	{regexp.MustCompile(`(?i)^checkout`), entities.IntentPurchase},

	{regexp.MustCompile(`(?i)^(?:log|sign)\s?in(?:to| to)?\s*(.*)`), entities.IntentAuthenticate},
	{regexp.MustCompile(`(?i)^authenticate\s*(.*)`), entities.IntentAuthenticate},
	{regexp.MustCompile(`(?i)^login\s*(.*)`), entities.IntentAuthenticate},

	{regexp.MustCompile(`(?i)^upload\s+(.+)`), entities.IntentUpload},
	{regexp.MustCompile(`(?i)^attach\s+(.+)`), entities.IntentUpload},

	{regexp.MustCompile(`(?i)^download\s+(.+)`), entities.IntentDownload},
	{regexp.MustCompile(`(?i)^save\s+(.+?)\s+to disk`), entities.IntentDownload},

	{regexp.MustCompile(`(?i)^fill (?:out |in )?(?:the )?form`), entities.IntentFormFill},
	{regexp.MustCompile(`(?i)^complete (?:the )?form`), entities.IntentFormFill},
	{regexp.MustCompile(`(?i)^submit (?:the )?form`), entities.IntentFormFill},

	{regexp.MustCompile(`(?i)^monitor\s+(.+)`), entities.IntentMonitor},
	{regexp.MustCompile(`(?i)^watch\s+(.+)\s+for changes`), entities.IntentMonitor},
	{regexp.MustCompile(`(?i)^track\s+(.+)`), entities.IntentMonitor},

	{regexp.MustCompile(`(?i)^click\s+(.+)`), entities.IntentInteract},
	{regexp.MustCompile(`(?i)^press\s+(.+)`), entities.IntentInteract},
	{regexp.MustCompile(`(?i)^select\s+(.+)`), entities.IntentInteract},
	{regexp.MustCompile(`(?i)^hover (?:over )?(.+)`), entities.IntentInteract},

	{regexp.MustCompile(`(?i)^post\s+(.+)`), entities.IntentSocial},
	{regexp.MustCompile(`(?i)^tweet\s*(.*)`), entities.IntentSocial},
	{regexp.MustCompile(`(?i)^share\s+(.+)`), entities.IntentSocial},
	{regexp.MustCompile(`(?i)^follow\s+(.+)`), entities.IntentSocial},

	{regexp.MustCompile(`(?i)^book\s+(.+)`), entities.IntentBooking},
	{regexp.MustCompile(`(?i)^reserve\s+(.+)`), entities.IntentBooking},
	{regexp.MustCompile(`(?i)^schedule\s+(?:a |an )?(.+)`), entities.IntentBooking},

	{regexp.MustCompile(`(?i)^compare\s+(.+)`), entities.IntentComparison},
	{regexp.MustCompile(`(?i)\s+vs\.?\s+`), entities.IntentComparison},
	{regexp.MustCompile(`(?i)\s+versus\s+`), entities.IntentComparison},

	{regexp.MustCompile(`(?i)^automate\s+(.+)`), entities.IntentAutomation},
	{regexp.MustCompile(`(?i)^repeat\s+(.+)`), entities.IntentAutomation},
	{regexp.MustCompile(`(?i)\severy (?:day|hour|week)`), entities.IntentAutomation},
}

// leadingVerbs is the fallback classifier keyed on the first token.
var leadingVerbs = map[string]entities.IntentType{
	"go":       entities.IntentNavigate,
	"visit":    entities.IntentNavigate,
	"open":     entities.IntentNavigate,
	"browse":   entities.IntentNavigate,
	"search":   entities.IntentSearch,
	"find":     entities.IntentSearch,
	"lookup":   entities.IntentSearch,
	"extract":  entities.IntentExtract,
	"scrape":   entities.IntentExtract,
	"collect":  entities.IntentExtract,
	"buy":      entities.IntentPurchase,
	"purchase": entities.IntentPurchase,
	"order":    entities.IntentPurchase,
	"login":    entities.IntentAuthenticate,
	"signin":   entities.IntentAuthenticate,
	"upload":   entities.IntentUpload,
	"attach":   entities.IntentUpload,
	"download": entities.IntentDownload,
	"fill":     entities.IntentFormFill,
	"monitor":  entities.IntentMonitor,
	"watch":    entities.IntentMonitor,
	"track":    entities.IntentMonitor,
	"click":    entities.IntentInteract,
	"press":    entities.IntentInteract,
	"select":   entities.IntentInteract,
	"post":     entities.IntentSocial,
	"tweet":    entities.IntentSocial,
	"share":    entities.IntentSocial,
	"book":     entities.IntentBooking,
	"reserve":  entities.IntentBooking,
	"compare":  entities.IntentComparison,
	"automate": entities.IntentAutomation,
	"repeat":   entities.IntentAutomation,
}

// classify returns the intent type, confidence and the captured target
// parameter, if any.
func classify(text string) (entities.IntentType, float64, string) {
	trimmed := strings.TrimSpace(text)

	for _, rule := range patternRules {
		m := rule.re.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		target := ""
		if len(m) > 1 {
			target = strings.TrimSpace(m[1])
		}
		return rule.kind, patternConfidence, target
	}

	fields := strings.Fields(strings.ToLower(trimmed))
	if len(fields) > 0 {
		if kind, ok := leadingVerbs[fields[0]]; ok {
			return kind, verbConfidence, strings.TrimSpace(trimmed[len(fields[0]):])
		}
	}

	return entities.IntentUnknown, 0.0, ""
}

var entityPatterns = []struct {
	re   *regexp.Regexp
	kind entities.EntityType
}{
	{regexp.MustCompile(`https?://[^\s]+`), entities.EntityURL},
	{regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`), entities.EntityEmail},
	{regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`), entities.EntityPhone},
	{regexp.MustCompile(`\d{1,2}[-/]\d{1,2}[-/]\d{2,4}`), entities.EntityDate},
	{regexp.MustCompile(`\d{1,2}:\d{2}\s?(?:[ap]m|[AP]M)?`), entities.EntityTime},
	{regexp.MustCompile(`\$\d+(?:\.\d{2})?`), entities.EntityPrice},
	{regexp.MustCompile(`\b\d+\s+(?:items?|pieces?|units?|copies)\b`), entities.EntityQuantity},
}

// extractEntities finds typed spans in the raw text. Spans are indexed
// against the original string.
func extractEntities(text string) []entities.Entity {
	var found []entities.Entity
	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			found = append(found, entities.Entity{
				Type:  p.kind,
				Value: text[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	return found
}
