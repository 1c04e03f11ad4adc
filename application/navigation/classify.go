package navigation

import (
	"strings"

	"spectra/domain/entities"
)

// classifyElement maps a tag name to an element type.
func classifyElement(tag string, attrs map[string]string) entities.ElementType {
	switch strings.ToLower(tag) {
	case "button":
		return entities.ElementButton
	case "a":
		return entities.ElementLink
	case "input", "textarea", "select":
		return entities.ElementInput
	case "form":
		return entities.ElementForm
	case "img":
		return entities.ElementImage
	case "video":
		return entities.ElementVideo
	case "audio":
		return entities.ElementAudio
	case "p", "span", "div", "h1", "h2", "h3", "h4", "h5", "h6", "label":
		if attrs["role"] == "button" {
			return entities.ElementButton
		}
		return entities.ElementText
	}
	if attrs["role"] == "button" {
		return entities.ElementButton
	}
	return entities.ElementUnknown
}

// semanticLabel joins the most descriptive attributes of an element
// into one label. Falls back to "<tag> element".
func semanticLabel(tag, text string, attrs map[string]string) string {
	var parts []string
	if v := attrs["aria-label"]; v != "" {
		parts = append(parts, v)
	}
	if v := attrs["title"]; v != "" {
		parts = append(parts, v)
	}
	if v := attrs["placeholder"]; v != "" {
		parts = append(parts, "placeholder: "+v)
	}
	if text != "" {
		if len(text) > 50 {
			text = text[:50]
		}
		parts = append(parts, text)
	}
	if v := attrs["type"]; v != "" {
		parts = append(parts, "type: "+v)
	}

	if len(parts) == 0 {
		return tag + " element"
	}
	return strings.Join(parts, " | ")
}

// scoreElement estimates how reliably the element can be targeted.
// Base 0.5, bumped for visibility, descriptive attributes, text and
// an interactive kind, capped at 1.0.
func scoreElement(kind entities.ElementType, text string, attrs map[string]string, visible bool) float64 {
	score := 0.5
	if visible {
		score += 0.2
	}
	if attrs["aria-label"] != "" || attrs["title"] != "" {
		score += 0.1
	}
	if strings.TrimSpace(text) != "" {
		score += 0.1
	}
	switch kind {
	case entities.ElementButton, entities.ElementLink, entities.ElementInput:
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
