package navigation

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"spectra/domain/entities"
)

// interactiveElementsJS collects candidate interactive elements. The
// selector list matches what the engine considers actionable.
const interactiveElementsJS = `
() => {
	const elements = [];
	const seen = new Set();
	const selectors = 'button, a, input, textarea, select, [onclick], [role="button"], [tabindex]';

	document.querySelectorAll(selectors).forEach(el => {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const isVisible = rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden';

		const tagName = el.tagName.toLowerCase();
		let selector = tagName;
		if (el.id) {
			selector = '#' + el.id;
		} else if (el.getAttribute('name')) {
			selector = tagName + '[name="' + el.getAttribute('name') + '"]';
		} else if (el.getAttribute('aria-label')) {
			selector = tagName + '[aria-label="' + el.getAttribute('aria-label') + '"]';
		} else if (el.className && typeof el.className === 'string') {
			const cls = el.className.trim().split(/\s+/).filter(c => c)[0];
			if (cls) selector = tagName + '.' + cls;
		}

		const key = selector + '|' + (el.textContent || '').trim().substring(0, 50);
		if (seen.has(key) || elements.length >= 150) return;
		seen.add(key);

		const attrs = {};
		for (const name of ['aria-label', 'title', 'placeholder', 'type', 'id', 'name', 'class', 'role', 'href']) {
			const v = el.getAttribute(name);
			if (v) attrs[name] = v;
		}

		elements.push({
			tag_name: tagName,
			selector: selector,
			text: (el.textContent || el.value || '').trim().substring(0, 200),
			attributes: attrs,
			is_visible: isVisible,
			is_enabled: el.disabled !== true,
			position: {
				x: Math.round(rect.left + rect.width / 2),
				y: Math.round(rect.top + rect.height / 2)
			}
		});
	});

	return elements;
}
`

const formsJS = `
() => {
	const forms = [];
	document.querySelectorAll('form').forEach((form, index) => {
		const fields = [];
		form.querySelectorAll('input, textarea, select').forEach(input => {
			fields.push({
				type: input.type || input.tagName.toLowerCase(),
				name: input.name || '',
				id: input.id || '',
				placeholder: input.placeholder || '',
				required: input.required === true,
				value: input.type === 'password' ? '' : (input.value || '')
			});
		});

		let selector = 'form';
		if (form.id) selector = 'form#' + form.id;
		else if (form.name) selector = 'form[name="' + form.name + '"]';
		else selector = 'form:nth-of-type(' + (index + 1) + ')';

		forms.push({
			selector: selector,
			action: form.action || '',
			method: (form.method || 'get').toLowerCase(),
			name: form.name || '',
			id: form.id || '',
			class: form.className || '',
			fields: fields
		});
	});
	return forms;
}
`

const mediaJS = `
() => {
	const media = [];
	document.querySelectorAll('img[src]').forEach(el => {
		if (media.length < 100) media.push({ kind: 'image', url: el.getAttribute('src'), alt: el.alt || '' });
	});
	document.querySelectorAll('video[src], video source[src]').forEach(el => {
		if (media.length < 100) media.push({ kind: 'video', url: el.getAttribute('src'), alt: '' });
	});
	document.querySelectorAll('audio[src], audio source[src]').forEach(el => {
		if (media.length < 100) media.push({ kind: 'audio', url: el.getAttribute('src'), alt: '' });
	});
	return media;
}
`

// CaptureState extracts a structured snapshot of the current page.
func (e *Engine) CaptureState(ctx context.Context) (*entities.PageState, error) {
	pageURL, err := e.driver.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page url: %w", err)
	}
	title, _ := e.driver.Title(ctx)

	elements, err := e.captureElements(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to extract elements")
		elements = nil
	}

	forms, err := e.captureForms(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to extract forms")
		forms = nil
	}

	media, err := e.captureMedia(ctx, pageURL)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to extract media")
		media = nil
	}

	content, _ := e.driver.Content(ctx)
	shot, _ := e.driver.Screenshot(ctx)

	return &entities.PageState{
		URL:            pageURL,
		Title:          title,
		Elements:       elements,
		Forms:          forms,
		Media:          media,
		DOMHash:        fingerprint([]byte(content)),
		ScreenshotHash: fingerprint(shot),
		CapturedAt:     time.Now(),
	}, nil
}

// fingerprint hashes captured bytes; empty input yields an empty hash.
func fingerprint(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (e *Engine) captureElements(ctx context.Context) ([]entities.PageElement, error) {
	result, err := e.driver.Evaluate(ctx, interactiveElementsJS)
	if err != nil {
		return nil, err
	}

	raw, ok := result.([]interface{})
	if !ok {
		return nil, nil
	}

	elements := make([]entities.PageElement, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		attrs := map[string]string{}
		if rawAttrs, ok := m["attributes"].(map[string]interface{}); ok {
			for k, v := range rawAttrs {
				if s, ok := v.(string); ok {
					attrs[k] = s
				}
			}
		}

		tag := getString(m, "tag_name")
		text := getString(m, "text")
		visible := getBool(m, "is_visible")
		kind := classifyElement(tag, attrs)

		element := entities.PageElement{
			Type:       kind,
			TagName:    tag,
			Selector:   getString(m, "selector"),
			Text:       text,
			Label:      semanticLabel(tag, text, attrs),
			Attributes: attrs,
			IsVisible:  visible,
			IsEnabled:  getBool(m, "is_enabled"),
			Confidence: scoreElement(kind, text, attrs, visible),
		}
		if pos, ok := m["position"].(map[string]interface{}); ok {
			element.Position.X = getInt(pos, "x")
			element.Position.Y = getInt(pos, "y")
		}
		elements = append(elements, element)
	}
	return elements, nil
}

func (e *Engine) captureForms(ctx context.Context) ([]entities.FormInfo, error) {
	result, err := e.driver.Evaluate(ctx, formsJS)
	if err != nil {
		return nil, err
	}

	raw, ok := result.([]interface{})
	if !ok {
		return nil, nil
	}

	forms := make([]entities.FormInfo, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		form := entities.FormInfo{
			Selector: getString(m, "selector"),
			Action:   getString(m, "action"),
			Method:   getString(m, "method"),
			Name:     getString(m, "name"),
			ID:       getString(m, "id"),
			Class:    getString(m, "class"),
		}

		if rawFields, ok := m["fields"].([]interface{}); ok {
			for _, rawField := range rawFields {
				fm, ok := rawField.(map[string]interface{})
				if !ok {
					continue
				}
				form.Fields = append(form.Fields, entities.FormField{
					Type:        getString(fm, "type"),
					Name:        getString(fm, "name"),
					ID:          getString(fm, "id"),
					Placeholder: getString(fm, "placeholder"),
					Required:    getBool(fm, "required"),
					Value:       getString(fm, "value"),
				})
			}
		}
		forms = append(forms, form)
	}
	return forms, nil
}

func (e *Engine) captureMedia(ctx context.Context, base string) ([]entities.MediaRef, error) {
	result, err := e.driver.Evaluate(ctx, mediaJS)
	if err != nil {
		return nil, err
	}

	raw, ok := result.([]interface{})
	if !ok {
		return nil, nil
	}

	baseURL, baseErr := url.Parse(base)

	media := make([]entities.MediaRef, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		ref := entities.MediaRef{
			Kind: entities.MediaKind(getString(m, "kind")),
			URL:  getString(m, "url"),
			Alt:  getString(m, "alt"),
		}
		if ref.URL == "" {
			continue
		}

		// Resolve relative sources against the page URL.
		if baseErr == nil {
			if parsed, err := url.Parse(ref.URL); err == nil {
				ref.URL = baseURL.ResolveReference(parsed).String()
			}
		}
		media = append(media, ref)
	}
	return media, nil
}

// getString extracts a string value from a map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// getBool extracts a boolean value from a map.
func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// getInt extracts an integer value from a map.
func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return 0
}
