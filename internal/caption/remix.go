// Package caption provides the local, deterministic caption transforms
// used by the decision loop: the "modify" remix applied to an already
// generated caption, and the fallback caption used when the workflow
// returns a result without caption text.
//
// Nothing here calls the external workflow. Given the same input text
// and remix tag, the output is always identical.
package caption

import "strings"

// RemixTag selects one of the local caption transforms.
type RemixTag string

const (
	RemixIntensify RemixTag = "intensify"
	RemixSoften    RemixTag = "soften"
	RemixShorten   RemixTag = "shorten"
	RemixElaborate RemixTag = "elaborate"
)

// RemixTags returns the selectable remix tags in display order.
func RemixTags() []RemixTag {
	return []RemixTag{RemixIntensify, RemixSoften, RemixShorten, RemixElaborate}
}

// ParseRemixTag validates a raw remix choice against the enumerated set.
// Returns false for anything outside the set.
func ParseRemixTag(raw string) (RemixTag, bool) {
	for _, t := range RemixTags() {
		if string(t) == raw {
			return t, true
		}
	}
	return "", false
}

// Remix applies the transform named by tag to text. Unknown tags return
// the input unchanged. Whitespace is normalized before transforming so
// repeated applications stay stable.
func Remix(text string, tag RemixTag) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	switch tag {
	case RemixIntensify:
		return intensify(text)
	case RemixSoften:
		return soften(text)
	case RemixShorten:
		return shorten(text)
	case RemixElaborate:
		return elaborate(text)
	}
	return text
}

// intensify turns terminal periods into exclamation marks and appends a
// flame accent if one is not already present.
func intensify(text string) string {
	text = strings.TrimSuffix(text, "🔥")
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, ".") {
		text = strings.TrimSuffix(text, ".") + "!"
	} else if !strings.HasSuffix(text, "!") {
		text += "!"
	}
	return text + " 🔥"
}

// soften replaces exclamation marks with periods and drops any trailing
// flame accent added by intensify.
func soften(text string) string {
	text = strings.TrimSuffix(text, "🔥")
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "!", ".")
	if !strings.HasSuffix(text, ".") {
		text += "."
	}
	return text
}

// shorten keeps only the first sentence.
func shorten(text string) string {
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+len(string(r))]
		}
	}
	return text
}

// elaborate appends a fixed call-to-action sentence unless one is
// already present.
const elaborateSuffix = "Reserve your table and taste it tonight."

func elaborate(text string) string {
	if strings.Contains(text, elaborateSuffix) {
		return text
	}
	if !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") && !strings.HasSuffix(text, "?") {
		text += "."
	}
	return text + " " + elaborateSuffix
}
