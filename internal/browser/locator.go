package browser

import (
	"fmt"
	"strings"
)

// Locator selects elements either by visible text or by CSS selector.
//
// The string form is "text=<substring>" for text locators and either
// "css=<selector>" or a bare selector for CSS.
type Locator struct {
	Text string
	CSS  string
}

// Text returns a locator matching the innermost elements whose normalized
// text contains s.
func Text(s string) Locator {
	return Locator{Text: s}
}

// CSS returns a selector locator.
func CSS(selector string) Locator {
	return Locator{CSS: selector}
}

// ParseLocator parses the string form of a locator.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Locator{}, fmt.Errorf("empty locator")
	case strings.HasPrefix(s, "text="):
		text := strings.TrimSpace(strings.TrimPrefix(s, "text="))
		if text == "" {
			return Locator{}, fmt.Errorf("locator %q: text is empty", s)
		}
		return Text(strings.Trim(text, `"'`)), nil
	case strings.HasPrefix(s, "css="):
		sel := strings.TrimSpace(strings.TrimPrefix(s, "css="))
		if sel == "" {
			return Locator{}, fmt.Errorf("locator %q: selector is empty", s)
		}
		return CSS(sel), nil
	default:
		return CSS(s), nil
	}
}

// MustLocator is ParseLocator for literals; it panics on error.
func MustLocator(s string) Locator {
	l, err := ParseLocator(s)
	if err != nil {
		panic(err)
	}
	return l
}

// IsZero reports whether the locator selects nothing.
func (l Locator) IsZero() bool {
	return l.Text == "" && l.CSS == ""
}

// String returns the parseable form.
func (l Locator) String() string {
	if l.Text != "" {
		return "text=" + l.Text
	}
	return "css=" + l.CSS
}

// MarshalText lets locators appear as plain strings in YAML and JSON.
func (l Locator) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses the string form.
func (l *Locator) UnmarshalText(b []byte) error {
	parsed, err := ParseLocator(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// TextXPath builds the XPath expression selecting the innermost elements
// under body whose normalized string value contains text.
func TextXPath(text string) string {
	lit := xpathLiteral(strings.Join(strings.Fields(text), " "))
	return fmt.Sprintf(`//body//*[contains(normalize-space(.), %s)][not(.//*[contains(normalize-space(.), %s)])]`, lit, lit)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + p + `"`)
	}
	b.WriteString(")")
	return b.String()
}
