package unlock

import (
	"strings"
	"unicode"

	"jarvisdaily/internal/domain"
)

// Triggers decides which inbound events start a delivery.
type Triggers struct {
	buttons  map[string]bool
	keywords []string
}

// NewTriggers normalizes the configured lists. An empty button list accepts
// every button click; an empty keyword list means text never triggers.
func NewTriggers(buttons, keywords []string) Triggers {
	t := Triggers{buttons: make(map[string]bool, len(buttons))}
	for _, b := range buttons {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			t.buttons[b] = true
		}
	}
	for _, k := range keywords {
		if k = normalizeWords(k); k != "" {
			t.keywords = append(t.keywords, k)
		}
	}
	return t
}

func (t Triggers) Match(ev domain.InboundEvent) bool {
	switch ev.Kind {
	case domain.KindButtonClick:
		if len(t.buttons) == 0 {
			return true
		}
		return t.buttons[strings.ToLower(strings.TrimSpace(ev.ButtonID))]
	case domain.KindText:
		text := " " + normalizeWords(ev.Text) + " "
		for _, k := range t.keywords {
			if strings.Contains(text, " "+k+" ") {
				return true
			}
		}
	}
	return false
}

// normalizeWords lowercases s and collapses everything that is not a letter
// or digit into single spaces.
func normalizeWords(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}
