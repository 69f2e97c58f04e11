package delivery

import (
	"errors"
	"strings"
	"unicode/utf8"

	"jarvisdaily/internal/domain"
)

// MaxTextLen is the Cloud API limit for a text message body.
const MaxTextLen = 4096

var ErrEmptyBundle = errors.New("content bundle has neither text nor image")

// Plan is the ordered list of messages for one delivery.
type Plan struct {
	EventID     string
	RecipientID string
	Messages    []domain.OutboundMessage
}

// BuildPlan lays out a bundle as the image first, then the text split into
// chunks of at most maxTextLen characters.
func BuildPlan(eventID, recipientID string, b *domain.ContentBundle, maxTextLen int) (Plan, error) {
	if maxTextLen <= 0 || maxTextLen > MaxTextLen {
		maxTextLen = MaxTextLen
	}
	plan := Plan{EventID: eventID, RecipientID: recipientID}

	if b.ImageRef != "" {
		plan.Messages = append(plan.Messages, domain.OutboundMessage{
			To:       recipientID,
			Type:     domain.MessageImage,
			ImageRef: b.ImageRef,
		})
	}
	if text := strings.TrimSpace(b.TextMessage); text != "" {
		for _, chunk := range splitMessage(text, maxTextLen) {
			plan.Messages = append(plan.Messages, domain.OutboundMessage{
				To:   recipientID,
				Type: domain.MessageText,
				Text: chunk,
			})
		}
	}

	if len(plan.Messages) == 0 {
		return plan, ErrEmptyBundle
	}
	return plan, nil
}

// FallbackPlan is the single message sent when no content exists yet.
func FallbackPlan(eventID, recipientID, text string) Plan {
	return Plan{
		EventID:     eventID,
		RecipientID: recipientID,
		Messages: []domain.OutboundMessage{{
			To:   recipientID,
			Type: domain.MessageText,
			Text: text,
		}},
	}
}

// splitMessage cuts msg into chunks of at most maxLen runes, preferring a
// newline in the second half of each chunk, then a space.
func splitMessage(msg string, maxLen int) []string {
	if utf8.RuneCountInString(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if utf8.RuneCountInString(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		limit := byteOffset(msg, maxLen)
		cut := limit
		if idx := strings.LastIndex(msg[:limit], "\n"); idx > limit/2 {
			cut = idx + 1
		} else if idx := strings.LastIndex(msg[:limit], " "); idx > limit/2 {
			cut = idx + 1
		}

		if chunk := strings.TrimRight(msg[:cut], " \n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		msg = msg[cut:]
	}
	return chunks
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}
