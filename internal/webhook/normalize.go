package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"jarvisdaily/internal/domain"
)

// Normalizer flattens the Cloud API's nested webhook payload into domain
// events. Each entry, change and message is decoded on its own so one
// malformed element never hides its siblings.
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize returns every supported message and status in raw. It fails only
// when raw is not a JSON object.
func (n *Normalizer) Normalize(raw []byte, receivedAt time.Time) (domain.WebhookBatch, error) {
	var batch domain.WebhookBatch

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return batch, fmt.Errorf("decode payload: %w", err)
	}

	var object string
	if v, ok := top["object"]; ok {
		_ = json.Unmarshal(v, &object)
	}
	if object != "" && object != "whatsapp_business_account" {
		n.logger.Debug("whatsapp webhook ignored", "object", object)
		return batch, nil
	}

	var entries []json.RawMessage
	if v, ok := top["entry"]; ok {
		if err := json.Unmarshal(v, &entries); err != nil {
			n.logger.Warn("whatsapp webhook entry list malformed", "err", err)
			return batch, nil
		}
	}

	for i, rawEntry := range entries {
		var entry waEntry
		if err := json.Unmarshal(rawEntry, &entry); err != nil {
			n.logger.Warn("whatsapp webhook entry malformed", "entry", i, "err", err)
			continue
		}
		for j, rawChange := range entry.Changes {
			var change waChange
			if err := json.Unmarshal(rawChange, &change); err != nil {
				n.logger.Warn("whatsapp webhook change malformed", "entry", i, "change", j, "err", err)
				continue
			}
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			for k, rawMsg := range change.Value.Messages {
				ev, ok := n.message(rawMsg, receivedAt)
				if !ok {
					n.logger.Warn("whatsapp message skipped", "entry", i, "change", j, "message", k)
					continue
				}
				if ev.Kind == domain.KindUnsupported {
					n.logger.Debug("whatsapp message type unsupported", "id", ev.EventID)
					continue
				}
				batch.Events = append(batch.Events, ev)
			}
			for k, rawStatus := range change.Value.Statuses {
				st, ok := n.status(rawStatus)
				if !ok {
					n.logger.Warn("whatsapp status skipped", "entry", i, "change", j, "status", k)
					continue
				}
				batch.Statuses = append(batch.Statuses, st)
			}
		}
	}

	return batch, nil
}

func (n *Normalizer) message(raw json.RawMessage, receivedAt time.Time) (domain.InboundEvent, bool) {
	var msg waMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		n.logger.Debug("whatsapp message decode failed", "err", err)
		return domain.InboundEvent{}, false
	}
	if msg.ID == "" || msg.From == "" {
		return domain.InboundEvent{}, false
	}

	ev := domain.InboundEvent{
		EventID:    msg.ID,
		SenderID:   msg.From,
		Kind:       domain.KindUnsupported,
		SentAt:     parseUnix(msg.Timestamp),
		ReceivedAt: receivedAt,
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return domain.InboundEvent{}, false
		}
		ev.Kind = domain.KindText
		ev.Text = msg.Text.Body
	case "interactive":
		if msg.Interactive != nil && msg.Interactive.Type == "button_reply" {
			if msg.Interactive.ButtonReply == nil || msg.Interactive.ButtonReply.ID == "" {
				return domain.InboundEvent{}, false
			}
			ev.Kind = domain.KindButtonClick
			ev.ButtonID = msg.Interactive.ButtonReply.ID
		}
	case "button":
		// Quick-reply buttons on templates.
		if msg.Button == nil || msg.Button.Payload == "" {
			return domain.InboundEvent{}, false
		}
		ev.Kind = domain.KindButtonClick
		ev.ButtonID = msg.Button.Payload
	}
	return ev, true
}

func (n *Normalizer) status(raw json.RawMessage) (domain.StatusUpdate, bool) {
	var st waStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.StatusUpdate{}, false
	}
	if st.ID == "" || st.Status == "" {
		return domain.StatusUpdate{}, false
	}
	return domain.StatusUpdate{
		MessageID:   st.ID,
		RecipientID: st.RecipientID,
		Status:      strings.ToLower(st.Status),
		Timestamp:   parseUnix(st.Timestamp),
	}, true
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// --- WhatsApp webhook payload types ---

type waEntry struct {
	ID      string            `json:"id"`
	Changes []json.RawMessage `json:"changes"`
}

type waChange struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Messages         []json.RawMessage `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type waMessage struct {
	From        string         `json:"from"`
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Type        string         `json:"type"`
	Text        *waText        `json:"text,omitempty"`
	Interactive *waInteractive `json:"interactive,omitempty"`
	Button      *waButton      `json:"button,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waInteractive struct {
	Type        string         `json:"type"`
	ButtonReply *waButtonReply `json:"button_reply,omitempty"`
}

type waButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type waButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type waStatus struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}
