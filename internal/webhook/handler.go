package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"jarvisdaily/internal/domain"
	"jarvisdaily/internal/metrics"
)

const defaultMaxBodyBytes = 1 << 20

// Processor consumes verified, normalized webhook deliveries. Accept must
// return quickly: anything slow belongs in background work it schedules.
type Processor interface {
	Accept(ctx context.Context, batch domain.WebhookBatch)
}

type HandlerConfig struct {
	Verifier     *Verifier
	Normalizer   *Normalizer
	Processor    Processor
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Handler serves the WhatsApp webhook endpoints.
type Handler struct {
	verifier   *Verifier
	normalizer *Normalizer
	processor  Processor
	maxBody    int64
	logger     *slog.Logger
	now        func() time.Time
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = NewNormalizer(cfg.Logger)
	}
	return &Handler{
		verifier:   cfg.Verifier,
		normalizer: cfg.Normalizer,
		processor:  cfg.Processor,
		maxBody:    cfg.MaxBodyBytes,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Register mounts the GET handshake and POST event routes on mux.
func (h *Handler) Register(mux *http.ServeMux, path string) {
	mux.HandleFunc("GET "+path, h.handleVerification)
	mux.HandleFunc("POST "+path, h.handleIncoming)
}

// handleVerification answers the subscription challenge.
func (h *Handler) handleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")

	challenge, err := h.verifier.VerifySubscription(mode, q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		metrics.SignatureFailures.Inc()
		h.logger.Warn("whatsapp webhook verification failed",
			"security", true, "mode", mode, "remote", r.RemoteAddr)
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	h.logger.Info("whatsapp webhook verified")
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, challenge)
}

// handleIncoming verifies and normalizes an event delivery. Once the
// signature checks out the response is always 200 so the platform does not
// redeliver; delivery work continues after the response.
func (h *Handler) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", uuid.NewString())

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		logger.Warn("whatsapp webhook body read failed", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if int64(len(body)) > h.maxBody {
		logger.Warn("whatsapp webhook body too large", "limit", h.maxBody)
		http.Error(rw, "Request entity too large", http.StatusRequestEntityTooLarge)
		return
	}

	if !h.verifier.VerifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		metrics.SignatureFailures.Inc()
		logger.Warn("whatsapp invalid signature", "security", true, "remote", r.RemoteAddr)
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}
	metrics.WebhookRequests.Inc()

	batch, err := h.normalizer.Normalize(body, h.now())
	if err != nil {
		metrics.MalformedPayloads.Inc()
		logger.Warn("whatsapp bad payload", "err", err)
	} else if len(batch.Events) > 0 || len(batch.Statuses) > 0 {
		logger.Info("whatsapp webhook received",
			"events", len(batch.Events), "statuses", len(batch.Statuses))
		h.accept(r.Context(), logger, batch)
	}

	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, "EVENT_RECEIVED")
}

// accept shields the response from processor panics.
func (h *Handler) accept(ctx context.Context, logger *slog.Logger, batch domain.WebhookBatch) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("webhook processing panicked", "panic", fmt.Sprint(rec))
		}
	}()
	if h.processor == nil {
		logger.Error("webhook processor not configured", "err", errors.New("nil processor"))
		return
	}
	h.processor.Accept(ctx, batch)
}
