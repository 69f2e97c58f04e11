// Package whatsapp is a minimal WhatsApp Cloud API client for outbound
// messages.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"jarvisdaily/internal/domain"
	"jarvisdaily/internal/metrics"
)

const (
	DefaultAPIBase    = "https://graph.facebook.com"
	DefaultAPIVersion = "v21.0"
	defaultTimeout    = 15 * time.Second
	maxErrorBody      = 64 << 10
)

type ClientConfig struct {
	APIBase       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client sends messages through the Cloud API. It does not retry; retry
// policy belongs to the caller.
type Client struct {
	endpoint string
	token    string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	return &Client{
		endpoint: fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.APIBase, "/"), cfg.APIVersion, cfg.PhoneNumberID),
		token:    cfg.AccessToken,
		timeout:  cfg.Timeout,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}
}

// SharedHTTPClient returns a pooled client whose response-header wait is
// bounded by timeout.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Send delivers msg and returns the platform message id.
func (c *Client) Send(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	payload, err := buildPayload(msg)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.SendLatency.ObserveSince(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}
		return "", fmt.Errorf("%w: send %s: %w", errTransport, msg.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.apiError(resp)
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", errors.New("whatsapp API returned no message id")
	}

	c.logger.Debug("whatsapp message sent", "type", msg.Type, "id", out.Messages[0].ID)
	return out.Messages[0].ID, nil
}

func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var env graphErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != 0 {
		apiErr.Code = env.Error.Code
		apiErr.Subcode = env.Error.ErrorSubcode
		apiErr.Type = env.Error.Type
		apiErr.Message = env.Error.Message
		apiErr.TraceID = env.Error.FBTraceID
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func buildPayload(msg domain.OutboundMessage) (map[string]any, error) {
	if msg.To == "" {
		return nil, errors.New("whatsapp: recipient is required")
	}
	p := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                msg.To,
		"type":              string(msg.Type),
	}

	switch msg.Type {
	case domain.MessageText:
		if msg.Text == "" {
			return nil, errors.New("whatsapp: text body is required")
		}
		p["text"] = map[string]any{"body": msg.Text, "preview_url": false}
	case domain.MessageImage:
		if msg.ImageRef == "" {
			return nil, errors.New("whatsapp: image reference is required")
		}
		image := map[string]string{}
		if strings.HasPrefix(msg.ImageRef, "http://") || strings.HasPrefix(msg.ImageRef, "https://") {
			image["link"] = msg.ImageRef
		} else {
			image["id"] = msg.ImageRef
		}
		if msg.Text != "" {
			image["caption"] = msg.Text
		}
		p["image"] = image
	case domain.MessageTemplate:
		if msg.TemplateName == "" {
			return nil, errors.New("whatsapp: template name is required")
		}
		p["template"] = map[string]any{
			"name":     msg.TemplateName,
			"language": map[string]string{"code": msg.TemplateLanguage},
		}
	default:
		return nil, fmt.Errorf("whatsapp: unsupported message type %q", msg.Type)
	}
	return p, nil
}

type sendResponse struct {
	Contacts []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}
