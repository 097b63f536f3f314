package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/recurd/recurd/errors"
	"github.com/recurd/recurd/internal/httpclient"
	"github.com/recurd/recurd/schedule"
)

// registerBuiltinHandlers wires the handlers that ship with the daemon.
// Deployments embedding recurd as a library register their own.
func registerBuiltinHandlers(registry *schedule.HandlerRegistry, log *zap.SugaredLogger) {
	registry.Register(&heartbeatHandler{log: log.Named("heartbeat")})
	registry.Register(&webhookHandler{
		log:    log.Named("webhook"),
		client: httpclient.New(30 * time.Second),
	})
}

// heartbeatHandler logs that it ran. Useful for verifying schedules
// end to end without side effects.
type heartbeatHandler struct {
	log *zap.SugaredLogger
}

func (h *heartbeatHandler) Name() string { return "builtin.heartbeat" }

func (h *heartbeatHandler) Execute(_ context.Context, job *schedule.Job) error {
	h.log.Infow("Heartbeat", "job_id", job.ID, "name", job.Name, "run_count", job.RunCount+1)
	return nil
}

// webhookPayload is the expected job payload for builtin.webhook.
type webhookPayload struct {
	URL  string          `json:"url"`
	Body json.RawMessage `json:"body"`
}

// webhookHandler POSTs the configured body to a URL on each run.
// The URL comes from job payloads, so requests go through the
// SSRF-protected client.
type webhookHandler struct {
	log    *zap.SugaredLogger
	client *httpclient.SaferClient
}

func (h *webhookHandler) Name() string { return "builtin.webhook" }

func (h *webhookHandler) Execute(ctx context.Context, job *schedule.Job) error {
	var payload webhookPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Wrap(err, "invalid webhook payload")
	}
	if payload.URL == "" {
		return errors.New("webhook payload missing url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return errors.Wrap(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "webhook request to %s failed", payload.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Newf("webhook %s returned status %d", payload.URL, resp.StatusCode)
	}

	h.log.Infow("Webhook delivered", "job_id", job.ID, "url", payload.URL, "status", resp.StatusCode)
	return nil
}
