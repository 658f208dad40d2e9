package access

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPChecker спрашивает внешний сервис: POST {actor_id, action} -> {allowed, role}.
type HTTPChecker struct {
	url      string
	client   *http.Client
	failOpen bool
	log      *slog.Logger
}

func NewHTTPChecker(url string, timeout time.Duration, failOpen bool, log *slog.Logger) *HTTPChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPChecker{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		failOpen: failOpen,
		log:      log,
	}
}

type checkRequest struct {
	ActorID string `json:"actor_id"`
	Action  string `json:"action"`
}

func (c *HTTPChecker) CheckPermission(ctx context.Context, actorID, action string) (Decision, error) {
	d, err := c.ask(ctx, actorID, action)
	if err != nil && c.failOpen {
		c.log.Warn("permission service unavailable, allowing", "actor", actorID, "action", action, "err", err)
		return Decision{Allowed: true, Role: "unknown"}, nil
	}
	return d, err
}

func (c *HTTPChecker) ask(ctx context.Context, actorID, action string) (Decision, error) {
	body, err := json.Marshal(checkRequest{ActorID: actorID, Action: action})
	if err != nil {
		return Decision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("permission request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("permission service status %d", resp.StatusCode)
	}
	var d Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return Decision{}, fmt.Errorf("decode permission response: %w", err)
	}
	return d, nil
}
