package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"Clarity/pkg/config"
	xhttp "Clarity/pkg/http"
)

// HTTPServiceBase is the shared client for HTTP signal agents.
type HTTPServiceBase struct {
	baseURL string
	path    string
	client  *xhttp.Client
}

// NewHTTPServiceBase builds a client for one agent using the shared provider
// timeout, retry and rate limit settings.
func NewHTTPServiceBase(cfg *config.Config, pc config.ProviderConfig, defaultPath string) *HTTPServiceBase {
	timeout := cfg.Providers.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	path := pc.Path
	if path == "" {
		path = defaultPath
	}
	return &HTTPServiceBase{
		baseURL: strings.TrimRight(pc.URL, "/"),
		path:    path,
		client: xhttp.NewClient(
			xhttp.WithTimeout(timeout),
			xhttp.WithRetry(cfg.Providers.Retries, 200*time.Millisecond),
			xhttp.WithRateLimit(cfg.Providers.RateLimit, cfg.Providers.Burst),
		),
	}
}

// PostJSON posts payload to the agent endpoint and decodes the JSON reply into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("agent http client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + b.path,
		Body:   payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", b.path, err)
	}
	return nil
}

// agentReply is the envelope every agent response shares.
type agentReply struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
}

func (r agentReply) err(agent string) error {
	if r.Success {
		return nil
	}
	msg := "unknown error"
	if r.Error != nil && *r.Error != "" {
		msg = *r.Error
	}
	return fmt.Errorf("%s agent reported failure: %s", agent, msg)
}

func requestID() string { return uuid.NewString() }

func joinNonEmpty(parts []string, sep string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
