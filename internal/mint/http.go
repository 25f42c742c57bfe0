package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	id "signet/pkg/domain"
	"signet/pkg/platform/circuit"
)

// HTTPMinter posts mint requests to an issuer service. The breaker only
// observes outcomes: an open circuit is logged and reported by IsDegraded,
// and calls are still attempted.
type HTTPMinter struct {
	endpoint string
	client   *http.Client
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type HTTPOption func(*HTTPMinter)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(m *HTTPMinter) {
		if client != nil {
			m.client = client
		}
	}
}

func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(m *HTTPMinter) {
		if b != nil {
			m.breaker = b
		}
	}
}

func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(m *HTTPMinter) {
		m.logger = logger
	}
}

// NewHTTPMinter targets baseURL + "/mints".
func NewHTTPMinter(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPMinter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := &HTTPMinter{
		endpoint: strings.TrimRight(baseURL, "/") + "/mints",
		client:   &http.Client{Timeout: timeout},
		breaker:  circuit.New("mint-service"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *HTTPMinter) Mint(ctx context.Context, recipient id.Identity, ref id.StorageID, key string) error {
	req := newRequest(ctx, recipient, ref, key)
	err := m.post(ctx, req)
	if err != nil {
		if _, change := m.breaker.RecordFailure(); change.Opened {
			m.logWarn(ctx, "mint service circuit opened", "error", err)
		}
		return err
	}
	if _, change := m.breaker.RecordSuccess(); change.Closed {
		m.logWarn(ctx, "mint service circuit closed")
	}
	return nil
}

// IsDegraded reports whether recent mint calls have been failing.
func (m *HTTPMinter) IsDegraded() bool {
	return m.breaker.IsOpen()
}

func (m *HTTPMinter) post(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode mint request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mint request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.MintID)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call mint service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mint service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (m *HTTPMinter) logWarn(ctx context.Context, msg string, args ...any) {
	if m.logger != nil {
		m.logger.WarnContext(ctx, msg, append(args, "breaker", m.breaker.Name())...)
	}
}
