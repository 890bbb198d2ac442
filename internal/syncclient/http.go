package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/lessonstate/internal/state"
)

// DefaultTimeout bounds each HTTP round trip.
const DefaultTimeout = 10 * time.Second

// TokenSource mints the bearer token presented for an identity.
type TokenSource interface {
	Token(id state.Identity) (string, error)
}

// StaticToken presents the same token for every identity. Useful when a
// client process acts for exactly one signed-in learner.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(state.Identity) (string, error) {
	return string(t), nil
}

// HTTPOption configures an HTTP client.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTP) {
		c.http = hc
	}
}

// WithLogger sets the logger used for skipped records.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(c *HTTP) {
		c.logger = l
	}
}

// HTTP is a Client for the lessonstate HTTP server.
type HTTP struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	logger  *slog.Logger
}

var _ Client = (*HTTP)(nil)

// NewHTTP creates a client for the server at baseURL (e.g. http://localhost:8087).
func NewHTTP(baseURL string, tokens TokenSource, opts ...HTTPOption) *HTTP {
	c := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchStates implements Client.
func (c *HTTP) FetchStates(ctx context.Context, id state.Identity, lessonID string) (map[string]json.RawMessage, error) {
	if id.IsGuest() {
		return map[string]json.RawMessage{}, nil
	}

	endpoint := fmt.Sprintf("%s/v1/lessons/%s/states", c.baseURL, url.PathEscape(lessonID))
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, id, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch states: %w", err)
	}

	var body FetchResponse
	if err := c.do(req, &body); err != nil {
		return nil, fmt.Errorf("fetch states: %w", err)
	}

	records := make([]state.Record, 0, len(body.States))
	for _, w := range body.States {
		records = append(records, FromWire(id, w))
	}
	return foldRecords(c.logger, lessonID, records), nil
}

// PushState implements Client.
func (c *HTTP) PushState(ctx context.Context, id state.Identity, lessonID, exerciseID string, st json.RawMessage, writtenAt time.Time) error {
	if id.IsGuest() {
		return fmt.Errorf("push state: %w", ErrNoIdentity)
	}

	payload, err := json.Marshal(PushRequest{State: string(st), WrittenAt: writtenAt})
	if err != nil {
		return fmt.Errorf("push state: encode: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/lessons/%s/exercises/%s/state",
		c.baseURL, url.PathEscape(lessonID), url.PathEscape(exerciseID))
	req, err := c.newRequest(ctx, http.MethodPut, endpoint, id, payload)
	if err != nil {
		return fmt.Errorf("push state: %w", err)
	}

	var body PushResponse
	if err := c.do(req, &body); err != nil {
		return fmt.Errorf("push state: %w", err)
	}
	return nil
}

func (c *HTTP) newRequest(ctx context.Context, method, endpoint string, id state.Identity, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(id)
	if err != nil {
		return nil, fmt.Errorf("token for %s: %w", id, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out.
func (c *HTTP) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode}
		var er ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er); err == nil {
			se.Code = er.Code
			se.Message = er.Error
		}
		return se
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
