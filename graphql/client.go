package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/zenibako/scenario-sync/scenario"
)

// TokenSource returns a currently valid bearer token or a *scenario.AuthError
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Options configures a Client
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *log.Logger
	// PlotComponents enables the optional plot components query
	PlotComponents bool
}

// Client talks to the remote GraphQL endpoint and implements scenario.RemoteAPI
type Client struct {
	endpoint       string
	http           *http.Client
	tokens         TokenSource
	logger         *log.Logger
	plotComponents bool
}

var _ scenario.RemoteAPI = (*Client)(nil)

// NewClient creates a client for endpoint
func NewClient(endpoint string, tokens TokenSource, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		endpoint:       endpoint,
		http:           httpClient,
		tokens:         tokens,
		logger:         logger,
		plotComponents: opts.PlotComponents,
	}
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Do posts one GraphQL operation and returns its data object. Errors are
// classified as auth, transport (non-2xx), remote logic (GraphQL errors), or
// ErrNoData.
func (c *Client) Do(ctx context.Context, query string, variables map[string]any) (gjson.Result, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return gjson.Result{}, err
	}

	body, err := json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("request to %s failed: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("GraphQL response", "status", resp.StatusCode, "bytes", len(raw), "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, &scenario.TransportError{Status: resp.StatusCode, Body: string(raw)}
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, &scenario.TransportError{Status: resp.StatusCode, Body: "invalid JSON response: " + string(raw)}
	}

	parsed := gjson.ParseBytes(raw)
	if errs := parsed.Get("errors"); errs.IsArray() && len(errs.Array()) > 0 {
		var messages []string
		errs.ForEach(func(_, value gjson.Result) bool {
			msg := value.Get("message").String()
			if msg == "" {
				msg = value.Raw
			}
			messages = append(messages, msg)
			return true
		})
		return gjson.Result{}, &scenario.RemoteLogicError{Messages: messages}
	}

	data := parsed.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return gjson.Result{}, scenario.ErrNoData
	}
	return data, nil
}

// mutationResult checks a mutation payload's success flag
func mutationResult(payload gjson.Result) error {
	if !payload.Exists() || payload.Type == gjson.Null {
		return scenario.ErrNoData
	}
	if success := payload.Get("success"); success.Exists() && !success.Bool() {
		msg := payload.Get("message").String()
		if msg == "" {
			msg = "mutation reported failure"
		}
		return &scenario.RemoteLogicError{Messages: []string{msg}}
	}
	return nil
}

// asMap converts a gjson object into the generic map form the core normalizes
func asMap(result gjson.Result) (map[string]any, error) {
	if !result.IsObject() {
		return nil, scenario.ErrNoData
	}
	m, ok := result.Value().(map[string]any)
	if !ok {
		return nil, scenario.ErrNoData
	}
	return m, nil
}
