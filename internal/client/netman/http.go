package netman

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ddanilov/podvault/internal/client/models"
	"github.com/ddanilov/podvault/internal/logging"
	"github.com/ddanilov/podvault/internal/syncwire"
)

const (
	defaultPageSize       = 100
	defaultBackoffBase    = time.Second
	defaultBackoffRetries = 3
	defaultHTTPTimeout    = 30 * time.Second
)

// Options tunes the HTTP manager. Zero values select defaults.
type Options struct {
	PageSize       int           // pull page size requested from the server
	BackoffBase    time.Duration // first retry delay (fibonacci growth)
	BackoffRetries uint64        // transient retries per call
	HTTPClient     *http.Client
}

// HTTPManager implements Manager over HTTP+JSON with a WebSocket realtime
// channel. Requests authenticate with a bearer token from the injected
// TokenFunc. Transient transport failures (network errors, 5xx, 429) are
// retried with bounded fibonacci backoff; 4xx responses are permanent.
type HTTPManager struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
	logger  logging.Logger

	pageSize       int
	backoffBase    time.Duration
	backoffRetries uint64
}

func NewHTTPManager(baseURL string, token TokenFunc, logger logging.Logger, opts Options) *HTTPManager {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffRetries == 0 {
		opts.BackoffRetries = defaultBackoffRetries
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPManager{
		baseURL:        baseURL,
		token:          token,
		http:           opts.HTTPClient,
		logger:         logger.With("module", "netman"),
		pageSize:       opts.PageSize,
		backoffBase:    opts.BackoffBase,
		backoffRetries: opts.BackoffRetries,
	}
}

func (m *HTTPManager) PullChanges(ctx context.Context, lastToken string) (*syncwire.ChangeSet, error) {
	q := url.Values{}
	if lastToken != "" {
		q.Set("since", lastToken)
	}
	q.Set("limit", strconv.Itoa(m.pageSize))

	var cs syncwire.ChangeSet
	err := m.doJSON(ctx, http.MethodGet, "/v1/changes?"+q.Encode(), nil, &cs)
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}
	// a server returning no results must not move the cursor backwards
	if cs.NextToken == "" {
		cs.NextToken = lastToken
	}
	return &cs, nil
}

func (m *HTTPManager) PushChanges(ctx context.Context, items []*models.OutboxItem) ([]syncwire.PushResult, error) {
	req := syncwire.PushRequest{Items: make([]syncwire.PushItem, 0, len(items))}
	for _, item := range items {
		req.Items = append(req.Items, syncwire.PushItem{
			Type:        item.Type,
			OperationID: item.OperationID,
			Payload:     item.Payload,
		})
	}

	var resp syncwire.PushResponse
	if err := m.doJSON(ctx, http.MethodPost, "/v1/push", &req, &resp); err != nil {
		return nil, fmt.Errorf("push failed: %w", err)
	}
	if len(resp.Results) != len(items) {
		return nil, fmt.Errorf("push returned %d results for %d items", len(resp.Results), len(items))
	}
	return resp.Results, nil
}

// doJSON performs one request with auth, JSON codec and bounded retries.
func (m *HTTPManager) doJSON(ctx context.Context, method, path string, in, out any) error {
	backoff := retry.WithMaxRetries(m.backoffRetries, retry.NewFibonacci(m.backoffBase))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body io.Reader
		if in != nil {
			data, err := json.Marshal(in)
			if err != nil {
				return fmt.Errorf("failed to encode request: %w", err)
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
		if err != nil {
			return err
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if err := m.authorize(ctx, req.Header); err != nil {
			return err
		}

		resp, err := m.http.Do(req)
		if err != nil {
			// network-level failures are transient
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			b, _ := io.ReadAll(resp.Body)
			m.logger.Warn(ctx, "transient server error, will retry",
				"method", method, "path", path, "status", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("server error %s: %s", resp.Status, string(b)))
		default:
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("request rejected %s: %s", resp.Status, string(b))
		}
	})
}

func (m *HTTPManager) authorize(ctx context.Context, h http.Header) error {
	if m.token == nil {
		return nil
	}
	token, err := m.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain token: %w", err)
	}
	h.Set("Authorization", "Bearer "+token)
	return nil
}
