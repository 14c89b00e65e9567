// Package api is a thin client for the copy server's REST endpoints. Listing
// and metadata responses are cached; every mutating call invalidates the
// cached entries it can make stale before it returns.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"

	"copycat/cache"
	"copycat/types"
)

const (
	DefaultTimeout = 30 * time.Second
	BrowseTimeout  = 60 * time.Second

	userAgent = "copycat"
)

var (
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrNoBaseURL    = errors.New("api: base url missing")
)

// APIError represents an error response of the server
type APIError struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
	Msg    string `json:"error"`
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Msg
	}
	return fmt.Sprintf("api error: %d %s", e.Status, msg)
}

// Options configures a Client
type Options struct {
	BaseURL  string
	Token    string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// Client talks to one copy server
type Client struct {
	client  *req.Client
	timeout time.Duration

	listings *cache.Cache[*types.BrowseResponse]
	folders  *cache.Cache[*types.FolderInfo]
	jobs     *cache.Cache[*types.CopyJob]
	history  *cache.ItemsCache[[]types.CopyJob]
	library  *cache.ItemsCache[*types.LibraryPage]
}

// New creates a client. Idempotent reads are retried up to three times on
// transport errors.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	c := req.C().
		SetBaseURL(opts.BaseURL).
		SetUserAgent(userAgent).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1 * time.Second).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)
	if opts.Token != "" {
		c.SetCommonBearerAuthToken(opts.Token)
	}

	return &Client{
		client:   c,
		timeout:  opts.Timeout,
		listings: cache.New[*types.BrowseResponse](opts.CacheTTL),
		folders:  cache.New[*types.FolderInfo](opts.CacheTTL),
		jobs:     cache.New[*types.CopyJob](opts.CacheTTL),
		history:  cache.NewItemsCache[[]types.CopyJob](opts.CacheTTL),
		library:  cache.NewItemsCache[*types.LibraryPage](opts.CacheTTL),
	}, nil
}

// request starts a request bounded by timeout. Mutations must disable retries.
func (c *Client) request(ctx context.Context, timeout time.Duration) (*req.Request, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return c.client.R().SetContext(ctx), cancel
}

// handleAPIError maps a response to an error, nil when the call succeeded
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if resp != nil && resp.Response != nil {
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%s: %w", operation, ErrUnauthorized)
		}
		if resp.IsErrorState() {
			if apiErr, ok := resp.ErrorResult().(*APIError); ok && (apiErr.Detail != "" || apiErr.Msg != "") {
				apiErr.Status = resp.StatusCode
				return fmt.Errorf("%s: %w", operation, apiErr)
			}
			return fmt.Errorf("%s: %w", operation, &APIError{Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)})
		}
	}

	if requestErr != nil {
		return fmt.Errorf("%s: http request error: %w", operation, requestErr)
	}
	return nil
}
