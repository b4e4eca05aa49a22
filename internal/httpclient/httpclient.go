package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jpillora/backoff"
)

const maxErrorBody = 4096

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return e.Status
	}
	return e.Status + ": " + e.Body
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Client struct {
	rc *retryablehttp.Client
}

// New returns a client that retries idempotent requests on transport errors
// and 5xx responses. POSTs are never retried so an invitation or webhook is
// not delivered twice.
func New(timeout time.Duration, retries int, wait time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if wait == 0 {
		wait = 300 * time.Millisecond
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = wait
	rc.RetryWaitMax = maxWait
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	rc.CheckRetry = checkRetry
	rc.Backoff = exponential
	// hand the last response back so callers see the real status
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{rc: rc}
}

const maxWait = 10 * time.Second

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	method := ""
	if resp != nil && resp.Request != nil {
		method = resp.Request.Method
	} else {
		var ue *url.Error
		if errors.As(err, &ue) {
			method = strings.ToUpper(ue.Op)
		}
	}
	if !idempotent(method) {
		return false, nil
	}
	// rate limits are surfaced to the caller, which owns pacing
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func exponential(lo, hi time.Duration, attempt int, _ *http.Response) time.Duration {
	b := &backoff.Backoff{Min: lo, Max: hi, Factor: 2}
	return b.ForAttempt(float64(attempt))
}

// Do sends body (JSON-encoded when non-nil) and returns the raw response.
// Non-2xx responses are returned as *StatusError.
func (c *Client) Do(ctx context.Context, method, target string, headers map[string]string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	var raw any
	if payload != nil {
		raw = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, raw)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(b) > maxErrorBody {
			b = b[:maxErrorBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(bytes.TrimSpace(b))}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// DoJSON is Do plus decoding the response body into out when out is non-nil.
func (c *Client) DoJSON(ctx context.Context, method, target string, headers map[string]string, body any, out any) error {
	resp, err := c.Do(ctx, method, target, headers, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
