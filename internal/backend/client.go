package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crmrebs/leadconsole/internal/leads"
)

var (
	// ErrAuthExpired marks a 401-class response: the session is invalid
	// and the caller should re-authenticate instead of retrying.
	ErrAuthExpired = errors.New("session expired")
	// ErrRejected marks a non-401 4xx response: the request was refused
	// and retrying without changes will not help.
	ErrRejected = errors.New("request rejected")
)

// HTTPError carries the status and server-supplied message of a failed
// call. It matches ErrAuthExpired for 401 responses and ErrRejected for
// other 4xx responses via errors.Is.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrAuthExpired:
		return e.StatusCode == http.StatusUnauthorized
	case ErrRejected:
		return e.StatusCode >= 400 && e.StatusCode <= 499 && e.StatusCode != http.StatusUnauthorized
	}
	return false
}

// Template is one selectable outreach message template.
type Template struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Client is the narrow interface the engine consumes to reach the leads
// backend.
type Client interface {
	Login(ctx context.Context, password string) error
	ListNewLeads(ctx context.Context) ([]leads.Lead, error)
	ListHistoryLeads(ctx context.Context) ([]leads.Lead, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	SendOutreach(ctx context.Context, propertyID, templateName string) error
	Messages(ctx context.Context, propertyID string) ([]leads.ConversationMessage, error)
	Reply(ctx context.Context, propertyID, message string) error
	MarkRead(ctx context.Context, propertyID string) error
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPClient talks JSON over HTTP to the leads backend. The session cookie
// set by Login lives in the client's cookie jar and is attached to every
// subsequent request. Transient failures (network, 429, 5xx) are retried
// with capped exponential backoff; 4xx responses are not.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(opts Options) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err == nil {
			httpClient.Jar = jar
		}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

func (c *HTTPClient) Login(ctx context.Context, password string) error {
	body := map[string]string{"password": password}
	return c.doJSON(ctx, http.MethodPost, "/api/login", body, nil)
}

func (c *HTTPClient) ListNewLeads(ctx context.Context) ([]leads.Lead, error) {
	return c.listLeads(ctx, "/api/leads/new")
}

func (c *HTTPClient) ListHistoryLeads(ctx context.Context) ([]leads.Lead, error) {
	return c.listLeads(ctx, "/api/leads/history")
}

func (c *HTTPClient) listLeads(ctx context.Context, path string) ([]leads.Lead, error) {
	var out struct {
		Leads []leads.Lead `json:"leads"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Leads, nil
}

func (c *HTTPClient) ListTemplates(ctx context.Context) ([]Template, error) {
	var out struct {
		Templates []Template `json:"templates"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/templates", nil, &out); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

func (c *HTTPClient) SendOutreach(ctx context.Context, propertyID, templateName string) error {
	body := map[string]string{"property_id": propertyID}
	if strings.TrimSpace(templateName) != "" {
		body["template_name"] = templateName
	}
	return c.doJSON(ctx, http.MethodPost, "/api/send-whatsapp", body, nil)
}

func (c *HTTPClient) Messages(ctx context.Context, propertyID string) ([]leads.ConversationMessage, error) {
	var out struct {
		Messages []leads.ConversationMessage `json:"messages"`
	}
	path := fmt.Sprintf("/api/leads/%s/messages", url.PathEscape(propertyID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *HTTPClient) Reply(ctx context.Context, propertyID, message string) error {
	path := fmt.Sprintf("/api/leads/%s/reply", url.PathEscape(propertyID))
	return c.doJSON(ctx, http.MethodPost, path, map[string]string{"message": message}, nil)
}

func (c *HTTPClient) MarkRead(ctx context.Context, propertyID string) error {
	path := fmt.Sprintf("/api/leads/%s/mark-read", url.PathEscape(propertyID))
	return c.doJSON(ctx, http.MethodPost, path, map[string]bool{"read": true}, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(payload, resp.Status),
		}
	}
}

// errorMessage extracts the server's error string from a failure body,
// falling back to the transport status text.
func errorMessage(payload []byte, statusText string) string {
	var parsed struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(payload, &parsed) == nil {
		if strings.TrimSpace(parsed.Error) != "" {
			return parsed.Error
		}
		if strings.TrimSpace(parsed.Detail) != "" {
			return parsed.Detail
		}
	}
	return statusText
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
