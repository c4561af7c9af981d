package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/solara-sync/internal/errors"
	"github.com/alexjbarnes/solara-sync/internal/state"
	"github.com/tidwall/gjson"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit. Apps Script
	// answers every call with a redirect to googleusercontent.com, so
	// cross-host redirects must be allowed.
	maxRedirects = 10

	// defaultTimeout applies when no custom HTTP client is provided.
	defaultTimeout = 60 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory. Responses
	// are small JSON status objects.
	maxAPIResponseBytes = 1024 * 1024

	// submitContentType avoids a CORS preflight in browsers; the script
	// parses the body as JSON regardless.
	submitContentType = "text/plain;charset=utf-8"

	appDataAction = "getAppData"
)

// Client talks to the spreadsheet-backed endpoint.
type Client struct {
	httpClient *http.Client
	scriptURL  string
}

func limitRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}

	return nil
}

// NewClient creates a client for scriptURL. If httpClient is nil, one
// with the given timeout (or 60s when timeout is zero) is created.
func NewClient(scriptURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = defaultTimeout
		}

		httpClient = &http.Client{
			Timeout:       timeout,
			CheckRedirect: limitRedirects,
		}
	}

	return &Client{
		httpClient: httpClient,
		scriptURL:  scriptURL,
	}
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// Deliver makes exactly one attempt to submit rec. It never retries and
// never returns an error value directly: every failure mode (transport,
// status code, malformed body, explicit failure status) is reported as
// a Result with OK false.
func (c *Client) Deliver(ctx context.Context, rec state.Record) Result {
	if err := c.submit(ctx, SubmissionFromRecord(rec)); err != nil {
		return Result{Err: err}
	}

	return Result{OK: true}
}

func (c *Client) submit(ctx context.Context, sub Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("%w: marshalling submission: %w", apperrors.ErrAPIRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.scriptURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", apperrors.ErrAPIRequest, err)
	}

	req.Header.Set("Content-Type", submitContentType)

	body, err := c.do(req)
	if err != nil {
		return err
	}

	return checkStatus(body)
}

// do sends req and returns the capped body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %w", apperrors.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", apperrors.ErrAPIRequest, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", apperrors.ErrAPIResponse, resp.StatusCode, sanitizeResponseBody(body))
	}

	return body, nil
}

// checkStatus accepts only a JSON object whose status is "success".
func checkStatus(body []byte) error {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return fmt.Errorf("%w: malformed body: %s", apperrors.ErrAPIResponse, sanitizeResponseBody(body))
	}

	status := gjson.GetBytes(body, "status")
	if status.Type == gjson.String && status.Str == statusSuccess {
		return nil
	}

	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = "endpoint reported failure"
	}

	return fmt.Errorf("%w: status %q: %s", apperrors.ErrAPIResponse, status.String(), sanitizeResponseBody([]byte(msg)))
}

// FetchAppData retrieves the classification options.
func (c *Client) FetchAppData(ctx context.Context) (*AppData, error) {
	u, err := url.Parse(c.scriptURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing script URL: %w", apperrors.ErrAPIRequest, err)
	}

	q := u.Query()
	q.Set("action", appDataAction)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", apperrors.ErrAPIRequest, err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching app data: %w", err)
	}

	var resp appDataResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("fetching app data: %w: decoding: %w", apperrors.ErrAPIResponse, err)
	}

	if resp.Status != statusSuccess {
		msg := resp.Message
		if msg == "" {
			msg = "error fetching app data"
		}

		return nil, fmt.Errorf("fetching app data: %w: %s", apperrors.ErrAPIResponse, sanitizeResponseBody([]byte(msg)))
	}

	if resp.Data == nil {
		return nil, fmt.Errorf("fetching app data: %w: missing data", apperrors.ErrAPIResponse)
	}

	return resp.Data, nil
}
