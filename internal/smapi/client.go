package smapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Caller is the request/response contract to the management gateway.
// In production it is satisfied by *Client; in tests by mocks.
type Caller interface {
	// Request performs one gateway call. body is a list of "key=value"
	// records; nil means no body. It returns a RequestError on a
	// non-success status or an explicit gateway error record, and a
	// MalformedResponseError when the response cannot be decoded.
	Request(ctx context.Context, method, path string, body []string) (*Response, error)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the gateway root, e.g. "https://mgmt.example.com:8443/api".
	BaseURL  string
	Username string
	Password string

	// Timeout bounds a single request. Defaults to 30 seconds.
	Timeout time.Duration

	Log *zap.SugaredLogger
}

// Client is the production Caller. It is safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	http     *retryablehttp.Client
	log      *zap.SugaredLogger
}

// New returns a Client for the gateway described by opts.
//
// Transport-level retries cover only connection failures and
// overload-class statuses; waiting for remote state changes belongs to
// the workflow poller, not here.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	return &Client{
		baseURL:  opts.BaseURL,
		username: opts.Username,
		password: opts.Password,
		http:     rc,
		log:      log,
	}
}

type requestBody struct {
	Body []string `json:"body"`
}

// Request implements Caller.
func (c *Client) Request(ctx context.Context, method, path string, body []string) (*Response, error) {
	u := c.requestURL(path)

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(requestBody{Body: body})
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	c.log.Debugf("gateway request: %s %s", method, path)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request %s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Warnf("Warning: failed to close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Reason: string(raw),
		}
	}

	var decoded Response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &MalformedResponseError{Want: "JSON document"}
	}

	if text, code := decoded.remoteError(); (code != "" && code != "0") || (code == "" && text != "") {
		rc, reason := parseRemoteCodes(text)
		if rc == 0 {
			rc, _ = strconv.Atoi(code)
		}
		return nil, &RequestError{
			Method:     method,
			Path:       path,
			Code:       rc,
			ReasonCode: reason,
			Reason:     text,
		}
	}

	return &decoded, nil
}

// requestURL joins the base URL, path, and authentication query
// parameters. Credentials travel as query parameters per the gateway
// contract.
func (c *Client) requestURL(path string) string {
	sep := "?"
	if bytes.ContainsRune([]byte(path), '?') {
		sep = "&"
	}
	return c.baseURL + path + sep + "userName=" + c.username +
		"&password=" + c.password + "&format=json"
}
