package jamf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	tokenPath            = "/api/v1/auth/token"
	computersPath        = "/JSSResource/computers"
	computerByIDPath     = "/JSSResource/computers/id/%d"
	availableUpdatesPath = "/api/v1/macos-managed-software-updates/available-updates"

	defaultRequestTimeout = 10 * time.Second
	defaultRetryWait      = 200 * time.Millisecond
	defaultRetryMaxWait   = 2 * time.Second

	maxErrorBody = 512
)

// Config controls the transport used by Client.
type Config struct {
	// BaseURL is used when the credentials of a call do not carry one.
	BaseURL string

	// RequestTimeout bounds every single HTTP call.
	RequestTimeout time.Duration

	// RetryCount is the number of extra attempts for idempotent GETs on
	// transport errors, 429 and 5xx. Zero or negative disables retries.
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration

	// HTTPClient replaces the default transport, mostly for tests.
	HTTPClient *http.Client
}

// Client talks to the Jamf Classic and Pro APIs. It holds no session:
// basic credentials or a bearer token are passed into every call.
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient builds a Client from cfg, filling unset fields with defaults.
func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	if cfg.RetryMaxWait < cfg.RetryWait {
		cfg.RetryMaxWait = defaultRetryMaxWait
		if cfg.RetryMaxWait < cfg.RetryWait {
			cfg.RetryMaxWait = cfg.RetryWait
		}
	}

	var r *resty.Client
	if cfg.HTTPClient != nil {
		r = resty.NewWithClient(cfg.HTTPClient)
	} else {
		r = resty.New()
	}
	r.SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{}).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(retryIdempotent)

	return &Client{
		baseURL: normalizeBaseURL(cfg.BaseURL),
		http:    r,
	}
}

// BaseURL returns the configured default backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Authenticate exchanges basic credentials for a bearer token. The call is
// never retried: a rejected password stays rejected.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	const op = "exchange token"
	base, err := c.resolveBaseURL(creds)
	if err != nil {
		return Token{}, errors.Wrap(err, op)
	}
	if strings.TrimSpace(creds.Username) == "" {
		return Token{}, newError(ErrAuth, op, errors.New("username is empty"))
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(creds.Username, creds.Password).
		Post(base + tokenPath)
	if err != nil {
		return Token{}, newError(ErrFetch, op, err)
	}
	if !resp.IsSuccess() {
		logErrorBody(op, resp)
		return Token{}, &Error{Kind: ErrAuth, Op: op, StatusCode: resp.StatusCode()}
	}

	var payload tokenResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return Token{}, newError(ErrAuth, op, errors.Wrap(err, "decode token payload"))
	}
	if strings.TrimSpace(payload.Token) == "" {
		return Token{}, newError(ErrAuth, op, errors.New("token payload has no token"))
	}
	log.Debug().Str("base_url", base).Msg("jamf: bearer token issued")
	return Token{Value: payload.Token, BaseURL: base}, nil
}

// ListDeviceIDs returns the ids of all managed computers in server order.
func (c *Client) ListDeviceIDs(ctx context.Context, creds Credentials) ([]uint64, error) {
	const op = "list computers"
	base, err := c.resolveBaseURL(creds)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	body, err := c.getBasic(ctx, op, base+computersPath, creds)
	if err != nil {
		return nil, err
	}
	var payload computersResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, newError(ErrDecode, op, err)
	}
	if payload.Computers == nil {
		return nil, newError(ErrDecode, op, errors.New(`missing "computers"`))
	}
	ids := make([]uint64, 0, len(*payload.Computers))
	for _, computer := range *payload.Computers {
		ids = append(ids, computer.ID)
	}
	return ids, nil
}

// FetchDeviceDetail returns the general and hardware fields of one
// computer. A 404 is reported as ErrNotFound.
func (c *Client) FetchDeviceDetail(ctx context.Context, creds Credentials, id uint64) (DeviceDetail, error) {
	op := fmt.Sprintf("get computer %d", id)
	base, err := c.resolveBaseURL(creds)
	if err != nil {
		return DeviceDetail{}, errors.Wrap(err, op)
	}

	body, err := c.getBasic(ctx, op, base+fmt.Sprintf(computerByIDPath, id), creds)
	if err != nil {
		return DeviceDetail{}, err
	}
	var payload computerResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return DeviceDetail{}, newError(ErrDecode, op, err)
	}
	if payload.Computer == nil {
		return DeviceDetail{}, newError(ErrDecode, op, errors.New(`missing "computer"`))
	}
	computer := payload.Computer
	if computer.General.ID != id {
		return DeviceDetail{}, newError(ErrDecode, op, errors.Errorf("response carries id %d", computer.General.ID))
	}
	return DeviceDetail{
		ID:        computer.General.ID,
		Name:      computer.General.Name,
		Model:     computer.Hardware.Model,
		OSName:    computer.Hardware.OSName,
		OSVersion: computer.Hardware.OSVersion,
	}, nil
}

// FetchUpdateCatalog returns the macOS versions currently offered as
// managed software updates. It authenticates with the bearer token only.
func (c *Client) FetchUpdateCatalog(ctx context.Context, token Token) (UpdateCatalog, error) {
	const op = "list available updates"
	base := normalizeBaseURL(token.BaseURL)
	if base == "" {
		base = c.baseURL
	}
	if base == "" {
		return nil, errors.Wrap(ErrNoBaseURL, op)
	}
	if strings.TrimSpace(token.Value) == "" {
		return nil, newError(ErrAuth, op, errors.New("bearer token is empty"))
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token.Value).
		Get(base + availableUpdatesPath)
	if err != nil {
		return nil, newError(ErrFetch, op, err)
	}
	if !resp.IsSuccess() {
		return nil, statusError(op, resp)
	}
	var payload availableUpdatesResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, newError(ErrDecode, op, err)
	}
	if payload.AvailableUpdates == nil {
		return nil, newError(ErrDecode, op, errors.New(`missing "availableUpdates"`))
	}
	return UpdateCatalog(*payload.AvailableUpdates), nil
}

func (c *Client) getBasic(ctx context.Context, op, url string, creds Credentials) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(creds.Username, creds.Password).
		Get(url)
	if err != nil {
		return nil, newError(ErrFetch, op, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, &Error{Kind: ErrNotFound, Op: op, StatusCode: http.StatusNotFound}
	}
	if !resp.IsSuccess() {
		return nil, statusError(op, resp)
	}
	return resp.Body(), nil
}

func (c *Client) resolveBaseURL(creds Credentials) (string, error) {
	if base := normalizeBaseURL(creds.BaseURL); base != "" {
		return base, nil
	}
	if c.baseURL != "" {
		return c.baseURL, nil
	}
	return "", ErrNoBaseURL
}

func statusError(op string, resp *resty.Response) error {
	kind := ErrFetch
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = ErrAuth
	case http.StatusNotFound:
		kind = ErrNotFound
	}
	logErrorBody(op, resp)
	return &Error{Kind: kind, Op: op, StatusCode: resp.StatusCode()}
}

// logErrorBody logs a truncated upstream error body. Bodies stay out of
// the returned error, which may reach HTTP callers.
func logErrorBody(op string, resp *resty.Response) {
	body := strings.TrimSpace(resp.String())
	if body == "" {
		return
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	log.Debug().Str("op", op).Int("status", resp.StatusCode()).Str("body", body).Msg("jamf: error response")
}

// retryIdempotent retries GETs on transport errors, 429 and 5xx. POSTs
// (the token exchange) are never retried.
func retryIdempotent(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func normalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	log.Error().Str("component", "resty").Msgf(strings.TrimSpace(format), v...)
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Str("component", "resty").Msgf(strings.TrimSpace(format), v...)
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Str("component", "resty").Msgf(strings.TrimSpace(format), v...)
}
