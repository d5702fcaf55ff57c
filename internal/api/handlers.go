package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jamfreport "github.com/httprunner/JamfReport"
	"github.com/pkg/errors"
)

// JamfURLHeader carries the backend base address for requests that
// authenticate with their own basic credentials. Only allowlisted
// addresses are accepted.
const JamfURLHeader = "X-Jamf-URL"

var errJamfURLNotAllowed = errors.New("jamf url not allowed")

// ReportBuilder is satisfied by *jamfreport.Reporter.
type ReportBuilder interface {
	BuildReport(ctx context.Context, creds jamfreport.Credentials) (*jamfreport.Report, error)
}

// RunLister is satisfied by *runlog.Journal.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]jamfreport.RunSummary, error)
}

// Handler serves the HTTP API.
type Handler struct {
	reports     ReportBuilder
	runs        RunLister
	defaults    jamfreport.Credentials
	allowedURLs map[string]struct{}
}

// NewHandler wires the handler. runs may be nil when the journal is
// disabled; defaults are used for requests without basic auth.
func NewHandler(reports ReportBuilder, runs RunLister, defaults jamfreport.Credentials) *Handler {
	h := &Handler{reports: reports, runs: runs, defaults: defaults, allowedURLs: map[string]struct{}{}}
	return h.AllowJamfURLs(defaults.BaseURL)
}

// AllowJamfURLs adds backend addresses that callers may select with
// JamfURLHeader. The configured default address is always allowed.
func (h *Handler) AllowJamfURLs(urls ...string) *Handler {
	for _, raw := range urls {
		if normalized := normalizeURL(raw); normalized != "" {
			h.allowedURLs[normalized] = struct{}{}
		}
	}
	return h
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	URL      string `json:"url" binding:"required"`
}

type runView struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	ElapsedMS int64     `json:"elapsed_ms"`
	BaseURL   string    `json:"base_url,omitempty"`
	Listed    int       `json:"listed"`
	Reported  int       `json:"reported"`
	Skipped   int       `json:"skipped"`
	Error     string    `json:"error,omitempty"`
}

// Hello answers the liveness greeting.
func (h *Handler) Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": "hello world!"})
}

// EchoCredentials returns the posted credentials unchanged. Nothing is
// stored.
func (h *Handler) EchoCredentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

// ListDevices builds a device report with the request's credentials.
func (h *Handler) ListDevices(c *gin.Context) {
	creds, err := h.requestCredentials(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(creds.Username) == "" {
		c.Header("WWW-Authenticate", `Basic realm="jamf"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "jamf credentials required"})
		return
	}

	report, err := h.reports.BuildReport(c.Request.Context(), creds)
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListRuns returns recent journal entries, newest first.
func (h *Handler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run journal disabled"})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	runs, err := h.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, runView{
			RunID:     run.RunID,
			StartedAt: run.StartedAt.UTC(),
			ElapsedMS: run.Elapsed.Milliseconds(),
			BaseURL:   run.BaseURL,
			Listed:    run.Listed,
			Reported:  run.Reported,
			Skipped:   run.Skipped,
			Error:     run.Error,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": views})
}

// requestCredentials prefers the request's basic-auth credentials. The
// base address header is honored only together with them, and only for
// allowlisted addresses.
func (h *Handler) requestCredentials(r *http.Request) (jamfreport.Credentials, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return h.defaults, nil
	}
	creds := jamfreport.Credentials{Username: username, Password: password}
	if raw := strings.TrimSpace(r.Header.Get(JamfURLHeader)); raw != "" {
		if _, allowed := h.allowedURLs[normalizeURL(raw)]; !allowed {
			return jamfreport.Credentials{}, errJamfURLNotAllowed
		}
		creds.BaseURL = strings.TrimRight(raw, "/")
	}
	return creds, nil
}

// normalizeURL builds the allowlist key; scheme and host compare
// case-insensitively.
func normalizeURL(raw string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, jamfreport.ErrAuth),
		errors.Is(err, jamfreport.ErrFetch),
		errors.Is(err, jamfreport.ErrDecode),
		errors.Is(err, jamfreport.ErrNotFound):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
