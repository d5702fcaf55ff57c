package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jamfreport "github.com/httprunner/JamfReport"
	"github.com/httprunner/JamfReport/internal/jamf"
	"github.com/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubReports struct {
	report *jamfreport.Report
	err    error
	calls  int
	creds  jamfreport.Credentials
}

func (s *stubReports) BuildReport(ctx context.Context, creds jamfreport.Credentials) (*jamfreport.Report, error) {
	s.calls++
	s.creds = creds
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

type stubRuns struct {
	runs  []jamfreport.RunSummary
	err   error
	limit int
}

func (s *stubRuns) Recent(ctx context.Context, limit int) ([]jamfreport.RunSummary, error) {
	s.limit = limit
	return s.runs, s.err
}

var serviceCreds = jamfreport.Credentials{Username: "svc", Password: "svc-pass", BaseURL: "https://svc.example"}

func serve(t *testing.T, h *Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	NewRouter(h).ServeHTTP(rec, req)
	return rec
}

func TestHealthAndHello(t *testing.T) {
	h := NewHandler(&stubReports{}, nil, serviceCreds)

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/api/hello", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"data":"hello world!"}` {
		t.Fatalf("hello: %d %s", rec.Code, rec.Body.String())
	}
}

func TestEchoCredentials(t *testing.T) {
	h := NewHandler(&stubReports{}, nil, serviceCreds)
	body := `{"username":"tshouler","password":"this_is_a_secret","url":"base_url"}`
	req := httptest.NewRequest(http.MethodPost, "/api/jamf/credentials", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got["username"] != "tshouler" || got["password"] != "this_is_a_secret" || got["url"] != "base_url" {
		t.Fatalf("unexpected echo %#v", got)
	}
}

func TestEchoCredentialsRejectsBadBody(t *testing.T) {
	h := NewHandler(&stubReports{}, nil, serviceCreds)
	for name, body := range map[string]string{
		"malformed":     `{"username":`,
		"missing field": `{"username":"a","password":"b"}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/jamf/credentials", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			if rec := serve(t, h, req); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestListDevicesUsesServiceCredentials(t *testing.T) {
	reports := &stubReports{report: &jamfreport.Report{Devices: []jamfreport.DeviceRecord{
		{DeviceID: 1, Name: "Mac mini", Model: "Mac mini (2018)", OS: "macOS 12.6.0", OSIsLatest: true},
	}}}
	h := NewHandler(reports, nil, serviceCreds)

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/jamf/devices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	want := `{"devices":[{"device_id":1,"name":"Mac mini","model":"Mac mini (2018)","os":"macOS 12.6.0","os_is_latest":true}]}`
	if strings.TrimSpace(rec.Body.String()) != want {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if reports.creds != serviceCreds {
		t.Fatalf("expected service credentials, got %#v", reports.creds)
	}
}

func TestListDevicesPrefersBasicAuth(t *testing.T) {
	reports := &stubReports{report: &jamfreport.Report{}}
	h := NewHandler(reports, nil, serviceCreds).AllowJamfURLs("https://Tenant.example/")

	req := httptest.NewRequest(http.MethodGet, "/api/jamf/devices", nil)
	req.SetBasicAuth("alice", "pw")
	req.Header.Set(JamfURLHeader, "https://tenant.example/")
	rec := serve(t, h, req)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"devices":[]}` {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	want := jamfreport.Credentials{Username: "alice", Password: "pw", BaseURL: "https://tenant.example"}
	if reports.creds != want {
		t.Fatalf("credentials = %#v", reports.creds)
	}
}

func TestListDevicesIgnoresURLHeaderWithoutBasicAuth(t *testing.T) {
	reports := &stubReports{report: &jamfreport.Report{}}
	h := NewHandler(reports, nil, serviceCreds)

	req := httptest.NewRequest(http.MethodGet, "/api/jamf/devices", nil)
	req.Header.Set(JamfURLHeader, "https://attacker.example")
	serve(t, h, req)
	if reports.creds.BaseURL != serviceCreds.BaseURL {
		t.Fatalf("service credentials redirected to %q", reports.creds.BaseURL)
	}
}

func TestListDevicesRequiresCredentials(t *testing.T) {
	reports := &stubReports{}
	h := NewHandler(reports, nil, jamfreport.Credentials{})

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/jamf/devices", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if reports.calls != 0 {
		t.Fatalf("report should not be built without credentials")
	}
}

func TestListDevicesErrorStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"auth", errors.Wrap(&jamf.Error{Kind: jamf.ErrAuth, Op: "exchange token", StatusCode: 401}, "authenticate"), http.StatusBadGateway},
		{"fetch", errors.Wrap(&jamf.Error{Kind: jamf.ErrFetch, Op: "list computers"}, "list devices"), http.StatusBadGateway},
		{"decode", &jamf.Error{Kind: jamf.ErrDecode, Op: "list computers"}, http.StatusBadGateway},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "fetch device details"), http.StatusGatewayTimeout},
		{"no base url", errors.Wrap(jamf.ErrNoBaseURL, "exchange token"), http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&stubReports{err: tc.err}, nil, serviceCreds)
			rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/jamf/devices", nil))
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.err.Error() {
				t.Fatalf("error body = %q", body["error"])
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	started := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	runs := &stubRuns{runs: []jamfreport.RunSummary{
		{RunID: "run-2", StartedAt: started, Elapsed: 1500 * time.Millisecond, Listed: 3, Reported: 2, Skipped: 1},
	}}
	h := NewHandler(&stubReports{}, runs, serviceCreds)

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/jamf/runs?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if runs.limit != 5 {
		t.Fatalf("limit = %d", runs.limit)
	}
	want := `{"runs":[{"run_id":"run-2","started_at":"2026-10-01T09:00:00Z","elapsed_ms":1500,"listed":3,"reported":2,"skipped":1}]}`
	if strings.TrimSpace(rec.Body.String()) != want {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestListRunsErrors(t *testing.T) {
	h := NewHandler(&stubReports{}, nil, serviceCreds)
	if rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/jamf/runs", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled journal: expected 404, got %d", rec.Code)
	}

	h = NewHandler(&stubReports{}, &stubRuns{}, serviceCreds)
	if rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/jamf/runs?limit=abc", nil)); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", rec.Code)
	}

	h = NewHandler(&stubReports{}, &stubRuns{err: errors.New("disk gone")}, serviceCreds)
	if rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/jamf/runs", nil)); rec.Code != http.StatusInternalServerError {
		t.Fatalf("journal failure: expected 500, got %d", rec.Code)
	}
}

func TestListDevicesRejectsUnlistedJamfURL(t *testing.T) {
	var hits int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer internal.Close()

	reporter, err := jamfreport.NewReporter(jamfreport.Config{BaseURL: "https://svc.example", RetryCount: -1})
	if err != nil {
		t.Fatalf("NewReporter returned error: %v", err)
	}
	h := NewHandler(reporter, nil, serviceCreds).AllowJamfURLs("https://tenant.example")

	req := httptest.NewRequest(http.MethodGet, "/api/jamf/devices", nil)
	req.SetBasicAuth("anyone", "x")
	req.Header.Set(JamfURLHeader, internal.URL)
	rec := serve(t, h, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Fatalf("expected no outbound request, got %d", got)
	}
}

func TestListDevicesErrorOmitsUpstreamBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("upstream-banner-v1"))
	}))
	defer upstream.Close()

	reporter, err := jamfreport.NewReporter(jamfreport.Config{BaseURL: upstream.URL, RetryCount: -1})
	if err != nil {
		t.Fatalf("NewReporter returned error: %v", err)
	}
	h := NewHandler(reporter, nil, jamfreport.Credentials{Username: "svc", Password: "pw", BaseURL: upstream.URL})

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/jamf/devices", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "upstream-banner-v1") {
		t.Fatalf("response leaks upstream body: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "status=401") {
		t.Fatalf("response should keep kind and status: %s", rec.Body.String())
	}
}
