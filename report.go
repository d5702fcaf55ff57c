package jamfreport

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/httprunner/JamfReport/internal/jamf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Backend is the set of upstream calls a report needs. *jamf.Client
// implements it. Only FetchUpdateCatalog takes a bearer token; the list
// and detail calls use basic credentials directly.
type Backend interface {
	Authenticate(ctx context.Context, creds jamf.Credentials) (jamf.Token, error)
	ListDeviceIDs(ctx context.Context, creds jamf.Credentials) ([]uint64, error)
	FetchDeviceDetail(ctx context.Context, creds jamf.Credentials, id uint64) (jamf.DeviceDetail, error)
	FetchUpdateCatalog(ctx context.Context, token jamf.Token) (jamf.UpdateCatalog, error)
}

// Config controls Reporter behavior.
type Config struct {
	// Backend overrides the Jamf client built from the fields below.
	Backend Backend

	BaseURL        string
	RequestTimeout time.Duration

	// RetryCount is the number of extra GET attempts; zero disables retries.
	RetryCount int

	// MaxInFlight caps concurrent detail fetches (DefaultMaxInFlight when unset).
	MaxInFlight int

	// ReportTimeout bounds a whole BuildReport call; zero means no deadline.
	ReportTimeout time.Duration

	// Recorder receives a summary of every build.
	Recorder RunRecorder
}

// Reporter builds device reports. It keeps no per-call state and is safe
// for concurrent use.
type Reporter struct {
	cfg         Config
	backend     Backend
	recorder    RunRecorder
	maxInFlight int
	clock       func() time.Time
}

// NewReporter builds a Reporter from cfg.
func NewReporter(cfg Config) (*Reporter, error) {
	if cfg.ReportTimeout < 0 {
		return nil, errors.New("report timeout cannot be negative")
	}
	if cfg.RequestTimeout < 0 {
		return nil, errors.New("request timeout cannot be negative")
	}
	backend := cfg.Backend
	if backend == nil {
		backend = jamf.NewClient(jamf.Config{
			BaseURL:        cfg.BaseURL,
			RequestTimeout: cfg.RequestTimeout,
			RetryCount:     cfg.RetryCount,
		})
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Reporter{
		cfg:         cfg,
		backend:     backend,
		recorder:    recorder,
		maxInFlight: maxInFlight,
		clock:       time.Now,
	}, nil
}

// BuildReport fetches the update catalog and the device list, fetches
// every device detail with bounded concurrency and returns the records
// in device-list order.
//
// Authentication, catalog and list failures abort the report. A device
// whose detail fetch fails for any reason is skipped, logged and listed
// in Report.Skipped. An empty update catalog is logged and leaves every
// device with OSIsLatest=false.
func (r *Reporter) BuildReport(ctx context.Context, creds Credentials) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.cfg.ReportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ReportTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	startedAt := r.clock()
	logger := log.With().Str("run_id", runID).Logger()

	report, listed, err := r.build(logger.WithContext(ctx), creds)
	summary := RunSummary{
		RunID:     runID,
		StartedAt: startedAt,
		Elapsed:   r.clock().Sub(startedAt),
		BaseURL:   r.baseURL(creds),
		Listed:    listed,
	}
	if err != nil {
		summary.Error = err.Error()
		logger.Error().Err(err).Dur("elapsed", summary.Elapsed).Msg("device report failed")
	} else {
		report.RunID = runID
		summary.Reported = len(report.Devices)
		summary.Skipped = len(report.Skipped)
		logger.Info().
			Int("listed", listed).
			Int("reported", summary.Reported).
			Int("skipped", summary.Skipped).
			Str("latest_version", report.LatestVersion).
			Dur("elapsed", summary.Elapsed).
			Msg("device report built")
	}
	if recErr := r.recorder.RecordRun(context.WithoutCancel(ctx), summary); recErr != nil {
		logger.Warn().Err(recErr).Msg("record report run failed")
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Reporter) build(ctx context.Context, creds Credentials) (*Report, int, error) {
	latest, err := r.latestVersion(ctx, creds)
	if err != nil {
		return nil, 0, err
	}

	ids, err := r.backend.ListDeviceIDs(ctx, creds)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list devices")
	}
	log.Ctx(ctx).Debug().Int("devices", len(ids)).Int("max_in_flight", r.maxInFlight).Msg("fetching device details")

	slots := r.fetchDetails(ctx, creds, ids)
	if err := ctx.Err(); err != nil {
		return nil, len(ids), errors.Wrap(err, "fetch device details")
	}

	report := &Report{
		LatestVersion: latest,
		Listed:        len(ids),
		Devices:       make([]DeviceRecord, 0, len(ids)),
	}
	for i, id := range ids {
		slot := slots[i]
		if slot.err != nil {
			log.Ctx(ctx).Warn().Err(slot.err).Uint64("device_id", id).Msg("skip device: detail fetch failed")
			report.Skipped = append(report.Skipped, SkippedDevice{
				DeviceID: id,
				NotFound: errors.Is(slot.err, ErrNotFound),
				Reason:   slot.err.Error(),
			})
			continue
		}
		report.Devices = append(report.Devices, NewDeviceRecord(slot.detail, latest))
	}
	return report, len(ids), nil
}

// latestVersion resolves the comparison baseline once per report. The
// catalog call is the only one that needs a bearer token.
func (r *Reporter) latestVersion(ctx context.Context, creds Credentials) (string, error) {
	token, err := r.backend.Authenticate(ctx, creds)
	if err != nil {
		return "", errors.Wrap(err, "authenticate")
	}
	catalog, err := r.backend.FetchUpdateCatalog(ctx, token)
	if err != nil {
		return "", errors.Wrap(err, "fetch update catalog")
	}
	latest, err := SelectLatest(catalog)
	if errors.Is(err, ErrEmptyCatalog) {
		log.Ctx(ctx).Warn().Msg("update catalog is empty; no device will be flagged latest")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return latest, nil
}

func (r *Reporter) baseURL(creds Credentials) string {
	if base := strings.TrimSpace(creds.BaseURL); base != "" {
		return base
	}
	if client, ok := r.backend.(*jamf.Client); ok {
		return client.BaseURL()
	}
	return strings.TrimSpace(r.cfg.BaseURL)
}
