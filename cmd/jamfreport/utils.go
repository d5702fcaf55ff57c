package main

import (
	"strings"

	jamfreport "github.com/httprunner/JamfReport"
	"github.com/httprunner/JamfReport/internal/config"
	"github.com/httprunner/JamfReport/pkg/runlog"
	"github.com/rs/zerolog/log"
)

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// openJournal returns nil when RUNLOG_DB_PATH is unset.
func openJournal(s config.Settings) (*runlog.Journal, error) {
	if s.RunlogDBPath == "" {
		return nil, nil
	}
	journal, err := runlog.Open(s.RunlogDBPath)
	if err != nil {
		return nil, err
	}
	log.Info().Str("db", journal.Path()).Msg("run journal enabled")
	return journal, nil
}

func newReporter(s config.Settings, journal *runlog.Journal) (*jamfreport.Reporter, error) {
	cfg := jamfreport.Config{
		BaseURL:        s.BaseURL,
		RequestTimeout: s.RequestTimeout,
		RetryCount:     s.RetryCount,
		MaxInFlight:    s.DetailConcurrency,
		ReportTimeout:  s.ReportTimeout,
	}
	// A nil *Journal must not become a non-nil RunRecorder.
	if journal != nil {
		cfg.Recorder = journal
	}
	return jamfreport.NewReporter(cfg)
}
