package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jamfreport "github.com/httprunner/JamfReport"
	"github.com/httprunner/JamfReport/internal/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		flagListen        string
		flagShutdownGrace time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the device report over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			listen := firstNonEmpty(flagListen, settings.ListenAddr)

			journal, err := openJournal(settings)
			if err != nil {
				return err
			}
			if journal != nil {
				defer journal.Close()
			}
			reporter, err := newReporter(settings, journal)
			if err != nil {
				return err
			}
			var runs api.RunLister
			if journal != nil {
				runs = journal
			}
			handler := api.NewHandler(reporter, runs, settings.Credentials()).AllowJamfURLs(settings.AllowedURLs...)
			server := &http.Server{
				Addr:              listen,
				Handler:           api.NewRouter(handler),
				ReadHeaderTimeout: 10 * time.Second,
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			group := jamfreport.NewSafeGroup(sigCtx)
			group.GoSafe("http-server", func(ctx context.Context) error {
				err := server.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return errors.Wrapf(err, "listen on %s", listen)
			})
			group.GoSafe("http-shutdown", func(ctx context.Context) error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), flagShutdownGrace)
				defer cancel()
				log.Info().Msg("shutting down http server")
				return server.Shutdown(shutdownCtx)
			})

			log.Info().
				Str("listen", listen).
				Str("jamf_base_url", settings.BaseURL).
				Int("detail_concurrency", settings.DetailConcurrency).
				Dur("report_timeout", settings.ReportTimeout).
				Bool("run_journal", journal != nil).
				Msg("jamfreport server running")
			return group.WaitOrInterrupt(flagShutdownGrace + time.Second)
		},
	}

	cmd.Flags().StringVar(&flagListen, "listen", "", "Listen address overriding $LISTEN_ADDR")
	cmd.Flags().DurationVar(&flagShutdownGrace, "shutdown-grace", 10*time.Second, "Time allowed for in-flight requests on shutdown")

	return cmd
}
