package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	jamfreport "github.com/httprunner/JamfReport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		flagJSON     bool
		flagURL      string
		flagUsername string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build one device report and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := settings.Credentials()
			creds.BaseURL = firstNonEmpty(flagURL, creds.BaseURL)
			creds.Username = firstNonEmpty(flagUsername, creds.Username)
			if creds.BaseURL == "" {
				return errors.New("--url or JAMF_BASE_URL must be provided")
			}
			if creds.Username == "" {
				return errors.New("--username, JAMF_USERNAME or USERNAME must be provided")
			}

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
			report, err := reporter.BuildReport(cmd.Context(), creds)
			if err != nil {
				return err
			}
			for _, skipped := range report.Skipped {
				log.Warn().Uint64("device_id", skipped.DeviceID).Bool("not_found", skipped.NotFound).
					Str("reason", skipped.Reason).Msg("device missing from report")
			}
			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return writeTable(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&flagJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&flagURL, "url", "", "Jamf base URL overriding $JAMF_BASE_URL")
	cmd.Flags().StringVar(&flagUsername, "username", "", "Jamf username overriding $JAMF_USERNAME")

	return cmd
}

func writeJSON(w io.Writer, report *jamfreport.Report) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode report")
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

func writeTable(w io.Writer, report *jamfreport.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODEL\tOS\tLATEST")
	for _, rec := range report.Devices {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", rec.DeviceID, rec.Name, rec.Model, rec.OS, rec.OSIsLatest)
	}
	if err := tw.Flush(); err != nil {
		return errors.Wrap(err, "write report table")
	}
	_, err := fmt.Fprintf(w, "\n%d devices, %d skipped, latest %q\n", len(report.Devices), len(report.Skipped), report.LatestVersion)
	return err
}
