package main

import (
	"os"
	"strings"

	"github.com/httprunner/JamfReport/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jamfreport",
	Short: "Flattened device inventory reports from Jamf",
	Long: `jamfreport lists every computer managed by a Jamf server together with its
model, OS version and whether that version is the newest update Jamf offers.
It runs as an HTTP service (serve) or prints a single report (report).`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

var (
	rootConfigFile string
	rootEnvFile    string
	rootLogLevel   string

	settings config.Settings
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootConfigFile, "config", "", "Config file (default ./jamfreport.yaml or ~/.jamfreport/jamfreport.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootEnvFile, "env-file", "", "Dotenv file (default nearest .env upward from the working directory)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.AddCommand(
		newServeCmd(),
		newReportCmd(),
	)
}

func loadSettings(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(rootLogLevel)))
	if err != nil {
		return errors.Wrapf(err, "invalid --log-level %q", rootLogLevel)
	}
	zerolog.SetGlobalLevel(level)

	loaded, err := config.Load(config.Options{ConfigFile: rootConfigFile, EnvFile: rootEnvFile})
	if err != nil {
		return err
	}
	settings = loaded
	if settings.ConfigFile != "" {
		log.Debug().Str("config", settings.ConfigFile).Msg("loaded config file")
	}
	if settings.EnvFile != "" {
		log.Debug().Str("dotenv", settings.EnvFile).Msg("loaded .env")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("jamfreport command failed")
	}
}
