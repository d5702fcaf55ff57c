package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/httprunner/JamfReport/internal/jamf"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Keys read from the environment or the config file. Config files use the
// same names, case-insensitively (jamf_base_url: https://...).
const (
	KeyBaseURL           = "JAMF_BASE_URL"
	KeyUsername          = "USERNAME"
	KeyPassword          = "PASSWORD"
	KeyJamfUsername      = "JAMF_USERNAME"
	KeyJamfPassword      = "JAMF_PASSWORD"
	KeyListenAddr        = "LISTEN_ADDR"
	KeyDetailConcurrency = "DETAIL_CONCURRENCY"
	KeyRequestTimeout    = "REQUEST_TIMEOUT"
	KeyReportTimeout     = "REPORT_TIMEOUT"
	KeyRetryCount        = "RETRY_COUNT"
	KeyRunlogDBPath      = "RUNLOG_DB_PATH"
	KeyAllowedURLs       = "JAMF_ALLOWED_URLS"
)

var knownKeys = []string{
	KeyBaseURL, KeyUsername, KeyPassword, KeyJamfUsername, KeyJamfPassword,
	KeyListenAddr, KeyDetailConcurrency, KeyRequestTimeout, KeyReportTimeout,
	KeyRetryCount, KeyRunlogDBPath, KeyAllowedURLs,
}

const configName = "jamfreport"

// Settings is the resolved runtime configuration. It is read once at
// startup and passed down explicitly.
type Settings struct {
	BaseURL           string
	Username          string
	Password          string
	ListenAddr        string
	DetailConcurrency int
	RequestTimeout    time.Duration
	ReportTimeout     time.Duration
	RetryCount        int
	RunlogDBPath      string

	// AllowedURLs lists extra backend addresses a request may select.
	AllowedURLs []string

	// ConfigFile and EnvFile are the files that were read, if any.
	ConfigFile string
	EnvFile    string
}

// Options locates the optional config and dotenv files.
type Options struct {
	// ConfigFile must exist when set; otherwise jamfreport.{yaml,json,toml}
	// is looked up in the working directory and then $HOME/.jamfreport.
	ConfigFile string

	// EnvFile must exist when set; otherwise the nearest .env from the
	// working directory upward is used.
	EnvFile string
}

// Credentials returns the service credentials used when a request carries
// none of its own.
func (s Settings) Credentials() jamf.Credentials {
	return jamf.Credentials{
		Username: s.Username,
		Password: s.Password,
		BaseURL:  s.BaseURL,
	}
}

// Load resolves Settings from defaults, the config file, the dotenv file
// and the process environment, in increasing precedence.
func Load(opts Options) (Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := opts.ConfigFile; path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, errors.Wrapf(err, "read config file %s", path)
		}
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".jamfreport"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, errors.Wrap(err, "read config file")
			}
		}
	}
	envFile, err := applyDotenv(v, opts.EnvFile)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		BaseURL:           strings.TrimRight(strings.TrimSpace(v.GetString(KeyBaseURL)), "/"),
		Username:          firstNonEmpty(v.GetString(KeyJamfUsername), v.GetString(KeyUsername)),
		Password:          firstNonEmpty(v.GetString(KeyJamfPassword), v.GetString(KeyPassword)),
		ListenAddr:        strings.TrimSpace(v.GetString(KeyListenAddr)),
		DetailConcurrency: v.GetInt(KeyDetailConcurrency),
		RequestTimeout:    v.GetDuration(KeyRequestTimeout),
		ReportTimeout:     v.GetDuration(KeyReportTimeout),
		RetryCount:        v.GetInt(KeyRetryCount),
		RunlogDBPath:      strings.TrimSpace(v.GetString(KeyRunlogDBPath)),
		AllowedURLs:       splitList(v.GetStringSlice(KeyAllowedURLs)),
		ConfigFile:        v.ConfigFileUsed(),
		EnvFile:           envFile,
	}
	if err := settings.validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyListenAddr, "127.0.0.1:8080")
	v.SetDefault(KeyDetailConcurrency, 5)
	v.SetDefault(KeyRequestTimeout, 10*time.Second)
	v.SetDefault(KeyReportTimeout, 2*time.Minute)
	v.SetDefault(KeyRetryCount, 2)
}

func (s Settings) validate() error {
	if s.DetailConcurrency <= 0 {
		return errors.Errorf("%s must be positive, got %d", KeyDetailConcurrency, s.DetailConcurrency)
	}
	if s.RequestTimeout < 0 {
		return errors.Errorf("%s cannot be negative", KeyRequestTimeout)
	}
	if s.ReportTimeout < 0 {
		return errors.Errorf("%s cannot be negative", KeyReportTimeout)
	}
	if s.ListenAddr == "" {
		return errors.Errorf("%s cannot be empty", KeyListenAddr)
	}
	return nil
}

// splitList accepts YAML lists as well as comma or space separated
// strings from the environment.
func splitList(values []string) []string {
	var out []string
	for _, val := range values {
		for _, part := range strings.Split(val, ",") {
			if trimmed := strings.TrimRight(strings.TrimSpace(part), "/"); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
