package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// applyDotenv feeds the known keys of a dotenv file into v. Variables set
// in the process keep precedence, and the process environment itself is
// left untouched. It returns the file that was read, or "".
func applyDotenv(v *viper.Viper, path string) (string, error) {
	if path == "" {
		// Unit tests stay hermetic unless GOTEST_LOAD_DOTENV=1.
		if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
			return "", nil
		}
		found, err := findDotEnv()
		if err != nil {
			log.Debug().Err(err).Msg("jamfreport: search .env failed")
			return "", nil
		}
		if found == "" {
			return "", nil
		}
		path = found
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return "", errors.Wrapf(err, "read dotenv file %s", path)
	}
	applied := 0
	for _, key := range knownKeys {
		val, ok := values[key]
		if !ok || strings.TrimSpace(os.Getenv(key)) != "" {
			continue
		}
		v.Set(key, val)
		applied++
	}
	log.Debug().Str("dotenv", path).Int("keys", applied).Msg("jamfreport: loaded .env")
	return path, nil
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

// findDotEnv walks from the working directory to the filesystem root.
func findDotEnv() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(wd, ".env")
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			return "", nil
		}
		wd = parent
	}
}
