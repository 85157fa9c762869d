package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// envPrefix namespaces every override variable.
const envPrefix = "FEEDGATE_"

// LoadDotEnv loads variables from the given .env files without replacing
// values already present in the process environment. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *AppConfig) applyEnvOverrides(lookup lookupFunc) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("ENV"); ok {
		c.Environment = Environment(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := get("OTLP_ENDPOINT"); ok {
		c.Telemetry.OTLPEndpoint = v
	}
	if v, ok := get("METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", envPrefix, err)
		}
		c.Telemetry.EnableMetrics = b
	}
	if v, ok := get("API_ADDR"); ok {
		c.APIServer.Addr = v
	}
	if v, ok := get("ENDPOINT"); ok {
		c.Transport.Endpoint = v
	}
	if v, ok := get("PROTOCOL"); ok {
		c.Transport.Protocol = v
	}
	if v, ok := get("PENDING_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPENDING_TIMEOUT: %w", envPrefix, err)
		}
		c.Session.PendingTimeout = d
	}
	if v, ok := get("MAX_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_BATCH_SIZE: %w", envPrefix, err)
		}
		c.Session.MaxBatchSize = n
	}
	return nil
}
