package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sawpanic/moverun/internal/domain/market"
)

// EnvPrefix namespaces every environment override
const EnvPrefix = "MOVERUN_"

// loadDotEnv exports path into the environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays MOVERUN_* variables read through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	var errs []error
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	list := func(name string) ([]string, bool) {
		v, ok := get(name)
		if !ok {
			return nil, false
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}

	str("LOG_LEVEL", &c.LogLevel)
	if syms, ok := list("SYMBOLS"); ok {
		c.Symbols = c.Symbols[:0:0]
		for _, s := range syms {
			c.Symbols = append(c.Symbols, market.NormalizeSymbol(s))
		}
	}
	if v, ok := get("THRESHOLD_PCT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTHRESHOLD_PCT: %w", EnvPrefix, err))
		} else {
			c.Movement.ThresholdPct = f
		}
	}
	dur("LOOKBACK", &c.Movement.Lookback)
	dur("CORRELATION_WINDOW", &c.Correlation.Window)
	dur("TICK_INTERVAL", &c.Pipeline.TickInterval)
	dur("NEWS_INTERVAL", &c.Pipeline.NewsInterval)
	integer("MAX_CONCURRENCY", &c.Pipeline.MaxConcurrency)
	dur("REQUEST_TIMEOUT", &c.Network.RequestTimeout)
	if v, ok := list("PRICE_SOURCES"); ok {
		c.Sources.Price = v
	}
	if v, ok := list("NEWS_SOURCES"); ok {
		c.Sources.News = v
	}
	boolean("HTTP_ENABLED", &c.HTTP.Enabled)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("PG_DSN", &c.Storage.DSN)
	str("DB_DSN", &c.Storage.DSN)
	boolean("STORE_SAMPLES", &c.Storage.Samples)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	integer("REDIS_DB", &c.Redis.DB)
	str("WEBHOOK_URL", &c.Explain.WebhookURL)

	return errors.Join(errs...)
}
