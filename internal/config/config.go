// Package config loads the syncer's INI configuration.
//
// Grounded on original_source/src/config/config.h (boost::property_tree ini_parser reading
// database.* and marketsub.* sections) and on the teacher's config/config.go (typed Config
// struct plus a single Load constructor with validation), adapted from env vars to INI since
// the spec's external configuration contract (SPEC_FULL.md §4.8/§6) is INI-based.
package config

import (
	"strconv"
	"strings"

	"github.com/GeekChomolungma/ChomoSyncer/internal/errs"
	"gopkg.in/ini.v1"
)

// Config holds all syncer configuration, resolved and validated once at startup.
type Config struct {
	DatabaseURI string

	RedisHost     string
	RedisPort     int
	RedisPassword string

	Symbols   []string
	Intervals []string

	BackfillEpochMs int64

	TLSInsecureSkipVerify bool

	LogLevel string
}

// Load reads and validates the INI file at path. A ConfigError aborts the process per §7.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "load ini file", err)
	}

	cfg := &Config{
		LogLevel: "info",
	}

	dbSec := f.Section("database")
	cfg.DatabaseURI = dbSec.Key("uri").String()
	if cfg.DatabaseURI == "" {
		return nil, errs.New(errs.KindConfig, "database.uri", errMissingKey("database.uri"))
	}

	redisSec := f.Section("redis")
	cfg.RedisHost = redisSec.Key("host").String()
	if cfg.RedisHost == "" {
		return nil, errs.New(errs.KindConfig, "redis.host", errMissingKey("redis.host"))
	}
	portStr := redisSec.Key("port").String()
	if portStr == "" {
		return nil, errs.New(errs.KindConfig, "redis.port", errMissingKey("redis.port"))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "redis.port", err)
	}
	cfg.RedisPort = port
	cfg.RedisPassword = redisSec.Key("password").String()

	marketSec := f.Section("marketsub")
	symbolsRaw := marketSec.Key("symbols").String()
	intervalsRaw := marketSec.Key("intervals").String()
	if symbolsRaw == "" {
		return nil, errs.New(errs.KindConfig, "marketsub.symbols", errMissingKey("marketsub.symbols"))
	}
	if intervalsRaw == "" {
		return nil, errs.New(errs.KindConfig, "marketsub.intervals", errMissingKey("marketsub.intervals"))
	}
	cfg.Symbols = splitUpper(symbolsRaw)
	cfg.Intervals = splitTrim(intervalsRaw)

	backfillSec := f.Section("backfill")
	epochStr := backfillSec.Key("epoch_ms").String()
	if epochStr == "" {
		return nil, errs.New(errs.KindConfig, "backfill.epoch_ms", errMissingKey("backfill.epoch_ms"))
	}
	epoch, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil {
		return nil, errs.New(errs.KindConfig, "backfill.epoch_ms", err)
	}
	cfg.BackfillEpochMs = epoch

	tlsSec := f.Section("tls")
	cfg.TLSInsecureSkipVerify = tlsSec.Key("insecure_skip_verify").MustBool(false)

	logSec := f.Section("log")
	if lvl := logSec.Key("level").String(); lvl != "" {
		cfg.LogLevel = lvl
	}

	return cfg, nil
}

// SubscriptionStreams returns the lowercase "<symbol>@kline_<interval>" stream names for every
// configured symbol x interval pair, per §6.
func (c *Config) SubscriptionStreams() []string {
	out := make([]string, 0, len(c.Symbols)*len(c.Intervals))
	for _, s := range c.Symbols {
		for _, iv := range c.Intervals {
			out = append(out, strings.ToLower(s)+"@kline_"+iv)
		}
	}
	return out
}

func splitUpper(raw string) []string {
	parts := splitTrim(raw)
	for i, p := range parts {
		parts[i] = strings.ToUpper(p)
	}
	return parts
}

func splitTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

type missingKeyError string

func (e missingKeyError) Error() string { return "missing required key: " + string(e) }

func errMissingKey(key string) error { return missingKeyError(key) }
