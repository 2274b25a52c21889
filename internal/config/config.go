// Package config resolves the daemon configuration.
//
// Values are layered: built-in defaults, then the optional YAML file named by
// --config or VERIDIS_CONFIG, then VERIDIS_* environment variables, then
// command-line flags that were set explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	// HTTPAddr is the listen address of the JSON API.
	HTTPAddr string `yaml:"http_addr"`

	// TCPAddr is the listen address of the line protocol. Empty disables it.
	TCPAddr string `yaml:"tcp_addr"`

	// DisableTLS serves the line protocol in plain TCP.
	DisableTLS bool `yaml:"disable_tls"`

	// AuthzStorePath is the JSON document holding users and invite codes.
	AuthzStorePath string `yaml:"authz_store"`

	// PrivilegedIDs always resolve to the god role.
	PrivilegedIDs []string `yaml:"privileged_ids"`

	// MaxEvents is the event history capacity.
	MaxEvents int `yaml:"max_events"`

	// InviteTTL applies to invite codes created without an explicit TTL.
	InviteTTL time.Duration `yaml:"invite_ttl"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// NATSURL enables event ingestion from NATS when set.
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:       ":3001",
		TCPAddr:        ":7001",
		AuthzStorePath: "./data/authz.json",
		MaxEvents:      200,
		InviteTTL:      12 * time.Hour,
		LogLevel:       "info",
		NATSSubject:    "veridis.events",
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays the VERIDIS_* variables read through getenv onto c.
// PORT is honoured when VERIDIS_HTTP_ADDR is unset.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error

	if v := getenv("VERIDIS_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	} else if port := getenv("PORT"); port != "" {
		c.HTTPAddr = ":" + port
	}
	if v, ok := lookup(getenv, "VERIDIS_TCP_ADDR"); ok {
		c.TCPAddr = v
	}
	if v := getenv("VERIDIS_DISABLE_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("VERIDIS_DISABLE_TLS: %w", err))
		} else {
			c.DisableTLS = b
		}
	}
	if v := getenv("VERIDIS_AUTHZ_STORE"); v != "" {
		c.AuthzStorePath = v
	}
	if v := getenv("VERIDIS_GOD_TELEGRAM_IDS"); v != "" {
		c.PrivilegedIDs = ParseIDs(v)
	}
	if v := getenv("VERIDIS_MAX_EVENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("VERIDIS_MAX_EVENTS: %w", err))
		} else {
			c.MaxEvents = n
		}
	}
	if v := getenv("VERIDIS_INVITE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("VERIDIS_INVITE_TTL: %w", err))
		} else {
			c.InviteTTL = d
		}
	}
	if v := getenv("VERIDIS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("VERIDIS_LOG_PRETTY"); v != "" {
		c.LogPretty = v == "true" || v == "1"
	}
	if v := getenv("VERIDIS_NATS_URL"); v != "" {
		c.NATSURL = v
	}
	if v := getenv("VERIDIS_NATS_SUBJECT"); v != "" {
		c.NATSSubject = v
	}

	return errors.Join(errs...)
}

// lookup treats the literal "-" as an explicit empty value, so a variable can
// disable a listener that is on by default.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	switch v {
	case "":
		return "", false
	case "-":
		return "", true
	}
	return v, true
}

// Validate reports configuration values the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.AuthzStorePath == "" {
		errs = append(errs, errors.New("authz store path is required"))
	}
	if c.MaxEvents < 1 {
		errs = append(errs, fmt.Errorf("max events must be positive, got %d", c.MaxEvents))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		errs = append(errs, errors.New("nats subject is required when nats is enabled"))
	}
	return errors.Join(errs...)
}

// ParseIDs splits a comma-separated id list, dropping blanks.
func ParseIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Resolve builds the configuration for the daemon from args (without the
// program name) and the environment.
func Resolve(name string, args []string, getenv func(string) string) (*Config, error) {
	flagged := Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.String("config", getenv("VERIDIS_CONFIG"), "path to a YAML configuration file")
	fs.StringVar(&flagged.HTTPAddr, "http-addr", flagged.HTTPAddr, "HTTP API listen address")
	fs.StringVar(&flagged.TCPAddr, "tcp-addr", flagged.TCPAddr, "line protocol listen address (empty disables it)")
	fs.BoolVar(&flagged.DisableTLS, "disable-tls", flagged.DisableTLS, "serve the line protocol without TLS")
	fs.StringVar(&flagged.AuthzStorePath, "authz-store", flagged.AuthzStorePath, "path of the authorization store")
	fs.StringSliceVar(&flagged.PrivilegedIDs, "god-id", nil, "external id that always has the god role (repeatable)")
	fs.IntVar(&flagged.MaxEvents, "max-events", flagged.MaxEvents, "event history capacity")
	fs.DurationVar(&flagged.InviteTTL, "invite-ttl", flagged.InviteTTL, "default invite code lifetime")
	fs.StringVar(&flagged.LogLevel, "log-level", flagged.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&flagged.LogPretty, "log-pretty", flagged.LogPretty, "human readable console logs")
	fs.StringVar(&flagged.NATSURL, "nats-url", flagged.NATSURL, "NATS server to ingest events from")
	fs.StringVar(&flagged.NATSSubject, "nats-subject", flagged.NATSSubject, "NATS subject carrying events")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}

	// Only flags given on the command line win over the file and environment.
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := flagSetters[f.Name]; ok {
			apply(cfg, flagged)
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var flagSetters = map[string]func(dst, src *Config){
	"http-addr":    func(dst, src *Config) { dst.HTTPAddr = src.HTTPAddr },
	"tcp-addr":     func(dst, src *Config) { dst.TCPAddr = src.TCPAddr },
	"disable-tls":  func(dst, src *Config) { dst.DisableTLS = src.DisableTLS },
	"authz-store":  func(dst, src *Config) { dst.AuthzStorePath = src.AuthzStorePath },
	"god-id":       func(dst, src *Config) { dst.PrivilegedIDs = src.PrivilegedIDs },
	"max-events":   func(dst, src *Config) { dst.MaxEvents = src.MaxEvents },
	"invite-ttl":   func(dst, src *Config) { dst.InviteTTL = src.InviteTTL },
	"log-level":    func(dst, src *Config) { dst.LogLevel = src.LogLevel },
	"log-pretty":   func(dst, src *Config) { dst.LogPretty = src.LogPretty },
	"nats-url":     func(dst, src *Config) { dst.NATSURL = src.NATSURL },
	"nats-subject": func(dst, src *Config) { dst.NATSSubject = src.NATSSubject },
}
