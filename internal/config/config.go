// Package config provides functionality for managing configuration options
// for the server using command-line flags, a YAML config file and
// environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Options holds the configuration values for the server.
type Options struct {
	// Addr defines the server's listening address (ip:port).
	Addr string `yaml:"server_address"`

	// DatabaseDSN holds the database connection string for browser sessions.
	DatabaseDSN string `yaml:"database_dsn"`

	// APIOrigin is the base URL of the projects backend API.
	APIOrigin string `yaml:"api_origin"`
	// StorageOrigin is where relative image paths are served from.
	StorageOrigin string `yaml:"storage_origin"`
	// APICAFile optionally adds a CA to trust for the backend.
	APICAFile string `yaml:"api_ca_file"`
	// APITimeout bounds every backend request.
	APITimeout time.Duration `yaml:"api_timeout"`

	// LogLevel is the zap level name.
	LogLevel string `yaml:"log_level"`

	// RequiredRole is the role needed for the back-office.
	RequiredRole string `yaml:"required_role"`
	// SessionTTL is how long an idle browser session is kept.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
	// AutoTLS generates a self-signed certificate into TLSCert/TLSKey when
	// they do not exist.
	AutoTLS bool `yaml:"auto_tls"`

	// Config is the path to the config file.
	Config string `yaml:"-"`
}

// Secure reports whether the server is served over HTTPS.
func (o *Options) Secure() bool {
	return o.TLSCert != "" && o.TLSKey != ""
}

// Load parses args with flags and applies, in increasing priority: defaults,
// the config file, explicitly set flags, environment variables.
func Load(flags *flag.FlagSet, args []string, getenv func(string) string) (*Options, error) {
	o := &Options{}
	flags.StringVar(&o.Addr, "a", "localhost:8080", "run on ip:port server")
	flags.StringVar(&o.DatabaseDSN, "d", "", "db address")
	flags.StringVar(&o.APIOrigin, "api", "http://localhost:8000/api", "projects backend API base URL")
	flags.StringVar(&o.StorageOrigin, "storage", "http://localhost:8000/storage", "image storage origin")
	flags.StringVar(&o.APICAFile, "api-ca", "", "extra CA certificate for the backend")
	flags.DurationVar(&o.APITimeout, "api-timeout", 15*time.Second, "backend request timeout")
	flags.StringVar(&o.LogLevel, "log-level", "info", "log level")
	flags.StringVar(&o.RequiredRole, "role", "admin", "role required for the back-office")
	flags.DurationVar(&o.SessionTTL, "session-ttl", 7*24*time.Hour, "idle browser session lifetime")
	flags.StringVar(&o.TLSCert, "tls-cert", "", "TLS certificate file")
	flags.StringVar(&o.TLSKey, "tls-key", "", "TLS key file")
	flags.BoolVar(&o.AutoTLS, "auto-tls", false, "generate a self-signed certificate for development")
	flags.StringVar(&o.Config, "config", "config.yaml", "path to config file")
	flags.StringVar(&o.Config, "c", "config.yaml", "path to config file (shorthand)")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if configPath := getenv("CONFIG"); configPath != "" {
		o.Config = configPath
	}
	if err := o.readFile(flags); err != nil {
		return nil, err
	}
	if err := o.applyEnv(getenv); err != nil {
		return nil, err
	}
	if o.AutoTLS {
		if o.TLSCert == "" {
			o.TLSCert = "certs/dev.crt"
		}
		if o.TLSKey == "" {
			o.TLSKey = "certs/dev.key"
		}
	}
	return o, nil
}

// readFile merges the YAML config file, if it exists, under the flags that
// were set explicitly.
func (o *Options) readFile(flags *flag.FlagSet) error {
	if o.Config == "" {
		return nil
	}
	data, err := os.ReadFile(o.Config)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	explicit := map[string]string{}
	flags.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	path := o.Config
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	o.Config = path

	for name, v := range explicit {
		if err := flags.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (o *Options) applyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"SERVER_ADDRESS": &o.Addr,
		"DATABASE_DSN":   &o.DatabaseDSN,
		"API_ORIGIN":     &o.APIOrigin,
		"STORAGE_ORIGIN": &o.StorageOrigin,
		"API_CA_FILE":    &o.APICAFile,
		"LOG_LEVEL":      &o.LogLevel,
		"REQUIRED_ROLE":  &o.RequiredRole,
		"TLS_CERT":       &o.TLSCert,
		"TLS_KEY":        &o.TLSKey,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	dur := map[string]*time.Duration{
		"API_TIMEOUT": &o.APITimeout,
		"SESSION_TTL": &o.SessionTTL,
	}
	for key, dst := range dur {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := getenv("AUTO_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTO_TLS: %w", err)
		}
		o.AutoTLS = b
	}
	return nil
}

// Parse loads a .env file if present, then parses the command-line flags,
// the config file and environment variables. It exits on invalid input.
func Parse() *Options {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}
	o, err := Load(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return o
}
