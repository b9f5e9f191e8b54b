package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func newFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("test", flag.ContinueOnError)
}

func TestLoad_Defaults(t *testing.T) {
	o, err := Load(newFlagSet(), []string{"-c", filepath.Join(t.TempDir(), "missing.yaml")}, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", o.Addr)
	assert.Equal(t, "admin", o.RequiredRole)
	assert.Equal(t, 15*time.Second, o.APITimeout)
	assert.Equal(t, 7*24*time.Hour, o.SessionTTL)
	assert.False(t, o.Secure())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_address: ":9000"
database_dsn: "postgres://file"
api_origin: "https://api.file.example/api"
required_role: editor
session_ttl: 2h
`), 0o600))

	o, err := Load(newFlagSet(),
		[]string{"-config", path, "-d", "postgres://flag"},
		env(map[string]string{"API_ORIGIN": "https://api.env.example/api"}),
	)
	require.NoError(t, err)

	assert.Equal(t, ":9000", o.Addr, "file overrides default")
	assert.Equal(t, "postgres://flag", o.DatabaseDSN, "explicit flag overrides file")
	assert.Equal(t, "https://api.env.example/api", o.APIOrigin, "env overrides file")
	assert.Equal(t, "editor", o.RequiredRole)
	assert.Equal(t, 2*time.Hour, o.SessionTTL)
	assert.Equal(t, path, o.Config)
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))

	o, err := Load(newFlagSet(), nil, env(map[string]string{"CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, "debug", o.LogLevel)
}

func TestLoad_AutoTLSDefaults(t *testing.T) {
	o, err := Load(newFlagSet(), []string{"-c", "", "-auto-tls"}, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "certs/dev.crt", o.TLSCert)
	assert.Equal(t, "certs/dev.key", o.TLSKey)
	assert.True(t, o.Secure())
}

func TestLoad_Errors(t *testing.T) {
	badYAML := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(badYAML, []byte("server_address: [unterminated"), 0o600))

	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "unknown flag", args: []string{"-nope"}},
		{name: "bad yaml", args: []string{"-c", badYAML}},
		{name: "bad duration", args: []string{"-c", ""}, env: map[string]string{"SESSION_TTL": "forever"}},
		{name: "bad bool", args: []string{"-c", ""}, env: map[string]string{"AUTO_TLS": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFlagSet()
			fs.SetOutput(os.Stderr)
			_, err := Load(fs, tt.args, env(tt.env))
			assert.Error(t, err)
		})
	}
}
