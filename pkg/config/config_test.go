package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const testPublicKey = `-----BEGIN PUBLIC KEY-----
MFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAEVVHNXKxoUNkoX9hnOJpSz6K2KDfi
gxaSXu+FIpP32qvcDgZPZ01tjnGjOysyPxRoZaMu/d9rHi3ulbceoYwS+Q==
-----END PUBLIC KEY-----`

func newTestCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	PersistentFlags(cmd.PersistentFlags())
	ServeFlags(cmd.Flags())
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnvName, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, _, err := Load(newTestCommand(t))
	require.NoError(t, err)

	want := &Config{
		Leeway:          60 * time.Second,
		CacheSize:       10_000,
		CacheTTL:        5 * time.Minute,
		ListenAddress:   "127.0.0.1:9090",
		HealthAddress:   "127.0.0.1:8081",
		LogLevel:        "info",
		LogFormat:       "json",
		MetricsInterval: time.Minute,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	require.ErrorIs(t, cfg.Validate(), ErrMissingPublicKey)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "auth.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log-level: debug\nrequired-scheme: Token\nleeway: 5s\n"), 0o600))
	t.Setenv(ConfigPathEnvName, cfgPath)
	t.Setenv("BATON_SESSION_AUTH_REQUIRED_SCHEME", "Bearer")
	t.Setenv("BATON_SESSION_AUTH_PUBLIC_KEY", testPublicKey)

	cfg, _, err := Load(newTestCommand(t, "--leeway", "10s"))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "Bearer", cfg.RequiredScheme)
	require.Equal(t, 10*time.Second, cfg.Leeway)
	require.Equal(t, PEM(testPublicKey), cfg.PublicKey)
	require.NoError(t, cfg.Validate())
}

func TestLoad_PublicKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "session.pub")
	require.NoError(t, os.WriteFile(keyPath, []byte(testPublicKey+"\n"), 0o600))
	t.Setenv(ConfigPathEnvName, filepath.Join(dir, "missing.yaml"))

	cfg, _, err := Load(newTestCommand(t, "--public-key", keyPath))
	require.NoError(t, err)
	require.Equal(t, PEM(testPublicKey), cfg.PublicKey)

	_, _, err = Load(newTestCommand(t, "--public-key", filepath.Join(dir, "nope.pub")))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "ok", cfg: Config{PublicKey: testPublicKey}},
		{name: "missing key", cfg: Config{}, wantErr: true},
		{name: "bad format", cfg: Config{PublicKey: testPublicKey, LogFormat: "xml"}, wantErr: true},
		{name: "negative leeway", cfg: Config{PublicKey: testPublicKey, Leeway: -time.Second}, wantErr: true},
		{name: "two collector certs", cfg: Config{PublicKey: testPublicKey, OtelCollectorTLSCertPath: "/ca.pem", OtelCollectorTLSCert: "abc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCleanOrGetConfigPath(t *testing.T) {
	dir, name, err := CleanOrGetConfigPath("")
	require.NoError(t, err)
	require.Equal(t, ".", dir)
	require.Equal(t, ".baton-session-auth", name)

	dir, name, err = CleanOrGetConfigPath("/etc/auth/config.yml")
	require.NoError(t, err)
	require.Equal(t, "/etc/auth", dir)
	require.Equal(t, "config", name)

	_, _, err = CleanOrGetConfigPath("config.json")
	require.Error(t, err)
}

func TestTelemetryOptions(t *testing.T) {
	require.Len(t, (&Config{}).TelemetryOptions("dev"), 1)

	cfg := &Config{
		OtelCollectorEndpoint: "collector:4317",
		OtelCollectorInsecure: true,
		OtelTracingDisabled:   true,
		MetricsStdout:         true,
		MetricsInterval:       time.Second,
	}
	require.Len(t, cfg.TelemetryOptions("dev"), 4)
}
