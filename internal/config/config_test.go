package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"skirmish/internal/game"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every bound variable so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, ":3000", cfg.Server.Addr())
	assert.True(t, cfg.Server.DebugServer)
	assert.Equal(t, "127.0.0.1:6060", cfg.Server.DebugAddr)
	assert.Empty(t, cfg.Server.AdminToken)
	assert.Nil(t, cfg.Server.CORSOrigins)
	assert.Equal(t, 20.0, cfg.Server.QueryRate)
	assert.Equal(t, 5.0, cfg.Server.CommandRate)
	assert.False(t, cfg.Server.TrustProxy)

	assert.Equal(t, 30, cfg.Match.TickRate)
	assert.Zero(t, cfg.Match.Duration)
	assert.Zero(t, cfg.Match.Seed)
	assert.False(t, cfg.Match.Autoplay)

	assert.True(t, cfg.Storage.HistoryEnabled)
	assert.Equal(t, "skirmish", cfg.Storage.HistoryApp)
	assert.Equal(t, 500, cfg.Storage.HistoryCapacity)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, game.DefaultLimits, cfg.Limits.ResourceLimits())
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("TICK_RATE", "60")
	t.Setenv("MATCH_DURATION", "90")
	t.Setenv("MATCH_SEED", "42")
	t.Setenv("DISABLE_DEBUG_SERVER", "true")
	t.Setenv("HISTORY_ENABLED", "false")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("GRID_COLS", "30")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Match.TickRate)
	assert.Equal(t, 90*time.Second, cfg.Match.Duration)
	assert.Equal(t, int64(42), cfg.Match.Seed)
	assert.False(t, cfg.Server.DebugServer)
	assert.False(t, cfg.Storage.HistoryEnabled)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30, cfg.Match.GridCols)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Server.TrustProxy)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yaml := `
server:
  port: 4000
  adminToken: secret
match:
  tickRate: 20
  duration: 2m
storage:
  historyCapacity: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skirmish.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.AdminToken)
	assert.Equal(t, 20, cfg.Match.TickRate)
	assert.Equal(t, 2*time.Minute, cfg.Match.Duration)
	assert.Equal(t, 50, cfg.Storage.HistoryCapacity)
	assert.Equal(t, filepath.Join(dir, "skirmish.yaml"), cfg.ConfigFile)

	// Environment wins over the file
	t.Setenv("PORT", "5000")
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.Port)
}

func TestLoadMalformedFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skirmish.yaml"), []byte("server: [oops"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		env, value, want string
	}{
		{"PORT", "70000", "server.port"},
		{"TICK_RATE", "0", "match.tickRate"},
		{"MATCH_DURATION", "soon", "match.duration"},
		{"LOG_FORMAT", "xml", "log.format"},
		{"MAX_UNITS", "-1", "limits"},
		{"COMMAND_RATE", "0", "request rates"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMatchRules(t *testing.T) {
	rules, err := MatchConfig{}.Rules()
	require.NoError(t, err)
	assert.Equal(t, game.DefaultRules().Cols, rules.Cols)

	rules, err = MatchConfig{GridCols: 30, GridRows: 21, Duration: time.Minute}.Rules()
	require.NoError(t, err)
	assert.Equal(t, 30, rules.Cols)
	assert.Equal(t, 21, rules.Rows)
	assert.Equal(t, time.Minute, rules.MatchDuration)

	_, err = MatchConfig{RulesPath: filepath.Join(t.TempDir(), "missing.yaml")}.Rules()
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, _ = parseDuration("1.5")
	assert.Equal(t, 1500*time.Millisecond, d)

	d, _ = parseDuration("5m")
	assert.Equal(t, 5*time.Minute, d)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("hidden")
	logger.Warn().Str("k", "v").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	assert.Equal(t, zerolog.InfoLevel, LogConfig{Level: "loud"}.NewLogger(&buf).GetLevel())
}
