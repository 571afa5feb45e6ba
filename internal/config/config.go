// Package config provides centralized configuration management.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// skirmish.yaml in the config directory, and environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"skirmish/internal/game"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory (without extension).
const FileName = "skirmish"

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int
	AdminToken  string   // guards POST /api/match/restart when set
	CORSOrigins []string // nil keeps the API defaults
	DebugAddr   string
	DebugServer bool

	// Per-client request budgets (requests per second; burst is twice the rate).
	QueryRate   float64
	CommandRate float64
	TrustProxy  bool // key clients by X-Forwarded-For
}

// Addr returns the listen address for the API server.
func (c ServerConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// =============================================================================
// MATCH CONFIGURATION
// =============================================================================

// MatchConfig holds simulation settings.
type MatchConfig struct {
	TickRate  int           // ticks per second
	Duration  time.Duration // 0 keeps the rules file value
	Seed      int64         // 0 picks a time-based seed per match
	Autoplay  bool          // run the build heuristic for the player too
	RulesPath string        // optional YAML rules overlay
	GridCols  int           // 0 keeps the rules value
	GridRows  int
}

// Rules loads the balance sheet and applies the grid and duration overrides.
func (c MatchConfig) Rules() (*game.Rules, error) {
	rules := game.DefaultRules()
	if c.RulesPath != "" {
		loaded, err := game.LoadRules(c.RulesPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	if c.GridCols > 0 {
		rules.Cols = c.GridCols
	}
	if c.GridRows > 0 {
		rules.Rows = c.GridRows
	}
	if c.Duration > 0 {
		rules.MatchDuration = c.Duration
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return rules, nil
}

// =============================================================================
// STORAGE CONFIGURATION
// =============================================================================

// StorageConfig holds persistence settings.
type StorageConfig struct {
	EventLogPath    string // empty keeps events in memory only
	HistoryEnabled  bool
	HistoryApp      string // gdata application name
	HistoryCapacity int
}

// =============================================================================
// LOGGING & LIMITS
// =============================================================================

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
}

// NewLogger builds the process logger. An unknown level falls back to info.
func (c LogConfig) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if c.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// LimitsConfig controls DoS protection caps on live entities.
type LimitsConfig struct {
	MaxUnits   int
	MaxBullets int
}

// ResourceLimits converts to the engine's limit type.
func (c LimitsConfig) ResourceLimits() game.ResourceLimits {
	return game.ResourceLimits{MaxUnits: c.MaxUnits, MaxBullets: c.MaxBullets}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server  ServerConfig
	Match   MatchConfig
	Storage StorageConfig
	Log     LogConfig
	Limits  LimitsConfig

	// ConfigFile is the file that was read, empty if none.
	ConfigFile string
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.adminToken":       "ADMIN_TOKEN",
	"server.corsOrigins":      "CORS_ORIGINS",
	"server.debugAddr":        "DEBUG_ADDR",
	"server.disableDebug":     "DISABLE_DEBUG_SERVER",
	"server.queryRate":        "QUERY_RATE",
	"server.commandRate":      "COMMAND_RATE",
	"server.trustProxy":       "TRUST_PROXY",
	"match.tickRate":          "TICK_RATE",
	"match.duration":          "MATCH_DURATION",
	"match.seed":              "MATCH_SEED",
	"match.autoplay":          "AUTOPLAY",
	"match.rulesPath":         "RULES_PATH",
	"match.gridCols":          "GRID_COLS",
	"match.gridRows":          "GRID_ROWS",
	"storage.eventLogPath":    "EVENT_LOG_PATH",
	"storage.historyEnabled":  "HISTORY_ENABLED",
	"storage.historyApp":      "HISTORY_APP",
	"storage.historyCapacity": "HISTORY_CAPACITY",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
	"limits.maxUnits":         "MAX_UNITS",
	"limits.maxBullets":       "MAX_BULLETS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.adminToken", "")
	v.SetDefault("server.debugAddr", "127.0.0.1:6060")
	v.SetDefault("server.disableDebug", false)
	v.SetDefault("server.queryRate", 20.0)
	v.SetDefault("server.commandRate", 5.0)
	v.SetDefault("server.trustProxy", false)

	v.SetDefault("match.tickRate", 30)
	v.SetDefault("match.duration", "")
	v.SetDefault("match.seed", 0)
	v.SetDefault("match.autoplay", false)
	v.SetDefault("match.rulesPath", "")
	v.SetDefault("match.gridCols", 0)
	v.SetDefault("match.gridRows", 0)

	v.SetDefault("storage.eventLogPath", "")
	v.SetDefault("storage.historyEnabled", true)
	v.SetDefault("storage.historyApp", "skirmish")
	v.SetDefault("storage.historyCapacity", 500)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("limits.maxUnits", game.DefaultLimits.MaxUnits)
	v.SetDefault("limits.maxBullets", game.DefaultLimits.MaxBullets)
}

// Load reads configuration from configDir (if it holds a skirmish.yaml) and
// the environment. A missing file is not an error; a malformed one is.
func Load(configDir string) (AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return AppConfig{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg AppConfig
	if configDir != "" {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return AppConfig{}, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			cfg.ConfigFile = v.ConfigFileUsed()
		}
	}

	duration, err := parseDuration(v.GetString("match.duration"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("match.duration: %w", err)
	}

	cfg.Server = ServerConfig{
		Port:        v.GetInt("server.port"),
		AdminToken:  v.GetString("server.adminToken"),
		CORSOrigins: splitList(v.GetStringSlice("server.corsOrigins")),
		DebugAddr:   v.GetString("server.debugAddr"),
		DebugServer: !v.GetBool("server.disableDebug"),
		QueryRate:   v.GetFloat64("server.queryRate"),
		CommandRate: v.GetFloat64("server.commandRate"),
		TrustProxy:  v.GetBool("server.trustProxy"),
	}
	cfg.Match = MatchConfig{
		TickRate:  v.GetInt("match.tickRate"),
		Duration:  duration,
		Seed:      v.GetInt64("match.seed"),
		Autoplay:  v.GetBool("match.autoplay"),
		RulesPath: v.GetString("match.rulesPath"),
		GridCols:  v.GetInt("match.gridCols"),
		GridRows:  v.GetInt("match.gridRows"),
	}
	cfg.Storage = StorageConfig{
		EventLogPath:    v.GetString("storage.eventLogPath"),
		HistoryEnabled:  v.GetBool("storage.historyEnabled"),
		HistoryApp:      v.GetString("storage.historyApp"),
		HistoryCapacity: v.GetInt("storage.historyCapacity"),
	}
	cfg.Log = LogConfig{
		Level:  strings.ToLower(v.GetString("log.level")),
		Format: strings.ToLower(v.GetString("log.format")),
	}
	cfg.Limits = LimitsConfig{
		MaxUnits:   v.GetInt("limits.maxUnits"),
		MaxBullets: v.GetInt("limits.maxBullets"),
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c AppConfig) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.QueryRate <= 0 || c.Server.CommandRate <= 0 {
		errs = append(errs, fmt.Errorf("server request rates must be positive"))
	}
	if c.Match.TickRate <= 0 || c.Match.TickRate > 240 {
		errs = append(errs, fmt.Errorf("match.tickRate %d out of range 1..240", c.Match.TickRate))
	}
	if c.Match.Duration < 0 {
		errs = append(errs, fmt.Errorf("match.duration must not be negative"))
	}
	if c.Match.GridCols < 0 || c.Match.GridRows < 0 {
		errs = append(errs, fmt.Errorf("grid size must not be negative"))
	}
	if c.Limits.MaxUnits <= 0 || c.Limits.MaxBullets <= 0 {
		errs = append(errs, fmt.Errorf("limits must be positive"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// parseDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// splitList flattens comma-separated entries (env values arrive as one string).
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
