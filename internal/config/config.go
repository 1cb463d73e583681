package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/lexia.ini"
	envYAMLPattern   = "config/%s/lexia.yaml"

	// EnvDevMode selects the in-process transport when truthy.
	EnvDevMode = "LEXIA_DEV_MODE"

	DefaultHTTPAddress    = ":8088"
	DefaultBackendTimeout = 30 * time.Second
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for the daemon and CLI.
type Config struct {
	Environment string
	// DevMode routes stream messages to the in-process registry instead of Centrifugo.
	DevMode          bool
	CentrifugoURL    string
	CentrifugoAPIKey string
	HTTPAddress      string
	LogFile          string
	LogLevel         string
	// LedgerPath is a sqlite file path or a postgres:// DSN; empty disables the ledger.
	LedgerPath string
	// ConversationDSN is memory, sqlite://path or postgres://...; empty disables history.
	ConversationDSN string
	DefaultHeaders  map[string]string
	MetricsEnabled  bool
	BackendTimeout  time.Duration
	// DBMaxOpenConns caps the postgres pools of the ledger and conversation stores.
	DBMaxOpenConns int
	// SendRatePerSecond limits send_message per thread; zero disables it.
	SendRatePerSecond float64
	SendBurst         float64
	// HealthProbeCentrifugo makes the readiness check reach the relay URL.
	HealthProbeCentrifugo bool
}

// LoadConfig reads the current environment and layers setting.ini, the
// environment INI, the optional YAML overlay and process env, in that order.
func LoadConfig(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}
	yamlValues, err := parseYAML(filepath.Join(root, fmt.Sprintf(envYAMLPattern, s.Environment)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	merged := make(map[string]string)
	for _, layer := range []map[string]string{s.Defaults, envValues, yamlValues} {
		for k, v := range layer {
			merged[k] = v
		}
	}

	cfg := Config{
		Environment:      s.Environment,
		DevMode:          parseDevMode(firstNonEmpty(os.Getenv(EnvDevMode), merged["dev_mode"])),
		CentrifugoURL:    firstNonEmpty(os.Getenv("CENTRIFUGO_URL"), merged["centrifugo_url"]),
		CentrifugoAPIKey: firstNonEmpty(os.Getenv("CENTRIFUGO_API_KEY"), merged["centrifugo_api_key"]),
		HTTPAddress:      firstNonEmpty(os.Getenv("LEXIA_HTTP_ADDRESS"), merged["http_address"], DefaultHTTPAddress),
		LogFile:          firstNonEmpty(os.Getenv("LEXIA_LOG_FILE"), merged["log_file"]),
		LogLevel:         strings.ToLower(firstNonEmpty(os.Getenv("LEXIA_LOG_LEVEL"), merged["log_level"], "info")),
		LedgerPath:       firstNonEmpty(os.Getenv("LEXIA_LEDGER_PATH"), merged["ledger_path"]),
		ConversationDSN:  firstNonEmpty(os.Getenv("LEXIA_CONVERSATION_DSN"), merged["conversation_dsn"]),
		DefaultHeaders:   parseMap(firstNonEmpty(os.Getenv("LEXIA_DEFAULT_HEADERS"), merged["default_headers"])),
		MetricsEnabled:   parseOptionalBool(firstNonEmpty(os.Getenv("LEXIA_METRICS_ENABLED"), merged["metrics_enabled"]), true),
		BackendTimeout:   DefaultBackendTimeout,
		DBMaxOpenConns:   parseOptionalInt(firstNonEmpty(os.Getenv("LEXIA_DB_MAX_OPEN_CONNS"), merged["db_max_open_conns"]), 10),

		SendRatePerSecond:     parseOptionalFloat(firstNonEmpty(os.Getenv("LEXIA_SEND_RATE_PER_SECOND"), merged["send_rate_per_second"]), 0),
		SendBurst:             parseOptionalFloat(firstNonEmpty(os.Getenv("LEXIA_SEND_BURST"), merged["send_burst"]), 0),
		HealthProbeCentrifugo: parseOptionalBool(firstNonEmpty(os.Getenv("LEXIA_HEALTH_PROBE_CENTRIFUGO"), merged["health_probe_centrifugo"]), false),
	}
	if v := firstNonEmpty(os.Getenv("LEXIA_BACKEND_TIMEOUT"), merged["backend_timeout"]); v != "" {
		dur, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("invalid backend_timeout %q: %w", v, err)
		}
		if dur <= 0 {
			return Config{}, fmt.Errorf("backend_timeout must be positive, got %s", dur)
		}
		cfg.BackendTimeout = dur
	}
	return cfg, nil
}

// DevModeFromEnv reports whether LEXIA_DEV_MODE is true, 1 or yes in any case.
func DevModeFromEnv() bool {
	return parseDevMode(os.Getenv(EnvDevMode))
}

// FromEnv builds a Config from process environment alone, skipping config files.
func FromEnv() Config {
	cfg := Config{
		Environment:      defaultEnv,
		DevMode:          DevModeFromEnv(),
		CentrifugoURL:    os.Getenv("CENTRIFUGO_URL"),
		CentrifugoAPIKey: os.Getenv("CENTRIFUGO_API_KEY"),
		HTTPAddress:      firstNonEmpty(os.Getenv("LEXIA_HTTP_ADDRESS"), DefaultHTTPAddress),
		LogLevel:         strings.ToLower(firstNonEmpty(os.Getenv("LEXIA_LOG_LEVEL"), "info")),
		DefaultHeaders:   parseMap(os.Getenv("LEXIA_DEFAULT_HEADERS")),
		MetricsEnabled:   parseOptionalBool(os.Getenv("LEXIA_METRICS_ENABLED"), true),
		BackendTimeout:   DefaultBackendTimeout,
		DBMaxOpenConns:   parseOptionalInt(os.Getenv("LEXIA_DB_MAX_OPEN_CONNS"), 10),
	}
	if dur, err := time.ParseDuration(strings.TrimSpace(os.Getenv("LEXIA_BACKEND_TIMEOUT"))); err == nil && dur > 0 {
		cfg.BackendTimeout = dur
	}
	return cfg
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("LEXIA_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// parseYAML flattens a top-level YAML mapping into the same key/value shape
// the INI layers use. Nested mappings become comma-separated k=v pairs.
func parseYAML(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	values := make(map[string]string, len(doc))
	for k, v := range doc {
		key := strings.ToLower(strings.TrimSpace(k))
		switch typed := v.(type) {
		case nil:
			continue
		case map[string]any:
			pairs := make([]string, 0, len(typed))
			for hk, hv := range typed {
				pairs = append(pairs, fmt.Sprintf("%s=%v", hk, hv))
			}
			values[key] = strings.Join(pairs, ",")
		default:
			values[key] = fmt.Sprint(typed)
		}
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// parseDevMode is stricter than parseBool: only true, 1 and yes select dev
// mode, without trimming, so anything else falls back to production.
func parseDevMode(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(v string, fallback float64) float64 {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
