package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root             string
	Environment      string
	DevMode          bool
	CentrifugoURL    string
	CentrifugoAPIKey string
	HTTPAddress      string
	LedgerPath       string
	ConversationDSN  string
	Force            bool
}

// Init scaffolds config/setting.ini and config/<env>/lexia.ini.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	envPath := filepath.Join(opts.Root, "config", opts.Environment, "lexia.ini")
	if err := writeFile(envPath, lexiaTemplate(opts), opts.Force); err != nil {
		return err
	}
	return nil
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = ":8088"
	}
	if strings.TrimSpace(opts.LedgerPath) == "" {
		opts.LedgerPath = DefaultLedgerPath(opts.Environment)
	}
	if strings.TrimSpace(opts.ConversationDSN) == "" {
		opts.ConversationDSN = "memory"
	}
}

// DefaultLedgerPath is the sqlite ledger location written by Init.
func DefaultLedgerPath(env string) string {
	return filepath.Join("data", env, "lexia-ledger.db")
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Lexia stream settings
environment=%s
log_level=info
metrics_enabled=true
`, opts.Environment)
}

func lexiaTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Environment specific overrides for %s
# dev_mode=true keeps stream messages in process; LEXIA_DEV_MODE overrides it.
dev_mode=%t
centrifugo_url=%s
centrifugo_api_key=%s
http_address=%s
# Dash '-' disables file output.
log_file=logs/lexiad.log
backend_timeout=30s
ledger_path=%s
# memory, sqlite://path or postgres://...
conversation_dsn=%s
`, opts.Environment, opts.DevMode, opts.CentrifugoURL, opts.CentrifugoAPIKey, opts.HTTPAddress, opts.LedgerPath, opts.ConversationDSN)
}

// Validate checks options without touching the filesystem.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	if strings.ContainsAny(opts.Environment, `/\`) {
		return errors.New("environment must not contain path separators")
	}
	if !opts.DevMode && strings.TrimSpace(opts.CentrifugoURL) != "" &&
		!strings.HasPrefix(opts.CentrifugoURL, "http://") && !strings.HasPrefix(opts.CentrifugoURL, "https://") {
		return errors.New("centrifugo url must start with http:// or https://")
	}
	return nil
}
