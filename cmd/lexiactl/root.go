package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tokligence/lexia-stream/internal/config"
	"github.com/tokligence/lexia-stream/internal/lexia"
)

var (
	configRoot string
	devFlag    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "lexiactl",
	Short: "Drive Lexia response streams from the command line",
	Long: `lexiactl publishes Lexia stream messages through the same handler the
agent daemon uses, either to Centrifugo or to the in-process dev registry.

Examples:
  lexiactl init --env dev --dev-mode
  lexiactl stream --dev --channel demo "hello from the shell"
  lexiactl replay --dev scenarios/basic.yaml
  lexiactl version`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configRoot, "config-root", ".", "Directory containing config/setting.ini")
	rootCmd.PersistentFlags().BoolVar(&devFlag, "dev", false, "Force the in-process dev transport (overrides LEXIA_DEV_MODE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log transport and backend activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lexiactl:", err)
		os.Exit(1)
	}
}

// newHandler builds a handler from the layered config. --dev wins over the
// configured mode only when it was given explicitly.
func newHandler(cmd *cobra.Command) (*lexia.Handler, config.Config, error) {
	cfg, err := config.LoadConfig(configRoot)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logOut := io.Discard
	if verbose || strings.EqualFold(cfg.LogLevel, "debug") {
		logOut = cmd.ErrOrStderr()
	}
	opts := []lexia.Option{
		lexia.WithLogger(log.New(logOut, "[lexiactl] ", log.LstdFlags|log.Lmicroseconds)),
		lexia.WithEcho(cmd.ErrOrStderr()),
	}
	if cmd.Flags().Changed("dev") {
		opts = append(opts, lexia.WithDevMode(devFlag))
	}
	return lexia.New(cfg, opts...), cfg, nil
}
