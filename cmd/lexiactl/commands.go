package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokligence/lexia-stream/internal/adapter/loopback"
	"github.com/tokligence/lexia-stream/internal/bootstrap"
	"github.com/tokligence/lexia-stream/internal/lexia"
	"github.com/tokligence/lexia-stream/internal/version"
)

var (
	streamChannel  string
	streamThread   string
	streamUUID     string
	streamURL      string
	streamDelay    time.Duration
	streamFinalize bool
)

var streamCmd = &cobra.Command{
	Use:   "stream [text]",
	Short: "Stream text word by word and complete the response",
	Long: `Stream publishes the words of the given text as delta messages, then a
completion carrying the full text. In dev mode the final channel state is
printed as JSON.

Examples:
  lexiactl stream --dev "the quick brown fox"
  lexiactl stream --channel c1 --url http://localhost:8000/api/responses "hi"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStream,
}

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>",
	Short: "Replay a scripted response from a YAML scenario",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

var initOpts bootstrap.InitOptions

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate config/setting.ini and environment overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if initOpts.Root == "" {
			initOpts.Root = configRoot
		}
		if err := bootstrap.Init(initOpts); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "lexia config initialised")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo())
	},
}

func init() {
	streamCmd.Flags().StringVar(&streamChannel, "channel", "", "Channel to publish on (defaults to the response uuid)")
	streamCmd.Flags().StringVar(&streamThread, "thread", "cli", "Thread id")
	streamCmd.Flags().StringVar(&streamUUID, "uuid", "", "Response uuid (generated when empty)")
	streamCmd.Flags().StringVar(&streamURL, "url", "", "Backend URL for the completion record")
	streamCmd.Flags().DurationVar(&streamDelay, "delay", 0, "Pause between chunks")
	streamCmd.Flags().BoolVar(&streamFinalize, "complete", true, "Send the completion after the last chunk")

	initCmd.Flags().StringVar(&initOpts.Root, "root", "", "Output directory (defaults to --config-root)")
	initCmd.Flags().StringVar(&initOpts.Environment, "env", "dev", "Environment name")
	initCmd.Flags().BoolVar(&initOpts.DevMode, "dev-mode", false, "Write dev_mode=true")
	initCmd.Flags().StringVar(&initOpts.CentrifugoURL, "centrifugo-url", "", "Centrifugo HTTP API URL")
	initCmd.Flags().StringVar(&initOpts.CentrifugoAPIKey, "centrifugo-api-key", "", "Centrifugo API key")
	initCmd.Flags().StringVar(&initOpts.HTTPAddress, "http-address", "", "Bind address for lexiad (default ':8088')")
	initCmd.Flags().StringVar(&initOpts.LedgerPath, "ledger-path", "", "Ledger sqlite path or postgres DSN")
	initCmd.Flags().StringVar(&initOpts.ConversationDSN, "conversation-dsn", "", "memory, sqlite://path or postgres DSN")
	initCmd.Flags().BoolVar(&initOpts.Force, "force", false, "Overwrite existing files")

	rootCmd.AddCommand(streamCmd, replayCmd, initCmd, versionCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	handler, _, err := newHandler(cmd)
	if err != nil {
		return err
	}
	text := strings.Join(args, " ")
	s := Scenario{Channel: streamChannel, ThreadID: streamThread, ResponseUUID: streamUUID, URL: streamURL}
	for _, chunk := range loopback.Chunks(text) {
		if streamDelay > 0 && len(s.Steps) > 0 {
			s.Steps = append(s.Steps, Step{Sleep: streamDelay})
		}
		s.Steps = append(s.Steps, Step{Delta: chunk})
	}
	if streamFinalize {
		s.Steps = append(s.Steps, Step{Complete: &CompleteStep{FullResponse: strings.Join(strings.Fields(text), " ")}})
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if err := Replay(cmd.Context(), s, handler); err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), handler, s)
}

func runReplay(cmd *cobra.Command, args []string) error {
	s, err := LoadScenario(args[0])
	if err != nil {
		return err
	}
	handler, _, err := newHandler(cmd)
	if err != nil {
		return err
	}
	if err := Replay(cmd.Context(), s, handler); err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), handler, s)
}

// printResult writes the dev channel state, or the publish summary when the
// messages went to Centrifugo.
func printResult(w io.Writer, handler *lexia.Handler, s Scenario) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if !handler.DevMode() {
		return enc.Encode(map[string]any{
			"channel":       s.Channel,
			"response_uuid": s.ResponseUUID,
			"steps":         len(s.Steps),
			"transport":     lexia.TransportCentrifugo,
		})
	}
	return enc.Encode(handler.Registry().GetOrCreate(s.Channel).Snapshot())
}
