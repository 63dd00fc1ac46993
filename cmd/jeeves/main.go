package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/jeeves/pkg/chat"
	"github.com/go-go-golems/jeeves/pkg/config"
	"github.com/go-go-golems/jeeves/pkg/logging"
	"github.com/go-go-golems/jeeves/pkg/planner"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "jeeves",
	Short: "jeeves is the plan-parsing and chat-persistence core of the assistant",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(logLevel, logFormat)
	},
}

var parsePlanCmd = &cobra.Command{
	Use:   "parse-plan [file]",
	Short: "Parse an LLM completion into a plan, applying recovery strategies",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw []byte
		var err error
		if len(args) == 1 && args[0] != "-" {
			raw, err = os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "read plan file")
			}
		} else {
			raw, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return errors.Wrap(err, "read stdin")
			}
		}

		parsed, err := planner.Parse(string(raw))
		if err != nil {
			return errors.Wrap(err, "parse plan")
		}
		if err := planner.ValidateStructure(parsed); err != nil {
			return errors.Wrap(err, "validate plan")
		}

		out, err := json.MarshalIndent(parsed, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func newHistoryCmd() *cobra.Command {
	var sessionID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent chat messages for a session from the durable store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			sink, err := openSink(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := sink.Close(); err != nil {
					log.Warn().Err(err).Msg("closing sink failed")
				}
			}()

			msgs, err := sink.FetchRecent(ctx, sessionID, limit)
			if err != nil {
				return errors.Wrap(err, "fetch history")
			}
			for _, msg := range msgs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %s\n",
					msg.CreatedAt.Format(time.RFC3339), msg.Role, msg.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", chat.DefaultSessionID, "session to read")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of messages")
	return cmd
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the configured storage backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		sink, err := openSink(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()

		out, err := json.Marshal(sink.Health(ctx))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func openSink(ctx context.Context) (chat.Sink, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg.OpenSink(ctx)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")

	rootCmd.AddCommand(parsePlanCmd, newHistoryCmd(), healthCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
