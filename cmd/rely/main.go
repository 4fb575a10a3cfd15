package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"rely/internal/config"
	"rely/internal/llm"
)

const defaultAskMaxTokens = 1024

var errUnsupportedProvider = errors.New("unsupported provider")

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "rely: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "rely",
		Short:         "rely wraps LLM provider calls in a rate-limit-aware retry policy",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newAskCmd(&configPath))
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newConfigCmd(&configPath))
	return cmd
}

// setupLogging installs a tinted slog handler as the process default so the
// retry engine's structured events reach stderr.
func setupLogging(level string) error {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	})
	slog.SetDefault(slog.New(handler))
	return nil
}

func newAskCmd(configPath *string) *cobra.Command {
	var model string
	var system string
	var maxTokens int

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt through the configured provider with retry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(*configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			provider, defaultModel, err := buildProviderFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("build provider: %w", err)
			}
			if strings.TrimSpace(model) == "" {
				model = defaultModel
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			resp, err := provider.Complete(ctx, &llm.Request{
				Model:     model,
				System:    system,
				Messages:  []llm.Message{{Role: llm.RoleUser, Content: strings.Join(args, " ")}},
				MaxTokens: maxTokens,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			slog.Debug("completion finished",
				"stop_reason", resp.StopReason,
				"input_tokens", resp.Usage.InputTokens,
				"output_tokens", resp.Usage.OutputTokens,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", defaultAskMaxTokens, "Completion token budget")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [error-json-or-message]",
		Short: "Classify a provider error payload as retryable or fatal",
		Long: `Classify runs the retry decision engine on an error payload: a JSON
error body as returned by an LLM provider, or a bare error message.
Pass "-" to read the payload from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := args[0]
			if payload == "-" {
				data, err := readAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				payload = data
			}

			verdict := classifyPayload(payload)
			fmt.Fprintln(cmd.OutOrStdout(), renderVerdict(verdict))
			if !verdict.Retryable {
				os.Exit(1)
			}
			return nil
		},
	}
	return cmd
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect rely configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the config file JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := config.Schema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(*configPath)})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderConfig(cfg))
			return nil
		},
	})

	return cmd
}

func buildProviderFromConfig(cfg config.Config) (llm.Provider, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DefaultProvider)) {
	case "", "anthropic":
		settings, err := cfg.ProviderSettings("anthropic")
		if err != nil {
			return nil, "", fmt.Errorf("resolve anthropic settings: %w", err)
		}
		if strings.TrimSpace(settings.APIKey) == "" {
			return nil, "", llm.ErrMissingAPIKey
		}

		provider := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Version: settings.Version,
			Retry:   settings.Retry,
			Logger:  slog.Default(),
		})
		return provider, settings.Model, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", errUnsupportedProvider, cfg.DefaultProvider)
	}
}
