package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/taxledger/internal/app"
	"github.com/dvloznov/taxledger/internal/config"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/oracle"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the flags shared by every subcommand.
type cli struct {
	out        io.Writer
	configPath string
	session    string
	timeout    time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "taxledger",
		Short:         "Ingest financial documents into a session ledger and query it",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&c.session, "session", "", "session id; a guest session is created when empty")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 2*time.Minute, "overall deadline")

	root.AddCommand(
		c.ingestCmd(),
		c.formCmd(),
		c.resultCmd(),
		c.analyzeCmd(),
		c.debugCmd(),
		c.deleteCmd(),
	)
	return root
}

// run builds the app, resolves the session and calls fn with both.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, session string) (interface{}, error)) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	log := logger.NewWithOptions(os.Stderr, logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{}, log)
	if err != nil {
		return err
	}
	defer shutdown(a, log)

	session, created, err := a.Service.EnsureSession(ctx, c.session)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(os.Stderr, "session: %s\n", session)
	}

	result, err := fn(ctx, a, session)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

func shutdown(a *app.App, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to release resources")
	}
}

func (c *cli) ingestCmd() *cobra.Command {
	var documentType string
	cmd := &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Extract line items from a text document and add them to the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args[0])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app.App, session string) (interface{}, error) {
				return a.Service.AnalyzeDocument(ctx, session, documentType, text)
			})
		},
	}
	cmd.Flags().StringVar(&documentType, "type", "", "document type, e.g. 소득 or 지출")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (c *cli) formCmd() *cobra.Command {
	var documentType string
	cmd := &cobra.Command{
		Use:   "form <field=amount>...",
		Short: "Add manually entered line items to the ledger",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, values, err := parsePairs(args)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app.App, session string) (interface{}, error) {
				return a.Service.SubmitForm(ctx, session, documentType, fields, values)
			})
		},
	}
	cmd.Flags().StringVar(&documentType, "type", "", "document type, e.g. 소득 or 지출")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (c *cli) resultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result",
		Short: "Show the categorized income and expense summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App, session string) (interface{}, error) {
				return a.Service.Result(ctx, session)
			})
		},
	}
}

func (c *cli) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "analyze <kind>",
		Short:     "Ask an advisory question over the ledger (" + strings.Join(oracle.AnalysisKindNames(), ", ") + ")",
		Args:      cobra.ExactArgs(1),
		ValidArgs: oracle.AnalysisKindNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := oracle.ParseAnalysisKind(args[0]); err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app.App, session string) (interface{}, error) {
				return a.Service.Analyze(ctx, session, args[0])
			})
		},
	}
}

func (c *cli) debugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "List raw ledger entries with their decryption outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App, session string) (interface{}, error) {
				return a.Service.Debug(ctx, session)
			})
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the session ledger and its cached answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app.App, session string) (interface{}, error) {
				if err := a.Service.DeleteSession(ctx, session); err != nil {
					return nil, err
				}
				return map[string]string{"deleted": session}, nil
			})
		},
	}
}

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// parsePairs splits field=amount arguments, keeping first-seen field order.
func parsePairs(args []string) ([]string, map[string]string, error) {
	fields := make([]string, 0, len(args))
	values := make(map[string]string, len(args))
	for _, arg := range args {
		field, amount, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, nil, fmt.Errorf("expected field=amount, got %q", arg)
		}
		if _, seen := values[field]; !seen {
			fields = append(fields, field)
		}
		values[field] = amount
	}
	return fields, values, nil
}
