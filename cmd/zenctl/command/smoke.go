package command

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"miszen/internal/zen"
)

// smokeClient is the part of *zen.Adapter the smoke test exercises.
type smokeClient interface {
	Version(ctx context.Context) zen.CommandResult
	ListModels(ctx context.Context) zen.CommandResult
	Chat(ctx context.Context, prompt string, extra map[string]any) zen.CommandResult
}

const smokePrompt = "Hello! This is a connection test from zenctl. Please respond briefly."

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Check that the zen-MCP server answers basic commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		adapter, err := connect(ctx, cfg, cliLogger())
		if err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}
		defer adapter.Disconnect()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Connected to %s:%d\n", cfg.MCPHost, cfg.MCPPort)
		return runSmoke(ctx, adapter, out)
	},
}

// runSmoke runs version, listmodels and a short chat. Every step runs even
// after a failure; the error lists how many failed.
func runSmoke(ctx context.Context, c smokeClient, out io.Writer) error {
	steps := []struct {
		label string
		run   func() zen.CommandResult
	}{
		{"version", func() zen.CommandResult { return c.Version(ctx) }},
		{"listmodels", func() zen.CommandResult { return c.ListModels(ctx) }},
		{"chat", func() zen.CommandResult {
			return c.Chat(ctx, smokePrompt, map[string]any{"temperature": 0.5})
		}},
	}

	failed := 0
	for _, step := range steps {
		res := step.run()
		printResult(out, step.label, res)
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d smoke checks failed", failed, len(steps))
	}
	fmt.Fprintln(out, "All smoke checks passed")
	return nil
}

func init() {
	rootCmd.AddCommand(smokeCmd)
}
