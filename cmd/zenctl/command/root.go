package command

// root.go defines the zenctl root command and the flags shared by every
// subcommand. Defaults come from the same environment as the service.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"miszen/internal/config"
	"miszen/internal/zen"
)

var (
	host    string
	port    int
	timeout time.Duration
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "zenctl",
	Short: "zenctl - zen-MCP connection tester",
	Long: `zenctl talks to a zen-MCP server the same way the miszen service does.
Use it to check that the server is reachable and that events are routed to
the expected commands:
- smoke:  run version, listmodels and chat
- events: push sample file and error events through a local dispatcher
- chat:   send a prompt with MIS context

Connection settings default to MCP_HOST and MCP_PORT.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "zen-MCP host (default MCP_HOST)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "zen-MCP port (default MCP_PORT)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the command")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log protocol and adapter activity")
}

// loadConfig reads the service configuration and applies the flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if host != "" {
		cfg.MCPHost = host
	}
	if port != 0 {
		cfg.MCPPort = port
	}
	return cfg, nil
}

func cliLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// connect builds an adapter from cfg and connects it.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*zen.Adapter, error) {
	adapter := zen.NewAdapter(zen.TCPDialer(cfg.ProtocolOptions(logger)), cfg.AdapterOptions(logger))
	if err := adapter.Connect(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

// printResult writes a one-line summary of res.
func printResult(w io.Writer, label string, res zen.CommandResult) {
	if res.Success {
		fmt.Fprintf(w, "✓ %s (%.2fs)\n", label, res.ExecutionTime.Seconds())
		return
	}
	fmt.Fprintf(w, "✗ %s: %s\n", label, res.Error)
}
