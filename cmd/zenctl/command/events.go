package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"miszen/internal/dispatcher"
	"miszen/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Route sample events through a local dispatcher",
	Long: `events connects to zen-MCP, starts an in-process dispatcher with the
configured event mappings and submits a file_created and an error_detected
event. Each processing result is printed as it completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		logger := cliLogger()
		adapter, err := connect(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}
		defer adapter.Disconnect()

		file, _ := cmd.Flags().GetString("file")
		message, _ := cmd.Flags().GetString("error")
		evs := []events.Event{
			events.NewFileEvent(events.TypeFileCreated, file, nil),
			events.NewErrorEvent(message, "error", nil),
		}
		return runEventTest(ctx, adapter, cfg, evs, cmd.OutOrStdout(), logger)
	},
}

// runEventTest feeds evs to a fresh dispatcher and waits until each one has
// been processed or ctx ends.
func runEventTest(ctx context.Context, exec dispatcher.Executor, mappings dispatcher.MappingSource, evs []events.Event, out io.Writer, logger *slog.Logger) error {
	d := dispatcher.New(exec, mappings, dispatcher.Options{PollInterval: 100 * time.Millisecond, Logger: logger})

	results := make(chan dispatcher.ProcessingResult, len(evs))
	d.AddPostProcessor(func(r dispatcher.ProcessingResult) {
		results <- r
	})
	d.Start()
	defer d.Stop()

	queued := 0
	for _, ev := range evs {
		if d.Enqueue(ev) {
			queued++
		}
	}

	failed := 0
	for i := 0; i < queued; i++ {
		select {
		case r := <-results:
			fmt.Fprintf(out, "%s %s -> %v (%.2fs)\n", mark(r.Success), r.Event.Type, r.TriggeredCommands, r.ProcessingTime.Seconds())
			for _, res := range r.CommandResults {
				printResult(out, "  "+res.Command, res)
			}
			if !r.Success {
				failed++
			}
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for events: %w", ctx.Err())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d events failed", failed, queued)
	}
	fmt.Fprintf(out, "%d events processed\n", queued)
	return nil
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func init() {
	eventsCmd.Flags().String("file", "/tmp/zenctl_test.py", "file path used for the file_created event")
	eventsCmd.Flags().String("error", "Test error: division by zero", "message used for the error_detected event")
	rootCmd.AddCommand(eventsCmd)
}
