package command

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"miszen/internal/chat"
	"miszen/internal/mis"
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send a prompt to zen chat with session and MIS context",
	Args:  cobra.MinimumNArgs(1),
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

		var opts chat.Options
		opts.Model, _ = cmd.Flags().GetString("model")
		opts.Temperature, _ = cmd.Flags().GetFloat64("temperature")
		opts.SkipMemory, _ = cmd.Flags().GetBool("no-memory")
		session, _ := cmd.Flags().GetString("session")

		integration := chat.New(adapter, mis.NewClient(mis.ConfigFrom(cfg, logger)), logger)
		return runChat(ctx, integration, session, strings.Join(args, " "), opts, cmd.OutOrStdout())
	},
}

// runChat sends one prompt inside a session and ends the session afterwards.
func runChat(ctx context.Context, in *chat.Integration, session, prompt string, opts chat.Options, out io.Writer) error {
	id, err := in.StartSession(ctx, session)
	if err != nil {
		// the prompt is still sent, only turn recording is lost
		fmt.Fprintf(out, "! session not recorded in MIS: %v\n", err)
	}

	res := in.ChatWithContext(ctx, prompt, opts)
	if _, err := in.EndSession(ctx); err != nil {
		fmt.Fprintf(out, "! session summary not stored: %v\n", err)
	}

	if !res.Success {
		return fmt.Errorf("chat failed: %s", res.Error)
	}
	if id != "" {
		fmt.Fprintf(out, "session: %s\n", id)
	}
	fmt.Fprintln(out, string(res.Result))
	return nil
}

func init() {
	chatCmd.Flags().String("session", "", "session id (generated when empty)")
	chatCmd.Flags().String("model", "", "model override")
	chatCmd.Flags().Float64("temperature", 0, "sampling temperature (default 0.7)")
	chatCmd.Flags().Bool("no-memory", false, "skip MIS memory and knowledge search")
	rootCmd.AddCommand(chatCmd)
}
