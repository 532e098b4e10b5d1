package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/moduhost/workerd/internal/signalfile"
)

// CreateSignalCmd creates the signal command with its send/show/clear
// subcommands. Deploy tooling uses these to talk to running workers without
// going through the HTTP API.
func CreateSignalCmd() *cobra.Command {
	var signalPath string

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Manage the worker deploy signal file",
		Long: `Write, inspect or clear the file-based deploy signal consumed by running workers. ` +
			`Each written signal is handled by at most one worker on its next request cycle.`,
	}
	cmd.PersistentFlags().StringVarP(&signalPath, "path", "f", signalfile.DefaultFileName, "Signal file path")

	var modules []string
	var reason string

	sendCmd := &cobra.Command{
		Use:   "send <restart|swap|terminate>",
		Short: "Write a deploy signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sig, err := signalfile.Send(signalPath, signalfile.Action(args[0]), modules, reason)
			if err != nil {
				return err
			}
			fmt.Printf("Signal %s written: %s\n", sig.ID, sig.Action)
			return nil
		},
	}
	sendCmd.Flags().StringSliceVarP(&modules, "module", "m", nil, "Target module codes (swap only)")
	sendCmd.Flags().StringVarP(&reason, "reason", "r", "", "Free-text reason recorded with the signal")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the pending signal, if any",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			sig := signalfile.Check(signalPath)
			if sig == nil {
				fmt.Println("No pending signal")
				return nil
			}
			fmt.Printf("ID:        %s\n", sig.ID)
			fmt.Printf("Action:    %s\n", sig.Action)
			fmt.Printf("Written:   %s (%s ago)\n",
				time.Unix(sig.Timestamp, 0).Format(time.RFC3339), sig.Age().Round(time.Second))
			if len(sig.Modules) > 0 {
				fmt.Printf("Modules:   %v\n", sig.Modules)
			}
			if sig.Reason != "" {
				fmt.Printf("Reason:    %s\n", sig.Reason)
			}
			if sig.IsStale(signalfile.DefaultTTL) {
				fmt.Println("Status:    stale, will be discarded")
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the signal file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := signalfile.Clear(signalPath); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to clear signal: %v\n", err)
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.AddCommand(sendCmd, showCmd, clearCmd)
	return cmd
}
