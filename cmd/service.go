package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moduhost/workerd/internal/systemd"
)

// CreateServiceCmd creates the service command for controlling the deployed
// PHP application's systemd unit over D-Bus. Used by deploy tooling on hosts
// where workerd supervises an fpm-style service rather than child processes.
func CreateServiceCmd() *cobra.Command {
	var unit string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "service <status|start|stop|restart>",
		Short: "Control the application's systemd unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			mgr, err := systemd.NewManager(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to systemd: %w", err)
			}
			defer mgr.Close()

			switch args[0] {
			case "status":
				status, err := mgr.GetServiceStatus(ctx, unit)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", unit, status)
				return nil
			case "start":
				return mgr.StartService(ctx, unit)
			case "stop":
				return mgr.StopService(ctx, unit)
			case "restart":
				return mgr.RestartService(ctx, unit)
			default:
				return fmt.Errorf("unknown action %q", args[0])
			}
		},
	}

	cmd.Flags().StringVarP(&unit, "unit", "u", "php-worker.service", "Systemd unit name")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "D-Bus operation timeout")
	return cmd
}
