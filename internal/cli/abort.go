package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newAbortCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Signal, inspect, or clear cooperative cancellation",
	}
	cmd.AddCommand(
		newAbortSignalCommand(v),
		newAbortStatusCommand(v),
		newAbortClearCommand(v),
	)
	return cmd
}

func newAbortSignalCommand(v *viper.Viper) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Create the abort marker so running instances stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			monitor := newMonitor(cfg)
			if err := monitor.Signal(reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "abort signaled: %s\n", monitor.Reason())
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "human-readable abort reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newAbortStatusCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether an abort is currently signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			monitor := newMonitor(cfg)
			if monitor.IsAborted() {
				fmt.Fprintf(cmd.OutOrStdout(), "aborted: %s\n", monitor.Reason())
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "no abort signaled")
			}
			return nil
		},
	}
}

func newAbortClearCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the abort marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := newMonitor(cfg).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "abort marker cleared")
			return nil
		},
	}
}
