package trace

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"gitlab.com/circuit-breaker/engine/server/flags"
	"gitlab.com/circuit-breaker/engine/server/tools/tracer"
)

// RootCmd prints workflow events as they are published.
var RootCmd = &cobra.Command{
	Use:   "trace",
	Short: "Prints a line for every workflow event and placement notification until interrupted",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		con, err := nats.Connect(flags.Value.Server)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", flags.Value.Server, err)
		}
		defer con.Close()
		tr, err := tracer.Trace(con, flags.Value.Workflow, cmd.OutOrStdout())
		if err != nil {
			return fmt.Errorf("start trace: %w", err)
		}
		var dbg *tracer.OpenDebug
		if flags.Value.Debug != "" {
			if dbg, err = tracer.Debug(con, flags.Value.Workflow, flags.Value.Debug); err != nil {
				_ = tr.Close()
				return fmt.Errorf("start debug capture: %w", err)
			}
		}
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
		case <-cmd.Context().Done():
		}
		if dbg != nil {
			if err := dbg.Close(); err != nil {
				return fmt.Errorf("stop debug capture: %w", err)
			}
		}
		if err := tr.Close(); err != nil {
			return fmt.Errorf("stop trace: %w", err)
		}
		return nil
	},
}

func init() {
	RootCmd.Flags().StringVarP(&flags.Value.Server, flags.Server, flags.ServerShort, nats.DefaultURL, "sets the address of a NATS server")
	RootCmd.Flags().StringVar(&flags.Value.Workflow, flags.Workflow, "", "only trace this workflow")
	RootCmd.Flags().StringVar(&flags.Value.Debug, flags.Debug, "", "also write every event as a line of JSON to this file")
}
