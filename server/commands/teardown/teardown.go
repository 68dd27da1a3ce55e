package teardown

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"gitlab.com/circuit-breaker/engine/server/flags"
	"gitlab.com/circuit-breaker/engine/server/teardown"
)

// RootCmd removes every JetStream object owned by the engine.
var RootCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Deletes every workflow stream and engine bucket from a NATS server",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		con, err := nats.Connect(flags.Value.Server)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", flags.Value.Server, err)
		}
		defer con.Close()
		js, err := jetstream.New(con)
		if err != nil {
			return fmt.Errorf("jetstream: %w", err)
		}
		if err := teardown.Teardown(cmd.Context(), js, cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("teardown: %w", err)
		}
		return nil
	},
}

func init() {
	RootCmd.Flags().StringVarP(&flags.Value.Server, flags.Server, flags.ServerShort, nats.DefaultURL, "sets the address of a NATS server")
}
