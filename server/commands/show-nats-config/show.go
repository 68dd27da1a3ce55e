package show_nats_config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gitlab.com/circuit-breaker/engine/common/setup"
)

// RootCmd prints the embedded NATS configuration.
var RootCmd = &cobra.Command{
	Use:   "show-nats-config",
	Short: "Outputs the NATS configuration used to create the engine's static JetStream objects",
	Long:  ``,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), setup.DefaultConfig())
	},
}
