package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gitlab.com/circuit-breaker/engine/common/logx"
	show_nats_config "gitlab.com/circuit-breaker/engine/server/commands/show-nats-config"
	"gitlab.com/circuit-breaker/engine/server/commands/teardown"
	"gitlab.com/circuit-breaker/engine/server/commands/trace"
	"gitlab.com/circuit-breaker/engine/server/config"
	"gitlab.com/circuit-breaker/engine/server/flags"
	"gitlab.com/circuit-breaker/engine/server/server"
	"gitlab.com/circuit-breaker/engine/server/server/option"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Circuit Breaker workflow engine",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.GetEnvironment()
		if err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		lev, addSource := cfg.Level()
		logx.SetDefault(cfg.LogHandler, lev, addSource, "circuit-breaker")

		opts := cfg.ServerOptions()
		if flags.Value.NatsConfig != "" {
			b, err := os.ReadFile(flags.Value.NatsConfig)
			if err != nil {
				return fmt.Errorf("read nats configuration file: %w", err)
			}
			opts = append(opts, option.WithNatsConfig(string(b)))
		}
		svr := server.New(opts...)
		if err := svr.Listen(); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flag appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	RootCmd.AddCommand(show_nats_config.RootCmd)
	RootCmd.AddCommand(teardown.RootCmd)
	RootCmd.AddCommand(trace.RootCmd)
	RootCmd.Flags().StringVar(&flags.Value.NatsConfig, flags.NatsConfig, "", "provides a path to a nats configuration file.  The current config file can be obtained using 'show-nats-config'")
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
