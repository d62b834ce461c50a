// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	sportsrec "github.com/EvanMerlock/sports-record"
	"github.com/EvanMerlock/sports-record/pkg/config"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root sportsrec command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:           "sportsrec",
		Short:         "Multi camera sports play recorder",
		Long:          "sportsrec records every play of a game from every connected camera node.\nRun the server on the recording machine and a client on every camera.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnv(envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to a .env file")

	cmd.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newInspectCmd(),
		newInitCmd(),
	)
	return cmd
}

// newServerCmd creates the "sportsrec server" subcommand.
func newServerCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the recorder",
		Long:  "Accept camera nodes, record plays and read START, STOP, CLEAN and REMOVE from stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path = config.Path(path, config.EnvServerConfig, config.DefaultServerConfig)
			c, err := config.LoadServer(path)
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return sportsrec.RunServer(cmd.Context(), *c, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "",
		"server config path, defaults to $"+config.EnvServerConfig+" or "+config.DefaultServerConfig)
	return cmd
}

// newClientCmd creates the "sportsrec client" subcommand.
func newClientCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run a camera node",
		Long:  "Capture the camera and stream it to the recorder on instruction.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path = config.Path(path, config.EnvClientConfig, config.DefaultClientConfig)
			c, err := config.LoadClient(path)
			if err != nil {
				return fmt.Errorf("client: %w", err)
			}
			return sportsrec.RunClient(cmd.Context(), *c)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "",
		"client config path, defaults to $"+config.EnvClientConfig+" or "+config.DefaultClientConfig)
	return cmd
}

// newInitCmd creates the "sportsrec init" subcommand.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "init <server|client> [path]",
		Short:     "Write a default config file",
		Long:      "Write the default server or client config. The format follows the\nextension, .toml or .yaml. Existing files are not overwritten.",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"server", "client"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			var c any
			switch args[0] {
			case "server":
				path, c = config.DefaultServerConfig, config.DefaultServer()
			case "client":
				path, c = config.DefaultClientConfig, config.DefaultClient()
			default:
				return fmt.Errorf("init: unknown config %q", args[0])
			}
			if len(args) == 2 {
				path = args[1]
			}
			if err := config.Write(path, c); err != nil {
				if os.IsExist(err) {
					return fmt.Errorf("init: %v already exists", path)
				}
				return fmt.Errorf("init: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %v\n", path)
			return nil
		},
	}
}
