// Package app holds the wsrpc command line: a demo server and a client that issues calls
// against any server.
package app

import (
	"github.com/nuclio/errors"
	"github.com/spf13/cobra"

	"wsrpc/logger"
)

type RootCommandeer struct {
	cmd        *cobra.Command
	configPath string
	verbose    bool
}

func NewRootCommandeer() *RootCommandeer {
	commandeer := &RootCommandeer{}

	cmd := &cobra.Command{
		Use:          "wsrpc [command]",
		Short:        "RPC over websocket",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&commandeer.configPath, "config", "c", "", "Path to a configuration file (json / yaml / toml)")
	cmd.PersistentFlags().BoolVarP(&commandeer.verbose, "verbose", "v", false, "Verbose output")

	cmd.AddCommand(
		newServeCommandeer(commandeer).cmd,
		newCallCommandeer(commandeer).cmd,
	)

	commandeer.cmd = cmd
	return commandeer
}

// Execute uses os.Args to execute the command
func (rc *RootCommandeer) Execute() error {
	return rc.cmd.Execute()
}

// GetCmd returns the underlying cobra command
func (rc *RootCommandeer) GetCmd() *cobra.Command {
	return rc.cmd
}

func (rc *RootCommandeer) initLogger(config *logger.Config) error {
	if rc.verbose {
		config.Level = "debug"
	}
	if err := logger.Init(config); err != nil {
		return errors.Wrap(err, "Failed to create logger")
	}
	return nil
}
