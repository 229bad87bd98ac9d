// Command bindle-server runs a standalone Bindle server over HTTP, backed by either the
// filesystem or embedded bbolt storage engine (spec §4.C). Flag and config wiring follows the
// teacher's own dependency set, reaching for spf13/cobra and spf13/viper the way the rest of this
// pack's CLI-shaped repositories do.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bindlehq/bindle/internal/config"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindle-server",
		Short: "Run a Bindle aggregate object storage server",
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a bindle-server config file")
	cmd.AddCommand(newServeCmd())
	return cmd
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}
