package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/devmesh"
	"github.com/hupe1980/devmesh/config"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "devmesh",
		Short:        "Multi-agent development mesh",
		Version:      devmesh.Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./devmesh.yaml or $HOME/.devmesh/devmesh.yaml)")

	load := func() (*config.Config, error) { return config.Load(cfgPath) }

	root.AddCommand(serveCmd(load))
	root.AddCommand(orchestrateCmd(load))
	root.AddCommand(executeCmd(load))
	root.AddCommand(configCmd(load))
	return root
}

type loader func() (*config.Config, error)
