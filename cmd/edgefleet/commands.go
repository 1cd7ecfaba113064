package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raycarroll/edgefleet/pkg/config"
	"github.com/raycarroll/edgefleet/pkg/logger"
)

type rootOptions struct {
	configPath  string
	logLevel    string
	streamURL   string
	backendURL  string
	listen      string
	virtualNode bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "edgefleet",
		Short:         "Real-time state engine for an edge compute fleet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.bind(root.PersistentFlags())
	root.AddCommand(newRunCmd(opts), newDemoCmd(opts), newNodesCmd(opts), newVersionCmd())
	return root
}

func (o *rootOptions) bind(f *pflag.FlagSet) {
	f.StringVar(&o.configPath, "config", "", "path to a YAML config file")
	f.StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&o.streamURL, "stream-url", "", "event stream WebSocket URL")
	f.StringVar(&o.backendURL, "backend-url", "", "CRUD backend base URL")
}

// load reads the config file and environment, then applies flags that were
// set explicitly on cmd.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("stream-url") {
		cfg.Stream.URL = o.streamURL
	}
	if flags.Changed("backend-url") {
		cfg.Backend.URL = o.backendURL
	}
	if flags.Lookup("listen") != nil && flags.Changed("listen") {
		cfg.API.Listen = o.listen
	}
	if flags.Lookup("virtual-node") != nil && flags.Changed("virtual-node") {
		cfg.VirtualNode.Enabled = o.virtualNode
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	logger.SetLevelFromString(cfg.LogLevel)
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the edgefleet version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "edgefleet", version)
		},
	}
}
