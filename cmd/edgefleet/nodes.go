package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raycarroll/edgefleet/pkg/backend"
	"github.com/raycarroll/edgefleet/pkg/models"
)

func newNodesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Manage the nodes registered with the backend",
	}
	cmd.AddCommand(
		newNodesListCmd(opts),
		newNodesGetCmd(opts),
		newNodesRegisterCmd(opts),
		newNodesRemoveCmd(opts),
		newNodesWorkloadsCmd(opts),
	)
	return cmd
}

func (o *rootOptions) client(cmd *cobra.Command) (*backend.Client, error) {
	cfg, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	return backend.NewClient(cfg.Backend.Client())
}

func newNodesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			nodes, err := client.ListNodes(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range nodes {
				printNode(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func newNodesGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			n, err := client.GetNode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printNode(out, n)
			fmt.Fprintf(out, "  location %s, cpu %.1f%%, memory %.1f%%, latency %.1fms\n",
				n.Location, n.CPUUsage, n.MemoryUsage, n.NetworkLatency)
			return nil
		},
	}
}

func newNodesRegisterCmd(opts *rootOptions) *cobra.Command {
	var location, category string
	cmd := &cobra.Command{
		Use:   "register NAME",
		Short: "Register a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := models.ParseNodeCategory(category)
			if err != nil {
				return err
			}
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			n, err := client.CreateNode(cmd.Context(), backend.NodeCreate{Name: args[0], Location: location, Category: c})
			if err != nil {
				return err
			}
			printNode(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "where the node is installed")
	cmd.Flags().StringVar(&category, "type", string(models.CategoryGeneral), "node type (camera, sensor, general)")
	return cmd
}

func newNodesRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Deregister a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			if err := client.DeleteNode(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed node %s\n", args[0])
			return nil
		},
	}
}

func newNodesWorkloadsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workloads ID",
		Short: "List the workloads assigned to a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client(cmd)
			if err != nil {
				return err
			}
			ws, err := client.ListNodeWorkloads(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range ws {
				fmt.Fprintf(out, "  %-36s %-24s %-16s %s\n", w.ID, w.Name, w.Category, w.Status)
			}
			return nil
		},
	}
}

func printNode(out io.Writer, n models.Node) {
	fmt.Fprintf(out, "  %-36s %-24s %-8s %s\n", n.ID, n.Name, n.Category, n.Status)
}
