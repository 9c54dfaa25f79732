package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/placement"
	"github.com/rflorenc/flowdeck/internal/settings"
)

var (
	resolveFlow   string
	resolveSide   string
	resolveLookup bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve-path",
	Short: "Show the instance and path a flow side resolves to",
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolvePath(cmd.Context())
	},
}

func registerResolveCommand(root *cobra.Command) {
	root.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVarP(&resolveFlow, "flow", "f", "", "Flow ID")
	resolveCmd.Flags().StringVarP(&resolveSide, "side", "s", "", "Side to resolve (source, destination); both when empty")
	resolveCmd.Flags().BoolVar(&resolveLookup, "lookup", false, "Also look the path up in the instance's topology")
	resolveCmd.MarkFlagRequired("flow")
}

func resolvePath(ctx context.Context) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	flow, err := settings.FindFlow(ctx, rt.settings, resolveFlow)
	if err != nil {
		return err
	}
	sides := models.Sides
	if resolveSide != "" {
		side, err := models.ParseSide(resolveSide)
		if err != nil {
			return err
		}
		sides = []models.Side{side}
	}

	locator := rt.deployDeps().Locator
	for _, side := range sides {
		target, err := locator.Locate(ctx, flow, side)
		if err != nil {
			fmt.Printf("  %-12s ✗ %v\n", side, err)
			continue
		}
		fmt.Printf("  %-12s %s: %s\n", side, target.Instance.Name, target.Path)
		if !resolveLookup {
			continue
		}
		units, err := rt.platforms.FetchTopology(ctx, target.Instance.ID)
		if err != nil {
			fmt.Printf("  %-12s ✗ topology: %v\n", "", err)
			continue
		}
		table := placement.NewPathTable(units)
		switch id, ok := table.Lookup(target.Path); {
		case ok:
			fmt.Printf("  %-12s ✓ deployed as %s\n", "", id)
		case table.Ambiguous(target.Path):
			fmt.Printf("  %-12s ✗ more than one unit at this path\n", "")
		default:
			fmt.Printf("  %-12s ✗ not deployed\n", "")
		}
	}
	return nil
}
