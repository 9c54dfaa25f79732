package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rflorenc/flowdeck/internal/health"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/settings"
)

var (
	sweepInstance string
	sweepFlows    []string
	sweepJSON     bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Check the health of every flow side on one instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep(cmd.Context())
	},
}

func registerSweepCommand(root *cobra.Command) {
	root.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVarP(&sweepInstance, "instance", "i", "", "Instance ID or name")
	sweepCmd.Flags().StringSliceVarP(&sweepFlows, "flow", "f", nil, "Restrict the sweep to these flow IDs (repeatable)")
	sweepCmd.Flags().BoolVar(&sweepJSON, "json", false, "Print the result as JSON")
	sweepCmd.MarkFlagRequired("instance")
}

func runSweep(ctx context.Context) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	inst, err := rt.instance(sweepInstance)
	if err != nil {
		return err
	}
	flows, err := rt.settings.ListFlows(ctx)
	if err != nil {
		return fmt.Errorf("listing flows: %w", err)
	}
	flows, err = settings.SelectFlows(flows, sweepFlows)
	if err != nil {
		return err
	}

	progress := func(line string) { fmt.Fprintln(os.Stderr, line) }
	if sweepJSON {
		progress = nil
	} else {
		fmt.Printf("□ Sweeping %s (%s): %d flows\n", inst.Name, inst.URL(), len(flows))
	}

	res, err := rt.sweeper().Sweep(ctx, inst.ID, flows, progress)
	if res != nil {
		if sweepJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(map[string]interface{}{
				"instance_id": res.InstanceID,
				"entries":     res.Ordered(),
				"flows":       res.FlowStates(),
			}); encErr != nil {
				return encErr
			}
		} else {
			printSweep(res)
		}
	}
	return err
}

func printSweep(res *health.Result) {
	fmt.Println("\nFlow sides:")
	deployed := 0
	entries := res.Ordered()
	for _, e := range entries {
		if e.Deployed() {
			deployed++
		}
		line := fmt.Sprintf("  %-24s %-12s %-10s %s", e.FlowName, e.Side, e.State, e.Outcome)
		if e.Path != "" {
			line += "  " + e.Path
		}
		if len(e.Reasons) > 0 {
			line += "  (" + strings.Join(e.Reasons, ", ") + ")"
		}
		fmt.Println(line)
		if e.Error != "" {
			fmt.Printf("      %s\n", e.Error)
		}
	}

	states := res.FlowStates()
	healthy := 0
	for _, st := range states {
		if st == models.HealthHealthy {
			healthy++
		}
	}
	fmt.Printf("\n✓ %d of %d flow sides deployed, %d of %d flows healthy\n", deployed, len(entries), healthy, len(states))
}
