package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rflorenc/flowdeck/internal/deploy"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/settings"
)

var (
	deployFlows    []string
	deploySide     string
	deployInstance string
	deployVersion  string
	deployRegistry string
	deployBucket   string
	deployDecision string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a flow version, asking how to resolve each conflict",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDeploy(cmd.Context())
	},
}

func registerDeployCommand(root *cobra.Command) {
	root.AddCommand(deployCmd)

	deployCmd.Flags().StringSliceVarP(&deployFlows, "flow", "f", nil, "Flow IDs to deploy (repeatable)")
	deployCmd.Flags().StringVarP(&deploySide, "side", "s", "", "Side to deploy (source, destination); both when empty")
	deployCmd.Flags().StringVarP(&deployInstance, "instance", "i", "", "Only deploy sides that resolve to this instance ID; other sides are skipped")
	deployCmd.Flags().StringVar(&deployVersion, "version", "", "Flow definition version to deploy")
	deployCmd.Flags().StringVar(&deployRegistry, "registry", "", "Registry client ID holding the flow definition")
	deployCmd.Flags().StringVar(&deployBucket, "bucket", "", "Registry bucket ID holding the flow definition")
	deployCmd.Flags().StringVar(&deployDecision, "on-conflict", "", "Answer every conflict with this decision (skip, delete, update_version) instead of prompting")
	deployCmd.MarkFlagRequired("flow")
	deployCmd.MarkFlagRequired("version")
}

func runDeploy(ctx context.Context) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	sides := models.Sides
	if deploySide != "" {
		side, err := models.ParseSide(deploySide)
		if err != nil {
			return err
		}
		sides = []models.Side{side}
	}

	var flows []*models.LogicalFlow
	for _, id := range deployFlows {
		flow, err := settings.FindFlow(ctx, rt.settings, id)
		if err != nil {
			return err
		}
		flows = append(flows, flow)
	}
	ref := models.FlowRef{
		RegistryID: deployRegistry,
		BucketID:   deployBucket,
		Version:    deployVersion,
	}
	reqs, skipped := planDeploy(ctx, rt.deployDeps().Locator, flows, sides, deployInstance, ref)
	for _, line := range skipped {
		fmt.Println(line)
	}
	if len(reqs) == 0 {
		fmt.Println("✓ Nothing to deploy")
		return nil
	}

	decide := promptDecision(os.Stdin, os.Stdout)
	if deployDecision != "" {
		d, err := deploy.ParseDecision(deployDecision)
		if err != nil {
			return err
		}
		decide = func(context.Context, deploy.ConflictContext) (deploy.Decision, error) { return d, nil }
	}

	fmt.Printf("□ Deploying version %s: %d flow sides\n", deployVersion, len(reqs))
	batch := &deploy.Batch{Deps: rt.deployDeps(), Decide: decide}
	sessions := batch.Run(ctx, reqs, func(line string) { fmt.Println(line) })

	failed := 0
	for _, s := range sessions {
		if s.State() == deploy.StateFailed && s.View().Outcome != deploy.OutcomeCancelled {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deployments failed", failed, len(sessions))
	}
	fmt.Printf("✓ %d flow sides processed\n", len(sessions))
	return nil
}

// planDeploy builds one request per flow side. With instanceID set, sides
// that resolve to another instance, or do not resolve at all, are left out
// and reported as skipped instead of failing their session.
func planDeploy(ctx context.Context, loc deploy.Locator, flows []*models.LogicalFlow, sides []models.Side, instanceID string, ref models.FlowRef) ([]deploy.Request, []string) {
	var reqs []deploy.Request
	var skipped []string
	for _, flow := range flows {
		for _, side := range sides {
			if instanceID != "" {
				target, err := loc.Locate(ctx, flow, side)
				if err != nil {
					skipped = append(skipped, fmt.Sprintf("  SKIPPED: %s/%s: %v", flow.Name, side, err))
					continue
				}
				if target.Instance.ID != instanceID {
					skipped = append(skipped, fmt.Sprintf("  SKIPPED: %s/%s: on instance %s", flow.Name, side, target.Instance.ID))
					continue
				}
			}
			reqs = append(reqs, deploy.Request{
				Flow:       flow,
				Side:       side,
				InstanceID: instanceID,
				Ref:        ref,
			})
		}
	}
	return reqs, skipped
}

// promptDecision asks on out and reads the answer from in, once per
// conflict. EOF cancels the session.
func promptDecision(in io.Reader, out io.Writer) deploy.DecideFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, cc deploy.ConflictContext) (deploy.Decision, error) {
		fmt.Fprintf(out, "\n%s (%s) on %s at %s\n", cc.FlowName, cc.Side, cc.InstanceName, cc.Path)
		fmt.Fprintf(out, "  existing version %s, incoming %s (%s)\n", cc.ExistingVersion, cc.IncomingVersion, cc.Direction)
		for {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			fmt.Fprint(out, "  [s]kip, [d]elete and push, [u]pdate version? ")
			line, err := reader.ReadString('\n')
			answer := strings.ToLower(strings.TrimSpace(line))
			switch answer {
			case "s", "skip":
				return deploy.DecisionSkip, nil
			case "d", "delete":
				return deploy.DecisionDelete, nil
			case "u", "update", "update_version":
				return deploy.DecisionUpdateVersion, nil
			}
			if err != nil {
				return "", fmt.Errorf("no decision: %w", err)
			}
			fmt.Fprintf(out, "  unrecognised answer %q\n", answer)
		}
	}
}
