package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/dxsync/pkg/types"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [path-or-id ...]",
	Short: "Delete specific remote artifacts of one selected kind",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := flags.selectedKinds()
		if len(kinds) != 1 {
			return fmt.Errorf("delete requires exactly one kind flag, got %d", len(kinds))
		}
		kind := kinds[0]

		a, err := buildApp(flags)
		if err != nil {
			return err
		}
		defer a.collector.Stop()

		h, ok := a.helpers[kind]
		if !ok {
			return fmt.Errorf("no helper registered for kind %s", kind)
		}

		summary := types.Summary{Op: "deleted"}
		for _, id := range args {
			art := types.Artifact{Kind: kind, ID: id, Path: id}
			if a.opts.DryRun {
				summary.RecordSuccess(id)
				continue
			}
			if _, err := h.DeleteRemote(cliCtx, art, a.opts); err != nil {
				summary.RecordFailure(id, err)
				continue
			}
			summary.RecordSuccess(id)
		}

		fmt.Println(summary.String())
		for _, failure := range summary.Failed {
			fmt.Printf("  FAILED %s: %v\n", failure.Path, failure.Err)
		}
		cmd.SilenceUsage = true
		exitWith(exitCode(summary))
		return nil
	},
}

func init() {
	addKindFlags(deleteCmd)
	deleteCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "report what would be deleted without deleting")
}
