package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report local/remote drift for the selected kinds without changing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := flags.selectedKinds()
		if len(kinds) == 0 {
			return fmt.Errorf("no kinds selected: pass -a/-C/-c/-t/-p/-s/-r or --All-authoring")
		}

		a, err := buildApp(flags)
		if err != nil {
			return err
		}
		defer a.collector.Stop()

		for _, kind := range kinds {
			h, ok := a.helpers[kind]
			if !ok {
				continue
			}

			locallyModified, err := h.ListLocalModifiedNames()
			if err != nil {
				return fmt.Errorf("status %s: local modified: %w", kind, err)
			}
			remotelyModified, err := h.ListRemoteModifiedNames(cliCtx, a.opts)
			if err != nil {
				return fmt.Errorf("status %s: remote modified: %w", kind, err)
			}
			localOnly, err := h.ListRemoteDeletedNames(cliCtx, a.opts)
			if err != nil {
				return fmt.Errorf("status %s: local-only: %w", kind, err)
			}
			locallyDeleted, err := h.ListLocalDeletedNames()
			if err != nil {
				return fmt.Errorf("status %s: locally deleted: %w", kind, err)
			}

			fmt.Printf("%s:\n", kind)
			printSet("locally modified", locallyModified)
			printSet("remotely modified", remotelyModified)
			printSet("local-only (absent remotely)", localOnly)
			printSet("locally deleted (known but missing from disk)", locallyDeleted)
		}
		cmd.SilenceUsage = true
		return nil
	},
}

func printSet(label string, set map[string]struct{}) {
	fmt.Printf("  %s: %d\n", label, len(set))
	for path := range set {
		fmt.Printf("    %s\n", path)
	}
}

func init() {
	addKindFlags(statusCmd)
}
