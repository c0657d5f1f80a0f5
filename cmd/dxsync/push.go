package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push locally modified artifacts to the tenant (use --Ignore-timestamps to push everything)",
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

		summary, err := a.coord.PushAll(cliCtx, a.kinds, a.opts)
		if err != nil {
			return err
		}

		rootLogger.Info().Str("summary", summary.String()).Msg("push complete")
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
	addKindFlags(pushCmd)
	pushCmd.Flags().BoolVar(&flags.ignoreTimestamps, "Ignore-timestamps", false, "push every local artifact, bypassing the modified-since filter")
	pushCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "compute the push summary without writing to the tenant")
}
