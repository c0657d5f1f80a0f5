package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull remote artifacts into the working directory",
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

		summary, err := a.coord.PullAll(cliCtx, a.kinds, a.opts)
		if err != nil {
			return err
		}

		rootLogger.Info().Str("summary", summary.String()).Msg("pull complete")
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
	addKindFlags(pullCmd)
	pullCmd.Flags().BoolVar(&flags.ignoreTimestamps, "Ignore-timestamps", false, "pull every remote artifact, bypassing the modified-since filter")
	pullCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "compute the pull summary without writing to the working directory")
}
