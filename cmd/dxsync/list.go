package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/dxsync/pkg/types"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every remote artifact for the selected kinds",
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

		total := 0
		for _, kind := range kinds {
			n, err := listKind(cliCtx, a, kind)
			if err != nil {
				return fmt.Errorf("list %s: %w", kind, err)
			}
			total += n
		}
		fmt.Printf("%d artifacts listed\n", total)
		cmd.SilenceUsage = true
		return nil
	},
}

func listKind(ctx context.Context, a *app, kind types.Kind) (int, error) {
	h, ok := a.helpers[kind]
	if !ok {
		return 0, nil
	}
	count := 0
	cursor := types.Cursor{}
	for {
		page, next, end, err := h.ListPage(ctx, cursor, a.opts)
		if err != nil {
			return count, err
		}
		for _, item := range page {
			fmt.Printf("%s\t%s\n", kind, h.Identity(item))
		}
		count += len(page)
		if end {
			return count, nil
		}
		cursor = next
	}
}

func init() {
	addKindFlags(listCmd)
}
