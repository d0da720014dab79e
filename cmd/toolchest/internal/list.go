package internal

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var listInstalledOnly bool

var listCmd = &cobra.Command{
	Use:   "list [filter...]",
	Short: "List matching targets and their installed state",
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listInstalledOnly, "installed", false, "Only list installed targets")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := newLogger()

	ic, err := newInstallContext(ctx, log)
	if err != nil {
		return err
	}
	set, err := loadInstallables(ic, log)
	if err != nil {
		return err
	}

	for _, inst := range set.Filter(args) {
		installed := inst.IsInstalled()
		if listInstalledOnly && !installed {
			continue
		}
		state := " "
		if installed {
			state = "*"
		}
		fmt.Printf("%s %s\n", state, inst.Name())
	}
	return nil
}
