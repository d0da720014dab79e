package internal

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var buildFor string

var buildCmd = &cobra.Command{
	Use:   "build [filter...]",
	Short: "Rebuild matching libraries across the compiler fleet",
	Long: `Build runs the full build matrix for each matching library target:
every discovered compiler crossed with the supported architectures,
standards and standard libraries, with capability probes pruning
combinations a compiler cannot honor.`,
	RunE: runBuildMatrix,
}

func init() {
	buildCmd.Flags().StringVar(&buildFor, "build-for", "", "Restrict the matrix to one compiler id")
	rootCmd.AddCommand(buildCmd)
}

func runBuildMatrix(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := newLogger()

	if flagPropertiesURL == "" {
		return fmt.Errorf("build needs --properties-url to discover the compiler fleet")
	}

	ic, err := newInstallContext(ctx, log)
	if err != nil {
		return err
	}
	set, err := loadInstallables(ic, log)
	if err != nil {
		return err
	}

	var succeeded, failed int
	for _, inst := range set.Filter(args) {
		if !inst.IsInstalled() {
			log.Warn("not installed, skipping build", "target", inst.Name())
			continue
		}
		ok, err := inst.Build(ctx, buildFor)
		switch {
		case err != nil:
			log.Error("build failed", "target", inst.Name(), "error", err)
			failed++
		case !ok:
			log.Warn("build finished with failed combinations", "target", inst.Name())
			failed++
		default:
			succeeded++
		}
	}

	log.Info("build run finished", "succeeded", succeeded, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d build(s) failed", failed)
	}
	return nil
}
