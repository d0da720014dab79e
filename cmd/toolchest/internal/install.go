package internal

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var installForce bool

var installCmd = &cobra.Command{
	Use:   "install [filter...]",
	Short: "Install matching targets into the destination tree",
	Long: `Install stages each matching target that is not already installed and
promotes it atomically into the destination. Per-target failures are
tallied; the run continues and exits non-zero if anything failed.`,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVarP(&installForce, "force", "f", false, "Install even if already installed")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
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

	var installed, skipped, failed int
	for _, inst := range set.Filter(args) {
		if !installForce && !inst.ShouldInstall() {
			log.Debug("already installed", "target", inst.Name())
			skipped++
			continue
		}
		log.Info("installing", "target", inst.Name())
		if err := inst.Install(ctx); err != nil {
			log.Error("install failed", "target", inst.Name(), "error", err)
			failed++
			continue
		}
		installed++
	}

	log.Info("install run finished",
		"installed", installed, "skipped", skipped, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d target(s) failed to install", failed)
	}
	return nil
}
