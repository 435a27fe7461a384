package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imjszhang/wiseflow/pkg/observer"
)

func newObserveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "observe",
		Short: "Observe the target project and write the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			obs, err := observer.New(cfg.Agent.ObservationDir, cfg.CkptPath("observation"))
			if err != nil {
				return err
			}
			obs.SetLogHeadLines(cfg.Observer.LogHeadLines)

			snap, err := obs.ObserveAndSave()
			if err != nil {
				return err
			}

			fmt.Printf("Observed %s: %d files, %d directories, %d code lines\n",
				cfg.Agent.ObservationDir, snap.Meta.FileCount, snap.Meta.DirCount,
				snap.CodeStatistics.TotalLines)
			fmt.Printf("Snapshot written to %s\n", cfg.CkptPath("observation", observer.SnapshotFileName))
			return nil
		},
	}
}
