package main

import (
	"os"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/spf13/cobra"

	"github.com/reactome-gnn/pathwaygnn/partition"
	"github.com/reactome-gnn/pathwaygnn/pathway"
)

func newPartitionCmd(flags *rootFlags) *cobra.Command {
	var (
		inputDir string
		names    []string
		noBar    bool
	)
	cfg := partition.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Divide extracted pathways into the partitions of every task",
		Long: `Reads the entities and reactions of each pathway from <input>/<pathway>/, builds the
attribute, input link and output link partitions, and saves them in <data>/<pathway>.db.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if inputDir, err = fsutil.ReplaceTildeInDir(inputDir); err != nil {
				return err
			}
			pipeline := &partition.Pipeline{InputDir: inputDir, DataDir: flags.dataDir, Config: cfg}
			if !noBar {
				pipeline.Progress = os.Stderr
			}
			return pipeline.Run(cmd.Context(), names)
		},
	}
	f := cmd.Flags()
	f.StringVar(&inputDir, "input", "", "Directory with one sub-directory of extracted CSV files per pathway.")
	f.StringSliceVar(&names, "pathway", pathway.Names, "Pathways to partition.")
	f.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed of the random division.")
	f.Float64Var(&cfg.TrainFraction, "train_fraction", cfg.TrainFraction, "Fraction of the eligible rows used for training.")
	f.Float64Var(&cfg.ValidationFraction, "validation_fraction", cfg.ValidationFraction, "Fraction of the eligible rows used for validation.")
	f.Float64Var(&cfg.AttributeMaskRatio, "attribute_mask_ratio", cfg.AttributeMaskRatio, "Fraction of the attributes hidden from the nodes to predict.")
	f.BoolVar(&noBar, "no_progress", false, "Disable the progress bar.")
	markRequired(cmd, "input")
	return cmd
}
