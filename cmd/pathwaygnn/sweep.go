package main

import (
	"os"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/reactome-gnn/pathwaygnn/gnn"
	"github.com/reactome-gnn/pathwaygnn/sweep"
)

// Presets of the sweep command.
var presets = []string{"gcn-attribute", "gnn-link", "mf"}

func presetConfigs(preset, model string) ([]*sweep.Config, error) {
	switch preset {
	case "gcn-attribute":
		return []*sweep.Config{sweep.DefaultGCNAttribute()}, nil
	case "gnn-link":
		if !slices.Contains(gnn.ValidModels, model) {
			return nil, errors.Errorf("--model must be one of %v, got %q", gnn.ValidModels, model)
		}
		return sweep.AllGNN(model), nil
	case "mf":
		return sweep.AllMF(), nil
	}
	return nil, errors.Errorf("unknown preset %q, valid presets are %v", preset, presets)
}

func newSweepCmd(flags *rootFlags) *cobra.Command {
	var (
		configPath, preset, model, settings string
		printConfig, progressBar            bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run hyperparameter sweeps",
		Long: `Runs every trial of a sweep, given as a YAML file (--config) or one of the presets:

  gcn-attribute  GCN on the attribute prediction task of "Disease".
  gnn-link       --model on both link prediction tasks of every pathway (8 sweeps).
  mf             Matrix factorization on both link prediction tasks of every pathway (8 sweeps).

Failed trials are reported and skipped. A summary table is printed at the end of each sweep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configs []*sweep.Config
			switch {
			case configPath != "" && preset != "":
				return errors.New("only one of --config or --preset can be given")
			case configPath != "":
				cfg, err := sweep.LoadConfig(configPath)
				if err != nil {
					return err
				}
				configs = []*sweep.Config{cfg}
			case preset != "":
				var err error
				if configs, err = presetConfigs(preset, model); err != nil {
					return err
				}
			default:
				return errors.New("either --config or --preset must be given")
			}
			if printConfig {
				for _, cfg := range configs {
					if _, err := os.Stdout.WriteString("---\n"); err != nil {
						return err
					}
					if err := cfg.Write(os.Stdout); err != nil {
						return err
					}
				}
				return nil
			}

			sink, done, err := flags.newSink()
			if err != nil {
				return err
			}
			defer done()
			runner := &sweep.Runner{
				DataDir:     flags.dataDir,
				Backend:     newBackend(),
				Sink:        sink,
				Settings:    settings,
				ProgressBar: progressBar,
			}
			var failed int
			for _, cfg := range configs {
				result, err := runner.Run(cmd.Context(), cfg)
				if result != nil {
					if err := result.WriteSummary(os.Stdout); err != nil {
						return err
					}
					failed += result.Failed()
				}
				if err != nil {
					return err
				}
			}
			if failed > 0 {
				klog.Warningf("%d trials failed, see the logs above", failed)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML file with the sweep configuration.")
	f.StringVar(&preset, "preset", "", "Preset sweep, one of "+`"gcn-attribute", "gnn-link" or "mf".`)
	f.StringVar(&model, "model", "HGNN", "Model of the gnn-link preset.")
	f.StringVar(&settings, "set", "", `Hyperparameters applied to every trial before its own, as "param=value" separated by ";". `+
			`Parameters defined only by the other program are skipped.`)
	f.BoolVar(&printConfig, "print", false, "Print the sweep configurations as YAML instead of running them.")
	f.BoolVar(&progressBar, "progress_bar", false, "Show the progress bar of each trial.")
	return cmd
}
