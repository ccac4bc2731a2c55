package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/reactome-gnn/pathwaygnn/gnn"
	"github.com/reactome-gnn/pathwaygnn/mf"
	"github.com/reactome-gnn/pathwaygnn/store"
	"github.com/reactome-gnn/pathwaygnn/sweep"
	"github.com/reactome-gnn/pathwaygnn/tracking"
)

// settingsUsage lists the parameters of ctx that can be set with --set.
func settingsUsage(ctx *context.Context) string {
	parts := []string{`Hyperparameters, as a list of "param=value" separated by ";", or "file:<path>". Parameters:`}
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			parts = append(parts, fmt.Sprintf("%q: default value is %v", key, value))
		}
	})
	slices.Sort(parts[1:])
	return strings.Join(parts, "\n")
}

// newTrainingCmd creates a command that trains one model, configured by the context returned by
// newContext and modified with --set.
func newTrainingCmd(flags *rootFlags, use, short string, newContext func() *context.Context, train sweep.TrainFn) *cobra.Command {
	var settings, pointsPath string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := newContext()
			paramsSet, err := commandline.ParseContextSettings(ctx, settings)
			if err != nil {
				return errors.WithMessage(err, "invalid --set")
			}
			if len(paramsSet) > 0 {
				klog.Infof("Hyperparameters set:\n%s", commandline.SprintModifiedContextSettings(ctx, paramsSet))
			}
			ctx.SetParam(gnn.ParamDataDir, flags.dataDir)
			dataset := context.GetParamOr(ctx, gnn.ParamDataset, "")
			task, err := store.ParseTask(context.GetParamOr(ctx, gnn.ParamTask, ""))
			if err != nil {
				return err
			}

			part, err := store.LoadPartition(cmd.Context(), flags.dataDir, dataset, task)
			if err != nil {
				return err
			}

			sink, done, err := flags.newSink()
			if err != nil {
				return err
			}
			defer done()
			memory := &tracking.Memory{}
			sink = tracking.Multi{sink, memory}
			backend := newBackend()
			run := tracking.NewRunInfo("", fmt.Sprintf("%s-%s-%s", use, task, dataset), tracking.ContextConfig(ctx))
			err = tracking.Track(sink, run, func() (map[string]float64, error) {
				return sweep.CatchPanics(train)(ctx, backend, part, sink)
			})
			if err != nil {
				return err
			}
			fmt.Printf("Run %s (%s):\n%s\n", run.Name, run.ID, memory.Points().TableForMetrics("loss", "valid_ndcg", "valid_acc", "test_ndcg", "test_acc"))
			if pointsPath != "" {
				f, err := os.Create(pointsPath)
				if err != nil {
					return errors.Wrap(err, "failed to create points file")
				}
				if err = tracking.WritePoints(f, memory.Points()); err == nil {
					err = f.Close()
				} else {
					_ = f.Close()
				}
				if err != nil {
					return err
				}
			}
			fmt.Printf("Best epoch %d: valid_ndcg=%.4f test_ndcg=%.4f test_acc=%.4f\n",
				int(memory.Summary["best_epoch"]), memory.Summary["valid_ndcg"], memory.Summary["test_ndcg"], memory.Summary["test_acc"])
			return nil
		},
	}
	cmd.Flags().StringVar(&settings, "set", "", settingsUsage(newContext()))
	cmd.Flags().StringVar(&pointsPath, "points", "", "If set, the metrics of every epoch are also saved to this file, see \"inspect --points\".")
	return cmd
}

func newTrainCmd(flags *rootFlags) *cobra.Command {
	return newTrainingCmd(flags, "train", "Train a GCN, HGNN or HGNN+ model on one partition",
		gnn.CreateDefaultContext, sweep.TrainGNN)
}

func newMFCmd(flags *rootFlags) *cobra.Command {
	return newTrainingCmd(flags, "mf", "Train the matrix factorization baseline on one link partition",
		mf.CreateDefaultContext, sweep.TrainMF)
}
