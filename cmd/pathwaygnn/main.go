// pathwaygnn partitions Reactome pathways into train/validation/test splits, and trains and
// evaluates graph models and the matrix factorization baseline on them.
//
// Typical usage:
//
//	pathwaygnn partition --input ~/reactome/extracted
//	pathwaygnn train --set "model=HGNNP;task=output_link;dataset=Metabolism"
//	pathwaygnn sweep --preset gnn-link --model HGNN
//	pathwaygnn inspect --pathway Disease
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"

	"github.com/reactome-gnn/pathwaygnn/tracking"
)

// rootFlags are shared by all commands.
type rootFlags struct {
	dataDir     string
	runsDir     string
	plots       bool
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		stop()
		os.Exit(1)
	}
	klog.Flush()
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "pathwaygnn",
		Short: "Hypergraph models of Reactome pathways",
		Long: `pathwaygnn partitions extracted Reactome pathways for the attribute and link prediction
tasks, and trains GCN, HGNN, HGNN+ and matrix factorization models on them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			flags.dataDir, err = fsutil.ReplaceTildeInDir(flags.dataDir)
			if err != nil {
				return err
			}
			if flags.runsDir == "" {
				flags.runsDir = filepath.Join(flags.dataDir, "runs")
			}
			flags.runsDir, err = fsutil.ReplaceTildeInDir(flags.runsDir)
			return err
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.dataDir, "data", "~/work/pathwaygnn", "Directory with the partition databases, one per pathway.")
	pf.StringVar(&flags.runsDir, "runs", "", "Directory where the metrics of runs are saved. Defaults to <data>/runs.")
	pf.BoolVar(&flags.plots, "plots", true, "Save the curves of each run as a PNG next to its metrics.")
	pf.StringVar(&flags.metricsAddr, "metrics_addr", "", "If set, address (e.g. \":9090\") to serve the run metrics to Prometheus.")

	goFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goFlags)
	pf.AddGoFlagSet(goFlags)

	root.AddCommand(
		newPartitionCmd(flags),
		newTrainCmd(flags),
		newMFCmd(flags),
		newSweepCmd(flags),
		newInspectCmd(flags),
	)
	return root
}

// newBackend returns the default backend, configurable with $GOMLX_BACKEND.
func newBackend() backends.Backend {
	backend := backends.MustNew()
	klog.V(1).Infof("Backend: %s", backend.Description())
	return backend
}

// newSink returns the sink of the runs: klog, JSON lines under runsDir, and optionally plots and
// Prometheus. The returned function releases the sink resources.
func (flags *rootFlags) newSink() (tracking.Sink, func(), error) {
	sinks := tracking.Multi{
		&tracking.Logger{Level: 1},
		&tracking.JSONLines{Dir: flags.runsDir},
	}
	if flags.plots {
		sinks = append(sinks, &tracking.Plot{Dir: flags.runsDir})
	}
	done := func() {}
	if flags.metricsAddr != "" {
		prom := tracking.NewPrometheus()
		server, err := prom.Serve(flags.metricsAddr)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "failed to serve metrics")
		}
		sinks = append(sinks, prom)
		done = func() { _ = server.Close() }
	}
	return sinks, done, nil
}

// markRequired marks flags of cmd as required.
func markRequired(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		must.M(cmd.MarkFlagRequired(name))
	}
}
