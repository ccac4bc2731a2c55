package partition

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/reactome-gnn/pathwaygnn/pathway"
	"github.com/reactome-gnn/pathwaygnn/store"
)

// Pipeline reads extracted pathways from InputDir, divides them for every task and saves the
// partitions under DataDir, one database per pathway.
type Pipeline struct {
	InputDir, DataDir string
	Config            Config

	// Progress, if not nil, receives a progress bar.
	Progress io.Writer
}

// Run the pipeline over the named pathways.
func (pp *Pipeline) Run(ctx context.Context, names []string) error {
	var bar *progressbar.ProgressBar
	if pp.Progress != nil {
		bar = progressbar.NewOptions(len(names)*len(store.Tasks),
			progressbar.OptionSetWriter(pp.Progress),
			progressbar.OptionSetDescription("Partitioning"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("partitions"),
			progressbar.OptionClearOnFinish())
		defer func() { _ = bar.Finish() }()
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := pathway.Load(pathway.Dir(pp.InputDir, name), name)
		if err != nil {
			return err
		}
		s, err := store.Open(store.Path(pp.DataDir, name))
		if err != nil {
			return err
		}
		for _, task := range store.Tasks {
			part, err := ForTask(p, task, pp.Config)
			if err == nil {
				err = s.Save(ctx, part)
			}
			if err != nil {
				_ = s.Close()
				return errors.WithMessagef(err, "pathway %q, task %s", name, task)
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if err = s.Close(); err != nil {
			return errors.Wrapf(err, "failed to close %q", s.Path())
		}
		klog.Infof("Pathway %q partitioned into %q", name, s.Path())
	}
	return nil
}
