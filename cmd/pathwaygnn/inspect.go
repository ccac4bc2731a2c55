package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/reactome-gnn/pathwaygnn/store"
	"github.com/reactome-gnn/pathwaygnn/tracking"
)

func newInspectCmd(flags *rootFlags) *cobra.Command {
	var pathwayName, taskName, runPath, pointsPath string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the statistics of the partitions of a pathway, or the metrics of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runPath != "" {
				return inspectRun(runPath)
			}
			if pointsPath != "" {
				points, err := tracking.LoadPoints(pointsPath)
				if err != nil {
					return err
				}
				fmt.Println(points)
				return nil
			}
			if pathwayName == "" {
				return errors.New("one of --pathway, --run or --points must be given")
			}
			path := store.Path(flags.dataDir, pathwayName)
			info, err := os.Stat(path)
			if err != nil {
				return errors.Wrapf(err, "no partitions for pathway %q", pathwayName)
			}
			s, err := store.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			tasks := store.Tasks
			if taskName != "" {
				task, err := store.ParseTask(taskName)
				if err != nil {
					return err
				}
				tasks = []store.Task{task}
			} else if tasks, err = s.Tasks(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", path, humanize.Bytes(uint64(info.Size())))
			for _, task := range tasks {
				p, err := s.Load(cmd.Context(), task)
				if err != nil {
					return err
				}
				fmt.Println(describePartition(p))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&pathwayName, "pathway", "", "Pathway whose partitions are described.")
	f.StringVar(&taskName, "task", "", "Task of the partition. If empty, all saved tasks are described.")
	f.StringVar(&runPath, "run", "", "History file (.jsonl) of a run to print instead.")
	f.StringVar(&pointsPath, "points", "", "Points file saved by \"train --points\" to print instead.")
	return cmd
}

// describePartition returns the sizes of a partition.
func describePartition(p *store.Partition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s / %s (seed %d)\n", p.Pathway, p.Task, p.Seed)
	fmt.Fprintf(&sb, "  entities: %s, attributes: %d, reactions: %s\n",
		humanize.Comma(int64(p.NumNodes)), p.NumFeatures, humanize.Comma(int64(p.NumEdges)))
	rowsName := "entities"
	if p.Task.IsLink() {
		rowsName = "reactions"
	}
	train, validation, test := p.Masks().Count()
	fmt.Fprintf(&sb, "  %s split: train=%d validation=%d test=%d\n", rowsName, train, validation, test)
	for _, split := range store.Splits {
		var members int
		for _, edge := range p.Edges[split] {
			members += len(edge)
		}
		fmt.Fprintf(&sb, "  %-10s edge list: %s memberships\n", split, humanize.Comma(int64(members)))
	}
	return sb.String()
}

func inspectRun(historyPath string) error {
	points, err := tracking.LoadHistory(historyPath)
	if err != nil {
		return err
	}
	fmt.Println(points.TableForMetrics())
	summaryPath := strings.TrimSuffix(historyPath, ".jsonl") + ".summary.json"
	if _, err := os.Stat(summaryPath); err != nil {
		return nil
	}
	summary, err := tracking.LoadSummary(summaryPath)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s (%s), finished %s\n", summary.Run.Name, summary.Run.ID, humanize.Time(summary.FinishedAt))
	if summary.Error != "" {
		fmt.Printf("Failed: %s\n", summary.Error)
	}
	for _, name := range slices.Sorted(maps.Keys(summary.Metrics)) {
		fmt.Printf("  %s = %.4f\n", name, summary.Metrics[name])
	}
	return nil
}
