package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactome-gnn/pathwaygnn/partition"
	"github.com/reactome-gnn/pathwaygnn/pathway"
	"github.com/reactome-gnn/pathwaygnn/store"
)

func TestPresetConfigs(t *testing.T) {
	configs, err := presetConfigs("gcn-attribute", "")
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "gcn-attribute", configs[0].Name)

	configs, err = presetConfigs("gnn-link", "HGNNP")
	require.NoError(t, err)
	assert.Len(t, configs, 8)

	configs, err = presetConfigs("mf", "")
	require.NoError(t, err)
	assert.Len(t, configs, 8)

	_, err = presetConfigs("gnn-link", "SVM")
	require.Error(t, err)
	_, err = presetConfigs("bayes", "")
	require.Error(t, err)
}

func TestCommands(t *testing.T) {
	dataDir := t.TempDir()
	p := &pathway.Pathway{Name: "Disease", Vocabulary: []string{"protein", "complex", "small molecule"}}
	for ii := range 20 {
		p.Entities = append(p.Entities, pathway.Entity{ID: fmt.Sprintf("E-%d", ii), Attributes: []int{ii % 3}})
	}
	for ii := range 18 {
		p.Reactions = append(p.Reactions, pathway.Reaction{
			ID: fmt.Sprintf("R-%d", ii), Inputs: []int{ii, ii + 1}, Outputs: []int{ii + 2},
		})
	}
	part, err := partition.ForTask(p, store.OutputLinkTask, partition.DefaultConfig())
	require.NoError(t, err)
	s, err := store.Open(store.Path(dataDir, p.Name))
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), part))
	require.NoError(t, s.Close())
	assert.Contains(t, describePartition(part), "reactions split: train=")

	for _, args := range [][]string{
		{"--data", dataDir, "inspect", "--pathway", "Disease"},
		{"--data", dataDir, "inspect", "--pathway", "Disease", "--task", "output link prediction dataset"},
		{"sweep", "--preset", "mf", "--print"},
	} {
		root := newRootCmd()
		root.SetArgs(args)
		require.NoError(t, root.Execute(), "args %q", args)
	}

	for _, args := range [][]string{
		{"--data", dataDir, "inspect", "--pathway", "Metabolism"},
		{"--data", dataDir, "inspect"},
		{"sweep"},
		{"sweep", "--preset", "mf", "--config", "sweep.yaml"},
		{"partition"},
		{"train", "--set", "no_such_param=1"},
	} {
		root := newRootCmd()
		root.SetArgs(args)
		require.Error(t, root.Execute(), "args %q", args)
	}
}
