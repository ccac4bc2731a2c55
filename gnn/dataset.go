package gnn

import (
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"

	"github.com/reactome-gnn/pathwaygnn/store"
)

// fullBatch is a train.Dataset that yields the whole split once per epoch.
//
// The tensors are owned by Data and reused across epochs.
type fullBatch struct {
	name string
	spec *Spec
	sd   *SplitData
	done bool
}

var (
	_ train.Dataset                = (*fullBatch)(nil)
	_ train.DatasetCustomOwnership = (*fullBatch)(nil)
)

// NewDataset returns a dataset that yields the given split as one batch per epoch.
func (data *Data) NewDataset(split store.Split) train.Dataset {
	return &fullBatch{name: string(data.Task) + "/" + string(split), spec: data.Spec, sd: data.Splits[split]}
}

// Name implements train.Dataset.
func (ds *fullBatch) Name() string { return ds.name }

// Reset implements train.Dataset.
func (ds *fullBatch) Reset() { ds.done = false }

// Yield implements train.Dataset.
func (ds *fullBatch) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if ds.done {
		return nil, nil, nil, io.EOF
	}
	ds.done = true
	return ds.spec, ds.sd.Inputs, ds.sd.Labels, nil
}

// IsOwnershipTransferred implements train.DatasetCustomOwnership.
func (ds *fullBatch) IsOwnershipTransferred() bool { return false }
