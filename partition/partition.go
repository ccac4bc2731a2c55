// Package partition divides a pathway into train, validation and test sets for each of the
// prediction tasks.
//
// Divisions are deterministic for a given Config.Seed. Masks of each task are disjoint and cover
// every scored row: nodes for the attribute task, hyperedges (reactions) for the link tasks.
package partition

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/reactome-gnn/pathwaygnn/pathway"
	"github.com/reactome-gnn/pathwaygnn/store"
)

// DefaultSeed used by the data processing pipeline.
const DefaultSeed = 1121

// Config of the division.
type Config struct {
	Seed int64

	// TrainFraction and ValidationFraction of the eligible rows. The remaining ones go to test.
	TrainFraction, ValidationFraction float64

	// AttributeMaskRatio is the fraction of attributes hidden from the nodes being predicted in
	// the attribute task. At least one attribute is always hidden.
	AttributeMaskRatio float64
}

// DefaultConfig returns the configuration used in the experiments.
func DefaultConfig() Config {
	return Config{
		Seed:               DefaultSeed,
		TrainFraction:      0.8,
		ValidationFraction: 0.1,
		AttributeMaskRatio: 0.5,
	}
}

func (c Config) validate() error {
	if c.TrainFraction <= 0 || c.ValidationFraction <= 0 || c.TrainFraction+c.ValidationFraction >= 1 {
		return errors.Errorf("invalid split fractions train=%g, validation=%g: both must be positive and "+
			"leave room for the test split", c.TrainFraction, c.ValidationFraction)
	}
	if c.AttributeMaskRatio <= 0 || c.AttributeMaskRatio > 1 {
		return errors.Errorf("invalid attribute mask ratio %g, it must be in (0, 1]", c.AttributeMaskRatio)
	}
	return nil
}

// newRNG returns the random number generator for one task, so tasks don't depend on the order
// they are built.
func (c Config) newRNG(task store.Task) *rand.Rand {
	var salt uint64
	for _, b := range []byte(task) {
		salt = salt*31 + uint64(b)
	}
	return rand.New(rand.NewPCG(uint64(c.Seed), salt))
}

// splitSizes returns how many of n eligible rows go to each split. With 3 or more rows each split
// gets at least one.
func (c Config) splitSizes(n int) (numTrain, numValidation, numTest int) {
	numTrain = int(math.Round(float64(n) * c.TrainFraction))
	numValidation = int(math.Round(float64(n) * c.ValidationFraction))
	if n >= 3 {
		numValidation = max(numValidation, 1)
		numTrain = min(numTrain, n-numValidation-1)
	}
	numTrain = min(numTrain, n)
	numValidation = min(numValidation, n-numTrain)
	numTest = n - numTrain - numValidation
	return
}

// assign splits the eligible rows and builds the masks over numRows rows. Rows not eligible go
// to train.
func (c Config) assign(rng *rand.Rand, numRows int, eligible []int) *store.Masks {
	masks := &store.Masks{
		Train:      make([]bool, numRows),
		Validation: make([]bool, numRows),
		Test:       make([]bool, numRows),
	}
	for ii := range masks.Train {
		masks.Train[ii] = true
	}
	shuffled := slices.Clone(eligible)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	numTrain, numValidation, _ := c.splitSizes(len(shuffled))
	for _, row := range shuffled[numTrain : numTrain+numValidation] {
		masks.Train[row], masks.Validation[row] = false, true
	}
	for _, row := range shuffled[numTrain+numValidation:] {
		masks.Train[row], masks.Test[row] = false, true
	}
	return masks
}

func checkPathway(p *pathway.Pathway) error {
	if p.NumNodes() == 0 || p.NumFeatures() == 0 || p.NumReactions() == 0 {
		return errors.Errorf("pathway %q can't be partitioned: %d entities, %d attributes and %d reactions",
			p.Name, p.NumNodes(), p.NumFeatures(), p.NumReactions())
	}
	return nil
}

// Divide builds the partitions of all tasks.
func Divide(p *pathway.Pathway, cfg Config) ([]*store.Partition, error) {
	partitions := make([]*store.Partition, 0, len(store.Tasks))
	for _, task := range store.Tasks {
		part, err := ForTask(p, task, cfg)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, part)
	}
	return partitions, nil
}

// ForTask builds the partition of one task.
func ForTask(p *pathway.Pathway, task store.Task, cfg Config) (*store.Partition, error) {
	var (
		part *store.Partition
		err  error
	)
	switch task {
	case store.AttributeTask:
		part, err = AttributePrediction(p, cfg)
	case store.InputLinkTask:
		part, err = InputLinkPrediction(p, cfg)
	case store.OutputLinkTask:
		part, err = OutputLinkPrediction(p, cfg)
	default:
		err = errors.Errorf("unknown task %q", task)
	}
	if err != nil {
		return nil, err
	}
	if err = part.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "partition of pathway %q", p.Name)
	}
	masks := part.Masks()
	numTrain, numValidation, numTest := masks.Count()
	klog.V(1).Infof("Partitioned %q for %s: train=%d, validation=%d, test=%d",
		p.Name, task, numTrain, numValidation, numTest)
	return part, nil
}

func newPartition(p *pathway.Pathway, task store.Task, cfg Config) *store.Partition {
	return &store.Partition{
		Pathway:     p.Name,
		Task:        task,
		Seed:        cfg.Seed,
		NumNodes:    p.NumNodes(),
		NumFeatures: p.NumFeatures(),
		Features:    make(map[store.Split]*mat.Dense, len(store.Splits)),
		Edges:       make(map[store.Split][][]int, len(store.Splits)),
	}
}
