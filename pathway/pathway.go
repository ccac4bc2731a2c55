// Package pathway loads the entities and reactions of one biological pathway, as exported by the
// graph database extraction step.
//
// A pathway directory holds two CSV files:
//
//   - entities.csv: columns "id", "name" and "attributes", the last one a ';' separated list of
//     attribute names.
//   - reactions.csv: columns "id", "name", "inputs" and "outputs", the last two ';' separated lists
//     of entity ids.
//
// Entities become nodes (indexed in file order), attributes become the node features and
// reactions become hyperedges.
package pathway

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Names of the pathways used in the experiments.
var Names = []string{"Disease", "Immune System", "Metabolism", "Signal Transduction"}

const (
	EntitiesFile  = "entities.csv"
	ReactionsFile = "reactions.csv"
	listSeparator = ";"
)

// Role selects which entities of a reaction form its hyperedge.
type Role int

const (
	AllEntities Role = iota
	Inputs
	Outputs
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case Inputs:
		return "inputs"
	case Outputs:
		return "outputs"
	default:
		return "all"
	}
}

// Entity is a node of the pathway.
type Entity struct {
	ID, Name   string
	Attributes []int // Indices into Pathway.Vocabulary, sorted.
}

// Reaction relates input entities to output entities. Inputs and Outputs hold node indices.
type Reaction struct {
	ID, Name        string
	Inputs, Outputs []int
}

// Pathway is the in-memory representation of an extracted pathway.
type Pathway struct {
	Name       string
	Entities   []Entity
	Reactions  []Reaction
	Vocabulary []string // Attribute names, sorted.

	index map[string]int
}

// Slug returns a file-system friendly version of a pathway name.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Dir returns the directory of pathway name under baseDir.
func Dir(baseDir, name string) string {
	return filepath.Join(baseDir, Slug(name))
}

func readCSV(path string, columns []string) (dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	types := make(map[string]series.Type, len(columns))
	for _, column := range columns {
		types[column] = series.String
	}
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true), dataframe.WithTypes(types))
	if df.Err != nil {
		return df, errors.Wrapf(df.Err, "failed to parse %q", path)
	}
	names := df.Names()
	for _, column := range columns {
		if !slices.Contains(names, column) {
			return df, errors.Errorf("%q is missing column %q (columns found: %v)", path, column, names)
		}
	}
	return df, nil
}

// splitList splits a ';' separated list, dropping empty entries. Missing values read as "NaN".
func splitList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" || value == "NaN" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(value, listSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// Load reads the pathway in dir.
func Load(dir, name string) (*Pathway, error) {
	entitiesDF, err := readCSV(filepath.Join(dir, EntitiesFile), []string{"id", "name", "attributes"})
	if err != nil {
		return nil, err
	}
	reactionsDF, err := readCSV(filepath.Join(dir, ReactionsFile), []string{"id", "name", "inputs", "outputs"})
	if err != nil {
		return nil, err
	}

	p := &Pathway{Name: name, index: make(map[string]int)}
	ids, names, attributes := entitiesDF.Col("id").Records(), entitiesDF.Col("name").Records(),
		entitiesDF.Col("attributes").Records()
	vocabulary := make(map[string]bool)
	entityAttributes := make([][]string, len(ids))
	for ii, id := range ids {
		if _, found := p.index[id]; found {
			return nil, errors.Errorf("pathway %q: duplicate entity id %q", name, id)
		}
		p.index[id] = ii
		entityAttributes[ii] = splitList(attributes[ii])
		for _, attr := range entityAttributes[ii] {
			vocabulary[attr] = true
		}
		p.Entities = append(p.Entities, Entity{ID: id, Name: names[ii]})
	}
	for attr := range vocabulary {
		p.Vocabulary = append(p.Vocabulary, attr)
	}
	slices.Sort(p.Vocabulary)
	for ii := range p.Entities {
		for _, attr := range entityAttributes[ii] {
			idx, _ := slices.BinarySearch(p.Vocabulary, attr)
			p.Entities[ii].Attributes = append(p.Entities[ii].Attributes, idx)
		}
		slices.Sort(p.Entities[ii].Attributes)
		p.Entities[ii].Attributes = slices.Compact(p.Entities[ii].Attributes)
	}

	ids, names = reactionsDF.Col("id").Records(), reactionsDF.Col("name").Records()
	inputs, outputs := reactionsDF.Col("inputs").Records(), reactionsDF.Col("outputs").Records()
	for ii, id := range ids {
		r := Reaction{ID: id, Name: names[ii]}
		if r.Inputs, err = p.lookup(splitList(inputs[ii])); err != nil {
			return nil, errors.WithMessagef(err, "pathway %q, reaction %q inputs", name, id)
		}
		if r.Outputs, err = p.lookup(splitList(outputs[ii])); err != nil {
			return nil, errors.WithMessagef(err, "pathway %q, reaction %q outputs", name, id)
		}
		if len(r.Inputs) == 0 && len(r.Outputs) == 0 {
			return nil, errors.Errorf("pathway %q: reaction %q has no entities", name, id)
		}
		p.Reactions = append(p.Reactions, r)
	}
	klog.V(1).Infof("Loaded pathway %q: %d entities, %d attributes, %d reactions",
		name, len(p.Entities), len(p.Vocabulary), len(p.Reactions))
	return p, nil
}

func (p *Pathway) lookup(ids []string) ([]int, error) {
	nodes := make([]int, 0, len(ids))
	for _, id := range ids {
		idx, found := p.index[id]
		if !found {
			return nil, errors.Errorf("unknown entity %q", id)
		}
		nodes = append(nodes, idx)
	}
	return nodes, nil
}

// NumNodes returns the number of entities.
func (p *Pathway) NumNodes() int { return len(p.Entities) }

// NumFeatures returns the size of the attribute vocabulary.
func (p *Pathway) NumFeatures() int { return len(p.Vocabulary) }

// NumReactions returns the number of reactions.
func (p *Pathway) NumReactions() int { return len(p.Reactions) }

// Features returns the multi-hot attribute matrix [NumNodes, NumFeatures].
// The pathway must have at least one entity and one attribute.
func (p *Pathway) Features() *mat.Dense {
	features := mat.NewDense(p.NumNodes(), p.NumFeatures(), nil)
	for ii, entity := range p.Entities {
		for _, attr := range entity.Attributes {
			features.Set(ii, attr, 1)
		}
	}
	return features
}

// Hyperedges returns one hyperedge per reaction with the entities of the given role,
// sorted and without repetitions. Hyperedges may be empty for the Inputs or Outputs roles.
func (p *Pathway) Hyperedges(role Role) [][]int {
	edges := make([][]int, len(p.Reactions))
	for ii, r := range p.Reactions {
		var members []int
		if role != Outputs {
			members = append(members, r.Inputs...)
		}
		if role != Inputs {
			members = append(members, r.Outputs...)
		}
		slices.Sort(members)
		edges[ii] = slices.Compact(members)
	}
	return edges
}
