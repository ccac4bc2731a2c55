package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/reactome-gnn/pathwaygnn/pathway"

	_ "modernc.org/sqlite"
)

// FileExtension of the partition databases.
const FileExtension = ".db"

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	task  TEXT NOT NULL,
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (task, key)
);
CREATE TABLE IF NOT EXISTS features (
	task    TEXT NOT NULL,
	split   TEXT NOT NULL,
	node    INTEGER NOT NULL,
	feature INTEGER NOT NULL,
	value   REAL NOT NULL,
	PRIMARY KEY (task, split, node, feature)
);
CREATE TABLE IF NOT EXISTS edges (
	task     TEXT NOT NULL,
	split    TEXT NOT NULL,
	edge     INTEGER NOT NULL,
	position INTEGER NOT NULL,
	node     INTEGER NOT NULL,
	PRIMARY KEY (task, split, edge, position)
);
CREATE TABLE IF NOT EXISTS masks (
	task  TEXT NOT NULL,
	kind  TEXT NOT NULL,
	split TEXT NOT NULL,
	idx   INTEGER NOT NULL,
	PRIMARY KEY (task, kind, idx)
);
`

const (
	nodeMaskKind = "node"
	edgeMaskKind = "edge"
)

// Path returns the database file of a pathway under dataDir.
func Path(dataDir, pathwayName string) string {
	return filepath.Join(dataDir, pathway.Slug(pathwayName)+FileExtension)
}

// Store persists the partitions of one pathway in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database in path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for %q", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open partition database %q", path)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to enable WAL mode in %q", path)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to initialize schema of %q", path)
	}
	return &Store{db: db, path: path}, nil
}

// Close the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path of the database file.
func (s *Store) Path() string { return s.path }

// LoadPartition loads the partition of a task from the database of a pathway under dataDir.
// Unlike Open, it fails if the database doesn't exist.
func LoadPartition(ctx context.Context, dataDir, pathwayName string, task Task) (*Partition, error) {
	path := Path(dataDir, pathwayName)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "no partitions for pathway %q", pathwayName)
	}
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	return s.Load(ctx, task)
}

// Save stores the partition, replacing any previous partition of the same task.
func (s *Store) Save(ctx context.Context, p *Partition) (err error) {
	if err = p.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	task := string(p.Task)
	for _, table := range []string{"meta", "features", "edges", "masks"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE task = ?", task); err != nil {
			return errors.Wrapf(err, "failed to clear %s of task %q", table, task)
		}
	}

	meta := map[string]string{
		"pathway":      p.Pathway,
		"seed":         strconv.FormatInt(p.Seed, 10),
		"num_nodes":    strconv.Itoa(p.NumNodes),
		"num_features": strconv.Itoa(p.NumFeatures),
		"num_edges":    strconv.Itoa(p.NumEdges),
		"created_at":   time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range meta {
		if _, err = tx.ExecContext(ctx, "INSERT INTO meta (task, key, value) VALUES (?, ?, ?)", task, key, value); err != nil {
			return errors.Wrapf(err, "failed to write meta %q", key)
		}
	}

	var numRows int
	insertFeature, err := tx.PrepareContext(ctx,
		"INSERT INTO features (task, split, node, feature, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "failed to prepare features insert")
	}
	defer func() { _ = insertFeature.Close() }()
	for _, split := range Splits {
		features := p.Features[split]
		for node := range p.NumNodes {
			for feature := range p.NumFeatures {
				value := features.At(node, feature)
				if value == 0 {
					continue
				}
				if _, err = insertFeature.ExecContext(ctx, task, string(split), node, feature, value); err != nil {
					return errors.Wrapf(err, "failed to write %s features", split)
				}
				numRows++
			}
		}
	}

	insertEdge, err := tx.PrepareContext(ctx,
		"INSERT INTO edges (task, split, edge, position, node) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "failed to prepare edges insert")
	}
	defer func() { _ = insertEdge.Close() }()
	for _, split := range Splits {
		for edgeIdx, edge := range p.Edges[split] {
			for position, node := range edge {
				if _, err = insertEdge.ExecContext(ctx, task, string(split), edgeIdx, position, node); err != nil {
					return errors.Wrapf(err, "failed to write %s edges", split)
				}
				numRows++
			}
		}
	}

	insertMask, err := tx.PrepareContext(ctx, "INSERT INTO masks (task, kind, split, idx) VALUES (?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, "failed to prepare masks insert")
	}
	defer func() { _ = insertMask.Close() }()
	for kind, masks := range map[string]*Masks{nodeMaskKind: p.NodeMasks, edgeMaskKind: p.EdgeMasks} {
		if masks == nil {
			continue
		}
		for _, split := range []Split{Train, Validation, Test} {
			mask, _ := masks.Get(split)
			for idx, selected := range mask {
				if !selected {
					continue
				}
				if _, err = insertMask.ExecContext(ctx, task, kind, string(split), idx); err != nil {
					return errors.Wrapf(err, "failed to write %s %s mask", split, kind)
				}
				numRows++
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit partition")
	}
	klog.V(1).Infof("Saved partition %s/%s to %q: %s rows", p.Pathway, p.Task, s.path, humanize.Comma(int64(numRows)))
	return nil
}

// Tasks returns the tasks stored in the database.
func (s *Store) Tasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT task FROM meta ORDER BY task")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer func() { _ = rows.Close() }()
	var tasks []Task
	for rows.Next() {
		var task string
		if err := rows.Scan(&task); err != nil {
			return nil, errors.Wrap(err, "failed to read task")
		}
		tasks = append(tasks, Task(task))
	}
	return tasks, errors.Wrap(rows.Err(), "failed to list tasks")
}

// Load materializes the partition of the given task.
func (s *Store) Load(ctx context.Context, task Task) (*Partition, error) {
	meta, err := s.loadMeta(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, errors.Errorf("no partition for task %q in %q", task, s.path)
	}
	p := &Partition{Pathway: meta["pathway"], Task: task}
	for key, target := range map[string]*int{
		"num_nodes": &p.NumNodes, "num_features": &p.NumFeatures, "num_edges": &p.NumEdges,
	} {
		if *target, err = strconv.Atoi(meta[key]); err != nil {
			return nil, errors.Wrapf(err, "invalid %q in partition %q of %q", key, task, s.path)
		}
	}
	if p.Seed, err = strconv.ParseInt(meta["seed"], 10, 64); err != nil {
		return nil, errors.Wrapf(err, "invalid seed in partition %q of %q", task, s.path)
	}
	if p.NumNodes <= 0 || p.NumFeatures <= 0 || p.NumEdges < 0 {
		return nil, errors.Errorf("invalid dimensions in partition %q of %q: nodes=%d, features=%d, edges=%d",
			task, s.path, p.NumNodes, p.NumFeatures, p.NumEdges)
	}

	if err = s.loadFeatures(ctx, p); err != nil {
		return nil, err
	}
	if err = s.loadEdges(ctx, p); err != nil {
		return nil, err
	}
	if err = s.loadMasks(ctx, p); err != nil {
		return nil, err
	}
	if err = p.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "corrupted partition in %q", s.path)
	}
	return p, nil
}

func (s *Store) loadMeta(ctx context.Context, task Task) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM meta WHERE task = ?", string(task))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read meta of task %q", task)
	}
	defer func() { _ = rows.Close() }()
	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrapf(err, "failed to read meta of task %q", task)
		}
		meta[key] = value
	}
	return meta, errors.Wrapf(rows.Err(), "failed to read meta of task %q", task)
}

func (s *Store) loadFeatures(ctx context.Context, p *Partition) error {
	p.Features = make(map[Split]*mat.Dense, len(Splits))
	for _, split := range Splits {
		p.Features[split] = mat.NewDense(p.NumNodes, p.NumFeatures, nil)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT split, node, feature, value FROM features WHERE task = ?", string(p.Task))
	if err != nil {
		return errors.Wrapf(err, "failed to read features of task %q", p.Task)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			split         string
			node, feature int
			value         float64
		)
		if err := rows.Scan(&split, &node, &feature, &value); err != nil {
			return errors.Wrapf(err, "failed to read features of task %q", p.Task)
		}
		features, found := p.Features[Split(split)]
		if !found || node < 0 || node >= p.NumNodes || feature < 0 || feature >= p.NumFeatures {
			return errors.Errorf("invalid feature entry (%s, %d, %d) in task %q", split, node, feature, p.Task)
		}
		features.Set(node, feature, value)
	}
	return errors.Wrapf(rows.Err(), "failed to read features of task %q", p.Task)
}

func (s *Store) loadEdges(ctx context.Context, p *Partition) error {
	p.Edges = make(map[Split][][]int, len(Splits))
	for _, split := range Splits {
		p.Edges[split] = make([][]int, p.NumEdges)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT split, edge, node FROM edges WHERE task = ? ORDER BY split, edge, position", string(p.Task))
	if err != nil {
		return errors.Wrapf(err, "failed to read edges of task %q", p.Task)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			split      string
			edge, node int
		)
		if err := rows.Scan(&split, &edge, &node); err != nil {
			return errors.Wrapf(err, "failed to read edges of task %q", p.Task)
		}
		edges, found := p.Edges[Split(split)]
		if !found || edge < 0 || edge >= p.NumEdges {
			return errors.Errorf("invalid edge entry (%s, %d) in task %q", split, edge, p.Task)
		}
		edges[edge] = append(edges[edge], node)
	}
	return errors.Wrapf(rows.Err(), "failed to read edges of task %q", p.Task)
}

func (s *Store) loadMasks(ctx context.Context, p *Partition) error {
	newMasks := func(n int) *Masks {
		return &Masks{Train: make([]bool, n), Validation: make([]bool, n), Test: make([]bool, n)}
	}
	rows, err := s.db.QueryContext(ctx, "SELECT kind, split, idx FROM masks WHERE task = ?", string(p.Task))
	if err != nil {
		return errors.Wrapf(err, "failed to read masks of task %q", p.Task)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			kind, split string
			idx         int
		)
		if err := rows.Scan(&kind, &split, &idx); err != nil {
			return errors.Wrapf(err, "failed to read masks of task %q", p.Task)
		}
		var masks *Masks
		switch kind {
		case nodeMaskKind:
			if p.NodeMasks == nil {
				p.NodeMasks = newMasks(p.NumNodes)
			}
			masks = p.NodeMasks
		case edgeMaskKind:
			if p.EdgeMasks == nil {
				p.EdgeMasks = newMasks(p.NumEdges)
			}
			masks = p.EdgeMasks
		default:
			return errors.Errorf("invalid mask kind %q in task %q", kind, p.Task)
		}
		mask, err := masks.Get(Split(split))
		if err != nil || idx < 0 || idx >= len(mask) {
			return errors.Errorf("invalid mask entry (%s, %s, %d) in task %q", kind, split, idx, p.Task)
		}
		mask[idx] = true
	}
	return errors.Wrapf(rows.Err(), "failed to read masks of task %q", p.Task)
}
