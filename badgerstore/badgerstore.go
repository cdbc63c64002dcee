// Package badgerstore implements canvas.Store on an embedded badger database.
//
// Keys:
//
//	canvas/<id>                       document JSON, graph included
//	project/<project id>/<canvas id>  empty; project index
//	run/<id>                          run JSON
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"
	json "github.com/goccy/go-json"
	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

const maxConflictRetries = 5

var _ canvas.Store = (*Store)(nil)

type Option func(*Store)

// WithLogger sets the logger for the store and badger itself.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l.Named("badger")
		}
	}
}

// WithClock replaces time.Now for created and updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is a canvas.Store over a badger database.
type Store struct {
	db  *badger.DB
	log *zap.Logger
	now func() time.Time
	own bool
}

// New wraps an open database. Close leaves db open.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{db: db, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database at dir, or an in-memory one when inMemory is set.
// Close closes it.
func Open(dir string, inMemory bool, opts ...Option) (*Store, error) {
	s := New(nil, opts...)
	if inMemory {
		dir = ""
	}
	bopts := badger.DefaultOptions(dir).
		WithInMemory(inMemory).
		WithLogger(badgerLogger{s.log.Sugar()})
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("canvas: open badger: %w", err)
	}
	s.db, s.own = db, true
	return s, nil
}

// Close closes the database if Open created it.
func (s *Store) Close() error {
	if !s.own {
		return nil
	}
	return s.db.Close()
}

func canvasKey(id string) []byte { return []byte("canvas/" + id) }

func projectPrefix(projectID string) []byte { return []byte("project/" + projectID + "/") }

func projectKey(projectID, id string) []byte {
	return append(projectPrefix(projectID), id...)
}

func runKey(id string) []byte { return []byte("run/" + id) }

var runPrefix = []byte("run/")

// CreateSchema is a no-op; badger has no schema.
func (s *Store) CreateSchema(context.Context) error { return nil }

// DropSchema deletes every key.
func (s *Store) DropSchema(context.Context) error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("canvas: drop all: %w", err)
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("transaction conflict, retrying")
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

// ── Canvases ──────────────────────────────────────────────────────────

// CreateCanvas stores a new canvas at version 1.
// If doc.ID is empty, a UUID is auto-generated.
func (s *Store) CreateCanvas(_ context.Context, doc *canvas.Document) (*canvas.Document, error) {
	if err := doc.CanvasData.Validate(); err != nil {
		return nil, err
	}
	out := *doc
	if out.ID == "" {
		out.ID = canvas.NewID()
	}
	out.Version = 1
	out.CreatedAt = s.now().UTC()
	out.UpdatedAt = out.CreatedAt
	out.CanvasData = *doc.CanvasData.WithoutSelection()

	err := s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(canvasKey(out.ID)); err == nil {
			return canvas.NewValidationError("id", fmt.Sprintf("canvas %q already exists", out.ID))
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, canvasKey(out.ID), out); err != nil {
			return err
		}
		return txn.Set(projectKey(out.ProjectID, out.ID), nil)
	})
	if err != nil {
		if canvas.IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("canvas: create canvas: %w", err)
	}
	return &out, nil
}

// GetCanvas retrieves a canvas. Returns nil, nil if not found.
func (s *Store) GetCanvas(_ context.Context, id string) (*canvas.Document, error) {
	var (
		doc   canvas.Document
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, canvasKey(id), &doc)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("canvas: get canvas: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &doc, nil
}

// SaveCanvas replaces the graph of a canvas and returns its new version.
// Returns canvas.ErrNotFound if the canvas doesn't exist.
func (s *Store) SaveCanvas(_ context.Context, id string, g *canvas.Graph) (int, error) {
	if err := g.Validate(); err != nil {
		return 0, err
	}
	var version int
	err := s.update(func(txn *badger.Txn) error {
		var doc canvas.Document
		found, err := getJSON(txn, canvasKey(id), &doc)
		if err != nil {
			return err
		}
		if !found {
			return canvas.ErrNotFound
		}
		doc.Version++
		doc.UpdatedAt = s.now().UTC()
		doc.CanvasData = *g.WithoutSelection()
		version = doc.Version
		return setJSON(txn, canvasKey(id), doc)
	})
	if err != nil {
		if errors.Is(err, canvas.ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("canvas: save canvas: %w", err)
	}
	return version, nil
}

// ListCanvases returns the canvases of a project ordered by creation time,
// without their graphs. Returns an empty slice (not nil) if none found.
func (s *Store) ListCanvases(_ context.Context, projectID string) ([]canvas.Document, error) {
	docs := []canvas.Document{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := projectPrefix(projectID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			var doc canvas.Document
			found, err := getJSON(txn, canvasKey(id), &doc)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			doc.CanvasData = canvas.Graph{}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("canvas: list canvases: %w", err)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

// DeleteCanvas deletes a canvas. No error if it doesn't exist.
func (s *Store) DeleteCanvas(_ context.Context, id string) error {
	err := s.update(func(txn *badger.Txn) error {
		var doc canvas.Document
		found, err := getJSON(txn, canvasKey(id), &doc)
		if err != nil || !found {
			return err
		}
		if err := txn.Delete(projectKey(doc.ProjectID, id)); err != nil {
			return err
		}
		return txn.Delete(canvasKey(id))
	})
	if err != nil {
		return fmt.Errorf("canvas: delete canvas: %w", err)
	}
	return nil
}

// ── Runs ──────────────────────────────────────────────────────────────

// CreateRun stores a run. If run.ID is empty, a UUID is auto-generated and written back.
func (s *Store) CreateRun(_ context.Context, run *canvas.Run) error {
	if run.ID == "" {
		run.ID = canvas.NewID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	if err := s.update(func(txn *badger.Txn) error {
		return setJSON(txn, runKey(run.ID), run)
	}); err != nil {
		return fmt.Errorf("canvas: create run: %w", err)
	}
	return nil
}

// GetRun fetches a run. Returns nil, nil if not found.
func (s *Store) GetRun(_ context.Context, id string) (*canvas.Run, error) {
	var (
		run   canvas.Run
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, runKey(id), &run)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("canvas: get run: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &run, nil
}

// UpdateRun overwrites a stored run.
// Returns canvas.ErrNotFound if the run doesn't exist.
func (s *Store) UpdateRun(_ context.Context, run *canvas.Run) error {
	err := s.update(func(txn *badger.Txn) error {
		var cur canvas.Run
		found, err := getJSON(txn, runKey(run.ID), &cur)
		if err != nil {
			return err
		}
		if !found {
			return canvas.ErrNotFound
		}
		return setJSON(txn, runKey(run.ID), run)
	})
	if err != nil {
		if errors.Is(err, canvas.ErrNotFound) {
			return err
		}
		return fmt.Errorf("canvas: update run: %w", err)
	}
	return nil
}

// ListRuns returns runs matching filter, newest first.
// Returns an empty slice (not nil) if none found.
func (s *Store) ListRuns(_ context.Context, filter canvas.RunFilter) ([]canvas.Run, error) {
	runs := []canvas.Run{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(runPrefix); it.ValidForPrefix(runPrefix); it.Next() {
			var run canvas.Run
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return err
			}
			if filter.Match(run) {
				runs = append(runs, run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("canvas: list runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}
