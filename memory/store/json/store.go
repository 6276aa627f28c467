// Package json implements the JSON snapshot Persistence Adapter backend:
// a single file on the local filesystem, atomic write via write-to-temp
// plus rename, buffered append with a periodic flush.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/danja/semem/types"
)

// snapshot is the persisted JSON layout from spec §6.
type snapshot struct {
	Version      int                    `json:"version"`
	Dimension    int                    `json:"dimension"`
	Interactions []*types.Interaction   `json:"interactions"`
}

const currentVersion = 1

// Store is the JSON file backend. Exactly one writer process is assumed;
// cross-process safety is out of scope per spec §4.3.1.
type Store struct {
	mu        sync.Mutex
	path      string
	dimension int

	interactions map[string]*types.Interaction
	order        []string // preserves load/append order for round-trip

	dirty bool
	done  chan struct{}
}

// New opens (without yet loading) a JSON backend rooted at path.
func New(path string, dimension int, flushInterval time.Duration) *Store {
	s := &Store{
		path:         path,
		dimension:    dimension,
		interactions: make(map[string]*types.Interaction),
		done:         make(chan struct{}),
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	go s.flushLoop(flushInterval)
	return s
}

func (s *Store) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Flush(context.Background()); err != nil {
				log.Printf("[JSONSTORE] periodic flush failed: %v", err)
			}
		case <-s.done:
			return
		}
	}
}

// LoadAll reads the snapshot file. A parse failure quarantines the file
// (rename to <name>.corrupt-<unixnano>) and starts empty, surfacing a
// CorruptSnapshotRecovered warning rather than failing the call.
func (s *Store) LoadAll(ctx context.Context) ([]*types.Interaction, *types.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := &types.Outcome{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, outcome, nil
		}
		return nil, outcome, types.Wrap(types.StorageUnavailable, "read snapshot file", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixNano())
		if renameErr := os.Rename(s.path, quarantine); renameErr != nil {
			log.Printf("[JSONSTORE] failed to quarantine corrupt snapshot: %v", renameErr)
		}
		outcome.Warn(types.CorruptSnapshotRecovered, fmt.Sprintf("snapshot failed to parse, quarantined to %s", quarantine))
		return nil, outcome, nil
	}

	for _, in := range snap.Interactions {
		s.interactions[in.ID] = in
		s.order = append(s.order, in.ID)
	}

	sorted := append([]*types.Interaction(nil), snap.Interactions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	return sorted, outcome, nil
}

// Append buffers interaction in memory; it becomes durable on the next
// flush (periodic, or on Close).
func (s *Store) Append(ctx context.Context, interaction *types.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.interactions[interaction.ID]; !exists {
		s.order = append(s.order, interaction.ID)
	}
	s.interactions[interaction.ID] = interaction
	s.dirty = true
	return nil
}

// Update buffers a bookkeeping write-back the same way Append does.
func (s *Store) Update(ctx context.Context, interaction *types.Interaction) error {
	return s.Append(ctx, interaction)
}

// Query is unsupported by the JSON backend: there is no query language
// over a flat file snapshot.
func (s *Store) Query(ctx context.Context, predicate string) ([]byte, error) {
	return nil, types.NewError(types.InvalidArgument, "json backend does not support Query")
}

// Flush performs the whole-file atomic rewrite: write-to-temp then
// rename.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if !s.dirty {
		return nil
	}

	interactions := make([]*types.Interaction, 0, len(s.order))
	for _, id := range s.order {
		if in, ok := s.interactions[id]; ok {
			interactions = append(interactions, in)
		}
	}

	snap := snapshot{
		Version:      currentVersion,
		Dimension:    s.dimension,
		Interactions: interactions,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return types.Wrap(types.PersistenceFailed, "marshal snapshot", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".semem-snapshot-*.tmp")
	if err != nil {
		return types.Wrap(types.StorageUnavailable, "create temp snapshot file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return types.Wrap(types.StorageUnavailable, "write temp snapshot file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return types.Wrap(types.StorageUnavailable, "close temp snapshot file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return types.Wrap(types.StorageUnavailable, "rename temp snapshot into place", err)
	}

	s.dirty = false
	return nil
}

// Close stops the flush loop and performs a final flush.
func (s *Store) Close() error {
	close(s.done)
	return s.Flush(context.Background())
}

// Encode serializes a set of interactions into the snapshot JSON format,
// for semem.Engine's ExportSnapshot operator entry point.
func Encode(dimension int, interactions []*types.Interaction) ([]byte, error) {
	snap := snapshot{Version: currentVersion, Dimension: dimension, Interactions: interactions}
	return json.MarshalIndent(snap, "", "  ")
}

// Decode parses a snapshot produced by Encode (or any valid snapshot
// file), for semem.Engine's ImportSnapshot operator entry point.
func Decode(data []byte) (dimension int, interactions []*types.Interaction, err error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, nil, types.Wrap(types.InvalidArgument, "decode snapshot", err)
	}
	return snap.Dimension, snap.Interactions, nil
}
