package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const persistVersion = 1

// persistedGraph is the on-disk snapshot document. EPHEMERAL entities are
// excluded; everything else carries the fields needed to reconstruct
// lifecycle state and confidence inputs.
type persistedGraph struct {
	Version  int          `json:"version"`
	SavedAt  time.Time    `json:"saved_at"`
	Entities []EntityNode `json:"entities"`
	Actions  []ActionNode `json:"actions"`
	Focus    string       `json:"focus,omitempty"`
}

// Save writes the graph to cfg.PersistPath using a write-to-temp-file then
// atomic-rename pattern, so a crash mid-write cannot corrupt the previous
// snapshot.
func (g *Graph) Save() error {
	path := g.cfg.PersistPath
	if path == "" {
		return nil
	}

	g.mu.Lock()
	doc := persistedGraph{Version: persistVersion, SavedAt: g.clock(), Focus: g.focus}
	for _, e := range g.entities {
		if e.Lifecycle == LifecycleEphemeral {
			continue
		}
		doc.Entities = append(doc.Entities, *e.clone())
	}
	for i := range g.actions {
		doc.Actions = append(doc.Actions, g.actions[i].clone())
	}
	g.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	g.logger.Debug("graph.persisted", "path", path, "entities", len(doc.Entities))
	return nil
}

// load restores a persisted snapshot. Missing files are not an error (first
// run); the identity entity from disk never overrides a configured one
// except for learned attributes.
func (g *Graph) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	var doc persistedGraph
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range doc.Entities {
		e := doc.Entities[i]
		if e.ID == SelfID {
			// Merge learned attributes into the seeded identity without
			// replacing configured name or negative claims.
			self := g.entities[SelfID]
			for k, v := range e.Attributes {
				if _, ok := self.Attributes[k]; !ok {
					self.Attributes[k] = v
				}
			}
			self.RefCount = e.RefCount
			self.Summary = selfSummary(self.Name, self.Attributes)
			continue
		}
		g.entities[e.ID] = e.clone()
	}
	g.actions = append(g.actions, doc.Actions...)
	if w := g.cfg.ActionWindow; w > 0 && len(g.actions) > w {
		g.actions = g.actions[len(g.actions)-w:]
	}
	if doc.Focus != "" {
		g.focus = doc.Focus
	}
	g.logger.Info("graph.loaded", "path", path, "entities", len(doc.Entities), "actions", len(doc.Actions))
	return nil
}
