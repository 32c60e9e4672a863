// Package offload stores oversized tool output outside the execution loop
// and hands back an opaque handle the planner can re-query later. Results
// are chunked so queries return the relevant slices instead of the whole
// payload.
package offload

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrHandleNotFound is returned for handles that were never stored or have
// been purged.
var ErrHandleNotFound = errors.New("offload handle not found")

// Chunk is one stored slice of an offloaded payload.
type Chunk struct {
	Handle string
	Seq    int
	Text   string
	Score  float64
}

// Store is the offload collaborator contract. Implementations must be safe
// for concurrent use.
type Store interface {
	// Put stores text under a fresh opaque handle.
	Put(ctx context.Context, tool, text string) (string, error)
	// Query returns up to limit chunks of a handle ranked by relevance to
	// query; an empty query returns chunks in sequence order.
	Query(ctx context.Context, handle, query string, limit int) ([]Chunk, error)
	// Close releases underlying resources.
	Close() error
}

// chunkSize is the target size of one stored slice, cut on word boundaries.
const chunkSize = 800

// NewHandle mints an opaque offload handle.
func NewHandle() string {
	return "offload:" + uuid.NewString()
}

// splitChunks cuts text into roughly chunkSize slices on whitespace.
func splitChunks(text string) []string {
	if len(text) <= chunkSize {
		return []string{text}
	}
	var chunks []string
	words := strings.Fields(text)
	var sb strings.Builder
	for _, w := range words {
		if sb.Len() > 0 && sb.Len()+len(w)+1 > chunkSize {
			chunks = append(chunks, sb.String())
			sb.Reset()
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w)
	}
	if sb.Len() > 0 {
		chunks = append(chunks, sb.String())
	}
	return chunks
}

// scoreChunk is a naive keyword overlap score: the fraction of query terms
// present in the chunk. No embeddings involved.
func scoreChunk(text, query string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func rankChunks(chunks []Chunk, query string, limit int) []Chunk {
	if query != "" {
		for i := range chunks {
			chunks[i].Score = scoreChunk(chunks[i].Text, query)
		}
		sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	}
	if limit > 0 && len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks
}

// MemoryStore is an in-memory Store for tests and embedded use.
type MemoryStore struct {
	mu     sync.Mutex
	chunks map[string][]Chunk
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string][]Chunk)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, _, text string) (string, error) {
	handle := NewHandle()
	parts := splitChunks(text)
	chunks := make([]Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = Chunk{Handle: handle, Seq: i, Text: p}
	}
	s.mu.Lock()
	s.chunks[handle] = chunks
	s.mu.Unlock()
	return handle, nil
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, handle, query string, limit int) ([]Chunk, error) {
	s.mu.Lock()
	stored, ok := s.chunks[handle]
	s.mu.Unlock()
	if !ok {
		return nil, ErrHandleNotFound
	}
	chunks := make([]Chunk, len(stored))
	copy(chunks, stored)
	return rankChunks(chunks, query, limit), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
