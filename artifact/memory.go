package artifact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// MemoryStore keeps artifacts in memory under deterministic URIs
// "mem://<n>_<name>", n counting from 1. Used for tests and dry runs.
type MemoryStore struct {
	mu    sync.RWMutex
	next  int
	items map[string][]byte
}

// Verify that MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// Store implements pipeline.ArtifactSink.
func (s *MemoryStore) Store(ctx context.Context, name string, content []byte) (pipeline.ArtifactRef, error) {
	name, err := cleanName(name)
	if err != nil {
		return pipeline.ArtifactRef{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	uri := fmt.Sprintf("mem://%d_%s", s.next, name)
	s.items[uri] = append([]byte(nil), content...)
	return pipeline.ArtifactRef{Name: name, URI: uri, Size: int64(len(content))}, nil
}

// Load returns a copy of a stored artifact.
func (s *MemoryStore) Load(ctx context.Context, ref pipeline.ArtifactRef) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.items[ref.URI]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref.URI, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// URIs lists stored artifacts in store order.
func (s *MemoryStore) URIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]string, 0, len(s.items))
	for uri := range s.items {
		uris = append(uris, uri)
	}
	sort.Slice(uris, func(i, j int) bool { return seq(uris[i]) < seq(uris[j]) })
	return uris
}

func seq(uri string) int {
	var n int
	fmt.Sscanf(strings.TrimPrefix(uri, "mem://"), "%d_", &n)
	return n
}
