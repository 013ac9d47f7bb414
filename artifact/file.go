package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// maxCollisions bounds the numeric suffixes tried for one timestamp.
const maxCollisions = 1000

// FileStore writes artifacts to <dir>/<yymmdd_HHMMSS>_<name>.
//
// Files are created exclusively. When two artifacts with the same name land
// in the same second the later one gets a numeric suffix
// (<stamp>_<stem>_2<ext>), so an existing file is never overwritten.
type FileStore struct {
	dir string
	now func() time.Time
}

// Verify that FileStore implements Store interface.
var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store writing into it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Dir returns the output directory.
func (s *FileStore) Dir() string { return s.dir }

// Store implements pipeline.ArtifactSink.
func (s *FileStore) Store(ctx context.Context, name string, content []byte) (pipeline.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.ArtifactRef{}, err
	}
	name, err := cleanName(name)
	if err != nil {
		return pipeline.ArtifactRef{}, err
	}

	stamp := s.now().Format(TimestampLayout)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for n := 1; n <= maxCollisions; n++ {
		file := fmt.Sprintf("%s_%s", stamp, name)
		if n > 1 {
			file = fmt.Sprintf("%s_%s_%d%s", stamp, stem, n, ext)
		}
		path := filepath.Join(s.dir, file)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return pipeline.ArtifactRef{}, fmt.Errorf("failed to create artifact file: %w", err)
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			os.Remove(path)
			return pipeline.ArtifactRef{}, fmt.Errorf("failed to write artifact file: %w", err)
		}
		if err := f.Close(); err != nil {
			return pipeline.ArtifactRef{}, fmt.Errorf("failed to close artifact file: %w", err)
		}
		return pipeline.ArtifactRef{Name: name, URI: path, Size: int64(len(content))}, nil
	}
	return pipeline.ArtifactRef{}, fmt.Errorf("too many artifacts named %q at %s", name, stamp)
}

// Load reads the artifact file named by ref.URI.
func (s *FileStore) Load(ctx context.Context, ref pipeline.ArtifactRef) ([]byte, error) {
	data, err := os.ReadFile(strings.TrimPrefix(ref.URI, "file://"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ref.URI, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}
