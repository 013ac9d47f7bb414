// Package artifact persists step outputs.
//
// Every backend implements pipeline.ArtifactSink, so a step configured with
// pipeline.Persist writes through it, and Load reads an artifact back from
// the reference carried in the run context.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/scttfrdmn/pipekit/pipeline"
)

// Backend names accepted by New.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// TimestampLayout renders artifact name prefixes as yymmdd_HHMMSS.
const TimestampLayout = "060102_150405"

// ErrNotFound is returned by Load for an unknown reference.
var ErrNotFound = errors.New("artifact not found")

// Store persists and loads artifacts.
type Store interface {
	pipeline.ArtifactSink
	Load(ctx context.Context, ref pipeline.ArtifactRef) ([]byte, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Dir is the output folder of the file backend.
	Dir string
	// RedisURL is the connection URL of the redis backend.
	RedisURL string
	// Prefix namespaces redis keys. Default: "pipekit:artifact".
	Prefix string
	// TTL expires redis artifacts; zero keeps them.
	TTL time.Duration
}

// New creates the store named by cfg.Backend. An empty backend means file.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		dir := cfg.Dir
		if dir == "" {
			dir = "output"
		}
		return NewFileStore(dir)
	case BackendRedis:
		return NewRedisStore(cfg.RedisURL, cfg.Prefix, cfg.TTL)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}

// cleanName reduces an artifact name to a safe file name component.
func cleanName(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid artifact name")
	}
	return name, nil
}
