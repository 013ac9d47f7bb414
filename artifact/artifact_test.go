package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/pipekit/pipeline"
)

func fixedClock() func() time.Time {
	at := time.Date(2025, 3, 7, 14, 5, 9, 0, time.Local)
	return func() time.Time { return at }
}

func TestFileStoreNaming(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	s.now = fixedClock()
	ctx := context.Background()

	ref, err := s.Store(ctx, "sql_query.txt", []byte("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "250307_140509_sql_query.txt"), ref.URI)
	assert.Equal(t, "sql_query.txt", ref.Name)
	assert.EqualValues(t, 8, ref.Size)

	// Same name in the same second never overwrites.
	ref2, err := s.Store(ctx, "sql_query.txt", []byte("SELECT 2"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "250307_140509_sql_query_2.txt"), ref2.URI)

	first, err := s.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", string(first))
	second, err := os.ReadFile(ref2.URI)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", string(second))
}

func TestFileStoreRejectsBadNames(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"", "  ", "."} {
		_, err := s.Store(context.Background(), name, []byte("x"))
		assert.Error(t, err, "name %q", name)
	}

	// Path components are stripped.
	ref, err := s.Store(context.Background(), "../../escape.txt", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, s.Dir(), filepath.Dir(ref.URI))
}

func TestFileStoreLoadMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Load(context.Background(), pipeline.ArtifactRef{URI: filepath.Join(s.Dir(), "nope")})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.Store(ctx, "report.html", []byte("<html>"))
	require.NoError(t, err)
	b, err := s.Store(ctx, "report.html", []byte("<html>v2"))
	require.NoError(t, err)
	assert.Equal(t, "mem://1_report.html", a.URI)
	assert.Equal(t, "mem://2_report.html", b.URI)
	assert.Equal(t, []string{a.URI, b.URI}, s.URIs())

	data, err := s.Load(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "<html>v2", string(data))

	_, err = s.Load(ctx, pipeline.ArtifactRef{URI: "mem://9_x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew(t *testing.T) {
	fs, err := New(Config{Dir: filepath.Join(t.TempDir(), "out")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, fs)

	ms, err := New(Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, ms)

	_, err = New(Config{Backend: BackendRedis})
	assert.Error(t, err, "redis needs a URL")
	_, err = New(Config{Backend: BackendRedis, RedisURL: "http://bad"})
	assert.Error(t, err)
	_, err = New(Config{Backend: "s3"})
	assert.Error(t, err)
}

func TestRedisStoreRejectsForeignURI(t *testing.T) {
	s := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "", 0)
	defer s.Close()
	_, err := s.Load(context.Background(), pipeline.ArtifactRef{URI: "mem://1_x"})
	assert.Error(t, err)
}

// TestRedisStore runs against a live server when PIPEKIT_TEST_REDIS_URL is set.
func TestRedisStore(t *testing.T) {
	url := os.Getenv("PIPEKIT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PIPEKIT_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(url, "pipekit:test", time.Minute)
	require.NoError(t, err)
	defer s.Close()
	s.now = fixedClock()
	ctx := context.Background()

	ref, err := s.Store(ctx, "swot.txt", []byte("strengths"))
	require.NoError(t, err)
	defer s.client.Del(ctx, ref.URI[len("redis://"):])
	assert.Equal(t, "redis://pipekit:test:250307_140509_swot.txt", ref.URI)

	ref2, err := s.Store(ctx, "swot.txt", []byte("weaknesses"))
	require.NoError(t, err)
	defer s.client.Del(ctx, ref2.URI[len("redis://"):])
	assert.NotEqual(t, ref.URI, ref2.URI)

	data, err := s.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "strengths", string(data))

	_, err = s.Load(ctx, pipeline.ArtifactRef{URI: "redis://pipekit:test:missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistedStepWritesThroughStore(t *testing.T) {
	store := NewMemoryStore()
	step, err := pipeline.NewStep("writer", "sql_ref",
		pipeline.WorkerFunc(func(ctx context.Context, in pipeline.View) (any, error) {
			return "SELECT * FROM courses", nil
		}),
		pipeline.Reads("request"),
		pipeline.Persist(store, "sql_query.txt"),
		pipeline.AsReference(),
	)
	require.NoError(t, err)
	p, err := pipeline.New("persist", pipeline.NewSequential("root", step), pipeline.WithInitialKeys("request"))
	require.NoError(t, err)

	res, err := p.Run(context.Background(), map[string]any{"request": "all courses"})
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 1)

	v, ok := res.Context.Get("sql_ref")
	require.True(t, ok)
	ref, ok := v.(pipeline.ArtifactRef)
	require.True(t, ok, "AsReference stores the reference")
	data, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM courses", string(data))
}
