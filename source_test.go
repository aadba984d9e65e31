package forge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestLocalSourceIsAlwaysCached(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))

	s := &LocalSource{SourceName: "repo", Path: dir}
	assert.Equal(t, s.Consistency(), Cached)
	assert.NilError(t, s.Track(context.Background()))

	key, err := s.UniqueKey()
	assert.NilError(t, err)
	assert.Assert(t, key != "")
}

func TestLocalSourceFetchCopiesTree(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("contents"), 0o644))

	s := &LocalSource{SourceName: "repo", Path: src}
	dest := t.TempDir()
	assert.NilError(t, s.Fetch(context.Background(), dest))

	data, err := os.ReadFile(filepath.Join(dest, "f.txt"))
	assert.NilError(t, err)
	assert.Equal(t, string(data), "contents")
}

func TestSourceConsistencyOfTakesMinimum(t *testing.T) {
	t.Parallel()

	cached := &LocalSource{SourceName: "a", Path: t.TempDir()}
	inconsistent := &GitSource{SourceName: "b", URL: "https://example.invalid/repo.git", Ref: "main"}

	got := SourceConsistencyOf([]Source{cached, inconsistent})
	assert.Equal(t, got, Inconsistent)
}

func TestSourceConsistencyOfEmptyIsCached(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SourceConsistencyOf(nil), Cached)
}

func TestGitSourceResolvedRefIsResolvedNotCached(t *testing.T) {
	t.Parallel()

	s := &GitSource{SourceName: "repo", URL: "https://example.invalid/repo.git", Ref: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}
	assert.Equal(t, s.Consistency(), Resolved)
}
