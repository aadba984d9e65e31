package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/forgebuild/forge/internal/casstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	cas, err := casstore.Open(t.TempDir())
	assert.NilError(t, err)
	return NewStore(cas)
}

func TestCacheAndGetFilesRoundTrip(t *testing.T) {
	t.Parallel()

	files := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(files, "out.bin"), []byte("payload"), 0o644))

	s := newStore(t)
	size, err := s.Cache(CacheInput{
		RootDir: files,
		Result:  BuildResult{Success: true, Description: "ok"},
		Keys:    Keys{Strong: "strong1", Weak: "weak1"},
	}, "strong1", "weak1")
	assert.NilError(t, err)
	assert.Assert(t, size > 0)

	assert.Assert(t, s.Cached("strong1", FilesAndContents))
	assert.Assert(t, s.Cached("weak1", FilesAndContents))
	assert.Assert(t, !s.Cached("missing", FilesAndContents))

	dest := t.TempDir()
	assert.NilError(t, s.GetFiles("strong1", dest))
	data, err := os.ReadFile(filepath.Join(dest, "out.bin"))
	assert.NilError(t, err)
	assert.Equal(t, string(data), "payload")
}

func TestCacheRecordsBuildResultAndKeys(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	_, err := s.Cache(CacheInput{
		Result: BuildResult{Success: false, Description: "compile failed", Detail: "exit 1"},
		Keys:   Keys{Strong: "s", Weak: "w"},
	}, "s")
	assert.NilError(t, err)

	res, err := s.LoadBuildResult("s")
	assert.NilError(t, err)
	assert.Assert(t, !res.Success)
	assert.Equal(t, res.Description, "compile failed")

	keys, err := s.LoadKeys("s")
	assert.NilError(t, err)
	assert.Equal(t, keys.Strong, "s")
	assert.Equal(t, keys.Weak, "w")
}

func TestCacheRecordsDependenciesAndPublicData(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	_, err := s.Cache(CacheInput{
		Result:       BuildResult{Success: true},
		Keys:         Keys{Strong: "s"},
		Dependencies: map[string]string{"base.fge": "basekey"},
		PublicData:   map[string]any{"version": "1.0"},
	}, "s")
	assert.NilError(t, err)

	deps, err := s.LoadDependencies("s")
	assert.NilError(t, err)
	assert.Equal(t, deps["base.fge"], "basekey")

	pub, err := s.LoadPublicData("s")
	assert.NilError(t, err)
	assert.Equal(t, pub["version"], "1.0")
}

func TestCachedBuildtreeAbsentWhenNotStaged(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	_, err := s.Cache(CacheInput{Result: BuildResult{Success: true}, Keys: Keys{Strong: "s"}}, "s")
	assert.NilError(t, err)

	assert.Assert(t, !s.CachedBuildtree("s"))
	assert.Assert(t, s.CachedLogs("s"))

	err = s.GetBuildtree("s", t.TempDir())
	assert.ErrorContains(t, err, "has no buildtree/")
}

func TestGetFilesUnknownKeyErrors(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	err := s.GetFiles("nope", t.TempDir())
	assert.ErrorContains(t, err, "unknown key")
}
