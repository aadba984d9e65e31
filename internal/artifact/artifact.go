// Package artifact implements the content-addressed Artifact directory
// layout from core spec §3/§4.2: files/, buildtree/, logs/, meta/.
// Grounded in dalec's metadata-assembly conventions (its artifacts.go
// and image.go both build up well-known directories before committing
// them) and its consistent use of github.com/goccy/go-yaml for
// metadata files.
package artifact

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/forgebuild/forge/internal/casstore"
)

const (
	dirFiles     = "files"
	dirBuildtree = "buildtree"
	dirLogs      = "logs"
	dirMeta      = "meta"

	fileBuildLog     = "build.log"
	filePublicData   = "public.yaml"
	fileBuildResult  = "build-result.yaml"
	fileKeys         = "keys.yaml"
	fileDependencies = "dependencies.yaml"
	fileWorkspaced   = "workspaced.yaml"
)

// BuildResult records whether the element's build succeeded, per
// core spec §3's build-result.yaml shape. A cached failure (Success
// == false) is a legitimate terminal state, not an error.
type BuildResult struct {
	Success     bool   `yaml:"success"`
	Description string `yaml:"description"`
	Detail      string `yaml:"detail,omitempty"`
}

// Keys records the two cache keys an artifact was committed under.
type Keys struct {
	Strong string `yaml:"strong"`
	Weak   string `yaml:"weak"`
}

// CacheLevel controls how thoroughly Cached() checks the files/
// subtree: DirectoriesOnly only requires the tree spine to be present
// (cheap, used for "is this artifact's shape known" checks), while
// FilesAndContents requires every leaf blob too.
type CacheLevel int

const (
	DirectoriesOnly CacheLevel = iota
	FilesAndContents
)

// Store assembles, commits, and reads back Artifacts in a content
// store. One Store serves every element in a session.
type Store struct {
	cas *casstore.Store
	// refs maps a cache key to the digest of the artifact root
	// directory committed under it. Held in memory only; nothing is
	// written under cas/refs/, so refs do not survive the Store.
	refs map[string]digest.Digest
}

func NewStore(cas *casstore.Store) *Store {
	return &Store{cas: cas, refs: make(map[string]digest.Digest)}
}

// CacheInput bundles everything cache() needs to assemble an artifact,
// mirroring the Artifact.cache() signature in core spec §4.2.
type CacheInput struct {
	// RootDir is the already-staged files/ content (the build output),
	// or empty if this element produces no output.
	RootDir string
	// SandboxBuildDir is the optional staged buildtree/ content.
	SandboxBuildDir string
	// BuildLog is the captured build log content.
	BuildLog []byte
	Result   BuildResult
	Keys     Keys
	// Dependencies maps each build-dep name to the strong key its
	// artifact was built under.
	Dependencies map[string]string
	PublicData   map[string]any
	Workspaced   bool
}

// Cache assembles the artifact tree described by in and commits it to
// the content store under every key in keys, returning the total size
// in bytes of the regular files in the assembled tree (files/,
// buildtree/, logs/ and meta/ together; directory blobs not counted).
func (s *Store) Cache(in CacheInput, keys ...string) (int64, error) {
	work, err := os.MkdirTemp("", "forge-artifact-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(work)

	metaDir := filepath.Join(work, dirMeta)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return 0, err
	}

	if err := writeYAML(filepath.Join(metaDir, filePublicData), in.PublicData); err != nil {
		return 0, err
	}
	if err := writeYAML(filepath.Join(metaDir, fileBuildResult), in.Result); err != nil {
		return 0, err
	}
	if err := writeYAML(filepath.Join(metaDir, fileKeys), in.Keys); err != nil {
		return 0, err
	}
	if err := writeYAML(filepath.Join(metaDir, fileDependencies), in.Dependencies); err != nil {
		return 0, err
	}
	if err := writeYAML(filepath.Join(metaDir, fileWorkspaced), map[string]bool{"workspaced": in.Workspaced}); err != nil {
		return 0, err
	}

	logsDir := filepath.Join(work, dirLogs)
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(filepath.Join(logsDir, fileBuildLog), in.BuildLog, 0o644); err != nil {
		return 0, err
	}

	if in.RootDir != "" {
		if err := copyTree(in.RootDir, filepath.Join(work, dirFiles)); err != nil {
			return 0, err
		}
	}
	if in.SandboxBuildDir != "" {
		if err := copyTree(in.SandboxBuildDir, filepath.Join(work, dirBuildtree)); err != nil {
			return 0, err
		}
	}

	root, err := s.cas.AddTree(work)
	if err != nil {
		return 0, err
	}

	for _, k := range keys {
		s.refs[k] = root
	}

	return treeSize(work)
}

// Cached reports whether an artifact is present under key. At
// FilesAndContents every directory and file blob of the artifact,
// meta/ and files/ included, must be present. At DirectoriesOnly only
// the directory blobs are checked; the file blobs of meta/ are not.
func (s *Store) Cached(key string, level CacheLevel) bool {
	root, ok := s.refs[key]
	if !ok {
		return false
	}
	return s.cas.ContainsDirectory(root, level == FilesAndContents)
}

// CachedBuildtree reports whether this key's artifact carries a
// buildtree/ subtree at all. Its absence never invalidates the
// artifact (core spec §3).
func (s *Store) CachedBuildtree(key string) bool {
	root, ok := s.refs[key]
	if !ok {
		return false
	}
	tmp, err := os.MkdirTemp("", "forge-buildtree-")
	if err != nil {
		return false
	}
	defer os.RemoveAll(tmp)
	if err := s.cas.Extract(root, tmp); err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(tmp, dirBuildtree))
	return err == nil
}

// CachedLogs reports whether the artifact under key has its logs/
// captured, which is true for any artifact committed through Cache.
func (s *Store) CachedLogs(key string) bool {
	_, ok := s.refs[key]
	return ok
}

// GetFiles materializes the files/ subtree of the artifact under key
// to dest and returns nil, or an error if the key is unknown or files/
// is absent.
func (s *Store) GetFiles(key, dest string) error {
	return s.extractSubdir(key, dirFiles, dest)
}

// GetBuildtree materializes the buildtree/ subtree under key to dest.
func (s *Store) GetBuildtree(key, dest string) error {
	return s.extractSubdir(key, dirBuildtree, dest)
}

func (s *Store) extractSubdir(key, sub, dest string) error {
	root, ok := s.refs[key]
	if !ok {
		return errors.Errorf("artifact: unknown key %s", key)
	}
	tmp, err := os.MkdirTemp("", "forge-extract-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	if err := s.cas.Extract(root, tmp); err != nil {
		return err
	}
	srcSub := filepath.Join(tmp, sub)
	if _, err := os.Stat(srcSub); err != nil {
		return errors.Wrapf(err, "artifact: %s has no %s/", key, sub)
	}
	return copyTree(srcSub, dest)
}

// LoadPublicData reads back meta/public.yaml for key.
func (s *Store) LoadPublicData(key string) (map[string]any, error) {
	var out map[string]any
	err := s.loadMeta(key, filePublicData, &out)
	return out, err
}

// LoadBuildResult reads back meta/build-result.yaml for key.
func (s *Store) LoadBuildResult(key string) (BuildResult, error) {
	var out BuildResult
	err := s.loadMeta(key, fileBuildResult, &out)
	return out, err
}

// LoadKeys reads back meta/keys.yaml for key.
func (s *Store) LoadKeys(key string) (Keys, error) {
	var out Keys
	err := s.loadMeta(key, fileKeys, &out)
	return out, err
}

// LoadDependencies reads back meta/dependencies.yaml for key.
func (s *Store) LoadDependencies(key string) (map[string]string, error) {
	var out map[string]string
	err := s.loadMeta(key, fileDependencies, &out)
	return out, err
}

func (s *Store) loadMeta(key, filename string, out any) error {
	root, ok := s.refs[key]
	if !ok {
		return errors.Errorf("artifact: unknown key %s", key)
	}
	tmp, err := os.MkdirTemp("", "forge-meta-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	if err := s.cas.Extract(root, tmp); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(tmp, dirMeta, filename))
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, fi.Mode())
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, fi.Mode())
	})
}
