// Package artifact collects the set of generated files that reviewers
// evaluate and maps reviewer file references back onto it.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/afero"
)

// skipDirs are never descended into, whatever the include patterns say.
var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
}

// Set is the artifact set under Root. Files are slash-separated paths
// relative to Root, sorted.
type Set struct {
	Root  string
	Files []string
}

// Matcher applies include and exclude patterns to relative paths.
type Matcher struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewMatcher compiles the patterns. An empty include list includes everything.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range include {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		m.include = append(m.include, g)
	}
	for _, p := range exclude {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		m.exclude = append(m.exclude, g)
	}
	return m, nil
}

// Match reports whether rel is included and not excluded. Patterns are
// tried against both "rel" and "/rel" so a leading "**/" also matches files
// at the root.
func (m *Matcher) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	rooted := "/" + rel
	for _, g := range m.exclude {
		if g.Match(rel) || g.Match(rooted) {
			return false
		}
	}
	if len(m.include) == 0 {
		return true
	}
	for _, g := range m.include {
		if g.Match(rel) || g.Match(rooted) {
			return true
		}
	}
	return false
}

// Collect walks root on fs and returns every regular file the patterns select.
// Hidden directories are skipped.
func Collect(fs afero.Fs, root string, include, exclude []string) (Set, error) {
	m, err := NewMatcher(include, exclude)
	if err != nil {
		return Set{}, err
	}

	set := Set{Root: root}
	err = afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if m.Match(rel) {
			set.Files = append(set.Files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return Set{}, fmt.Errorf("collect artifacts in %s: %w", root, err)
	}
	sort.Strings(set.Files)
	return set, nil
}

// Source re-collects the artifact set under Root with fixed patterns.
type Source struct {
	FS      afero.Fs
	Root    string
	Include []string
	Exclude []string
}

// Collect walks the source root.
func (s Source) Collect() (Set, error) {
	return Collect(s.FS, s.Root, s.Include, s.Exclude)
}

// Len returns the number of files in the set.
func (s Set) Len() int { return len(s.Files) }

// Contains reports whether rel is in the set.
func (s Set) Contains(rel string) bool {
	i := sort.SearchStrings(s.Files, rel)
	return i < len(s.Files) && s.Files[i] == rel
}

// Path returns the file-system path of rel.
func (s Set) Path(rel string) string {
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}

// Read returns up to max bytes of rel; truncated reports whether the file was
// longer. max <= 0 reads the whole file.
func (s Set) Read(fs afero.Fs, rel string, max int) (data []byte, truncated bool, err error) {
	f, err := fs.Open(s.Path(rel))
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	if max <= 0 {
		data, err = io.ReadAll(f)
		return data, false, err
	}
	data, err = io.ReadAll(io.LimitReader(f, int64(max)+1))
	if err != nil {
		return nil, false, err
	}
	if len(data) > max {
		return data[:max], true, nil
	}
	return data, false, nil
}

// Resolve maps a file reference taken from a review onto a file in the set.
// It tries an exact match, then a path-suffix match, then a unique basename,
// then a fuzzy match with the same extension. When nothing matches it
// returns the cleaned reference and false.
func (s Set) Resolve(ref string) (string, bool) {
	ref = s.clean(ref)
	if ref == "" {
		return "", false
	}
	if s.Contains(ref) {
		return ref, true
	}

	if best := s.bySuffix(ref); best != "" {
		return best, true
	}

	base := path.Base(ref)
	var byBase []string
	for _, f := range s.Files {
		if path.Base(f) == base {
			byBase = append(byBase, f)
		}
	}
	if len(byBase) == 1 {
		return byBase[0], true
	}

	for _, match := range fuzzy.Find(ref, s.Files) {
		if path.Ext(match.Str) == path.Ext(ref) {
			return match.Str, true
		}
	}
	return ref, false
}

// bySuffix returns the single file that ends with ref, or that ref ends with.
func (s Set) bySuffix(ref string) string {
	var found string
	for _, f := range s.Files {
		if strings.HasSuffix(f, "/"+ref) || strings.HasSuffix(ref, "/"+f) {
			if found != "" {
				return ""
			}
			found = f
		}
	}
	return found
}

func (s Set) clean(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.Trim(ref, "`'\"")
	ref = strings.ReplaceAll(ref, "\\", "/")
	if s.Root != "" {
		root := filepath.ToSlash(filepath.Clean(s.Root)) + "/"
		ref = strings.TrimPrefix(ref, root)
	}
	ref = strings.TrimPrefix(ref, "./")
	if ref == "" {
		return ""
	}
	return path.Clean(ref)
}
