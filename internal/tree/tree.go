// Package tree owns the on-disk category/subcategory layout under the context root.
package tree

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/taxonomy"
)

const (
	// DefaultDirName is the directory created under the repository root.
	DefaultDirName = ".codex-context"
	// DescriptionFile is written once per leaf and is never treated as a chunk.
	DescriptionFile = "README.md"

	vcsMarker = ".git"
)

// Error is returned for I/O failures the manager does not expect to recover from.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tree: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// InitResult reports what InitializeTree did.
type InitResult struct {
	Success              bool     `json:"success"`
	CategoriesCreated    int      `json:"categories_created"`
	SubcategoriesCreated int      `json:"subcategories_created"`
	Errors               []string `json:"errors"`
}

// Validation reports the state of the tree on disk.
type Validation struct {
	IsValid            bool     `json:"is_valid"`
	MissingDirectories []string `json:"missing_directories"`
	InvalidFiles       []string `json:"invalid_files"`
	RepairActions      []string `json:"repair_actions"`
}

// Stats is a scan-based count of files on disk.
type Stats struct {
	Categories      int            `json:"categories"`
	Subcategories   int            `json:"subcategories"`
	TotalFiles      int            `json:"total_files"`
	FilesByCategory map[string]int `json:"files_by_category"`
}

// Manager resolves the context root and maintains the directory tree under it.
type Manager struct {
	startDir string
	dirName  string
	logger   *slog.Logger

	once sync.Once
	root string
}

// Option configures a Manager.
type Option func(*Manager)

// WithDirName overrides DefaultDirName.
func WithDirName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.dirName = name
		}
	}
}

// WithLogger sets the logger used for per-bucket failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager that discovers its root starting at startDir.
func NewManager(startDir string, opts ...Option) *Manager {
	m := &Manager{
		startDir: startDir,
		dirName:  DefaultDirName,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the context root, discovering it on first use.
func (m *Manager) Root() string {
	m.once.Do(func() {
		m.root = DiscoverRoot(m.startDir, m.dirName)
	})
	return m.root
}

// DiscoverRoot walks upward from startDir looking for a version-control directory.
// The context root sits inside the first directory that has one, or inside startDir
// when the walk reaches the filesystem root without finding it.
func DiscoverRoot(startDir, dirName string) string {
	start, err := filepath.Abs(startDir)
	if err != nil {
		start = filepath.Clean(startDir)
	}
	for dir := start; ; {
		if info, err := os.Stat(filepath.Join(dir, vcsMarker)); err == nil && info.IsDir() {
			return filepath.Join(dir, dirName)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return filepath.Join(start, dirName)
}

// LeafPath returns the absolute directory of a bucket.
func (m *Manager) LeafPath(category, subcategory string) string {
	return filepath.Join(m.Root(), category, subcategory)
}

// InitializeTree creates the root, every category and leaf directory, and a description
// file per leaf when absent. Existing content is never touched. Failures are collected per
// bucket and the remaining buckets are still attempted.
func (m *Manager) InitializeTree() InitResult {
	res := InitResult{Errors: []string{}}
	root := m.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("create root %s: %v", root, err))
		m.logger.Error("tree: create root failed", slog.String("path", root), slog.String("error", err.Error()))
		return res
	}

	for _, cat := range taxonomy.Categories() {
		catPath := filepath.Join(root, cat)
		created, err := ensureDir(catPath)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("create category %s: %v", cat, err))
			m.logger.Warn("tree: create category failed", slog.String("category", cat), slog.String("error", err.Error()))
			continue
		}
		if created {
			res.CategoriesCreated++
		}
		for _, sub := range taxonomy.Subcategories(cat) {
			leaf, _ := taxonomy.Lookup(cat, sub)
			if err := m.initLeaf(leaf, &res); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("create %s: %v", leaf.Key(), err))
				m.logger.Warn("tree: create leaf failed", slog.String("bucket", leaf.Key()), slog.String("error", err.Error()))
			}
		}
	}
	res.Success = len(res.Errors) == 0
	return res
}

func (m *Manager) initLeaf(leaf taxonomy.Leaf, res *InitResult) error {
	dir := m.LeafPath(leaf.Category, leaf.Subcategory)
	created, err := ensureDir(dir)
	if err != nil {
		return err
	}
	if created {
		res.SubcategoriesCreated++
	}
	desc := filepath.Join(dir, DescriptionFile)
	f, err := os.OpenFile(desc, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "# %s\n\n%s\n\nFiles in this directory are managed by ctxstore.\n", leaf.Key(), leaf.Description)
	return err
}

// ensureDir creates dir if it is missing. It reports whether it created it and fails
// without modification when the path exists as something other than a directory.
func ensureDir(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("%s exists and is not a directory", dir)
		}
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	return true, nil
}

// ValidateTree checks that every leaf exists as a directory. Paths that exist as regular
// files are reported as invalid and left alone.
func (m *Manager) ValidateTree() Validation {
	v := Validation{
		MissingDirectories: []string{},
		InvalidFiles:       []string{},
		RepairActions:      []string{},
	}
	for _, cat := range taxonomy.Categories() {
		catPath := filepath.Join(m.Root(), cat)
		catState := pathState(catPath)
		if catState == stateFile {
			v.InvalidFiles = append(v.InvalidFiles, catPath)
			v.RepairActions = append(v.RepairActions, "resolve conflicting file manually: "+catPath)
		}
		for _, sub := range taxonomy.Subcategories(cat) {
			leafPath := filepath.Join(catPath, sub)
			state := stateMissing
			if catState == stateDir {
				state = pathState(leafPath)
			}
			switch state {
			case stateMissing:
				v.MissingDirectories = append(v.MissingDirectories, leafPath)
				if catState != stateFile {
					v.RepairActions = append(v.RepairActions, "create directory: "+leafPath)
				}
			case stateFile:
				v.InvalidFiles = append(v.InvalidFiles, leafPath)
				v.RepairActions = append(v.RepairActions, "resolve conflicting file manually: "+leafPath)
			}
		}
	}
	v.IsValid = len(v.MissingDirectories) == 0 && len(v.InvalidFiles) == 0
	return v
}

type entryState int

const (
	stateMissing entryState = iota
	stateDir
	stateFile
)

func pathState(p string) entryState {
	info, err := os.Stat(p)
	switch {
	case err != nil:
		return stateMissing
	case info.IsDir():
		return stateDir
	default:
		return stateFile
	}
}

// RepairTree fills in missing directories. Conflicting files are only reported, never
// removed, so the tree stays invalid until someone resolves them. A nil validation is
// computed first. It returns true when the tree validates after the repair.
func (m *Manager) RepairTree(v *Validation) bool {
	if v == nil {
		current := m.ValidateTree()
		v = &current
	}
	if v.IsValid {
		return true
	}
	for _, p := range v.InvalidFiles {
		m.logger.Warn("tree: conflicting file needs manual resolution", slog.String("path", p))
	}
	if len(v.MissingDirectories) > 0 {
		res := m.InitializeTree()
		m.logger.Info("tree: repaired",
			slog.Int("categories_created", res.CategoriesCreated),
			slog.Int("subcategories_created", res.SubcategoriesCreated),
			slog.Int("errors", len(res.Errors)))
	}
	return m.ValidateTree().IsValid
}

// ListFiles returns the absolute paths of chunk files in a bucket, sorted by name.
// An empty subcategory lists every leaf of the category. Missing directories, and leaf
// paths taken by a regular file, yield no files rather than an error; ValidateTree
// reports the conflict.
func (m *Manager) ListFiles(category, subcategory string) ([]string, error) {
	var subs []string
	if subcategory == "" {
		subs = taxonomy.Subcategories(category)
		if subs == nil {
			return nil, fmt.Errorf("tree: category %q: %w", category, apperr.ErrInvalidTaxonomy)
		}
	} else {
		if !taxonomy.Contains(category, subcategory) {
			return nil, fmt.Errorf("tree: %s: %w", taxonomy.Key(category, subcategory), apperr.ErrInvalidTaxonomy)
		}
		subs = []string{subcategory}
	}

	var out []string
	for _, sub := range subs {
		dir := m.LeafPath(category, sub)
		if pathState(dir) == stateFile {
			m.logger.Warn("tree: bucket path is a file", slog.String("path", dir))
			continue
		}
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &Error{Op: "list", Path: dir, Err: err}
		}
		for _, e := range entries {
			if IsChunkFile(e.Name()) && e.Type().IsRegular() {
				out = append(out, filepath.Join(dir, e.Name()))
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// IsChunkFile reports whether a file name looks like persisted chunk content.
func IsChunkFile(name string) bool {
	return strings.HasSuffix(name, ".md") && name != DescriptionFile && !strings.HasPrefix(name, ".")
}

// Stats counts directories and chunk files on disk.
func (m *Manager) Stats() (Stats, error) {
	st := Stats{FilesByCategory: make(map[string]int)}
	for _, cat := range taxonomy.Categories() {
		if pathState(filepath.Join(m.Root(), cat)) != stateDir {
			continue
		}
		st.Categories++
		for _, sub := range taxonomy.Subcategories(cat) {
			if pathState(m.LeafPath(cat, sub)) == stateDir {
				st.Subcategories++
			}
		}
		files, err := m.ListFiles(cat, "")
		if err != nil {
			return st, err
		}
		st.FilesByCategory[cat] = len(files)
		st.TotalFiles += len(files)
	}
	return st, nil
}
