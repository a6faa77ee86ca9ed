package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
	"github.com/Iron-Ham/stepflow/internal/logging"
)

const (
	completeSuffix  = "_complete.zip"
	selectiveSuffix = ".zip"
	stagingPrefix   = ".restore-"
)

// Options configures a Store.
type Options struct {
	// ProjectDir is the tree that gets archived and restored.
	ProjectDir string
	// Dir holds the archives. Relative paths are resolved against
	// ProjectDir; a Dir inside the project is excluded automatically.
	Dir string
	// Exclude lists top-level entries of the project that are neither
	// archived nor touched by a restore.
	Exclude []string
	// CompressionLevel is passed to the deflate writer.
	CompressionLevel int
}

// Info describes one archive on disk.
type Info struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store manages the archives of one project. It is not safe for concurrent
// mutation; the orchestrator serialises all calls.
type Store struct {
	root    string
	dir     string
	exclude map[string]bool
	level   int
	logger  *logging.Logger
}

// NewStore creates the archive directory if needed and returns a Store.
func NewStore(opts Options, logger *logging.Logger) (*Store, error) {
	root, err := filepath.Abs(opts.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project dir: %w", err)
	}
	dir := opts.Dir
	if dir == "" {
		dir = ".snapshots"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	level := opts.CompressionLevel
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.BestSpeed
	}

	s := &Store{
		root:    root,
		dir:     dir,
		exclude: make(map[string]bool),
		level:   level,
		logger:  logging.OrNop(logger).WithComponent("snapshot"),
	}
	for _, e := range opts.Exclude {
		e = strings.Trim(filepath.ToSlash(e), "/")
		if e != "" {
			s.exclude[e] = true
		}
	}
	if rel, err := filepath.Rel(root, dir); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
		s.exclude[strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]] = true
	}
	return s, nil
}

// Dir returns the absolute archive directory.
func (s *Store) Dir() string { return s.dir }

// ProjectDir returns the absolute project root.
func (s *Store) ProjectDir() string { return s.root }

func (s *Store) completePath(name string) string {
	return filepath.Join(s.dir, name+completeSuffix)
}

func (s *Store) selectivePath(stepID string) string {
	return filepath.Join(s.dir, stepID+selectiveSuffix)
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return sferrors.NewValidationError("invalid snapshot name").WithField("name").WithValue(name)
	}
	return nil
}

// excluded reports whether the slash-separated relative path falls under
// an excluded top-level entry or a restore staging dir.
func (s *Store) excluded(rel string) bool {
	top := strings.SplitN(rel, "/", 2)[0]
	return s.exclude[top] || strings.HasPrefix(top, stagingPrefix)
}

// TakeComplete archives the whole project under name, replacing any
// existing archive of that name.
func (s *Store) TakeComplete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	start := time.Now()
	if err := s.writeArchive(s.completePath(name), []string{"."}, s.excluded); err != nil {
		return sferrors.NewSnapshotError("failed to take snapshot", err).WithName(name)
	}
	s.logger.Info("snapshot taken", "name", name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// RestoreComplete replaces the project's contents with archive name.
// Excluded entries are left alone. The archive is fully extracted into a
// staging dir before the live tree is touched.
func (s *Store) RestoreComplete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	src := s.completePath(name)
	if _, err := os.Stat(src); err != nil {
		return sferrors.NewSnapshotError("snapshot not found", sferrors.ErrSnapshotNotFound).WithName(name)
	}

	staging := filepath.Join(s.root, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0755); err != nil {
		return sferrors.NewSnapshotError("failed to create staging dir", err).WithName(name)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := extractArchive(src, staging); err != nil {
		return sferrors.NewSnapshotError("failed to extract snapshot", err).WithName(name)
	}

	live, err := os.ReadDir(s.root)
	if err != nil {
		return sferrors.NewSnapshotError("failed to read project dir", err).WithName(name)
	}
	for _, e := range live {
		if s.excluded(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return sferrors.NewSnapshotError("failed to clear project entry", err).WithName(name)
		}
	}

	staged, err := os.ReadDir(staging)
	if err != nil {
		return sferrors.NewSnapshotError("failed to read staging dir", err).WithName(name)
	}
	for _, e := range staged {
		if s.excluded(e.Name()) {
			continue
		}
		if err := os.Rename(filepath.Join(staging, e.Name()), filepath.Join(s.root, e.Name())); err != nil {
			return sferrors.NewSnapshotError("failed to move restored entry into place", err).WithName(name)
		}
	}

	s.logger.Info("snapshot restored", "name", name)
	return nil
}

// Exists reports whether a complete archive named name exists.
func (s *Store) Exists(name string) bool {
	if checkName(name) != nil {
		return false
	}
	_, err := os.Stat(s.completePath(name))
	return err == nil
}

// Delete removes the complete archive name. Deleting a missing archive is
// not an error.
func (s *Store) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Remove(s.completePath(name)); err != nil && !os.IsNotExist(err) {
		return sferrors.NewSnapshotError("failed to delete snapshot", err).WithName(name)
	}
	s.logger.Debug("snapshot deleted", "name", name)
	return nil
}

// TakeSelective archives only the listed project-relative paths under the
// step's selective archive. Paths that don't exist are skipped.
func (s *Store) TakeSelective(stepID string, paths []string) error {
	if err := checkName(stepID); err != nil {
		return err
	}
	var roots []string
	for _, p := range paths {
		rel, ok := s.relative(p)
		if !ok {
			s.logger.Warn("ignoring selective path outside project", "step_id", stepID, "path", p)
			continue
		}
		if _, err := os.Lstat(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil {
			s.logger.Debug("selective path missing, skipped", "step_id", stepID, "path", rel)
			continue
		}
		roots = append(roots, rel)
	}

	if err := s.writeArchive(s.selectivePath(stepID), roots, s.excluded); err != nil {
		return sferrors.NewSnapshotError("failed to take selective snapshot", err).WithName(stepID)
	}
	s.logger.Info("selective snapshot taken", "step_id", stepID, "paths", len(roots))
	return nil
}

// RestoreSelective deletes the listed live paths and extracts the step's
// selective archive over the project.
func (s *Store) RestoreSelective(stepID string, paths []string) error {
	if err := checkName(stepID); err != nil {
		return err
	}
	src := s.selectivePath(stepID)
	if _, err := os.Stat(src); err != nil {
		return sferrors.NewSnapshotError("selective snapshot not found", sferrors.ErrSnapshotNotFound).WithName(stepID)
	}

	for _, p := range paths {
		rel, ok := s.relative(p)
		if !ok || s.excluded(rel) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, filepath.FromSlash(rel))); err != nil {
			return sferrors.NewSnapshotError("failed to clear selective path", err).WithName(stepID)
		}
	}
	if err := extractArchive(src, s.root); err != nil {
		return sferrors.NewSnapshotError("failed to extract selective snapshot", err).WithName(stepID)
	}

	s.logger.Info("selective snapshot restored", "step_id", stepID)
	return nil
}

// SelectiveExists reports whether stepID has a selective archive.
func (s *Store) SelectiveExists(stepID string) bool {
	if checkName(stepID) != nil {
		return false
	}
	_, err := os.Stat(s.selectivePath(stepID))
	return err == nil
}

// relative converts p (absolute or project-relative) to a clean
// slash-separated project-relative path.
func (s *Store) relative(p string) (string, bool) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	rel, err := filepath.Rel(s.root, filepath.Clean(p))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// List returns every archive in the snapshot directory sorted by name.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
