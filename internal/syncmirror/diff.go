package syncmirror

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// OpKind is the kind of a sync operation.
type OpKind int

const (
	// OpCopy creates or overwrites Path in the destination.
	OpCopy OpKind = iota
	// OpDelete removes Path, recursively, from the destination.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCopy:
		return "copy"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is one step of bringing a destination tree in line with its
// source. Path is slash-separated and relative to the tree roots.
type Operation struct {
	Kind  OpKind
	Path  string
	IsDir bool
}

type entry struct {
	isDir bool
	size  int64
	mtime time.Time
}

// scan records every non-ignored file and directory under root. A missing
// root is an empty tree.
func (m *Mirror) scan(ctx context.Context, root string) (map[string]entry, error) {
	tree := make(map[string]entry)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return tree, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if m.ignore.MatchName(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		tree[rel] = entry{isDir: d.IsDir(), size: info.Size(), mtime: info.ModTime()}
		return nil
	})
	return tree, err
}

// Diff compares source against dest. Copies come first, parents before
// children; deletes follow and name only the top-most path of anything
// present in dest alone.
func (m *Mirror) Diff(source, dest string) ([]Operation, error) {
	if _, err := os.Stat(source); err != nil {
		return nil, err
	}

	var src, dst map[string]entry
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		var err error
		src, err = m.scan(ctx, source)
		return err
	})
	g.Go(func() error {
		var err error
		dst, err = m.scan(ctx, dest)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var ops []Operation
	for _, rel := range sortedKeys(src) {
		s := src[rel]
		d, exists := dst[rel]
		switch {
		case s.isDir:
			if !exists || !d.isDir {
				ops = append(ops, Operation{Kind: OpCopy, Path: rel, IsDir: true})
			}
		case !exists || d.isDir || s.size != d.size || !m.sameTime(s.mtime, d.mtime):
			ops = append(ops, Operation{Kind: OpCopy, Path: rel})
		}
	}

	var deleted []string
	for _, rel := range sortedKeys(dst) {
		if _, exists := src[rel]; exists {
			continue
		}
		if underAny(rel, deleted) {
			continue
		}
		deleted = append(deleted, rel)
		ops = append(ops, Operation{Kind: OpDelete, Path: rel, IsDir: dst[rel].isDir})
	}
	return ops, nil
}

func (m *Mirror) sameTime(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= m.tolerance
}

func sortedKeys(tree map[string]entry) []string {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	// A parent is a prefix of its children, so it always sorts first.
	sort.Strings(keys)
	return keys
}

func underAny(rel string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(rel, d+"/") {
			return true
		}
	}
	return false
}
