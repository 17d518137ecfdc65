package clone

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local serves a directory on disk in place of a remote repository. Clone
// copies the tree so the workflow can delete its checkout without touching
// the caller's files.
type Local struct {
	// SkipDirs are not copied. Nil means .git and node_modules.
	SkipDirs []string
}

func (l Local) skip(name string) bool {
	dirs := l.SkipDirs
	if dirs == nil {
		dirs = []string{".git", "node_modules"}
	}
	for _, d := range dirs {
		if d == name {
			return true
		}
	}
	return false
}

// Validate requires an existing directory and no ref.
func (l Local) Validate(path, ref string) error {
	if ref != "" {
		return fmt.Errorf("%w: refs are not supported for local paths", ErrInvalid)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalid, path)
	}
	return nil
}

// Probe reports ErrUnreachable when the directory vanished.
func (l Local) Probe(_ context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// Clone copies regular files and directories from src into dir. Symlinks
// are not followed.
func (l Local) Clone(ctx context.Context, src, _ string, dir string) error {
	src, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if d != nil && d.IsDir() && path != src {
				return fs.SkipDir
			}
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)
		switch {
		case d.IsDir():
			if path != src && l.skip(d.Name()) {
				return fs.SkipDir
			}
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		}
		return nil
	})
	if err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
