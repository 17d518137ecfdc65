package clone

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_CopiesTree(t *testing.T) {
	src := t.TempDir()
	for rel, content := range map[string]string{
		"app/main.py":             "print(1)\n",
		"README.md":               "# hi",
		".git/HEAD":               "ref: refs/heads/main",
		"node_modules/x/index.js": "",
	} {
		p := filepath.Join(src, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(src, "leak")))

	dst := filepath.Join(t.TempDir(), "repo")
	var l Local
	require.NoError(t, l.Validate(src, ""))
	require.NoError(t, l.Probe(context.Background(), src))
	require.NoError(t, l.Clone(context.Background(), src, "", dst))

	data, err := os.ReadFile(filepath.Join(dst, "app", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)\n", string(data))
	for _, gone := range []string{".git", "node_modules", "leak"} {
		_, err := os.Lstat(filepath.Join(dst, gone))
		assert.True(t, os.IsNotExist(err), gone)
	}

	// the source is untouched
	_, err = os.Stat(filepath.Join(src, ".git", "HEAD"))
	assert.NoError(t, err)
}

func TestLocal_Validate(t *testing.T) {
	var l Local
	dir := t.TempDir()
	assert.ErrorIs(t, l.Validate(dir, "main"), ErrInvalid)
	assert.ErrorIs(t, l.Validate(filepath.Join(dir, "missing"), ""), ErrInvalid)

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.ErrorIs(t, l.Validate(file, ""), ErrInvalid)
	assert.ErrorIs(t, l.Probe(context.Background(), filepath.Join(dir, "missing")), ErrUnreachable)
}
