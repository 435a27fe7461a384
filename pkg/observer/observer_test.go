package observer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newProject(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	writeFile(t, src, "README.md", "# Demo project\nDoes demo things.\n")
	writeFile(t, src, "config.yaml", "name: demo\nport: 8080\n")
	writeFile(t, src, "app/main.py", "def run():\n    pass\n\nasync def serve():\n    pass\n")
	writeFile(t, src, "app/util.js", "function helper() {}\n")
	writeFile(t, src, "logs/app.log", "line1\nline2\nline3\nline4\nline5\nline6\nline7\n")
	writeFile(t, src, "data.csv", "a,b\n1,2\n")
	return src
}

func TestObserveBuildsSnapshot(t *testing.T) {
	src := newProject(t)
	target := t.TempDir()

	o, err := New(src, target)
	require.NoError(t, err)

	snap, err := o.Observe()
	require.NoError(t, err)

	assert.Contains(t, snap.DirectoryStructure, "app/main.py")
	assert.Contains(t, snap.DirectoryStructure, "README.md")
	assert.Equal(t, 6, snap.Meta.FileCount)
	assert.Equal(t, 2, snap.Meta.DirCount)
	assert.Positive(t, snap.Meta.TotalSize)

	require.NotNil(t, snap.KeyFiles["README.md"])
	assert.Contains(t, *snap.KeyFiles["README.md"], "Demo project")
	require.NotNil(t, snap.KeyFiles["config.yaml"])
	assert.Equal(t, "demo", snap.KeyConfig["name"])

	assert.Equal(t, 1, snap.CodeStatistics.FileTypes[".py"])
	assert.Equal(t, 1, snap.CodeStatistics.FileTypes[".js"])
	assert.Positive(t, snap.CodeStatistics.TotalLines)

	require.Len(t, snap.LogSummary, 1)
	assert.Contains(t, snap.LogSummary[0], "app.log")
	assert.Contains(t, snap.LogSummary[0], "line5")
	assert.NotContains(t, snap.LogSummary[0], "line6")

	require.Contains(t, snap.CodeStructure, "app/main.py")
	assert.Contains(t, snap.CodeStructure["app/main.py"][0], "run")
}

func TestObserveMissingSourceFails(t *testing.T) {
	o, err := New(filepath.Join(t.TempDir(), "missing"), t.TempDir())
	require.NoError(t, err)

	_, err = o.Observe()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMissingKeyFilesAreNull(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "only.py", "def f():\n    pass\n")

	o, err := New(src, t.TempDir())
	require.NoError(t, err)

	snap, err := o.Observe()
	require.NoError(t, err)

	require.Contains(t, snap.KeyFiles, "README.md")
	assert.Nil(t, snap.KeyFiles["README.md"])
	assert.Nil(t, snap.KeyFiles["config.yaml"])
}

func TestObserveAndSaveRoundTrip(t *testing.T) {
	src := newProject(t)
	target := t.TempDir()

	o, err := New(src, target)
	require.NoError(t, err)

	snap, err := o.ObserveAndSave()
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(target, SnapshotFileName))

	loaded, err := LoadSnapshot(target)
	require.NoError(t, err)
	assert.Equal(t, snap.DirectoryStructure, loaded.DirectoryStructure)
	assert.Equal(t, snap.Meta, loaded.Meta)
	assert.Equal(t, snap.CodeStatistics.TotalLines, loaded.CodeStatistics.TotalLines)
}

func TestFormatContainsSections(t *testing.T) {
	src := newProject(t)
	o, err := New(src, t.TempDir())
	require.NoError(t, err)

	snap, err := o.Observe()
	require.NoError(t, err)

	text := snap.Format(100)
	assert.Contains(t, text, "Directory listing:")
	assert.Contains(t, text, "Meta: 6 files")
	assert.Contains(t, text, "--- README.md ---")
	assert.Contains(t, text, "Recent logs:")
	assert.Contains(t, text, "Code structure:")
}
