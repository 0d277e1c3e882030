package site

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSite(t *testing.T, dir, file, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0644))
}

func siteYAML(name string, enabled bool) string {
	e := "true"
	if !enabled {
		e = "false"
	}
	return "name: " + name + "\nbase_url: https://" + name + ".example.com\nenabled: " + e + `
selectors:
  listing: li
  title: h2
  url: a
  location: .loc
`
}

// TestLoadDir_MissingDirectory verifies a missing directory is not an error
func TestLoadDir_MissingDirectory(t *testing.T) {
	result, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, result.Sites)
	assert.Empty(t, result.Errors)
}

// TestLoadDir verifies files load in name order and bad files are isolated
func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "b.yaml", siteYAML("beta", true))
	writeSite(t, dir, "a.yml", siteYAML("alpha", false))
	writeSite(t, dir, "c.yaml", "name: broken\nbase_url: nope\n")
	writeSite(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755))

	result, err := LoadDir(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, result.Names())
	assert.Equal(t, filepath.Join(dir, "a.yml"), result.Sites[0].Path)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, filepath.Join(dir, "c.yaml"), result.Errors[0].Path)
	assert.True(t, errors.Is(&result.Errors[0], ErrInvalidConfig))

	enabled := Enabled(result.Sites)
	require.Len(t, enabled, 1)
	assert.Equal(t, "beta", enabled[0].Name)

	assert.NotNil(t, result.Find("alpha"))
	assert.Nil(t, result.Find("gamma"))
}

// TestLoadDir_DuplicateNames verifies the later file with a reused name is
// rejected
func TestLoadDir_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "one.yaml", siteYAML("same", true))
	writeSite(t, dir, "two.yaml", siteYAML("same", true))

	result, err := LoadDir(dir)
	require.NoError(t, err)

	require.Len(t, result.Sites, 1)
	assert.Equal(t, filepath.Join(dir, "one.yaml"), result.Sites[0].Path)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, filepath.Join(dir, "two.yaml"), result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Error(), "duplicate site name")
}

// TestLoadFile_NotFound verifies read failures are reported
func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
