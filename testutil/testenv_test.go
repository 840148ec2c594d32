package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n\nABIDE_T_A=one\nABIDE_T_B = \"two\"\nnot a pair\nABIDE_T_C='three'\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("ABIDE_T_A", "")
	t.Setenv("ABIDE_T_B", "")
	t.Setenv("ABIDE_T_C", "preset")

	LoadDotEnv(path)

	assert.Equal(t, "one", os.Getenv("ABIDE_T_A"))
	assert.Equal(t, "two", os.Getenv("ABIDE_T_B"))
	assert.Equal(t, "preset", os.Getenv("ABIDE_T_C"), "existing env wins")
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	LoadDotEnv(filepath.Join(t.TempDir(), "nope"))
}

func TestFindModuleRoot(t *testing.T) {
	root := FindModuleRoot("fallback")
	assert.FileExists(t, filepath.Join(root, "go.mod"))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o600))

	CopyFile(src, dst, 0o600)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}
