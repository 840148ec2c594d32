//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/abide/testutil"
)

var (
	binaryPath  string
	testAccount string

	// testFolder keeps E2E uploads apart from the account's real library.
	testFolder = "abide-e2e"
)

func TestMain(m *testing.M) {
	moduleRoot := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(moduleRoot, ".env"))
	testAccount = testutil.ValidateAllowlist()

	tmpDir, err := os.MkdirTemp("", "abide-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "abide")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	cleanup := setupIsolation(moduleRoot)
	code := m.Run()

	cleanup()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	fullArgs := append([]string{"--folder", testFolder}, args...)
	cmd := exec.Command(binaryPath, fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout.String(), stderr.String())
	}

	return stdout.String(), stderr.String()
}

func TestE2E_Whoami(t *testing.T) {
	stdout, _ := runCLI(t, "--json", "whoami")

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))

	assert.Equal(t, testAccount, out["email"])
	assert.Equal(t, testFolder, out["folder"])
}

func TestE2E_UploadThenFeed(t *testing.T) {
	tag := fmt.Sprintf("e2e%d", time.Now().UnixNano())
	name := tag + ".mp4"

	local := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(local,
		[]byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom abide e2e payload"), 0o600))

	t.Run("upload", func(t *testing.T) {
		stdout, _ := runCLI(t, "upload", "--tags", tag+",e2e", "--public", local)
		assert.Contains(t, stdout, "https://drive.google.com/uc?export=download&id=")
	})

	t.Run("feed_by_tag", func(t *testing.T) {
		// Tag matching ignores case.
		stdout, _ := runCLI(t, "--json", "feed", "--newest", "--tag", strings.ToUpper(tag))

		var items []map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &items))
		require.Len(t, items, 1)

		assert.Equal(t, name, items[0]["name"])
		assert.Equal(t, "video/mp4", items[0]["mime_type"])
		assert.ElementsMatch(t, []any{tag, "e2e"}, items[0]["tags"])
	})

	t.Run("feed_shuffled", func(t *testing.T) {
		a, _ := runCLI(t, "--json", "feed", "--seed", "7")
		b, _ := runCLI(t, "--json", "feed", "--seed", "7")
		assert.JSONEq(t, a, b)
	})
}
