package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriteDiagnosticReplacesInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debug", "debug_page.html")

	require.NoError(t, writeDiagnostic(path, []byte("<p>old</p>"), diagnostic{RunID: "run-1"}))
	require.NoError(t, writeDiagnostic(path, []byte("<p>new</p>"), diagnostic{RunID: "run-2"}))

	assert.ElementsMatch(t, []string{"debug_page.html", "debug_page.html.stats.json"}, dirNames(t, filepath.Dir(path)))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<p>new</p>", string(body))

	data, err := os.ReadFile(statsPath(path))
	require.NoError(t, err)
	var d diagnostic
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, "run-2", d.RunID)
}

func TestWriteDiagnosticKeepsPreviousDumpOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debug_page.html")
	require.NoError(t, writeDiagnostic(path, []byte("<p>old</p>"), diagnostic{RunID: "run-1"}))

	// A directory squatting on the temp name makes the staged write fail.
	require.NoError(t, os.Mkdir(path+".tmp", 0755))
	require.Error(t, writeDiagnostic(path, []byte("<p>new</p>"), diagnostic{RunID: "run-2"}))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<p>old</p>", string(body))
}
