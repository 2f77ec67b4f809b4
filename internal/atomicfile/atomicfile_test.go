package atomicfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hivemind-dev/coordinator/internal/atomicfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_CreatesParentDirsAndContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, atomicfile.Write(path, []byte("hello"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a successful write")
}

func TestWrite_OverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, atomicfile.Write(path, []byte("first"), 0644))
	require.NoError(t, atomicfile.Write(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

type payload struct {
	Cursors map[string]int `json:"cursors"`
}

func TestWriteJSON_ReadJSON_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "message-state.json")

	want := payload{Cursors: map[string]int{"architect": 3}}
	require.NoError(t, atomicfile.WriteJSON(path, want))

	var got payload
	require.NoError(t, atomicfile.ReadJSON(path, &got))
	assert.Equal(t, want, got)
}

func TestReadJSON_MissingFileLeavesValueUntouched(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")

	got := payload{Cursors: map[string]int{"preexisting": 1}}
	require.NoError(t, atomicfile.ReadJSON(path, &got))
	assert.Equal(t, map[string]int{"preexisting": 1}, got.Cursors)
}

func TestReadJSON_EmptyFileIsTolerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	var got payload
	assert.NoError(t, atomicfile.ReadJSON(path, &got))
}
