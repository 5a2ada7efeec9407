package fileutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/folio/internal/book"
	"github.com/lepinkainen/folio/internal/testutil"
)

func readResult(t *testing.T, env *testutil.TestEnv, name string) book.Result {
	t.Helper()
	var res book.Result
	require.NoError(t, json.Unmarshal(env.ReadFile(name), &res))
	return res
}

func TestWriteJSONFile(t *testing.T) {
	env := testutil.NewTestEnv(t)
	path := env.Path("exports", "nested", "dracula.json")
	first := book.Result{Books: []book.Record{{ID: "gutenberg-345", Title: "Dracula"}}, CurrentPage: 1}

	written, err := WriteJSONFile(first, path, false)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, "Dracula", readResult(t, env, "exports/nested/dracula.json").Books[0].Title)

	second := book.Result{CurrentPage: 2}
	written, err = WriteJSONFile(second, path, false)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, 1, readResult(t, env, "exports/nested/dracula.json").CurrentPage)

	written, err = WriteJSONFile(second, path, true)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, 2, readResult(t, env, "exports/nested/dracula.json").CurrentPage)
}

func TestWriteJSONFile_InvalidData(t *testing.T) {
	env := testutil.NewTestEnv(t)
	path := env.Path("bad.json")

	written, err := WriteJSONFile(make(chan int), path, true)

	require.Error(t, err)
	assert.False(t, written)
	assert.False(t, FileExists(path))
}
