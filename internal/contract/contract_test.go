package contract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadValidContract(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, FileName, `{"status":"complete","artifacts":["a.go","b.go"],"context":"all done"}`)

	c, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, c.Status)
	assert.Equal(t, []string{"a.go", "b.go"}, c.Artifacts)
	assert.Equal(t, "all done", c.Context)
	assert.NoError(t, c.CheckSchema())
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), FileName))
	assert.Error(t, err)
}

func TestReadMalformedJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), FileName, `{"status": `)
	_, err := Read(path)
	assert.ErrorContains(t, err, "parsing completion contract")
}

func TestCheckSchema(t *testing.T) {
	t.Run("missing status", func(t *testing.T) {
		c := &Contract{}
		assert.ErrorContains(t, c.CheckSchema(), "missing the status field")
	})

	t.Run("unknown status", func(t *testing.T) {
		c := &Contract{Status: "done-ish"}
		assert.ErrorContains(t, c.CheckSchema(), "unknown status")
	})

	t.Run("partial and blocked are well-formed", func(t *testing.T) {
		assert.NoError(t, (&Contract{Status: StatusPartial}).CheckSchema())
		assert.NoError(t, (&Contract{Status: StatusBlocked}).CheckSchema())
	})
}

func TestExistsAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	assert.False(t, Exists(path))

	// Removing a missing contract is not an error.
	require.NoError(t, Remove(path))

	writeFile(t, dir, FileName, `{"status":"complete"}`)
	assert.True(t, Exists(path))

	require.NoError(t, Remove(path))
	assert.False(t, Exists(path))
}
