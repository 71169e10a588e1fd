package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	content := "rec-1\n\n# staging batch\n  rec-2  \nrec-3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ids, err := readIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1", "rec-2", "rec-3"}, ids)
}

func TestReadIDFile_Missing(t *testing.T) {
	_, err := readIDFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}
