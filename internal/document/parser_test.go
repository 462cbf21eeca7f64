package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello ragflow"), 0o644))

	text, err := Parse(path, "text")
	require.NoError(t, err)
	assert.Equal(t, "hello ragflow", text)
}

func TestParseUnsupportedFileType(t *testing.T) {
	_, err := Parse("/dev/null", "exe")
	require.Error(t, err)
}
