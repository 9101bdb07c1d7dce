package transform

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginals_ExistsAndCopy(t *testing.T) {
	o := NewOriginals(t.TempDir())

	assert.False(t, o.Exists("photo"))

	require.NoError(t, os.WriteFile(o.Path("photo"), []byte("source-bytes"), 0o644))
	assert.True(t, o.Exists("photo"))

	var buf bytes.Buffer
	require.NoError(t, o.Copy("photo", &buf))
	assert.Equal(t, "source-bytes", buf.String())
}

func TestOriginals_CopyMissing(t *testing.T) {
	o := NewOriginals(t.TempDir())

	var buf bytes.Buffer
	err := o.Copy("absent", &buf)
	assert.Error(t, err)
}

func TestSaveTemp(t *testing.T) {
	path, err := SaveTemp(strings.NewReader("uploaded-bytes"))
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(path) })

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("uploaded-bytes"), content)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, "png", formatFor("image/png"))
	assert.Equal(t, "jpeg", formatFor("image/jpeg"))
}
