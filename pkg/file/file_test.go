package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, "/data/out.webm", ReplaceExt("/data/out.mp4", "webm"))
	assert.Equal(t, "/data/out.webm", ReplaceExt("/data/out.mp4", ".webm"))
	assert.Equal(t, "/data/noext.mp3", ReplaceExt("/data/noext", "mp3"))
	assert.Equal(t, "", ReplaceExt("", "mp4"))
}

func TestExists(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "present.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	assert.True(t, Exists(path))
	assert.False(t, Exists(filepath.Join(tmp, "absent.mp4")))
	// Directories do not count as files.
	assert.False(t, Exists(tmp))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentType(".mp4"))
	assert.Equal(t, "video/mp4", ContentType(".MP4"))
	assert.Equal(t, "audio/mpeg", ContentType(".mp3"))
	assert.Equal(t, "application/octet-stream", ContentType(".xyz"))
	assert.Equal(t, "application/octet-stream", ContentType(""))
}
