package logging

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_RotatesAtLimit(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriter(fs, "/logs/debug.log", RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 3; i++ {
		_, err := rw.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, rw.Close())

	for _, path := range []string{"/logs/debug.log", "/logs/debug.log.1", "/logs/debug.log.2"} {
		ok, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.True(t, ok, "expected %s", path)
	}
	ok, _ := afero.Exists(fs, "/logs/debug.log.3")
	assert.False(t, ok)
}

func TestRotatingWriter_DropsOldestBackup(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriter(fs, "/logs/debug.log", RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	chunk := bytes.Repeat([]byte("y"), 700*1024)
	for i := 0; i < 4; i++ {
		_, err := rw.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, rw.Close())

	ok, _ := afero.Exists(fs, "/logs/debug.log.1")
	assert.True(t, ok)
	ok, _ = afero.Exists(fs, "/logs/debug.log.2")
	assert.False(t, ok)
}

func TestRotatingWriter_Compress(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriter(fs, "/logs/debug.log", RotationConfig{MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	require.NoError(t, err)

	first := bytes.Repeat([]byte("a"), 900*1024)
	_, err = rw.Write(first)
	require.NoError(t, err)
	_, err = rw.Write(bytes.Repeat([]byte("b"), 200*1024))
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ok, _ := afero.Exists(fs, "/logs/debug.log.1")
	assert.False(t, ok, "uncompressed backup should be removed")

	f, err := fs.Open("/logs/debug.log.1.gz")
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, first, data)
}

func TestRotatingWriter_Disabled(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriter(fs, "/logs/debug.log", RotationConfig{})
	require.NoError(t, err)

	_, err = rw.Write(bytes.Repeat([]byte("z"), 2*1024*1024))
	require.NoError(t, err)
	assert.EqualValues(t, 2*1024*1024, rw.CurrentSize())
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("after close"))
	assert.Error(t, err)
}
