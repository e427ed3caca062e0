package bootimage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	s := New(4096)
	boot, err := s.Decode([]byte(`
memory:
  totalPages: 2048
  pageSize: 4096
heapPages: 128
scheduler:
  agingInterval: 25
programs:
  - name: init
    entry: 0x20
    privileged: true
    segments:
      - name: text
        pages: 1
`))
	require.NoError(t, err)

	assert.Equal(t, 2048, boot.Memory.TotalPages)
	assert.Equal(t, 128, boot.HeapPages)
	require.Len(t, boot.Programs, 1)
	assert.Equal(t, "init", boot.Programs[0].Name)
	assert.Equal(t, uint64(0x20), boot.Programs[0].Entry)
	assert.True(t, boot.Programs[0].Privileged)
}

func TestDecodeRejectsBadProgram(t *testing.T) {
	s := New(4096)

	_, err := s.Decode([]byte("programs:\n  - name: broken\n"))
	assert.Error(t, err, "a program without segments fails validation")

	_, err = s.Decode([]byte(":\tnot yaml"))
	assert.Error(t, err)
}

func TestLoadAppendsExtension(t *testing.T) {
	s := New(4096)
	dir := t.TempDir()
	spec := "programs:\n  - name: init\n    segments:\n      - pages: 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.yaml"), []byte(spec), 0o644))

	boot, err := s.Load(context.Background(), filepath.Join(dir, "boot"))
	require.NoError(t, err)
	require.Len(t, boot.Programs, 1)

	_, err = s.Load(context.Background(), filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestLoadImageNameFallback(t *testing.T) {
	s := New(4096)
	dir := t.TempDir()
	manifest := "entry: 0x10\nsegments:\n  - name: text\n    pages: 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logd.yaml"), []byte(manifest), 0o644))

	img, err := s.LoadImage(context.Background(), filepath.Join(dir, "logd.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "logd", img.Name, "name falls back to the file stem")
	assert.Equal(t, uint64(0x10), img.Entry)
}
