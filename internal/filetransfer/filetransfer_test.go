package filetransfer_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/toy-file-chat/internal/filetransfer"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

type failingHandle struct {
	openErr error
	readErr error
}

func (f failingHandle) Name() string { return "broken.bin" }

func (f failingHandle) Open() (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(errReader{f.readErr}), nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestToBytes_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	h := filetransfer.LocalFile(path)
	assert.Equal(t, "a.txt", h.Name())

	data, err := filetransfer.ToBytes(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestToBytes_LargeFile(t *testing.T) {
	want := make([]byte, 100*1024+7)
	for i := range want {
		want[i] = byte(i % 251)
	}

	data, err := filetransfer.ToBytes(context.Background(), filetransfer.Bytes("big.bin", want))
	require.NoError(t, err)
	assert.Equal(t, want, data)
}

func TestToBytes_Errors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		h    filetransfer.Handle
	}{
		{name: "missing file", h: filetransfer.LocalFile(filepath.Join(t.TempDir(), "nope"))},
		{name: "open failure", h: failingHandle{openErr: boom}},
		{name: "read failure", h: failingHandle{readErr: boom}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := filetransfer.ToBytes(context.Background(), tt.h)
			assert.True(t, errors.Is(err, filetransfer.ErrRead), "error = %v, want ErrRead", err)
		})
	}
}

func TestToBytes_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := filetransfer.ToBytes(ctx, filetransfer.Bytes("a", []byte("x")))
	assert.True(t, errors.Is(err, filetransfer.ErrRead))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDirSaver_Save(t *testing.T) {
	dir := t.TempDir()
	saver := filetransfer.DirSaver{Dir: dir}

	path, err := saver.Save(protocol.File{Filename: "a.txt", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no transient part file may remain")
	assert.Equal(t, "a.txt", entries[0].Name())
}

func TestDirSaver_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	saver := filetransfer.DirSaver{Dir: dir}

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := saver.Save(protocol.File{Filename: "a.txt", Data: []byte{byte(i)}})
		require.NoError(t, err)
		paths = append(paths, filepath.Base(p))
	}

	assert.Equal(t, []string{"a.txt", "a (1).txt", "a (2).txt"}, paths)
}

func TestDirSaver_Traversal(t *testing.T) {
	dir := t.TempDir()
	saver := filetransfer.DirSaver{Dir: dir}

	path, err := saver.Save(protocol.File{Filename: "../../etc/passwd", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "passwd"), path)

	path, err = saver.Save(protocol.File{Filename: `..\..\win.ini`, Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "win.ini"), path)
}

func TestDirSaver_InvalidNames(t *testing.T) {
	dir := t.TempDir()
	saver := filetransfer.DirSaver{Dir: dir}

	for _, name := range []string{"", ".", "..", "/", "  "} {
		_, err := saver.Save(protocol.File{Filename: name, Data: []byte("x")})
		assert.True(t, errors.Is(err, filetransfer.ErrInvalidFilename), "name %q: error = %v", name, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDirSaver_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path, err := filetransfer.DirSaver{Dir: dir}.Save(protocol.File{Filename: "empty"})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
