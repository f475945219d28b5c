// Package filetransfer converts local files to byte payloads for sending and
// materializes received payloads as local files.
package filetransfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrRead wraps any failure to read a file handle.
var ErrRead = errors.New("failed to read file")

// Handle is a named source of file contents.
type Handle interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// LocalFile is a Handle backed by a path on disk. Name is the base name.
type LocalFile string

// Name implements Handle.
func (f LocalFile) Name() string {
	return filepath.Base(string(f))
}

// Open implements Handle.
func (f LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}

type memFile struct {
	name string
	data []byte
}

// Bytes returns a Handle serving data under name.
func Bytes(name string, data []byte) Handle {
	return memFile{name: name, data: data}
}

func (m memFile) Name() string { return m.name }

func (m memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

const readChunk = 32 * 1024

// ToBytes reads the whole contents of h into memory. The read stops early
// if ctx is cancelled.
func ToBytes(ctx context.Context, h Handle) ([]byte, error) {
	rc, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrRead, h.Name(), err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrRead, h.Name(), err)
		}
		n, err := rc.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrRead, h.Name(), err)
		}
	}
}
