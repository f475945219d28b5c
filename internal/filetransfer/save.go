package filetransfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/omochice/toy-file-chat/pkg/protocol"
)

// ErrInvalidFilename indicates a received file name that cannot be saved.
var ErrInvalidFilename = errors.New("invalid file name")

// maxDuplicates bounds the "name (n).ext" search.
const maxDuplicates = 1000

// Saver materializes a received file. Each Save call is one save-as action.
type Saver interface {
	Save(file protocol.File) (string, error)
}

// DirSaver saves files into Dir. Bytes are first written to a transient
// part file which is renamed into place, so a failed save leaves nothing
// behind.
type DirSaver struct {
	Dir string
}

// Save implements Saver. It returns the path of the saved file.
func (s DirSaver) Save(file protocol.File) (string, error) {
	name, err := sanitizeFilename(file.Filename)
	if err != nil {
		return "", err
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	part := filepath.Join(dir, "."+uuid.NewString()+".part")
	if err := os.WriteFile(part, file.Data, 0o644); err != nil {
		os.Remove(part)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	target, err := claimName(dir, name)
	if err != nil {
		os.Remove(part)
		return "", err
	}
	if err := os.Rename(part, target); err != nil {
		os.Remove(part)
		os.Remove(target)
		return "", fmt.Errorf("failed to save %s: %w", name, err)
	}
	return target, nil
}

// sanitizeFilename keeps only the final path element of a peer-supplied name.
func sanitizeFilename(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return base, nil
}

// claimName reserves a non-existing path for name inside dir, following the
// browser convention "a.txt", "a (1).txt", "a (2).txt".
func claimName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxDuplicates; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", candidate, err)
		}
		f.Close()
		return path, nil
	}
	return "", fmt.Errorf("too many files named %s", name)
}
