package calibration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/depthrelay/rimage/transform"
)

// FileStore keeps every key in one JSON document:
//
//	{"perspective": {"rows": 3, "cols": 3, "data": [...]}}
//
// Writes go to a temporary file that is renamed over the original so a crash never leaves a half
// written document behind.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (fs *FileStore) Path() string {
	return fs.path
}

func (fs *FileStore) readAll() (map[string]json.RawMessage, error) {
	//nolint:gosec
	raw, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, err
	}
	docs := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Load reads the transform stored under key.
func (fs *FileStore) Load(ctx context.Context, key string) LoadResult {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	docs, err := fs.readAll()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound()
		}
		return corrupt(err)
	}
	raw, ok := docs[key]
	if !ok {
		return notFound()
	}
	h, err := decodeMatrixJSON(raw)
	if err != nil {
		return corrupt(err)
	}
	return loaded(h)
}

// Save stores h under key, keeping other keys in the file. An unreadable existing file is
// replaced.
func (fs *FileStore) Save(ctx context.Context, key string, h transform.Homography) (err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	docs, readErr := fs.readAll()
	if readErr != nil {
		docs = map[string]json.RawMessage{}
	}
	encoded, err := json.Marshal(encodeMatrix(h))
	if err != nil {
		return err
	}
	docs[key] = encoded
	out, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, "cannot create calibration directory")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(fs.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "cannot create temporary calibration file")
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, os.Remove(tmp.Name()))
		}
	}()
	if _, err := tmp.Write(append(out, '\n')); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fs.path)
}

// Close is a no-op.
func (fs *FileStore) Close() error {
	return nil
}
