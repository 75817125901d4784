package calibration

import (
	"context"
	"encoding/json"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depthrelay/rimage/transform"
)

var (
	// ErrNotFound means nothing has been saved under the key.
	ErrNotFound = errors.New("perspective transform not found")
	// ErrCorrupt means something was saved under the key but it is not a usable 3x3 matrix.
	ErrCorrupt = errors.New("perspective transform is corrupt")
)

// LoadStatus tells the caller which branch of a load result it holds.
type LoadStatus int

const (
	// Loaded means Matrix holds the stored transform.
	Loaded LoadStatus = iota
	// NotFound means there was nothing to load.
	NotFound
	// Corrupt means the stored value could not be read or decoded. Err has the details.
	Corrupt
)

func (s LoadStatus) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case NotFound:
		return "not found"
	case Corrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// LoadResult is the outcome of Store.Load. Matrix is only meaningful when Status is Loaded.
type LoadResult struct {
	Matrix transform.Homography
	Status LoadStatus
	Err    error
}

func loaded(h transform.Homography) LoadResult {
	return LoadResult{Matrix: h, Status: Loaded}
}

func notFound() LoadResult {
	return LoadResult{Status: NotFound, Err: ErrNotFound}
}

func corrupt(err error) LoadResult {
	return LoadResult{Status: Corrupt, Err: errors.Wrap(ErrCorrupt, err.Error())}
}

// Store persists perspective transforms under string keys.
type Store interface {
	Load(ctx context.Context, key string) LoadResult
	Save(ctx context.Context, key string, h transform.Homography) error
	Close() error
}

// matrixDoc is the stored form of a transform, shaped like an OpenCV FileStorage matrix.
type matrixDoc struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func encodeMatrix(h transform.Homography) matrixDoc {
	return matrixDoc{Rows: 3, Cols: 3, Data: h.Data()}
}

func decodeMatrix(doc matrixDoc) (transform.Homography, error) {
	if doc.Rows != 3 || doc.Cols != 3 {
		return transform.Homography{}, errors.Errorf("expected a 3x3 matrix, got %dx%d", doc.Rows, doc.Cols)
	}
	for _, v := range doc.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return transform.Homography{}, errors.New("matrix has non finite entries")
		}
	}
	h, err := transform.NewHomography(doc.Data)
	if err != nil {
		return transform.Homography{}, err
	}
	return *h, nil
}

func decodeMatrixJSON(raw []byte) (transform.Homography, error) {
	var doc matrixDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return transform.Homography{}, err
	}
	return decodeMatrix(doc)
}
