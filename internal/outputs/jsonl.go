package outputs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

// jsonLines appends one JSON object per batch to a file. Metadata is written
// as a line of its own with a "metadata" key.
type jsonLines struct {
	name   string
	host   string
	limits types.LimitChecker

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func newJSONLines(name string, p config.Params, host string, now time.Time, lc types.LimitChecker) (*jsonLines, error) {
	file, err := p.RequiredString("file")
	if err != nil {
		return nil, err
	}
	f, err := openAppend(filepath.Join(p.String("dir", "."), expandFilename(file, host, now)))
	if err != nil {
		return nil, err
	}
	return &jsonLines{name: name, host: host, limits: lc, f: f, enc: json.NewEncoder(f)}, nil
}

func (o *jsonLines) Name() string { return o.name }

func (o *jsonLines) Write(_ context.Context, b *types.Batch) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enc.Encode(newMessage(b, o.host, o.limits))
}

func (o *jsonLines) WriteMetadata(_ context.Context, meta types.Metadata) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enc.Encode(struct {
		Metadata types.Metadata `json:"metadata"`
	}{meta})
}

func (o *jsonLines) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.f.Close()
}
