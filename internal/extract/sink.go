package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Envelope is one extracted batch on its way out
type Envelope struct {
	ChannelID string
	BatchID   int64
	// PrevBatchID is the batch sent before this one on the same channel and
	// target, 0 when there is none. A receiver must not load this batch
	// before that one is done.
	PrevBatchID int64
	Payload     []byte
}

// Sink receives extracted batches. Put must not return before the payload is
// durable on the other side.
type Sink interface {
	Put(ctx context.Context, env Envelope) error
}

// FileSink stages batches as <dir>/<channel>/<batch>.csv
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func (s *FileSink) Path(channelID string, batchID int64) string {
	return filepath.Join(s.dir, channelID, strconv.FormatInt(batchID, 10)+".csv")
}

func (s *FileSink) Put(_ context.Context, env Envelope) error {
	path := s.Path(env.ChannelID, env.BatchID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".batch-*")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(env.Payload); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write batch %d: %w", env.BatchID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync batch %d: %w", env.BatchID, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// List returns the staged batch files of a channel, lowest batch id first
func (s *FileSink) List(channelID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, channelID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type staged struct {
		id   int64
		path string
	}
	var files []staged
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, ".csv"), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, staged{id: id, path: filepath.Join(s.dir, channelID, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].id < files[j].id })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// MultiSink puts each batch to every sink in order
type MultiSink []Sink

func (m MultiSink) Put(ctx context.Context, env Envelope) error {
	for _, s := range m {
		if err := s.Put(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
