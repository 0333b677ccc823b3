// Package jsonl stores event streams as JSON lines, one <stream>.jsonl file per
// stream inside a directory. Targets look like jsonl:///var/lib/logscope.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"logscope/internal/model"
	"logscope/internal/store"
)

const scheme = "jsonl"

func init() {
	store.Register(store.Backend{
		OpenWriter: func(_ context.Context, target string) (store.Writer, error) {
			dir, err := dirFromTarget(target)
			if err != nil {
				return nil, err
			}
			w, err := NewWriter(dir)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		OpenReader: func(_ context.Context, target string) (store.Reader, error) {
			dir, err := dirFromTarget(target)
			if err != nil {
				return nil, err
			}
			return NewReader(dir), nil
		},
	}, scheme)
}

func dirFromTarget(target string) (string, error) {
	dir := strings.TrimSpace(target)
	if i := strings.Index(dir, "://"); i >= 0 {
		dir = dir[i+3:]
	}
	if dir == "" {
		return "", fmt.Errorf("%w: jsonl target has no directory", store.ErrStoreUnavailable)
	}
	return dir, nil
}

func streamPath(dir, stream string) string {
	return filepath.Join(dir, stream+".jsonl")
}

type streamFile struct {
	file   *os.File
	nextID int64
}

// Writer appends rows to stream files. Ids continue from the last row on disk.
type Writer struct {
	dir     string
	mu      sync.Mutex
	streams map[string]*streamFile
}

var _ store.Writer = (*Writer)(nil)

// NewWriter creates dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", store.ErrStoreUnavailable, err)
	}
	return &Writer{dir: dir, streams: make(map[string]*streamFile)}, nil
}

// EnsureTable creates the stream file and resumes id numbering from its contents.
func (w *Writer) EnsureTable(ctx context.Context, stream string) error {
	if err := store.CheckStreamName(stream); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.open(stream)
	return err
}

func (w *Writer) open(stream string) (*streamFile, error) {
	if sf, ok := w.streams[stream]; ok {
		return sf, nil
	}

	path := streamPath(w.dir, stream)
	if err := trimTornTail(path); err != nil {
		return nil, err
	}
	lastID, err := lastRowID(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open output file: %v", store.ErrStoreUnavailable, err)
	}
	sf := &streamFile{file: file, nextID: lastID + 1}
	w.streams[stream] = sf
	return sf, nil
}

// Insert appends one row. The row is written with a single write call so
// concurrent readers never observe a torn line followed by a newline.
func (w *Writer) Insert(ctx context.Context, stream string, event model.Event) error {
	if err := store.CheckStreamName(stream); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	sf, ok := w.streams[stream]
	if !ok {
		return fmt.Errorf("%w: stream %q not initialised", store.ErrSchema, stream)
	}

	line, err := json.Marshal(model.NewDisplayEvent(sf.nextID, event))
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", store.ErrEncoding, err)
	}
	line = append(line, '\n')
	if _, err := sf.file.Write(line); err != nil {
		return fmt.Errorf("%w: write event: %v", store.ErrStoreUnavailable, err)
	}
	sf.nextID++
	return nil
}

// Close closes all stream files.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, sf := range w.streams {
		_ = sf.file.Close()
		delete(w.streams, name)
	}
}

// trimTornTail drops bytes after the last newline, left behind by a write
// that never completed, so the next append starts on a fresh line.
func trimTornTail(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read stream file: %v", store.ErrStoreUnavailable, err)
	}
	keep := bytes.LastIndexByte(data, '\n') + 1
	if keep == len(data) {
		return nil
	}
	if err := os.Truncate(path, int64(keep)); err != nil {
		return fmt.Errorf("%w: trim torn line: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

func lastRowID(path string) (int64, error) {
	var last int64
	err := scanRows(path, func(row model.DisplayEvent) {
		if row.ID > last {
			last = row.ID
		}
	})
	if errors.Is(err, store.ErrSchema) {
		return 0, nil
	}
	return last, err
}

// Reader scans stream files on every query.
type Reader struct {
	dir string
}

var _ store.Reader = (*Reader)(nil)

// NewReader returns a reader over the stream files in dir.
func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

func (r *Reader) Close() {}

func (r *Reader) QueryAll(ctx context.Context, stream string) ([]model.DisplayEvent, error) {
	return r.query(ctx, stream, func(model.DisplayEvent) bool { return true })
}

func (r *Reader) QueryByTxHash(ctx context.Context, stream string, hash common.Hash) ([]model.DisplayEvent, error) {
	want := hash.Hex()
	return r.query(ctx, stream, func(row model.DisplayEvent) bool {
		return strings.EqualFold(row.TransactionHash, want)
	})
}

func (r *Reader) QueryByBlock(ctx context.Context, stream string, block uint64) ([]model.DisplayEvent, error) {
	return r.query(ctx, stream, func(row model.DisplayEvent) bool {
		return row.BlockNumber == block
	})
}

func (r *Reader) query(ctx context.Context, stream string, match func(model.DisplayEvent) bool) ([]model.DisplayEvent, error) {
	if err := store.CheckStreamName(stream); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := make([]model.DisplayEvent, 0)
	err := scanRows(streamPath(r.dir, stream), func(row model.DisplayEvent) {
		if match(row) {
			rows = append(rows, row)
		}
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// scanRows calls fn for every complete line in path. A trailing line without
// a newline is an in-flight write and is ignored.
func scanRows(path string, fn func(model.DisplayEvent)) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: stream file %s does not exist", store.ErrSchema, filepath.Base(path))
		}
		return fmt.Errorf("%w: open stream file: %v", store.ErrStoreUnavailable, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for lineNo := 1; ; lineNo++ {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read stream file: %v", store.ErrStoreUnavailable, err)
		}

		var row model.DisplayEvent
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("%w: line %d: %v", store.ErrEncoding, lineNo, err)
		}
		fn(row)
	}
}
