// Package store defines event persistence per stream and dispatches
// connection targets to registered backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"logscope/internal/model"
)

var (
	// ErrStoreUnavailable means the backend could not be reached or failed mid-operation.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSchema means the stream's table does not exist or has an unexpected shape.
	ErrSchema = errors.New("store schema error")
	// ErrEncoding means a value could not be represented in the backend.
	ErrEncoding = errors.New("store encoding error")
)

var streamNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidStreamName reports whether name can be used as a table and file name.
func ValidStreamName(name string) bool {
	return streamNamePattern.MatchString(name)
}

// CheckStreamName returns an error wrapping ErrSchema for unusable names.
func CheckStreamName(name string) error {
	if !ValidStreamName(name) {
		return fmt.Errorf("%w: invalid stream name %q", ErrSchema, name)
	}
	return nil
}

// Writer appends events to a stream. A Writer is owned by one pipeline.
type Writer interface {
	EnsureTable(ctx context.Context, stream string) error
	Insert(ctx context.Context, stream string, event model.Event) error
	Close()
}

// Reader serves stored rows ordered by ascending id.
type Reader interface {
	QueryAll(ctx context.Context, stream string) ([]model.DisplayEvent, error)
	QueryByTxHash(ctx context.Context, stream string, hash common.Hash) ([]model.DisplayEvent, error)
	QueryByBlock(ctx context.Context, stream string, block uint64) ([]model.DisplayEvent, error)
	Close()
}

// Backend opens writers and readers for one target scheme.
type Backend struct {
	OpenWriter func(ctx context.Context, target string) (Writer, error)
	OpenReader func(ctx context.Context, target string) (Reader, error)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// Register makes a backend available under the given URL schemes.
// It panics on duplicate registration.
func Register(b Backend, schemes ...string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	for _, scheme := range schemes {
		scheme = strings.ToLower(scheme)
		if _, dup := backends[scheme]; dup {
			panic("store: Register called twice for scheme " + scheme)
		}
		backends[scheme] = b
	}
}

// Schemes lists registered schemes in sorted order.
func Schemes() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]string, 0, len(backends))
	for scheme := range backends {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// OpenWriter opens an exclusive writer for target.
func OpenWriter(ctx context.Context, target string) (Writer, error) {
	b, err := lookup(target)
	if err != nil {
		return nil, err
	}
	return b.OpenWriter(ctx, target)
}

// OpenReader opens a shared reader for target.
func OpenReader(ctx context.Context, target string) (Reader, error) {
	b, err := lookup(target)
	if err != nil {
		return nil, err
	}
	return b.OpenReader(ctx, target)
}

func lookup(target string) (Backend, error) {
	scheme, err := Scheme(target)
	if err != nil {
		return Backend{}, err
	}

	backendsMu.RLock()
	b, ok := backends[scheme]
	backendsMu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("%w: no backend for scheme %q", ErrStoreUnavailable, scheme)
	}
	return b, nil
}

// Scheme returns the lower-cased URL scheme of target.
func Scheme(target string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", fmt.Errorf("%w: parse target: %v", ErrStoreUnavailable, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: target has no scheme", ErrStoreUnavailable)
	}
	return strings.ToLower(u.Scheme), nil
}
