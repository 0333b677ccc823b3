package task

import (
	"context"

	"logscope/internal/chain"
	"logscope/internal/indexer"
	"logscope/internal/server"
	"logscope/internal/store"
)

// IndexerUnit runs one pipeline and owns its source and writer.
type IndexerUnit struct {
	name     string
	pipeline *indexer.Pipeline
	source   chain.Source
	writer   store.Writer
}

// NewIndexerUnit names the unit after its stream. The unit closes source and
// writer once Run returns.
func NewIndexerUnit(stream string, pipeline *indexer.Pipeline, source chain.Source, writer store.Writer) *IndexerUnit {
	return &IndexerUnit{name: "indexer/" + stream, pipeline: pipeline, source: source, writer: writer}
}

func (u *IndexerUnit) Name() string { return u.name }

// Run runs the pipeline and releases the source and writer when it returns.
func (u *IndexerUnit) Run(ctx context.Context) error {
	defer u.Close()
	return u.pipeline.Run(ctx)
}

// State reports the pipeline state.
func (u *IndexerUnit) State() indexer.State {
	return u.pipeline.State()
}

func (u *IndexerUnit) Close() {
	if u.source != nil {
		u.source.Close()
	}
	if u.writer != nil {
		u.writer.Close()
	}
}

// ServerUnit runs the query server and owns its reader.
type ServerUnit struct {
	server *server.Server
	reader store.Reader
}

func NewServerUnit(srv *server.Server, reader store.Reader) *ServerUnit {
	return &ServerUnit{server: srv, reader: reader}
}

func (u *ServerUnit) Name() string { return "server" }

// Run serves until ctx is cancelled, then shuts the server down and closes
// the reader.
func (u *ServerUnit) Run(ctx context.Context) error {
	defer u.Close()
	return u.server.Run(ctx)
}

func (u *ServerUnit) Close() {
	if u.reader != nil {
		u.reader.Close()
	}
}
