package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logscope/internal/config"
	"logscope/internal/decode"
	"logscope/internal/model"
	"logscope/internal/store"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, stream, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, err := store.OpenReader(ctx, stream.StoreTarget)
	if err != nil {
		return err
	}
	defer reader.Close()

	rows, err := reader.QueryAll(ctx, stream.Name)
	if err != nil {
		return err
	}

	out, err := createLineFile(cfg.Out)
	if err != nil {
		return err
	}
	defer out.Close()

	failures, err := createLineFile(cfg.Errors)
	if err != nil {
		return err
	}
	defer failures.Close()

	logger.Info("decode start",
		zap.String("stream", stream.Name),
		zap.Int("rows", len(rows)),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
	)

	decoded, failed, err := decodeRows(stream.Name, stream.Layout, rows, out.Write, func(e model.DecodeError) error {
		return failures.Write(e)
	})
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := failures.Close(); err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", len(rows)),
		zap.Int("decoded", decoded),
		zap.Int("failed", failed),
	)
	return nil
}

// decodeRows decodes every row, emitting successes and reporting failures.
// A row that fails to decode is reported and skipped; an error from emit or
// fail stops the loop.
func decodeRows(
	stream string,
	layout *decode.Layout,
	rows []model.DisplayEvent,
	emit func(interface{}) error,
	fail func(model.DecodeError) error,
) (decoded, failed int, err error) {
	for _, row := range rows {
		event, derr := decodeRow(stream, layout, row)
		if derr != nil {
			failed++
			if err := fail(decodeErrorFromRow(stream, row, derr)); err != nil {
				return decoded, failed, fmt.Errorf("write decode error: %w", err)
			}
			continue
		}
		if err := emit(event); err != nil {
			return decoded, failed, err
		}
		decoded++
	}
	return decoded, failed, nil
}

func decodeRow(stream string, layout *decode.Layout, row model.DisplayEvent) (model.DecodedEvent, error) {
	topics, data, err := rowPayload(row)
	if err != nil {
		return model.DecodedEvent{}, err
	}
	fields, err := layout.Decode(topics, data)
	if err != nil {
		return model.DecodedEvent{}, err
	}
	return model.DecodedEvent{
		Stream:      stream,
		ID:          row.ID,
		BlockNumber: row.BlockNumber,
		TxHash:      row.TransactionHash,
		Address:     row.Address,
		Fields:      decode.Stringify(fields),
		Raw:         &model.RawLogRef{Topic0: topics[0].Hex(), Data: row.Data},
	}, nil
}

func rowPayload(row model.DisplayEvent) ([]common.Hash, []byte, error) {
	topics := make([]common.Hash, 0, len(row.Topics))
	for _, topic := range row.Topics {
		raw, err := hexutil.Decode(topic)
		if err != nil || len(raw) != common.HashLength {
			return nil, nil, fmt.Errorf("invalid topic %q", topic)
		}
		topics = append(topics, common.BytesToHash(raw))
	}
	data, err := hexutil.Decode(row.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid data: %w", err)
	}
	return topics, data, nil
}

// lineFile buffers JSON lines into a truncated output file.
type lineFile struct {
	path   string
	file   *os.File
	buf    *bufio.Writer
	closed bool
}

func createLineFile(path string) (*lineFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir for %s: %w", path, err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &lineFile{path: path, file: file, buf: bufio.NewWriter(file)}, nil
}

func (f *lineFile) Write(value interface{}) error {
	line, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal line for %s: %w", f.path, err)
	}
	line = append(line, '\n')
	if _, err := f.buf.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

// Close flushes buffered lines and closes the file. Later calls are no-ops,
// so a deferred Close can back up an explicit one.
func (f *lineFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	flushErr := f.buf.Flush()
	closeErr := f.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", f.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", f.path, closeErr)
	}
	return nil
}

func decodeErrorFromRow(stream string, row model.DisplayEvent, err error) model.DecodeError {
	topic0 := ""
	if len(row.Topics) > 0 {
		topic0 = row.Topics[0]
	}

	return model.DecodeError{
		Stream:      stream,
		ID:          row.ID,
		BlockNumber: row.BlockNumber,
		TxHash:      row.TransactionHash,
		Address:     row.Address,
		Topic0:      topic0,
		Error:       err.Error(),
	}
}
