package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logscope/internal/config"
	"logscope/internal/model"
	"logscope/internal/store"
)

func runQuery(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	stream, _ := cmd.Flags().GetString("stream")
	txParam, _ := cmd.Flags().GetString("tx")
	block, _ := cmd.Flags().GetUint64("block")
	blockSet := cmd.Flags().Changed("block")
	if txParam != "" && blockSet {
		return fmt.Errorf("--tx and --block are mutually exclusive")
	}

	target, err := storeTarget(cfg, stream)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, err := store.OpenReader(ctx, target)
	if err != nil {
		return err
	}
	defer reader.Close()

	var rows []model.DisplayEvent
	switch {
	case txParam != "":
		data, derr := hexutil.Decode(txParam)
		if derr != nil || len(data) != common.HashLength {
			return fmt.Errorf("invalid tx hash %q", txParam)
		}
		rows, err = reader.QueryByTxHash(ctx, stream, common.BytesToHash(data))
	case blockSet:
		rows, err = reader.QueryByBlock(ctx, stream, block)
	default:
		rows, err = reader.QueryAll(ctx, stream)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	logger.Debug("query complete", zap.String("stream", stream), zap.Int("rows", len(rows)))
	return nil
}

// storeTarget picks the stream's own store, falling back to the server's.
func storeTarget(cfg config.Config, stream string) (string, error) {
	if idx, ok := cfg.Indexer(stream); ok {
		return idx.StoreConnectionTarget, nil
	}
	if cfg.Server.StoreConnectionTarget != "" {
		return cfg.Server.StoreConnectionTarget, nil
	}
	return "", fmt.Errorf("%w: no store configured for stream %q", config.ErrConfigInvalid, stream)
}
