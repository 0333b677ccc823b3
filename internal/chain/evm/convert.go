package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"logscope/internal/model"
)

func toEvent(log types.Log) model.Event {
	topics := make([]common.Hash, len(log.Topics))
	copy(topics, log.Topics)

	data := make([]byte, len(log.Data))
	copy(data, log.Data)

	return model.Event{
		Address:         log.Address,
		BlockNumber:     log.BlockNumber,
		TransactionHash: log.TxHash,
		Topics:          topics,
		Data:            data,
		LogIndex:        log.Index,
	}
}
