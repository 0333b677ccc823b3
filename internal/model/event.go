package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Event is one observed contract log in chain-agnostic form.
type Event struct {
	Address         common.Address
	BlockNumber     uint64
	TransactionHash common.Hash
	Topics          []common.Hash
	Data            []byte
	// LogIndex orders events inside a block. It is not persisted.
	LogIndex uint
}

// Topic0 returns the event signature hash, or the zero hash when topics are empty.
func (e Event) Topic0() common.Hash {
	if len(e.Topics) == 0 {
		return common.Hash{}
	}
	return e.Topics[0]
}

// TopicStrings renders topics as 0x-prefixed hex.
func (e Event) TopicStrings() []string {
	topics := make([]string, 0, len(e.Topics))
	for _, topic := range e.Topics {
		topics = append(topics, topic.Hex())
	}
	return topics
}

// DisplayEvent is the read projection of a stored Event.
type DisplayEvent struct {
	ID              int64    `json:"id"`
	Address         string   `json:"address"`
	BlockNumber     uint64   `json:"block_number"`
	TransactionHash string   `json:"transaction_hash"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
}

// NewDisplayEvent renders an Event with the given row id.
func NewDisplayEvent(id int64, event Event) DisplayEvent {
	return DisplayEvent{
		ID:              id,
		Address:         event.Address.Hex(),
		BlockNumber:     event.BlockNumber,
		TransactionHash: event.TransactionHash.Hex(),
		Topics:          event.TopicStrings(),
		Data:            hexutil.Encode(event.Data),
	}
}
