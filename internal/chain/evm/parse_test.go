package evm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984 ")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"), addr)

	_, err = ParseAddress("0x1234")
	assert.Error(t, err)
	_, err = ParseAddress("")
	assert.Error(t, err)
}

func TestParseEventSignatureHash(t *testing.T) {
	sig, err := ParseEventSignature("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), sig)

	_, err = ParseEventSignature("0xddf252")
	assert.Error(t, err)
	_, err = ParseEventSignature("0xzz")
	assert.Error(t, err)
}

func TestParseEventSignatureText(t *testing.T) {
	sig, err := ParseEventSignature("Transfer(address,address,uint256)")
	require.NoError(t, err)
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", sig.Hex())

	for _, bad := range []string{"", "Transfer", "(address)", "Transfer(address, uint256)", "Transfer(address"} {
		_, err := ParseEventSignature(bad)
		assert.Error(t, err, bad)
	}
}
