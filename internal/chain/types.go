package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// HeadInfo represents the latest block metadata the trading core consumes.
type HeadInfo struct {
	Number    uint64
	Timestamp uint64
}

// TxSpec carries everything required to build, sign and submit one
// transaction. GasPrice must be resolved by the caller before submission.
type TxSpec struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Data     []byte
}

// Receipt captures the outcome of a submitted transaction.
type Receipt struct {
	TxHash       common.Hash
	Succeeded    bool
	RevertReason string
	GasUsed      uint64
	BlockNumber  uint64
}

// Gateway defines the chain capabilities the orchestration core consumes.
// Implementations own connection lifecycle; the core never dials RPC itself.
type Gateway interface {
	// GasPrice returns the node's suggested gas price.
	GasPrice(ctx context.Context) (*big.Int, error)
	// Balance returns the native-token balance of an address.
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	// Head returns the latest block number and timestamp.
	Head(ctx context.Context) (HeadInfo, error)
	// Call performs a read-only contract call and returns the raw output.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// SignAndSend signs the spec with the given key, submits it and waits
	// for the receipt. The key is used for this one signature only.
	SignAndSend(ctx context.Context, spec TxSpec, key *ecdsa.PrivateKey) (Receipt, error)
	// ChainID reports the connected chain's id.
	ChainID() *big.Int
	Close()
}
