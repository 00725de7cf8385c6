package txengine

import "time"

// Network describes a chain the engine can operate on. Implementations are
// expected to be immutable.
type Network interface {
	GetName() string
	GetChainID() uint64
	GetBlockTime() time.Duration

	// HasFixedTransferCost reports whether a plain value transfer on this
	// network always costs PlainTransferGas. Custom networks return false and
	// always go through full estimation.
	HasFixedTransferCost() bool

	// LogBatchSize is the maximum block range for a single getLogs call that
	// this network's RPC providers tolerate.
	LogBatchSize() uint64
}

// StaticNetwork is a plain value implementation of Network.
type StaticNetwork struct {
	Name             string
	ChainID          uint64
	BlockTime        time.Duration
	FixedSendCost    bool
	MaxLogBlockRange uint64
}

func (n *StaticNetwork) GetName() string             { return n.Name }
func (n *StaticNetwork) GetChainID() uint64          { return n.ChainID }
func (n *StaticNetwork) GetBlockTime() time.Duration { return n.BlockTime }
func (n *StaticNetwork) HasFixedTransferCost() bool  { return n.FixedSendCost }

func (n *StaticNetwork) LogBatchSize() uint64 {
	if n.MaxLogBlockRange == 0 {
		return 10000
	}
	return n.MaxLogBlockRange
}

// EthereumMainnet is the default network when none is configured.
var EthereumMainnet Network = &StaticNetwork{
	Name:             "mainnet",
	ChainID:          1,
	BlockTime:        12 * time.Second,
	FixedSendCost:    true,
	MaxLogBlockRange: 10000,
}

// ChainContext bundles the active network with the client used to reach it.
// The engine holds exactly one at a time; SwitchChain swaps it atomically so
// records from different chains are never mixed.
type ChainContext struct {
	Network Network
	Client  ChainClient
}
