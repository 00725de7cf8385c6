package testutil

import (
	"time"
)

// ============================================================
// Mock Network Implementations
// ============================================================

// MockNetwork is a configurable mock network for testing
type MockNetwork struct {
	ChainIDValue      uint64
	NameValue         string
	BlockTimeValue    time.Duration
	FixedTransferCost bool
	LogBatchValue     uint64
}

// NewMockNetwork creates a new mock network with default values
func NewMockNetwork(chainID uint64, name string) *MockNetwork {
	return &MockNetwork{
		ChainIDValue:      chainID,
		NameValue:         name,
		BlockTimeValue:    12 * time.Second,
		FixedTransferCost: true,
		LogBatchValue:     10000,
	}
}

// NewMockL2Network creates a mock network with L2-like characteristics:
// fast blocks and no fixed transfer cost (like Arbitrum)
func NewMockL2Network(chainID uint64, name string) *MockNetwork {
	return &MockNetwork{
		ChainIDValue:      chainID,
		NameValue:         name,
		BlockTimeValue:    250 * time.Millisecond, // Fast block time like L2s
		FixedTransferCost: false,                  // L1 gas component makes transfers variable
		LogBatchValue:     10000,
	}
}

// Network interface implementation

func (m *MockNetwork) GetName() string             { return m.NameValue }
func (m *MockNetwork) GetChainID() uint64          { return m.ChainIDValue }
func (m *MockNetwork) GetBlockTime() time.Duration { return m.BlockTimeValue }
func (m *MockNetwork) HasFixedTransferCost() bool  { return m.FixedTransferCost }
func (m *MockNetwork) LogBatchSize() uint64        { return m.LogBatchValue }
