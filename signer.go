package txengine

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the opaque signing capability consumed by the engine. The engine
// never touches key material.
type Signer interface {
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// signWithTimeout bounds how long the engine waits for the signer before
// treating signing as failed.
func signWithTimeout(ctx context.Context, s Signer, timeout time.Duration, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type signResult struct {
		tx  *types.Transaction
		err error
	}
	done := make(chan signResult, 1)
	go func() {
		signed, err := s.SignTx(ctx, from, tx, chainID)
		done <- signResult{tx: signed, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrSignTimeout
		}
		return nil, ctx.Err()
	case res := <-done:
		return res.tx, res.err
	}
}

// PrivateKeySigner signs with an in-process ECDSA key. It exists for tests
// and tooling; production deployments inject a keyring-backed Signer.
type PrivateKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewPrivateKeySigner wraps the given key as a Signer.
func NewPrivateKeySigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the address the signer signs for.
func (s *PrivateKeySigner) Address() common.Address { return s.address }

func (s *PrivateKeySigner) SignTx(_ context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if from != s.address {
		return nil, &SigningError{Err: errors.New("signer does not hold the key for " + from.Hex())}
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
