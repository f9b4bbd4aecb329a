package solanaclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"pinledger-backend/pkg/utils"
)

const (
	retries            = 3
	singleQueryTimeout = 10 * time.Second
)

type client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

type Client interface {
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	ConfirmTransaction(ctx context.Context, signature string) (ConfirmedTransaction, error)
}

func (c *client) LatestBlockhash(ctx context.Context) (bh Blockhash, err error) {
	var res *rpc.GetLatestBlockhashResult
	err = utils.TryNTimes(ctx, func() error {
		timeoutCtx, cancel := context.WithTimeout(ctx, singleQueryTimeout)
		defer cancel()

		var rErr error
		res, rErr = c.rpc.GetLatestBlockhash(timeoutCtx, c.commitment)
		return rErr
	}, retries)
	if err != nil {
		err = fmt.Errorf("get latest blockhash: %w", err)
		return
	}

	bh = Blockhash{
		Hash:                 res.Value.Blockhash.String(),
		LastValidBlockHeight: res.Value.LastValidBlockHeight,
	}

	return
}

// ConfirmTransaction returns ErrNotFound while the transaction has not reached
// the configured commitment, so callers can treat the result as "unknown".
func (c *client) ConfirmTransaction(ctx context.Context, signature string) (tx ConfirmedTransaction, err error) {
	log := c.logger.With(
		slog.String("method", "ConfirmTransaction"),
		slog.String("signature", signature),
	)

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		err = utils.Permanent(fmt.Errorf("invalid signature: %w", err))
		return
	}

	maxVersion := uint64(0)
	var res *rpc.GetTransactionResult
	err = utils.TryNTimes(ctx, func() error {
		timeoutCtx, cancel := context.WithTimeout(ctx, singleQueryTimeout)
		defer cancel()

		var rErr error
		res, rErr = c.rpc.GetTransaction(timeoutCtx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if errors.Is(rErr, rpc.ErrNotFound) {
			return utils.Permanent(ErrNotFound)
		}
		return rErr
	}, retries)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Debug("transaction not found yet")
			return
		}

		err = fmt.Errorf("get transaction: %w", err)
		return
	}

	if res == nil || res.Transaction == nil {
		err = ErrNotFound
		return
	}

	parsed, err := res.Transaction.GetTransaction()
	if err != nil {
		err = fmt.Errorf("decode transaction: %w", err)
		return
	}

	tx = ConfirmedTransaction{
		Signature: signature,
		Slot:      res.Slot,
		Failed:    res.Meta != nil && res.Meta.Err != nil,
	}

	for _, key := range parsed.Message.AccountKeys {
		tx.Accounts = append(tx.Accounts, key.String())
	}

	for _, ci := range parsed.Message.Instructions {
		ix := Instruction{
			ProgramID: accountAt(tx.Accounts, ci.ProgramIDIndex),
			Data:      []byte(ci.Data),
		}
		for _, idx := range ci.Accounts {
			ix.Accounts = append(ix.Accounts, accountAt(tx.Accounts, idx))
		}
		tx.Instructions = append(tx.Instructions, ix)
	}

	return
}

// accountAt resolves a compiled index; lookup table entries are not loaded
// and resolve to an empty key.
func accountAt(keys []string, idx uint16) string {
	if int(idx) >= len(keys) {
		return ""
	}
	return keys[idx]
}

func NewClient(endpoint string, commitment string, logger *slog.Logger) Client {
	return &client{
		rpc:        rpc.New(endpoint),
		commitment: rpc.CommitmentType(commitment),
		logger:     logger,
	}
}
