package renewals

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	solanaclient "pinledger-backend/pkg/clients/solana"
	"pinledger-backend/pkg/constants"
	"pinledger-backend/pkg/contentid"
	"pinledger-backend/pkg/escrow"
	"pinledger-backend/pkg/models"
	v1 "pinledger-backend/pkg/models/api/v1"
	"pinledger-backend/pkg/models/db"
	depositsRepository "pinledger-backend/pkg/repositories/deposits"
	depositsService "pinledger-backend/pkg/services/deposits"
)

type service struct {
	deposits  depositsDb
	pricing   pricing
	chain     chain
	gateway   gateway
	programID solana.PublicKey
	now       func() time.Time
	logger    *slog.Logger
}

type depositsDb interface {
	GetDepositByCID(ctx context.Context, cid string) (*db.Deposit, error)
	ApplyRenewal(ctx context.Context, renewal db.Renewal) (db.Deposit, bool, error)
}

type pricing interface {
	Quote(ctx context.Context, sizeBytes uint64, durationDays uint32) (v1.Quote, error)
}

type chain interface {
	LatestBlockhash(ctx context.Context) (solanaclient.Blockhash, error)
	ConfirmTransaction(ctx context.Context, signature string) (solanaclient.ConfirmedTransaction, error)
}

type gateway interface {
	GatewayURL(cid string) string
}

type Renewals interface {
	QuoteRenewal(ctx context.Context, cid string, additionalDays uint32) (v1.RenewalCostResponse, error)
	BuildRenewal(ctx context.Context, req v1.RenewRequest) (v1.RenewResponse, error)
	ConfirmRenewal(ctx context.Context, req v1.ConfirmRenewalRequest) (v1.ConfirmStatus, v1.Deposit, error)
}

// QuoteRenewal prices an extension against the size already on record.
func (s *service) QuoteRenewal(ctx context.Context, cid string, additionalDays uint32) (resp v1.RenewalCostResponse, err error) {
	deposit, err := s.renewable(ctx, cid, additionalDays)
	if err != nil {
		return
	}

	quote, err := s.pricing.Quote(ctx, deposit.FileSize, additionalDays)
	if err != nil {
		return
	}

	resp = v1.RenewalCostResponse{
		CID:              deposit.CID,
		AdditionalDays:   additionalDays,
		Cost:             quote,
		CurrentExpiresAt: deposit.ExpiresAt.Unix(),
		NewExpiresAt:     deposit.ExpiresAt.AddDate(0, 0, int(additionalDays)).Unix(),
	}

	return
}

func (s *service) BuildRenewal(ctx context.Context, req v1.RenewRequest) (resp v1.RenewResponse, err error) {
	log := s.logger.With(
		slog.String("method", "BuildRenewal"),
		slog.String("cid", req.CID),
		slog.String("public_key", req.PublicKey),
	)

	payer, pErr := solana.PublicKeyFromBase58(req.PublicKey)
	if pErr != nil {
		err = models.ErrInvalidPayer
		return
	}

	deposit, err := s.renewable(ctx, req.CID, req.Duration)
	if err != nil {
		return
	}

	if deposit.OwnerAddress != payer.String() {
		log.Warn("renewal requested by non-owner", slog.String("owner", deposit.OwnerAddress))
		err = models.ErrNotOwner
		return
	}

	quote, err := s.pricing.Quote(ctx, deposit.FileSize, req.Duration)
	if err != nil {
		return
	}

	// same deposit account as the original create_deposit
	ix, _, iErr := escrow.ExtendDepositInstruction(s.programID, payer, escrow.ExtendDepositArgs{
		CID:      deposit.CID,
		Duration: int64(req.Duration) * constants.SecondsPerDay,
		Amount:   quote.TotalCost,
	})
	if iErr != nil {
		log.Error("failed to build instruction", slog.Any("error", iErr))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	encoded, eErr := escrow.Encode(ix)
	if eErr != nil {
		log.Error("failed to encode instruction", slog.Any("error", eErr))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	bh, bErr := s.chain.LatestBlockhash(ctx)
	if bErr != nil {
		log.Error("failed to get latest blockhash", slog.Any("error", bErr))
		err = models.ErrUpstream
		return
	}

	resp = v1.RenewResponse{
		CID:                  deposit.CID,
		Instructions:         []v1.Instruction{encoded},
		Cost:                 quote,
		NewExpiresAt:         deposit.ExpiresAt.AddDate(0, 0, int(req.Duration)).Unix(),
		RecentBlockhash:      bh.Hash,
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}

	return
}

// ConfirmRenewal applies a paid extension once per signature. Several
// renewals of one cid are expected, each with its own signature.
func (s *service) ConfirmRenewal(ctx context.Context, req v1.ConfirmRenewalRequest) (status v1.ConfirmStatus, deposit v1.Deposit, err error) {
	log := s.logger.With(
		slog.String("method", "ConfirmRenewal"),
		slog.String("cid", req.CID),
		slog.String("signature", req.TransactionHash),
		slog.Uint64("days", uint64(req.Duration)),
	)

	if req.CID == "" || req.TransactionHash == "" || req.Duration == 0 {
		err = models.ErrMissingFields
		return
	}

	if _, sErr := solana.SignatureFromBase58(req.TransactionHash); sErr != nil {
		err = models.ErrInvalidSignature
		return
	}

	current, err := s.renewable(ctx, req.CID, req.Duration)
	if err != nil {
		return
	}

	owner, pErr := solana.PublicKeyFromBase58(current.OwnerAddress)
	if pErr != nil {
		log.Error("stored owner is not a valid address", slog.String("owner", current.OwnerAddress))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	addrs, aErr := escrow.DeriveAddresses(s.programID, owner, current.CID)
	if aErr != nil {
		log.Error("failed to derive deposit address", slog.Any("error", aErr))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	tx, cErr := s.chain.ConfirmTransaction(ctx, req.TransactionHash)
	var ix solanaclient.Instruction
	if cErr == nil {
		ix, cErr = tx.Check(s.programID.String(), escrow.ExtendDepositDiscriminator(), addrs.Deposit.String())
	}
	if cErr != nil {
		err = depositsService.MapChainError(log, cErr)
		return
	}

	// the signed instruction, not the request, decides what is recorded
	paid, dErr := escrow.DecodeExtendDeposit(ix.Data)
	if dErr != nil {
		log.Warn("undecodable extend_deposit instruction", slog.Any("error", dErr))
		err = models.ErrPaymentMismatch
		return
	}

	if paid.CID != current.CID || paid.Duration != int64(req.Duration)*constants.SecondsPerDay {
		log.Warn("extend_deposit args differ from request",
			slog.String("paid_cid", paid.CID),
			slog.Int64("paid_duration", paid.Duration),
		)
		err = models.ErrPaymentMismatch
		return
	}

	quote, err := s.pricing.Quote(ctx, current.FileSize, req.Duration)
	if err != nil {
		return
	}

	if paid.Amount < quote.TotalCost {
		log.Warn("extend_deposit underpays current quote",
			slog.Uint64("paid_amount", paid.Amount),
			slog.Uint64("quoted", quote.TotalCost),
		)
		err = models.ErrPaymentMismatch
		return
	}

	updated, applied, rErr := s.deposits.ApplyRenewal(ctx, db.Renewal{
		CID:          current.CID,
		Signature:    req.TransactionHash,
		Amount:       paid.Amount,
		DurationDays: uint32(paid.Duration / constants.SecondsPerDay),
		Slot:         tx.Slot,
		CreatedAt:    s.now().UTC(),
	})
	switch {
	case rErr == nil:
	case errors.Is(rErr, depositsRepository.ErrSignatureTaken):
		err = models.ErrSignatureUsed
		return
	case errors.Is(rErr, depositsRepository.ErrNotFound):
		err = models.ErrDepositNotFound
		return
	default:
		log.Error("failed to apply renewal", slog.Any("error", rErr))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	deposit = v1.NewDeposit(updated, s.gateway.GatewayURL(updated.CID))
	if !applied {
		log.Info("renewal already applied")
		return v1.ConfirmStatusAlreadyConfirmed, deposit, nil
	}

	log.Info("renewal applied", slog.Uint64("amount", paid.Amount), slog.Uint64("slot", tx.Slot))

	return v1.ConfirmStatusCreated, deposit, nil
}

func (s *service) renewable(ctx context.Context, cid string, days uint32) (*db.Deposit, error) {
	if _, err := contentid.Parse(cid); err != nil {
		return nil, models.ErrInvalidCID
	}
	if days == 0 {
		return nil, models.ErrDurationTooShort
	}
	if days > constants.MaxDurationDays {
		return nil, models.ErrDurationTooLong
	}

	deposit, err := s.deposits.GetDepositByCID(ctx, cid)
	if err != nil {
		s.logger.Error("failed to get deposit", slog.String("cid", cid), slog.Any("error", err))
		return nil, models.NewAppError(models.InternalServerErrorCode, "")
	}

	switch {
	case deposit == nil:
		return nil, models.ErrDepositNotFound
	case deposit.TransactionSignature == nil:
		return nil, models.ErrNotConfirmed
	case deposit.DeletionStatus == db.DeletionStatusDeleted:
		return nil, models.ErrDepositDeleted
	}

	return deposit, nil
}

func NewService(
	deposits depositsDb,
	pricing pricing,
	chain chain,
	gateway gateway,
	programID solana.PublicKey,
	logger *slog.Logger,
) Renewals {
	return &service{
		deposits:  deposits,
		pricing:   pricing,
		chain:     chain,
		gateway:   gateway,
		programID: programID,
		now:       time.Now,
		logger:    logger,
	}
}
