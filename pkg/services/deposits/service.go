package deposits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/mail"
	"path/filepath"
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
)

type service struct {
	deposits        depositsDb
	pricing         pricing
	chain           chain
	sealer          sealer
	gateway         gateway
	programID       solana.PublicKey
	minDurationDays uint32
	now             func() time.Time
	logger          *slog.Logger
}

type depositsDb interface {
	GetDepositByCID(ctx context.Context, cid string) (*db.Deposit, error)
	CreateDeposit(ctx context.Context, deposit db.Deposit, tx db.Transaction) (db.Deposit, error)
	AttachSignature(ctx context.Context, cid string, slot uint64, tx db.Transaction) (db.Deposit, error)
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]db.Deposit, int64, error)
}

type pricing interface {
	Quote(ctx context.Context, sizeBytes uint64, durationDays uint32) (v1.Quote, error)
}

type chain interface {
	LatestBlockhash(ctx context.Context) (solanaclient.Blockhash, error)
	ConfirmTransaction(ctx context.Context, signature string) (solanaclient.ConfirmedTransaction, error)
}

type sealer interface {
	Seal(meta v1.DepositMetadata) (v1.DepositMetadata, error)
	Verify(meta v1.DepositMetadata) error
}

type gateway interface {
	GatewayURL(cid string) string
}

type Deposits interface {
	Build(ctx context.Context, req v1.DepositRequest) (v1.DepositResponse, error)
	Confirm(ctx context.Context, req v1.ConfirmRequest) (v1.ConfirmStatus, v1.Deposit, error)
	History(ctx context.Context, owner string, page, limit int) (v1.HistoryResponse, error)
}

// Build prices the file set and returns an unsigned create_deposit
// instruction. Nothing is written to the ledger.
func (s *service) Build(ctx context.Context, req v1.DepositRequest) (resp v1.DepositResponse, err error) {
	log := s.logger.With(
		slog.String("method", "Build"),
		slog.String("owner", req.Owner),
		slog.Int("file_count", len(req.Files)),
	)

	payer, pErr := solana.PublicKeyFromBase58(req.Owner)
	if pErr != nil {
		err = models.ErrInvalidPayer
		return
	}

	days, err := s.durationDays(req.DurationSeconds)
	if err != nil {
		return
	}

	if req.UserEmail != nil {
		if !validEmail(*req.UserEmail) {
			err = models.ErrInvalidEmail
			return
		}
	}

	if err = validateFiles(req.Files); err != nil {
		return
	}

	root, dErr := contentid.Derive(req.Files)
	if dErr != nil {
		log.Error("failed to derive cid", slog.Any("error", dErr))
		err = models.ErrNoFiles
		return
	}
	cid := root.String()
	size := contentid.TotalSize(req.Files)

	quote, err := s.pricing.Quote(ctx, size, days)
	if err != nil {
		return
	}

	ix, _, iErr := escrow.CreateDepositInstruction(s.programID, payer, escrow.CreateDepositArgs{
		CID:      cid,
		Size:     size,
		Duration: int64(days) * constants.SecondsPerDay,
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

	names := contentid.SortedNames(req.Files)
	meta, sErr := s.sealer.Seal(v1.DepositMetadata{
		CID:           cid,
		Owner:         payer.String(),
		FileName:      displayName(names),
		FileType:      contentType(names[0], req.Files[names[0]]),
		FileSize:      size,
		FileCount:     len(names),
		DurationDays:  days,
		DepositAmount: quote.TotalCost,
		ExpiresAt:     s.now().AddDate(0, 0, int(days)).Unix(),
		UserEmail:     req.UserEmail,
	})
	if sErr != nil {
		log.Error("failed to seal metadata", slog.Any("error", sErr))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	log.Debug("deposit built", slog.String("cid", cid), slog.Uint64("amount", quote.TotalCost))

	resp = v1.DepositResponse{
		CID:                  cid,
		Instructions:         []v1.Instruction{encoded},
		DepositMetadata:      meta,
		FileCount:            len(names),
		TotalSize:            size,
		RecentBlockhash:      bh.Hash,
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}

	return
}

// Confirm records a paid deposit exactly once. A cid that already carries a
// signature yields ConfirmStatusAlreadyConfirmed with the stored record.
func (s *service) Confirm(ctx context.Context, req v1.ConfirmRequest) (status v1.ConfirmStatus, deposit v1.Deposit, err error) {
	log := s.logger.With(
		slog.String("method", "Confirm"),
		slog.String("cid", req.CID),
		slog.String("signature", req.TransactionHash),
	)

	if req.CID == "" || req.TransactionHash == "" || req.DepositMetadata == nil {
		err = models.ErrMissingFields
		return
	}

	if _, cErr := contentid.Parse(req.CID); cErr != nil {
		err = models.ErrInvalidCID
		return
	}

	if _, sErr := solana.SignatureFromBase58(req.TransactionHash); sErr != nil {
		err = models.ErrInvalidSignature
		return
	}

	meta := *req.DepositMetadata
	if err = s.sealer.Verify(meta); err != nil {
		return
	}
	if !contentid.Equal(meta.CID, req.CID) {
		log.Warn("metadata cid differs from request", slog.String("meta_cid", meta.CID))
		err = models.ErrMetadataTampered
		return
	}

	var confirmed *solanaclient.ConfirmedTransaction

	// one retry covers a lost insert race
	for range 2 {
		existing, gErr := s.deposits.GetDepositByCID(ctx, req.CID)
		if gErr != nil {
			log.Error("failed to get deposit", slog.Any("error", gErr))
			err = models.NewAppError(models.InternalServerErrorCode, "")
			return
		}

		if existing != nil && existing.TransactionSignature != nil {
			log.Info("deposit already confirmed", slog.String("stored_signature", *existing.TransactionSignature))
			return v1.ConfirmStatusAlreadyConfirmed, s.toAPI(*existing), nil
		}

		if confirmed == nil {
			tx, vErr := s.verifyPayment(ctx, log, req.TransactionHash, meta)
			if vErr != nil {
				err = vErr
				return
			}
			confirmed = &tx
		}

		now := s.now().UTC()
		record := db.Transaction{
			CID:          req.CID,
			Signature:    req.TransactionHash,
			Type:         db.TransactionTypeInitialDeposit,
			Amount:       meta.DepositAmount,
			DurationDays: meta.DurationDays,
			CreatedAt:    now,
		}

		if existing == nil {
			created, cErr := s.deposits.CreateDeposit(ctx, db.Deposit{
				CID:                  req.CID,
				OwnerAddress:         meta.Owner,
				FileName:             meta.FileName,
				FileType:             meta.FileType,
				FileSize:             meta.FileSize,
				DurationDays:         meta.DurationDays,
				DepositAmount:        meta.DepositAmount,
				DepositSlot:          confirmed.Slot,
				CreatedAt:            now,
				ExpiresAt:            now.AddDate(0, 0, int(meta.DurationDays)),
				UserEmail:            meta.UserEmail,
				TransactionSignature: &req.TransactionHash,
				DeletionStatus:       db.DeletionStatusActive,
			}, record)
			switch {
			case cErr == nil:
				log.Info("deposit confirmed", slog.Uint64("amount", created.DepositAmount), slog.Uint64("slot", created.DepositSlot))
				return v1.ConfirmStatusCreated, s.toAPI(created), nil
			case errors.Is(cErr, depositsRepository.ErrAlreadyExists):
				log.Debug("lost insert race, re-reading deposit")
				continue
			case errors.Is(cErr, depositsRepository.ErrSignatureTaken):
				log.Warn("signature already recorded", slog.Any("error", cErr))
				err = models.ErrSignatureUsed
				return
			default:
				log.Error("failed to create deposit", slog.Any("error", cErr))
				err = models.NewAppError(models.InternalServerErrorCode, "")
				return
			}
		}

		updated, aErr := s.deposits.AttachSignature(ctx, req.CID, confirmed.Slot, record)
		switch {
		case aErr == nil:
			log.Info("deposit signature recovered")
			return v1.ConfirmStatusRecovered, s.toAPI(updated), nil
		case errors.Is(aErr, depositsRepository.ErrSignatureAlreadySet):
			continue
		case errors.Is(aErr, depositsRepository.ErrSignatureTaken):
			err = models.ErrSignatureUsed
			return
		default:
			log.Error("failed to attach signature", slog.Any("error", aErr))
			err = models.NewAppError(models.InternalServerErrorCode, "")
			return
		}
	}

	log.Warn("deposit still contended after retry")
	err = models.ErrConfirmRace

	return
}

func (s *service) History(ctx context.Context, owner string, page, limit int) (resp v1.HistoryResponse, err error) {
	log := s.logger.With(
		slog.String("method", "History"),
		slog.String("owner", owner),
	)

	if _, pErr := solana.PublicKeyFromBase58(owner); pErr != nil {
		err = models.ErrInvalidPayer
		return
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = constants.HistoryDefaultLimit
	}
	if limit > constants.HistoryMaxLimit {
		limit = constants.HistoryMaxLimit
	}

	list, total, lErr := s.deposits.ListByOwner(ctx, owner, limit, (page-1)*limit)
	if lErr != nil {
		log.Error("failed to list deposits", slog.Any("error", lErr))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	resp = v1.HistoryResponse{
		Deposits: make([]v1.Deposit, 0, len(list)),
		Page:     page,
		Limit:    limit,
		Total:    total,
	}
	for _, d := range list {
		resp.Deposits = append(resp.Deposits, s.toAPI(d))
	}

	return
}

func (s *service) verifyPayment(ctx context.Context, log *slog.Logger, signature string, meta v1.DepositMetadata) (tx solanaclient.ConfirmedTransaction, err error) {
	owner, pErr := solana.PublicKeyFromBase58(meta.Owner)
	if pErr != nil {
		err = models.ErrInvalidPayer
		return
	}

	addrs, aErr := escrow.DeriveAddresses(s.programID, owner, meta.CID)
	if aErr != nil {
		log.Error("failed to derive deposit address", slog.Any("error", aErr))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}

	tx, err = s.chain.ConfirmTransaction(ctx, signature)
	if err != nil {
		err = MapChainError(log, err)
		return
	}

	ix, cErr := tx.Check(s.programID.String(), escrow.CreateDepositDiscriminator(), addrs.Deposit.String())
	if cErr != nil {
		err = MapChainError(log, cErr)
		return
	}

	args, dErr := escrow.DecodeCreateDeposit(ix.Data)
	if dErr != nil {
		log.Warn("undecodable create_deposit instruction", slog.Any("error", dErr))
		err = models.ErrPaymentMismatch
		return
	}

	if args.CID != meta.CID ||
		args.Amount != meta.DepositAmount ||
		args.Duration != int64(meta.DurationDays)*constants.SecondsPerDay {
		log.Warn("create_deposit args differ from sealed metadata",
			slog.String("paid_cid", args.CID),
			slog.Uint64("paid_amount", args.Amount),
			slog.Int64("paid_duration", args.Duration),
		)
		err = models.ErrPaymentMismatch
		return
	}

	return
}

func (s *service) durationDays(seconds int64) (uint32, error) {
	if seconds <= 0 {
		return 0, models.ErrDurationTooShort
	}

	days := (seconds + constants.SecondsPerDay - 1) / constants.SecondsPerDay
	if days < int64(s.minDurationDays) {
		return 0, models.ErrDurationTooShort
	}
	if days > constants.MaxDurationDays {
		return 0, models.ErrDurationTooLong
	}

	return uint32(days), nil
}

func (s *service) toAPI(d db.Deposit) v1.Deposit {
	return v1.NewDeposit(d, s.gateway.GatewayURL(d.CID))
}

// MapChainError converts chain client failures into caller-facing errors.
// Unknown failures are logged and reported as retryable.
func MapChainError(log *slog.Logger, err error) error {
	switch {
	case errors.Is(err, solanaclient.ErrNotFound):
		return models.ErrTransactionPending
	case errors.Is(err, solanaclient.ErrFailed):
		return models.ErrTransactionFailed
	case errors.Is(err, solanaclient.ErrAccountNotInvolved):
		return models.ErrWrongProgram
	default:
		log.Error("failed to confirm transaction", slog.Any("error", err))
		return models.ErrUpstream
	}
}

func validateFiles(files map[string][]byte) error {
	if len(files) == 0 {
		return models.ErrNoFiles
	}
	if len(files) > constants.MaxFilesCount {
		return models.ErrTooManyFiles
	}

	for name := range files {
		if name == "" || len(name) > constants.MaxPathLength {
			return models.ErrInvalidFileName
		}
	}

	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func displayName(names []string) string {
	if len(names) == 1 {
		return filepath.Base(names[0])
	}

	return fmt.Sprintf("%d files", len(names))
}

func contentType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}

	return http.DetectContentType(data)
}

func NewService(
	deposits depositsDb,
	pricing pricing,
	chain chain,
	sealer sealer,
	gateway gateway,
	programID solana.PublicKey,
	minDurationDays uint32,
	logger *slog.Logger,
) Deposits {
	return &service{
		deposits:        deposits,
		pricing:         pricing,
		chain:           chain,
		sealer:          sealer,
		gateway:         gateway,
		programID:       programID,
		minDurationDays: minDurationDays,
		now:             time.Now,
		logger:          logger,
	}
}
