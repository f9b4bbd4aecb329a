package uploads

import (
	"context"
	"log/slog"

	"pinledger-backend/pkg/constants"
	"pinledger-backend/pkg/contentid"
	"pinledger-backend/pkg/models"
	v1 "pinledger-backend/pkg/models/api/v1"
	"pinledger-backend/pkg/models/db"
)

type service struct {
	deposits depositsDb
	storage  storage
	logger   *slog.Logger
}

type depositsDb interface {
	GetDepositByCID(ctx context.Context, cid string) (*db.Deposit, error)
}

type storage interface {
	UploadCAR(ctx context.Context, name string, car []byte) (string, error)
	GatewayURL(cid string) string
}

type Uploads interface {
	Upload(ctx context.Context, cid string, files map[string][]byte) (v1.UploadResponse, error)
}

// Upload pushes the bytes of a confirmed deposit to the storage network.
// The file set must hash to the paid cid before anything is sent, and the
// network must report the same root back.
func (s *service) Upload(ctx context.Context, cid string, files map[string][]byte) (resp v1.UploadResponse, err error) {
	log := s.logger.With(
		slog.String("method", "Upload"),
		slog.String("cid", cid),
		slog.Int("file_count", len(files)),
	)

	if _, pErr := contentid.Parse(cid); pErr != nil {
		err = models.ErrInvalidCID
		return
	}
	if len(files) == 0 {
		err = models.ErrNoFiles
		return
	}
	if len(files) > constants.MaxFilesCount {
		err = models.ErrTooManyFiles
		return
	}

	deposit, gErr := s.deposits.GetDepositByCID(ctx, cid)
	if gErr != nil {
		log.Error("failed to get deposit", slog.Any("error", gErr))
		err = models.NewAppError(models.InternalServerErrorCode, "")
		return
	}
	if deposit == nil {
		err = models.ErrDepositNotFound
		return
	}
	if deposit.TransactionSignature == nil {
		err = models.ErrNotConfirmed
		return
	}
	if deposit.DeletionStatus == db.DeletionStatusDeleted {
		err = models.ErrDepositDeleted
		return
	}

	root, car, pErr := contentid.Pack(files)
	if pErr != nil {
		err = models.ErrNoFiles
		return
	}
	if !contentid.Equal(root.String(), cid) {
		log.Warn("files do not match paid cid", slog.String("derived", root.String()))
		err = models.ErrContentMismatch
		return
	}

	stored, uErr := s.storage.UploadCAR(ctx, deposit.FileName, car)
	if uErr != nil {
		log.Error("failed to upload to storage network", slog.Any("error", uErr))
		err = models.ErrUpstream
		return
	}

	if !contentid.Equal(stored, cid) {
		// the payment is already settled on-chain; this needs an operator
		log.Error("storage network stored different content than was paid for",
			slog.String("expected", cid),
			slog.String("actual", stored),
			slog.String("owner", deposit.OwnerAddress),
			slog.String("signature", *deposit.TransactionSignature),
			slog.Uint64("size", deposit.FileSize),
		)
		err = models.ErrIntegrityMismatch
		return
	}

	log.Info("content uploaded", slog.Int("car_size", len(car)))

	resp = v1.UploadResponse{
		CID: cid,
		URL: s.storage.GatewayURL(cid),
	}

	return
}

func NewService(deposits depositsDb, storage storage, logger *slog.Logger) Uploads {
	return &service{
		deposits: deposits,
		storage:  storage,
		logger:   logger,
	}
}
