package v1

import "pinledger-backend/pkg/models/db"

func NewDeposit(d db.Deposit, url string) Deposit {
	return Deposit{
		CID:                  d.CID,
		Owner:                d.OwnerAddress,
		FileName:             d.FileName,
		FileType:             d.FileType,
		FileSize:             d.FileSize,
		DurationDays:         d.DurationDays,
		DepositAmount:        d.DepositAmount,
		DepositSlot:          d.DepositSlot,
		CreatedAt:            d.CreatedAt.Unix(),
		ExpiresAt:            d.ExpiresAt.Unix(),
		TransactionSignature: d.TransactionSignature,
		DeletionStatus:       string(d.DeletionStatus),
		URL:                  url,
	}
}
