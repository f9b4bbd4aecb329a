package db

import "time"

type DeletionStatus string

const (
	DeletionStatusActive  DeletionStatus = "active"
	DeletionStatusWarned  DeletionStatus = "warned"
	DeletionStatusDeleted DeletionStatus = "deleted"
)

type TransactionType string

const (
	TransactionTypeInitialDeposit TransactionType = "initial_deposit"
	TransactionTypeRenewal        TransactionType = "renewal"
)

type Deposit struct {
	ID                   int64          `json:"id"`
	CID                  string         `json:"cid"`
	OwnerAddress         string         `json:"owner_address"`
	FileName             string         `json:"file_name"`
	FileType             string         `json:"file_type"`
	FileSize             uint64         `json:"file_size"`
	DurationDays         uint32         `json:"duration_days"`
	DepositAmount        uint64         `json:"deposit_amount"`
	DepositSlot          uint64         `json:"deposit_slot"`
	LastClaimedSlot      uint64         `json:"last_claimed_slot"`
	CreatedAt            time.Time      `json:"created_at"`
	ExpiresAt            time.Time      `json:"expires_at"`
	UserEmail            *string        `json:"user_email"`
	TransactionSignature *string        `json:"transaction_signature"`
	DeletionStatus       DeletionStatus `json:"deletion_status"`
	WarningSentAt        *time.Time     `json:"warning_sent_at"`
}

type Transaction struct {
	ID           int64           `json:"id"`
	DepositID    int64           `json:"deposit_id"`
	CID          string          `json:"cid"`
	Signature    string          `json:"signature"`
	Type         TransactionType `json:"type"`
	Amount       uint64          `json:"amount"`
	DurationDays uint32          `json:"duration_days"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Renewal struct {
	CID          string
	Signature    string
	Amount       uint64
	DurationDays uint32
	Slot         uint64
	CreatedAt    time.Time
}

type UsageSnapshot struct {
	ID                 string    `json:"id"`
	InternalBytes      uint64    `json:"internal_bytes"`
	ActiveUploads      uint64    `json:"active_uploads"`
	ReportedBytes      uint64    `json:"reported_bytes"`
	PlanLimitBytes     *uint64   `json:"plan_limit_bytes"`
	UtilizationPercent *float64  `json:"utilization_percent"`
	CreatedAt          time.Time `json:"created_at"`
}

type ComparisonStatus string

const (
	ComparisonStatusOK       ComparisonStatus = "ok"
	ComparisonStatusWarning  ComparisonStatus = "warning"
	ComparisonStatusCritical ComparisonStatus = "critical"
)

type UsageComparison struct {
	ID                 string           `json:"id"`
	InternalBytes      uint64           `json:"internal_bytes"`
	ReportedBytes      uint64           `json:"reported_bytes"`
	DiscrepancyBytes   int64            `json:"discrepancy_bytes"`
	DiscrepancyPercent float64          `json:"discrepancy_percent"`
	Status             ComparisonStatus `json:"status"`
	Note               string           `json:"note"`
	CreatedAt          time.Time        `json:"created_at"`
}

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

type UsageAlert struct {
	ID                 string     `json:"id"`
	AlertType          string     `json:"alert_type"`
	Level              AlertLevel `json:"level"`
	UtilizationPercent *float64   `json:"utilization_percent"`
	BytesStored        *uint64    `json:"bytes_stored"`
	PlanLimitBytes     *uint64    `json:"plan_limit_bytes"`
	Message            string     `json:"message"`
	CreatedAt          time.Time  `json:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at"`
}
