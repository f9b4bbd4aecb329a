package v1

type Quote struct {
	TotalCost         uint64 `json:"totalCost"`
	TotalCostToken    string `json:"totalCostToken"`
	CostStable        string `json:"costStable"`
	RatePerBytePerDay string `json:"ratePerBytePerDay"`
	ExchangeRate      string `json:"exchangeRate"`
	SizeBytes         uint64 `json:"sizeBytes"`
	DurationDays      uint32 `json:"durationDays"`
}

type QuoteResponse struct {
	Quote Quote `json:"quote"`
}

type AccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type Instruction struct {
	ProgramID string        `json:"programId"`
	Keys      []AccountMeta `json:"keys"`
	Data      string        `json:"data"`
}

// DepositMetadata travels from build to confirm through the client.
// Signature seals every other field with the server key.
type DepositMetadata struct {
	CID           string  `json:"cid"`
	Owner         string  `json:"owner"`
	FileName      string  `json:"fileName"`
	FileType      string  `json:"fileType"`
	FileSize      uint64  `json:"fileSize"`
	FileCount     int     `json:"fileCount"`
	DurationDays  uint32  `json:"durationDays"`
	DepositAmount uint64  `json:"depositAmount"`
	ExpiresAt     int64   `json:"expiresAt"`
	UserEmail     *string `json:"userEmail,omitempty"`
	Signature     string  `json:"signature"`
}

type DepositRequest struct {
	Owner           string
	Files           map[string][]byte
	DurationSeconds int64
	UserEmail       *string
}

type DepositResponse struct {
	CID                  string          `json:"cid"`
	Instructions         []Instruction   `json:"instructions"`
	DepositMetadata      DepositMetadata `json:"depositMetadata"`
	FileCount            int             `json:"fileCount"`
	TotalSize            uint64          `json:"totalSize"`
	RecentBlockhash      string          `json:"recentBlockhash"`
	LastValidBlockHeight uint64          `json:"lastValidBlockHeight"`
}

type ConfirmRequest struct {
	CID             string           `json:"cid"`
	TransactionHash string           `json:"transactionHash"`
	DepositMetadata *DepositMetadata `json:"depositMetadata"`
}

type Deposit struct {
	CID                  string  `json:"cid"`
	Owner                string  `json:"owner"`
	FileName             string  `json:"fileName"`
	FileType             string  `json:"fileType"`
	FileSize             uint64  `json:"fileSize"`
	DurationDays         uint32  `json:"durationDays"`
	DepositAmount        uint64  `json:"depositAmount"`
	DepositSlot          uint64  `json:"depositSlot"`
	CreatedAt            int64   `json:"createdAt"`
	ExpiresAt            int64   `json:"expiresAt"`
	TransactionSignature *string `json:"transactionSignature"`
	DeletionStatus       string  `json:"deletionStatus"`
	URL                  string  `json:"url,omitempty"`
}

type ConfirmStatus string

const (
	ConfirmStatusCreated          ConfirmStatus = "created"
	ConfirmStatusRecovered        ConfirmStatus = "recovered"
	ConfirmStatusAlreadyConfirmed ConfirmStatus = "already_confirmed"
)

type ConfirmResponse struct {
	Status  ConfirmStatus `json:"status"`
	Deposit Deposit       `json:"deposit"`
}

type HistoryResponse struct {
	Deposits []Deposit `json:"deposits"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	Total    int64     `json:"total"`
}

type UploadResponse struct {
	CID string `json:"cid"`
	URL string `json:"url"`
}

type RenewalCostResponse struct {
	CID              string `json:"cid"`
	AdditionalDays   uint32 `json:"additionalDays"`
	Cost             Quote  `json:"cost"`
	CurrentExpiresAt int64  `json:"currentExpiresAt"`
	NewExpiresAt     int64  `json:"newExpiresAt"`
}

type RenewRequest struct {
	CID       string `json:"cid"`
	Duration  uint32 `json:"duration"`
	PublicKey string `json:"publicKey"`
}

type RenewResponse struct {
	CID                  string        `json:"cid"`
	Instructions         []Instruction `json:"instructions"`
	Cost                 Quote         `json:"cost"`
	NewExpiresAt         int64         `json:"newExpiresAt"`
	RecentBlockhash      string        `json:"recentBlockhash"`
	LastValidBlockHeight uint64        `json:"lastValidBlockHeight"`
}

type ConfirmRenewalRequest struct {
	CID             string `json:"cid"`
	Duration        uint32 `json:"duration"`
	TransactionHash string `json:"transactionHash"`
}
