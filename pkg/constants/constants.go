package constants

const (
	MaxPathLength = 1024
	MaxFilesCount = 1000

	// 2^53-1, the largest integer every client can represent exactly.
	MaxSafeInteger = 1<<53 - 1

	TokenDecimals   = 9
	SecondsPerDay   = 24 * 60 * 60
	MaxDurationDays = 100 * 365

	HistoryDefaultLimit = 20
	HistoryMaxLimit     = 100
)
