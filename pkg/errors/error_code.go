package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidRiskInput     ErrorCode = 102
	ErrCodeInvalidDecision      ErrorCode = 103
	ErrCodeInvalidPeriod        ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 105
	ErrCodeInsufficientData     ErrorCode = 106
	ErrCodeInvalidEntity        ErrorCode = 107

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound ErrorCode = 200
	ErrCodeQueryFailed  ErrorCode = 201

	// Oracle errors (300-399)
	ErrCodeOracleTimeout         ErrorCode = 300
	ErrCodeOracleInvalidResponse ErrorCode = 301
	ErrCodeOracleUnavailable     ErrorCode = 302

	// Execution errors (400-499)
	ErrCodeOrderFailed      ErrorCode = 400
	ErrCodeCloseFailed      ErrorCode = 401
	ErrCodePositionNotFound ErrorCode = 402
	ErrCodeReconcileFailed  ErrorCode = 403

	// Risk errors (500-599)
	ErrCodeDuplicateOutcome ErrorCode = 500

	// Storage errors (600-699)
	ErrCodePrimaryStoreFailed   ErrorCode = 600
	ErrCodeSecondaryStoreFailed ErrorCode = 601
	ErrCodeOutboxFailed         ErrorCode = 602
	ErrCodeStoreInitFailed      ErrorCode = 603

	// Market data errors (700-799)
	ErrCodeMarketDataFetchFailed ErrorCode = 700
	ErrCodeMarketDataParseFailed ErrorCode = 701
	ErrCodeStreamClosed          ErrorCode = 702

	// Pipeline errors (800-899)
	ErrCodePipelineState ErrorCode = 800
)
