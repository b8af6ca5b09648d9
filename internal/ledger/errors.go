package ledger

import "errors"

// Sentinel errors matching the postEvent contract in spec §4.2.
var (
	ErrDuplicateCorrelation = errors.New("ledger: DUPLICATE_CORRELATION")
	ErrInvalidLine          = errors.New("ledger: INVALID_LINE")
	ErrUnbalanced           = errors.New("ledger: UNBALANCED")
)
