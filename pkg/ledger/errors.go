package ledger

import "errors"

var (
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrInvalidKind         = errors.New("ledger: invalid transaction kind")
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	ErrDuplicateReference  = errors.New("ledger: duplicate reference id")
)
