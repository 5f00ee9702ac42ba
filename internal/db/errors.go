package db

import "errors"

// Sentinel errors for store operations.
var (
	ErrLockNotAvailable  = errors.New("db: row lock not available")
	ErrDuplicateObject   = errors.New("db: duplicate object id")
	ErrCollectionMissing = errors.New("db: collection tables missing")
	ErrTxDone            = errors.New("db: transaction already finished")
)
