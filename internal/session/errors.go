package session

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageIO indicates the transcript store could not read or write.
	ErrStorageIO = errors.New("session: storage I/O failed")

	// ErrSummarization indicates a compaction summary could not be produced.
	ErrSummarization = errors.New("session: summarization failed")

	// ErrNotLoaded is returned by History operations that need Load first.
	ErrNotLoaded = errors.New("session: history not loaded")
)

// StorageError carries the failing store operation and session.
type StorageError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("store %s failed", e.Op)
	if e.SessionID != "" {
		msg += fmt.Sprintf(" for session %s", e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrStorageIO and the underlying driver error.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageIO, e.Err}
}

func storageErr(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, SessionID: sessionID, Err: err}
}
