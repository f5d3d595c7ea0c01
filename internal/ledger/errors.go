package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrWalletUnavailable   = errors.New("no wallet available")
	ErrUserRejected        = errors.New("wallet access rejected")
	ErrNotConnected        = errors.New("wallet not connected")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrAlreadyReacted      = errors.New("already reacted to this target")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrMissingField        = errors.New("missing required field")
	ErrTimeout             = errors.New("ledger call timed out")
	ErrNotFound            = errors.New("not found on ledger")
)

// RevertError is a ledger-side rejection. It matches ErrTransactionReverted.
type RevertError struct {
	Method string
	Reason string
	TxHash common.Hash
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: transaction reverted", e.Method)
	}
	return fmt.Sprintf("%s: transaction reverted: %s", e.Method, e.Reason)
}

func (e *RevertError) Is(target error) bool {
	return target == ErrTransactionReverted
}

// RevertReason extracts the ledger's revert reason from err, if any.
func RevertReason(err error) (string, bool) {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Reason, true
	}
	return "", false
}

func missingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}

// classify turns context expiry into ErrTimeout while keeping the cause.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
