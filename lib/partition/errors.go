package partition

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// the partition the error originated from and an error message.
type Error struct {
	Code        RetCode `json:"code"`
	PartitionID uint64  `json:"partition_id"`
	Msg         string  `json:"msg"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("partition %d (code %s): %s", e.PartitionID, e.Code, e.Msg)
}

// NewError creates a new partition error with the given code and message.
func NewError(code RetCode, partitionID uint64, msg string) *Error {
	return &Error{
		Code:        code,
		PartitionID: partitionID,
		Msg:         msg,
	}
}

// Errorf is NewError with a format string.
func Errorf(code RetCode, partitionID uint64, format string, args ...any) *Error {
	return NewError(code, partitionID, fmt.Sprintf(format, args...))
}

// CodeOf returns the RetCode carried by err. Errors that are not of type *Error map to RetCInternalError,
// a nil error to RetCSuccess.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Code
	}
	return RetCInternalError
}

// IsRetryable reports whether the client may resubmit the request unchanged (or after refreshing its
// partition metadata).
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case RetCMergeRejected, RetCEpochNotMatch, RetCProposalDropped, RetCTimeout, RetCStaleCommand:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCPartitionUnavailable                // 4: Replica is not serving (destroyed or not leader).
	RetCEpochNotMatch                       // 5: Request epoch is stale.
	RetCKeyNotInRange                       // 6: A key is outside the partition range.
	RetCStaleCommand                        // 7: Request term is too old.
	RetCMergeRejected                       // 8: A merge is pending or in progress, retry later.
	RetCPartitionRemoved                    // 9: Replica was destroyed while the request was outstanding.
	RetCProposalDropped                     // 10: The log dropped the proposal.
	RetCTimeout                             // 11: The proposal did not complete in time.
	RetCPartitionNotFound                   // 12: No partition with the given id or key range on this node.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCPartitionUnavailable:
		return "PartitionUnavailable"
	case RetCEpochNotMatch:
		return "EpochNotMatch"
	case RetCKeyNotInRange:
		return "KeyNotInRange"
	case RetCStaleCommand:
		return "StaleCommand"
	case RetCMergeRejected:
		return "MergeRejected"
	case RetCPartitionRemoved:
		return "PartitionRemoved"
	case RetCProposalDropped:
		return "ProposalDropped"
	case RetCTimeout:
		return "Timeout"
	case RetCPartitionNotFound:
		return "PartitionNotFound"
	default:
		return "Unknown"
	}
}
