package status

import (
	"errors"
	"fmt"
)

// Code is the class of a stage or job outcome.
type Code int

const (
	Ok Code = iota
	NeedRestart
	NetworkError
	DataError
	SystemError
	BackError
	OperationCanceled
	InvalidToken
	RateLimited
	TokenRefreshed
	Unknown
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case NeedRestart:
		return "NeedRestart"
	case NetworkError:
		return "NetworkError"
	case DataError:
		return "DataError"
	case SystemError:
		return "SystemError"
	case BackError:
		return "BackError"
	case OperationCanceled:
		return "OperationCanceled"
	case InvalidToken:
		return "InvalidToken"
	case RateLimited:
		return "RateLimited"
	case TokenRefreshed:
		return "TokenRefreshed"
	default:
		return "Unknown"
	}
}

// Cause refines a Code.
type Cause int

const (
	CauseNone Cause = iota
	CauseInvalidName
	CauseApiErr
	CauseFileTooBig
	CauseNotFound
	CauseQuotaExceeded
	CauseFileAlreadyExist
	CauseNetworkTimeout
	CauseSocketsDefuncted
	CauseFileAccessError
	CauseMoveToTrashFailed
	CauseInvalidSnapshot
	CauseUnexpectedFileSystemEvent
	CauseNotEnoughDiskSpace
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "None"
	case CauseInvalidName:
		return "InvalidName"
	case CauseApiErr:
		return "ApiErr"
	case CauseFileTooBig:
		return "FileTooBig"
	case CauseNotFound:
		return "NotFound"
	case CauseQuotaExceeded:
		return "QuotaExceeded"
	case CauseFileAlreadyExist:
		return "FileAlreadyExist"
	case CauseNetworkTimeout:
		return "NetworkTimeout"
	case CauseSocketsDefuncted:
		return "SocketsDefuncted"
	case CauseFileAccessError:
		return "FileAccessError"
	case CauseMoveToTrashFailed:
		return "MoveToTrashFailed"
	case CauseInvalidSnapshot:
		return "InvalidSnapshot"
	case CauseUnexpectedFileSystemEvent:
		return "UnexpectedFileSystemEvent"
	case CauseNotEnoughDiskSpace:
		return "NotEnoughDiskSpace"
	default:
		return "None"
	}
}

// SyncError carries the two-level (code, cause) result through the pipeline.
type SyncError struct {
	Code  Code
	Cause Cause
	Err   error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %v", e.Code, e.Cause, e.Err)
	}

	return fmt.Sprintf("%s/%s", e.Code, e.Cause)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func New(code Code, cause Cause) *SyncError {
	return &SyncError{Code: code, Cause: cause}
}

func Wrap(code Code, cause Cause, err error) *SyncError {
	return &SyncError{Code: code, Cause: cause, Err: err}
}

// CodeOf extracts the Code from err, Unknown if err carries none, Ok for nil.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}

	if se, ok := asType[*SyncError](err); ok {
		return se.Code
	}

	return Unknown
}

func CauseOf(err error) Cause {
	if se, ok := asType[*SyncError](err); ok {
		return se.Cause
	}

	return CauseNone
}

// asType is a stand-in for errors.AsType (not yet available in this Go toolchain).
func asType[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
