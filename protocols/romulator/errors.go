package romulator

import (
	"github.com/gavinwade12/consult/serialport"
	"github.com/pkg/errors"
)

// Code is the result code of a romulator operation.
type Code int

// The romulator result codes.
const (
	CodeUnknown Code = iota - 1
	CodeOK
	CodeTimeout
	CodeCommandFail
	CodeBadChecksum
	CodeInitFail
	CodeDataLen
)

var (
	// ErrTimeout is returned when the device doesn't answer in time.
	ErrTimeout = errors.New("romulator timed out")
	// ErrCommandFail is returned when the device rejects a command or the
	// link fails underneath it.
	ErrCommandFail = errors.New("romulator command failed")
	// ErrBadChecksum is returned when a block's checksum doesn't match.
	ErrBadChecksum = errors.New("romulator checksum mismatch")
	// ErrInitFail is returned when the device can't be opened or didn't
	// identify itself, and by transfers attempted before Init.
	ErrInitFail = errors.New("romulator init failed")
	// ErrDataLen is returned when a transfer's length or range is unusable.
	ErrDataLen = errors.New("invalid data length")
)

var codeErrors = []struct {
	code Code
	err  error
}{
	{CodeTimeout, ErrTimeout},
	{CodeTimeout, serialport.ErrReadTimeout},
	{CodeCommandFail, ErrCommandFail},
	{CodeBadChecksum, ErrBadChecksum},
	{CodeInitFail, ErrInitFail},
	{CodeInitFail, serialport.ErrOpenSerialDev},
	{CodeDataLen, ErrDataLen},
	{CodeCommandFail, serialport.ErrWriteSerialDev},
	{CodeCommandFail, serialport.ErrReadSerialDev},
	{CodeCommandFail, serialport.ErrCloseSerialDev},
}

// CodeOf maps err back to its result code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeUnknown
}

// ErrStr returns the fixed description of code.
func ErrStr(code Code) string {
	switch code {
	case CodeOK:
		return "OK"
	case CodeTimeout:
		return "Romulator timeout"
	case CodeCommandFail:
		return "Romulator command failed"
	case CodeBadChecksum:
		return "Romulator bad checksum"
	case CodeInitFail:
		return "Romulator init failed"
	case CodeDataLen:
		return "Invalid data length"
	}
	return "Unknown error"
}

func (c Code) String() string {
	return ErrStr(c)
}

// retryable reports whether a block transfer that failed with err may be
// sent again unchanged.
func retryable(err error) bool {
	switch CodeOf(err) {
	case CodeTimeout, CodeBadChecksum:
		return true
	}
	return false
}
