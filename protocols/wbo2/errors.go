package wbo2

import (
	"github.com/gavinwade12/consult/serialport"
	"github.com/pkg/errors"
)

// Code is the result code of a wideband controller operation.
type Code int

// The wideband result codes.
const (
	CodeUnknown Code = iota - 1
	CodeOK
	CodeReadTimeout
	CodeInvalidResponse
	CodeNoResponse
	CodeOpenSerialDev
	CodeCloseSerialDev
	CodeReadSerialDev
	CodeNotInitialised
	CodeStateInvalid
	CodeParamInvalid
)

// Link-level errors, shared with the serial transport.
var (
	ErrReadTimeout    = serialport.ErrReadTimeout
	ErrOpenSerialDev  = serialport.ErrOpenSerialDev
	ErrCloseSerialDev = serialport.ErrCloseSerialDev
	ErrReadSerialDev  = serialport.ErrReadSerialDev
)

var (
	// ErrInvalidResponse is returned when the stream can't be framed.
	ErrInvalidResponse = errors.New("invalid data from WBO2")
	// ErrNoResponse is returned when the controller sent nothing at all.
	ErrNoResponse = errors.New("no response from WBO2")
	// ErrNotInitialised is returned by every operation before a successful
	// Init, and by Init itself when no frame was seen.
	ErrNotInitialised = errors.New("WBO2 not initialised")
	// ErrStateInvalid is returned when an operation conflicts with a running
	// monitor session.
	ErrStateInvalid = errors.New("invalid state")
	// ErrParamInvalid is returned for a missing callback.
	ErrParamInvalid = errors.New("invalid parameter")
)

var codeErrors = []struct {
	code Code
	err  error
}{
	{CodeReadTimeout, ErrReadTimeout},
	{CodeInvalidResponse, ErrInvalidResponse},
	{CodeNoResponse, ErrNoResponse},
	{CodeOpenSerialDev, ErrOpenSerialDev},
	{CodeCloseSerialDev, ErrCloseSerialDev},
	{CodeReadSerialDev, ErrReadSerialDev},
	{CodeNotInitialised, ErrNotInitialised},
	{CodeStateInvalid, ErrStateInvalid},
	{CodeParamInvalid, ErrParamInvalid},
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
	case CodeReadTimeout:
		return "Read timeout"
	case CodeInvalidResponse:
		return "Invalid response from WBO2"
	case CodeNoResponse:
		return "No response from WBO2"
	case CodeOpenSerialDev:
		return "Unable to open serial device"
	case CodeCloseSerialDev:
		return "Unable to close serial device"
	case CodeReadSerialDev:
		return "Unable to read from serial device"
	case CodeNotInitialised:
		return "WBO2 not initialised"
	case CodeStateInvalid:
		return "Invalid state"
	case CodeParamInvalid:
		return "Invalid parameter"
	}
	return "Unknown error"
}

func (c Code) String() string {
	return ErrStr(c)
}

func transient(err error) bool {
	switch CodeOf(err) {
	case CodeReadTimeout, CodeInvalidResponse, CodeNoResponse:
		return true
	}
	return false
}
