package consult

import (
	"github.com/gavinwade12/consult/serialport"
	"github.com/pkg/errors"
)

// Code is the result code of an ECU operation.
type Code int

// The ECU result codes.
const (
	CodeUnknown Code = iota - 1
	CodeOK
	CodeReadTimeout
	CodeBusy
	CodeInvalidResponse
	CodeNoStartByte
	CodeNoResponse
	CodeOpenSerialDev
	CodeCloseSerialDev
	CodeWriteSerialDev
	CodeReadSerialDev
	CodeNotInitialised
	CodeStateInvalid
	CodeDataLen
	CodeParamInvalid
)

// Link-level errors, shared with the serial transport.
var (
	ErrReadTimeout    = serialport.ErrReadTimeout
	ErrOpenSerialDev  = serialport.ErrOpenSerialDev
	ErrCloseSerialDev = serialport.ErrCloseSerialDev
	ErrWriteSerialDev = serialport.ErrWriteSerialDev
	ErrReadSerialDev  = serialport.ErrReadSerialDev
)

var (
	// ErrBusy is returned when the link is owned by a running monitor session.
	ErrBusy = errors.New("ECU busy")
	// ErrInvalidResponse is returned when the ECU's echo or reply doesn't
	// match the command that was sent.
	ErrInvalidResponse = errors.New("invalid response from ECU")
	// ErrNoStartByte is returned when the ECU answered but never sent a
	// frame start byte.
	ErrNoStartByte = errors.New("no start byte received from ECU")
	// ErrNoResponse is returned when nothing at all came back.
	ErrNoResponse = errors.New("no response from ECU")
	// ErrNotInitialised is returned by every command issued before a
	// successful Init, and by Init itself when the handshake is exhausted.
	ErrNotInitialised = errors.New("ECU not initialised")
	// ErrStateInvalid is returned when an operation isn't valid in the
	// connection's current state.
	ErrStateInvalid = errors.New("invalid state")
	// ErrDataLen is returned when a request or reply has an unusable length.
	ErrDataLen = errors.New("invalid data length")
	// ErrParamInvalid is returned when an argument is out of its legal range.
	ErrParamInvalid = errors.New("invalid parameter")
)

var codeErrors = []struct {
	code Code
	err  error
}{
	{CodeReadTimeout, ErrReadTimeout},
	{CodeBusy, ErrBusy},
	{CodeInvalidResponse, ErrInvalidResponse},
	{CodeNoStartByte, ErrNoStartByte},
	{CodeNoResponse, ErrNoResponse},
	{CodeOpenSerialDev, ErrOpenSerialDev},
	{CodeCloseSerialDev, ErrCloseSerialDev},
	{CodeWriteSerialDev, ErrWriteSerialDev},
	{CodeReadSerialDev, ErrReadSerialDev},
	{CodeNotInitialised, ErrNotInitialised},
	{CodeStateInvalid, ErrStateInvalid},
	{CodeDataLen, ErrDataLen},
	{CodeParamInvalid, ErrParamInvalid},
}

// CodeOf maps err, however deeply wrapped, back to its result code.
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

var errStrings = map[Code]string{
	CodeOK:              "OK",
	CodeReadTimeout:     "Read timeout",
	CodeBusy:            "ECU busy",
	CodeInvalidResponse: "Invalid response from ECU",
	CodeNoStartByte:     "No start byte received from ECU",
	CodeNoResponse:      "No response from ECU",
	CodeOpenSerialDev:   "Could not open serial device",
	CodeCloseSerialDev:  "Could not close serial device",
	CodeWriteSerialDev:  "Could not write to serial device",
	CodeReadSerialDev:   "Could not read from serial device",
	CodeNotInitialised:  "ECU not initialised",
	CodeStateInvalid:    "Invalid state",
	CodeDataLen:         "Invalid data length",
	CodeParamInvalid:    "Invalid parameter",
}

// ErrStr returns the fixed description of code.
func ErrStr(code Code) string {
	if s, ok := errStrings[code]; ok {
		return s
	}
	return "Unknown error"
}

func (c Code) String() string {
	return ErrStr(c)
}

// transient reports whether err is worth retrying on the next monitor cycle.
func transient(err error) bool {
	switch CodeOf(err) {
	case CodeReadTimeout, CodeNoResponse, CodeNoStartByte, CodeInvalidResponse, CodeReadSerialDev:
		return true
	}
	return false
}
