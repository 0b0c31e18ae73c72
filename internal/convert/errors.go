package convert

import (
	"errors"
	"fmt"
)

// Code is a machine-readable conversion failure category.
type Code string

const (
	CodeUnknownSourceType Code = "UNKNOWN_SOURCE_TYPE"
	CodeCodec             Code = "CODEC"
	CodeSettingsParse     Code = "SETTINGS_PARSE"
	CodeSVGParse          Code = "SVG_PARSE"
	CodeSVGEncoding       Code = "SVG_ENCODING"
)

var codePrefixes = map[Code]string{
	CodeUnknownSourceType: "Unknown file type: ",
	CodeCodec:             "Image library error: ",
	CodeSettingsParse:     "Parsing error: ",
	CodeSVGParse:          "SVG error: ",
	CodeSVGEncoding:       "Encoding error: ",
}

// Error is a failed conversion. Message is the text shown to users; Cause
// keeps the underlying error for errors.Is and errors.As.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New returns an Error whose message is the code's prefix followed by the
// formatted detail.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: codePrefixes[code] + fmt.Sprintf(format, args...),
	}
}

// Wrap returns an Error carrying cause's text after the code's prefix.
func Wrap(code Code, cause error) *Error {
	return &Error{
		Code:    code,
		Message: codePrefixes[code] + cause.Error(),
		Cause:   cause,
	}
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
