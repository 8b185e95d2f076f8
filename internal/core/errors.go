// Package core implements the mirror-resolution, download, and
// verification engine described by the repoget project: given one or
// more candidate repository mirrors it locates a working one, fetches
// repomd.xml and its selected records (or arbitrary packages), and
// verifies content by digest and detached OpenPGP signature.
package core

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrCode enumerates the stable, caller-facing error classifications.
// Names mirror the LRE_* constants of the librepo project this engine
// reimplements, translated to Go identifiers.
type ErrCode int

const (
	ErrUnknown ErrCode = iota
	ErrBadFuncArg
	ErrBadOptArg
	ErrUnknownOpt
	ErrAlreadyUsedResult
	ErrIncompleteResult
	ErrTransport
	ErrBadStatus
	ErrTemporary
	ErrSelect
	ErrInterrupted
	ErrNotLocal
	ErrCannotCreateDir
	ErrCannotCreateTmp
	ErrIO
	ErrMlBad
	ErrMlXml
	ErrRepomdXml
	ErrBadChecksum
	ErrUnknownChecksum
	ErrNoUrl
	ErrBadUrl
	ErrGpgNotSupported
	ErrGpgError
	ErrBadGpg
	ErrIncompleteRepo
	ErrSigAction
	ErrAlreadyDownloaded
	ErrUnfinished
	ErrXMLParser
	ErrCbInterrupted
	ErrMemory
)

var errCodeNames = map[ErrCode]string{
	ErrUnknown:           "UnknownError",
	ErrBadFuncArg:        "BadFuncArg",
	ErrBadOptArg:         "BadOptArg",
	ErrUnknownOpt:        "UnknownOpt",
	ErrAlreadyUsedResult: "AlreadyUsedResult",
	ErrIncompleteResult:  "IncompleteResult",
	ErrTransport:         "Curl",
	ErrBadStatus:         "BadStatus",
	ErrTemporary:         "TemporaryErr",
	ErrSelect:            "Select",
	ErrInterrupted:       "Interrupted",
	ErrNotLocal:          "NotLocal",
	ErrCannotCreateDir:   "CannotCreateDir",
	ErrCannotCreateTmp:   "CannotCreateTmp",
	ErrIO:                "Io",
	ErrMlBad:             "MlBad",
	ErrMlXml:             "MlXml",
	ErrRepomdXml:         "RepomdXml",
	ErrBadChecksum:       "BadChecksum",
	ErrUnknownChecksum:   "UnknownChecksum",
	ErrNoUrl:             "NoUrl",
	ErrBadUrl:            "BadUrl",
	ErrGpgNotSupported:   "GpgNotSupported",
	ErrGpgError:          "GpgError",
	ErrBadGpg:            "BadGpg",
	ErrIncompleteRepo:    "IncompleteRepo",
	ErrSigAction:         "SigAction",
	ErrAlreadyDownloaded: "AlreadyDownloaded",
	ErrUnfinished:        "Unfinished",
	ErrXMLParser:         "XmlParser",
	ErrCbInterrupted:     "CbInterrupted",
	ErrMemory:            "Memory",
}

func (c ErrCode) String() string {
	if s, ok := errCodeNames[c]; ok {
		return s
	}
	return "UnknownError"
}

// Error is the triple (code, short, long) the design calls for. The
// wrapped cause is kept in an unexported field, exposed through the
// standard Unwrap contract so it composes with cockroachdb/errors'
// Is/As matching; the Long method renders the long form from it.
type Error struct {
	Code  ErrCode
	Short string
	cause error
}

func newErr(code ErrCode, short string) *Error {
	return &Error{Code: code, Short: short}
}

func wrapErr(code ErrCode, cause error, short string) *Error {
	return &Error{Code: code, Short: short, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Short, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Short)
}

func (e *Error) Unwrap() error { return e.cause }

// Long returns the full detail string, including any wrapped cause
// chain, analogous to librepo's long_message.
func (e *Error) Long() string {
	if e.cause != nil {
		return errors.FlattenDetails(errors.Wrap(e.cause, e.Short))
	}
	return e.Short
}

// IsCode reports whether err carries the given ErrCode anywhere in its
// cause chain.
func IsCode(err error, code ErrCode) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Code == code {
			return true
		}
		if e.cause == nil {
			return false
		}
		err = e.cause
	}
	return false
}

// classification per spec.md §7, used to decide whether a transport
// failure should be retried against an alternate mirror or escalated.
func (c ErrCode) isTransport() bool {
	switch c {
	case ErrTransport, ErrBadStatus, ErrTemporary, ErrSelect, ErrInterrupted:
		return true
	}
	return false
}

func (c ErrCode) isContent() bool {
	switch c {
	case ErrBadChecksum, ErrUnknownChecksum, ErrRepomdXml, ErrMlBad, ErrMlXml, ErrBadGpg, ErrIncompleteRepo:
		return true
	}
	return false
}

func (c ErrCode) isLocal() bool {
	switch c {
	case ErrIO, ErrCannotCreateDir, ErrCannotCreateTmp, ErrNotLocal, ErrMemory, ErrXMLParser, ErrSigAction:
		return true
	}
	return false
}
