package cozyfs

import "fmt"

// Errno is the flat, negative-integer error taxonomy spec.md §7
// requires as the only signalling channel out of an operation. The
// numeric values are chosen to match cozyfs.h's enum ordering so a
// caller bridging to another language binding can compare them
// directly; Go callers should use errors.Is against the Err* sentinels
// below instead.
type Errno int

const (
	errOK Errno = iota
	errEINVAL
	errENOMEM
	errENOENT
	errEPERM
	errEBUSY
	errEISDIR
	errENFILE
	errEBADF
	errETIMEDOUT
	errECORRUPT
	errESYSFREE
	errESYSSYNC
	errESYSTIME
	errESYSWAIT
	errESYSWAKE
)

func (e Errno) Error() string {
	switch e {
	case errEINVAL:
		return "cozyfs: invalid argument"
	case errENOMEM:
		return "cozyfs: out of memory"
	case errENOENT:
		return "cozyfs: no such entity"
	case errEPERM:
		return "cozyfs: operation not permitted"
	case errEBUSY:
		return "cozyfs: resource busy"
	case errEISDIR:
		return "cozyfs: is a directory"
	case errENFILE:
		return "cozyfs: too many open files"
	case errEBADF:
		return "cozyfs: bad file descriptor"
	case errETIMEDOUT:
		return "cozyfs: timed out"
	case errECORRUPT:
		return "cozyfs: corrupt (crash detected, backup disabled)"
	case errESYSFREE:
		return "cozyfs: host free callback failed"
	case errESYSSYNC:
		return "cozyfs: host sync callback failed"
	case errESYSTIME:
		return "cozyfs: host time callback failed"
	case errESYSWAIT:
		return "cozyfs: host wait callback failed"
	case errESYSWAKE:
		return "cozyfs: host wake callback failed"
	default:
		return fmt.Sprintf("cozyfs: unknown error %d", int(e))
	}
}

// Sentinel errors for use with errors.Is. Negating Errno gives the raw
// integer code spec.md §7 specifies (e.g. Code(ErrNotExist) == -3).
var (
	ErrInvalid   error = errEINVAL
	ErrNoMem     error = errENOMEM
	ErrNotExist  error = errENOENT
	ErrPerm      error = errEPERM
	ErrBusy      error = errEBUSY
	ErrIsDir     error = errEISDIR
	ErrTooManyFD error = errENFILE
	ErrBadFD     error = errEBADF
	ErrTimedOut  error = errETIMEDOUT
	ErrCorrupt   error = errECORRUPT
	ErrSysFree   error = errESYSFREE
	ErrSysSync   error = errESYSSYNC
	ErrSysTime   error = errESYSTIME
	ErrSysWait   error = errESYSWAIT
	ErrSysWake   error = errESYSWAKE
)

// Code returns the negative integer code spec.md §7 specifies for err,
// or 0 if err is nil. Errors that are not an Errno map to ErrInvalid's
// code, since callers across this boundary must receive a small
// negative integer no matter what.
func Code(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := err.(Errno); ok {
		return -int(e)
	}
	return -int(errEINVAL)
}
