// Package defs holds types and constants shared across the resource
// manager: the error taxonomy, thread/task identifiers, and the address
// and object-identifier encodings named in the capability wire protocol.
package defs

import "fmt"

/// Err_t is the wire-level error code returned by every RPC. Zero is
/// success; all failure codes are negative, matching the teacher's
/// convention of returning `-defs.EFAULT` etc. from syscall-shaped calls.
type Err_t int

const (
	SUCCESS       Err_t = 0
	INVALID       Err_t = -1
	NO_ENTRY      Err_t = -2
	NOT_PERMITTED Err_t = -3
	BAD_CAP_TYPE  Err_t = -4
	WOULD_BLOCK   Err_t = -5
	CANCELED      Err_t = -6
	NO_MEMORY     Err_t = -7
	BUSY          Err_t = -8
	CAP_DEAD      Err_t = -9

	// EFAULT/ENOMEM/EINVAL/ENAMETOOLONG/ENOHEAP are POSIX-shaped errors
	// outside the capability RPC taxonomy above; package folio returns
	// EINVAL for a bad slot index or a checksum mismatch on page-in.
	EFAULT        Err_t = -10
	ENOMEM        Err_t = -11
	EINVAL        Err_t = -12
	ENAMETOOLONG  Err_t = -13
	ENOHEAP       Err_t = -14
)

var names = map[Err_t]string{
	SUCCESS:       "SUCCESS",
	INVALID:       "INVALID",
	NO_ENTRY:      "NO_ENTRY",
	NOT_PERMITTED: "NOT_PERMITTED",
	BAD_CAP_TYPE:  "BAD_CAP_TYPE",
	WOULD_BLOCK:   "WOULD_BLOCK",
	CANCELED:      "CANCELED",
	NO_MEMORY:     "NO_MEMORY",
	BUSY:          "BUSY",
	CAP_DEAD:      "CAP_DEAD",
	EFAULT:        "EFAULT",
	ENOMEM:        "ENOMEM",
	EINVAL:        "EINVAL",
	ENAMETOOLONG:  "ENAMETOOLONG",
	ENOHEAP:       "ENOHEAP",
}

/// Error satisfies the standard error interface so Err_t composes with
/// fmt.Errorf/errors.Is in the ambient logging and config layers while
/// remaining the raw wire type RPC handlers return.
func (e Err_t) Error() string {
	if n, ok := names[e]; ok {
		return n
	}
	return fmt.Sprintf("err(%d)", int(e))
}

/// Ok reports whether e is SUCCESS.
func (e Err_t) Ok() bool { return e == SUCCESS }

/// Tid_t identifies a worker or client thread.
type Tid_t int64

/// Oid_t is a 54-bit object identifier, unique across folios and volumes.
type Oid_t uint64

const OidBits = 54
const OidMask Oid_t = 1<<OidBits - 1
