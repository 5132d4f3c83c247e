// Package dnsutil holds error and rcode plumbing shared by every
// protocol-plane package: wire, zonestore, cache, transfer, update,
// tsig, doh and server all work with the same
// Kind taxonomy so the server can map a failure to the right rcode
// without type-switching on each package's private error type.
package dnsutil

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// Kind classifies a DNS-level failure the way spec.md §7 does.
type Kind int

const (
	KindNone Kind = iota
	KindFormError
	KindServFail
	KindNXDomain
	KindNoData
	KindRefused
	KindNotImp
	KindTsigBadKey
	KindTsigBadSig
	KindTsigBadTime
	KindTsigBadTrunc
	KindUpdatePrereq
	KindTransferError
	KindPoolFull
	KindUpstreamError
)

func (k Kind) String() string {
	switch k {
	case KindFormError:
		return "FormError"
	case KindServFail:
		return "ServFail"
	case KindNXDomain:
		return "NxDomain"
	case KindNoData:
		return "NoData"
	case KindRefused:
		return "Refused"
	case KindNotImp:
		return "NotImp"
	case KindTsigBadKey:
		return "TsigBadKey"
	case KindTsigBadSig:
		return "TsigBadSig"
	case KindTsigBadTime:
		return "TsigBadTime"
	case KindTsigBadTrunc:
		return "TsigBadTrunc"
	case KindUpdatePrereq:
		return "UpdatePrereq"
	case KindTransferError:
		return "TransferError"
	case KindPoolFull:
		return "PoolFull"
	case KindUpstreamError:
		return "UpstreamError"
	default:
		return "None"
	}
}

// Rcode maps a Kind to the RFC 1035/2136 response code that should be
// sent on the wire. UpdatePrereq and Tsig kinds carry their own rcode
// in the DNSError (the Kind alone is not specific enough), so callers
// should prefer DNSError.Rcode() over this table for those.
func (k Kind) Rcode() int {
	switch k {
	case KindFormError:
		return dns.RcodeFormatError
	case KindServFail, KindPoolFull, KindUpstreamError, KindTransferError:
		return dns.RcodeServerFailure
	case KindNXDomain:
		return dns.RcodeNameError
	case KindNoData:
		return dns.RcodeSuccess
	case KindRefused:
		return dns.RcodeRefused
	case KindNotImp:
		return dns.RcodeNotImplemented
	default:
		return dns.RcodeServerFailure
	}
}

// DNSError is the error type every protocol-plane package returns.
type DNSError struct {
	Kind  Kind
	Msg   string
	Rc    int  // explicit rcode override, used for prereq/TSIG errors; 0 means "use Kind.Rcode()"
	Extra error
}

func (e *DNSError) Error() string {
	if e.Extra != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Extra)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *DNSError) Unwrap() error { return e.Extra }

// Rcode returns the wire rcode for this error.
func (e *DNSError) Rcode() int {
	if e.Rc != 0 {
		return e.Rc
	}
	return e.Kind.Rcode()
}

func New(kind Kind, msg string) error {
	return &DNSError{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	return &DNSError{Kind: kind, Msg: msg, Extra: err}
}

func WithRcode(kind Kind, rcode int, msg string) error {
	return &DNSError{Kind: kind, Msg: msg, Rc: rcode}
}

// As is a thin wrapper over errors.As for the common case of pulling a
// *DNSError back out of an error chain.
func As(err error) (*DNSError, bool) {
	var de *DNSError
	ok := errors.As(err, &de)
	return de, ok
}

var (
	ErrFull        = New(KindPoolFull, "arena exhausted")
	ErrNoSuchZone  = New(KindRefused, "no such zone")
	ErrNotAuthoritative = New(KindRefused, "not authoritative for name")
)
