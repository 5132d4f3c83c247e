// Package wire encodes and decodes RFC 1035 DNS messages. Message and
// RR (un)packing is delegated to github.com/miekg/dns, which already
// gets compression, canonical RR wire formats and NAPTR's quoted-token
// grammar right; this package adds only what spec.md §4.1 asks for on
// top of that library: truncation policy, a standalone name decoder
// with explicit loop/hop-count protection for walking a message
// byte-by-byte, a question hash, and the zone store's djb2 bucket.
package wire

import (
	"encoding/binary"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/dnsutil"
)

// Size limits per spec.md §4.1.
const (
	MaxUDPSize  = 512
	MaxTCPSize  = 65535
	MaxLabelLen = 63
	MaxNameLen  = 255
	maxPtrHops  = 128
)

// DecodeMessage unpacks wire bytes into a *dns.Msg, mapping any parse
// failure to a FormError per spec.md §7.
func DecodeMessage(buf []byte) (*dns.Msg, error) {
	m := new(dns.Msg)
	if err := m.Unpack(buf); err != nil {
		return nil, dnsutil.Wrap(dnsutil.KindFormError, "decode message", err)
	}
	return m, nil
}

// EncodeMessage packs m, truncating per spec.md §4.4 (drop Additional,
// then Authority, then trailing Answer RRs until it fits, setting TC)
// if the packed size would exceed maxSize.
// maxSize is 512 for plain UDP, the EDNS0-advertised buffer size when
// present, or 65535 (minus the 2-byte TCP length prefix, which the
// caller adds separately) for TCP.
func EncodeMessage(m *dns.Msg, maxSize int) ([]byte, error) {
	buf, err := m.Pack()
	if err != nil {
		return nil, dnsutil.Wrap(dnsutil.KindServFail, "encode message", err)
	}
	if maxSize <= 0 || len(buf) <= maxSize {
		return buf, nil
	}

	truncated := m.Copy()
	truncated.Extra = nil
	buf, err = truncated.Pack()
	if err == nil && len(buf) <= maxSize {
		truncated.Truncated = true
		return truncated.Pack()
	}

	truncated.Ns = nil
	truncated.Truncated = true
	buf, err = truncated.Pack()
	if err != nil {
		return nil, dnsutil.Wrap(dnsutil.KindServFail, "encode truncated message", err)
	}
	for len(buf) > maxSize && len(truncated.Answer) > 0 {
		truncated.Answer = truncated.Answer[:len(truncated.Answer)-1]
		buf, err = truncated.Pack()
		if err != nil {
			return nil, dnsutil.Wrap(dnsutil.KindServFail, "encode truncated message", err)
		}
	}
	return buf, nil
}

// DecodeName decodes a single domain name starting at offset within
// buf, honoring message compression pointers. It returns the decoded
// name in canonical (lowercase, trailing-dot) form, and the offset
// immediately following the name in the original (non-jumped) stream.
//
// Ported from the teacher's packet.Parser.parseName: tracks visited
// pointer offsets to reject loops, caps the hop count, and rejects
// labels/names over the RFC 1035 limits. Never dereferences a pointer
// that points forward of the name currently being read.
func DecodeName(buf []byte, offset int) (string, int, error) {
	var labels []byte
	visited := make(map[int]bool)
	hops := 0
	cur := offset
	jumped := false
	next := offset
	origOffset := offset

	for {
		if hops > maxPtrHops {
			return "", 0, dnsutil.New(dnsutil.KindFormError, "compression pointer loop")
		}
		if cur >= len(buf) {
			return "", 0, dnsutil.New(dnsutil.KindFormError, "name offset out of range")
		}

		length := int(buf[cur])

		if length&0xC0 == 0xC0 {
			if cur+1 >= len(buf) {
				return "", 0, dnsutil.New(dnsutil.KindFormError, "truncated compression pointer")
			}
			ptr := int(binary.BigEndian.Uint16(buf[cur:cur+2]) & 0x3FFF)
			if visited[ptr] {
				return "", 0, dnsutil.New(dnsutil.KindFormError, "compression pointer loop")
			}
			visited[ptr] = true
			if ptr >= len(buf) || ptr >= origOffset {
				return "", 0, dnsutil.New(dnsutil.KindFormError, "compression pointer out of range")
			}
			if !jumped {
				next = cur + 2
				jumped = true
			}
			cur = ptr
			hops++
			continue
		}

		if length == 0 {
			if !jumped {
				next = cur + 1
			}
			break
		}

		if length > MaxLabelLen {
			return "", 0, dnsutil.New(dnsutil.KindFormError, "label too long")
		}

		cur++
		if cur+length > len(buf) {
			return "", 0, dnsutil.New(dnsutil.KindFormError, "label runs past message end")
		}

		if len(labels) > 0 {
			labels = append(labels, '.')
		}
		labels = append(labels, lowerLabel(buf[cur:cur+length])...)
		cur += length
	}

	if len(labels) == 0 {
		return ".", next, nil
	}
	if len(labels)+1 > MaxNameLen {
		return "", 0, dnsutil.New(dnsutil.KindFormError, "domain name too long")
	}

	return string(labels) + ".", next, nil
}

func lowerLabel(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// HashQuery hashes a (name, type, class) question with FNV-1a, kept
// from the teacher's packet.HashQuery. The recursive cache does not
// use it: internal/cache keys entries on Djb2Bucket plus qtype/qclass.
func HashQuery(name string, qtype, qclass uint16) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	lower := CanonicalName(name)
	for i := 0; i < len(lower); i++ {
		h ^= uint64(lower[i])
		h *= prime64
	}
	var buf [4]byte
	binary.BigEndian.PutUint16(buf[0:2], qtype)
	binary.BigEndian.PutUint16(buf[2:4], qclass)
	for _, b := range buf {
		h ^= uint64(b)
		h *= prime64
	}
	return h
}

// CanonicalName lowercases a name for case-insensitive comparison per
// spec.md §3 ("Comparison is case-insensitive ASCII").
func CanonicalName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// Djb2Bucket computes the zone-store bucket index spec.md §4.2 names:
// bucket = djb2(lowercase(name)) mod 65536.
func Djb2Bucket(name string) uint16 {
	lower := CanonicalName(name)
	h := uint32(5381)
	for i := 0; i < len(lower); i++ {
		h = ((h << 5) + h) + uint32(lower[i]) // h*33 + c
	}
	return uint16(h % 65536)
}

// Fqdn ensures name carries a trailing dot, same convention dns.Fqdn uses.
func Fqdn(name string) string {
	return dns.Fqdn(name)
}
