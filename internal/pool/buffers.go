// Package pool holds sync.Pool wrappers for *dns.Msg values and
// query-sized wire buffers. internal/server takes its FORMERR and
// BADCOOKIE replies from MessagePool; the buffer pools have no caller
// outside this package's tests.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/miekg/dns"
)

const (
	SmallBufferSize  = 512   // UDP queries without EDNS0
	MediumBufferSize = 4096  // typical EDNS0 response
	LargeBufferSize  = 65535 // TCP/AXFR-sized message
)

var counters statCounters

// statCounters backs GetStats() with the real get/put/miss tallies across
// all five pools, following the same atomic-snapshot shape
// internal/cookie and internal/zonestore use for their own Stats().
type statCounters struct {
	gets atomic.Uint64
	puts atomic.Uint64
	news atomic.Uint64
}

// MessagePool holds *dns.Msg values for the FORMERR and BADCOOKIE
// replies internal/server builds.
var MessagePool = sync.Pool{
	New: func() interface{} {
		counters.news.Add(1)
		return new(dns.Msg)
	},
}

// GetMessage pulls a zeroed *dns.Msg from the pool.
func GetMessage() *dns.Msg {
	counters.gets.Add(1)
	return MessagePool.Get().(*dns.Msg)
}

// PutMessage resets msg and returns it to the pool. Every field that
// could carry a previous query's data back out (rcode, flags, the
// Question/Answer/Ns/Extra slices) is cleared first — a pooled *dns.Msg
// that leaked the prior caller's question would be a cross-query data
// leak, not just a correctness bug.
func PutMessage(msg *dns.Msg) {
	if msg == nil {
		return
	}
	counters.puts.Add(1)

	msg.Id = 0
	msg.Response = false
	msg.Opcode = 0
	msg.Authoritative = false
	msg.Truncated = false
	msg.RecursionDesired = false
	msg.RecursionAvailable = false
	msg.Zero = false
	msg.AuthenticatedData = false
	msg.CheckingDisabled = false
	msg.Rcode = 0

	msg.Question = msg.Question[:0]
	msg.Answer = msg.Answer[:0]
	msg.Ns = msg.Ns[:0]
	msg.Extra = msg.Extra[:0]

	MessagePool.Put(msg)
}

// SmallBufferPool serves the common case: a UDP query with no EDNS0.
var SmallBufferPool = sync.Pool{
	New: func() interface{} {
		counters.news.Add(1)
		buf := make([]byte, SmallBufferSize)
		return &buf
	},
}

func GetSmallBuffer() []byte {
	counters.gets.Add(1)
	bufPtr := SmallBufferPool.Get().(*[]byte)
	return (*bufPtr)[:SmallBufferSize]
}

func PutSmallBuffer(buf []byte) {
	if cap(buf) < SmallBufferSize {
		return
	}
	counters.puts.Add(1)
	buf = buf[:cap(buf)]
	SmallBufferPool.Put(&buf)
}

// MediumBufferPool serves EDNS0 responses under the common 4096-byte
// UDP payload advertisement.
var MediumBufferPool = sync.Pool{
	New: func() interface{} {
		counters.news.Add(1)
		buf := make([]byte, MediumBufferSize)
		return &buf
	},
}

func GetMediumBuffer() []byte {
	counters.gets.Add(1)
	bufPtr := MediumBufferPool.Get().(*[]byte)
	return (*bufPtr)[:MediumBufferSize]
}

func PutMediumBuffer(buf []byte) {
	if cap(buf) < MediumBufferSize {
		return
	}
	counters.puts.Add(1)
	buf = buf[:cap(buf)]
	MediumBufferPool.Put(&buf)
}

// LargeBufferPool serves TCP reads and AXFR/IXFR-sized messages.
var LargeBufferPool = sync.Pool{
	New: func() interface{} {
		counters.news.Add(1)
		buf := make([]byte, LargeBufferSize)
		return &buf
	},
}

func GetLargeBuffer() []byte {
	counters.gets.Add(1)
	bufPtr := LargeBufferPool.Get().(*[]byte)
	return (*bufPtr)[:LargeBufferSize]
}

func PutLargeBuffer(buf []byte) {
	if cap(buf) < LargeBufferSize {
		return
	}
	counters.puts.Add(1)
	buf = buf[:cap(buf)]
	LargeBufferPool.Put(&buf)
}

// GetBuffer picks the smallest pool that satisfies size.
func GetBuffer(size int) []byte {
	switch {
	case size <= SmallBufferSize:
		return GetSmallBuffer()
	case size <= MediumBufferSize:
		return GetMediumBuffer()
	default:
		return GetLargeBuffer()
	}
}

// PutBuffer routes buf back to the pool matching its capacity; a
// capacity that doesn't match one of the three tiers (a caller-grown
// slice, say) is simply dropped rather than pooled.
func PutBuffer(buf []byte) {
	switch cap(buf) {
	case SmallBufferSize:
		PutSmallBuffer(buf)
	case MediumBufferSize:
		PutMediumBuffer(buf)
	case LargeBufferSize:
		PutLargeBuffer(buf)
	}
}

// WriterPool holds 8 KiB buffers for bulk writes that don't fit the
// fixed query-sized tiers above. Nothing outside this package calls
// GetWriterBuffer today.
var WriterPool = sync.Pool{
	New: func() interface{} {
		counters.news.Add(1)
		buf := make([]byte, 8192)
		return &buf
	},
}

func GetWriterBuffer() []byte {
	counters.gets.Add(1)
	bufPtr := WriterPool.Get().(*[]byte)
	return *bufPtr
}

func PutWriterBuffer(buf []byte) {
	if cap(buf) >= 8192 {
		counters.puts.Add(1)
		WriterPool.Put(&buf)
	}
}

// Stats summarizes pool traffic across all five pools combined.
type Stats struct {
	Gets uint64
	Puts uint64
	News uint64 // allocations caused by a pool miss
}

// GetStats returns a point-in-time snapshot of pool activity.
func GetStats() Stats {
	return Stats{
		Gets: counters.gets.Load(),
		Puts: counters.puts.Load(),
		News: counters.news.Load(),
	}
}

// ResetPools discards every pool's contents, for tests that need to
// observe a guaranteed pool miss (a fresh New()) without cross-test
// pollution from whatever the previous test left behind.
func ResetPools() {
	MessagePool = sync.Pool{New: func() interface{} { counters.news.Add(1); return new(dns.Msg) }}
	SmallBufferPool = sync.Pool{New: func() interface{} {
		counters.news.Add(1)
		buf := make([]byte, SmallBufferSize)
		return &buf
	}}
	MediumBufferPool = sync.Pool{New: func() interface{} {
		counters.news.Add(1)
		buf := make([]byte, MediumBufferSize)
		return &buf
	}}
	LargeBufferPool = sync.Pool{New: func() interface{} {
		counters.news.Add(1)
		buf := make([]byte, LargeBufferSize)
		return &buf
	}}
	WriterPool = sync.Pool{New: func() interface{} {
		counters.news.Add(1)
		buf := make([]byte, 8192)
		return &buf
	}}
}
