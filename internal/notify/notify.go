// Package notify implements the RFC 1996 NOTIFY receiver: a UDP
// listener that validates master-initiated zone-change announcements
// and enqueues an out-of-band AXFR/IXFR refresh, per spec.md §4.7.
//
// No teacher file implements NOTIFY; the listener lifecycle is
// grounded on internal/transport/dot.go's Start/Stop/acceptLoop shape,
// adapted from a TCP accept loop to a UDP packet loop, with refresh
// work handed off to the already-built internal/worker.Pool instead of
// a bespoke goroutine-per-connection model.
package notify

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/worker"
)

// MasterResolver reports the configured master address for a zone
// origin, so a NOTIFY can be checked against it (spec.md §4.7's
// "source address matches a configured master for that zone").
type MasterResolver interface {
	MasterForZone(origin string) (addr string, ok bool)
}

// RefreshFunc triggers an AXFR/IXFR refresh for the named zone. It
// normally runs on a worker-pool goroutine, never the UDP dispatch
// thread.
type RefreshFunc func(origin string) error

// Receiver is a UDP NOTIFY listener.
type Receiver struct {
	pc      net.PacketConn
	masters MasterResolver
	pool    *worker.Pool
	refresh RefreshFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Listen binds a UDP socket and returns a Receiver ready to Serve.
// pool may be nil, in which case refreshes run on a detached goroutine
// instead of a worker-pool slot (only intended for tests).
func Listen(addr string, masters MasterResolver, pool *worker.Pool, refresh RefreshFunc) (*Receiver, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		pc:      pc,
		masters: masters,
		pool:    pool,
		refresh: refresh,
		stopCh:  make(chan struct{}),
	}, nil
}

// Addr returns the listener's bound address.
func (r *Receiver) Addr() net.Addr { return r.pc.LocalAddr() }

// Serve runs the receive loop until Stop is called. Blocks the caller;
// run it on its own goroutine, per spec.md §5's "one accept/dispatch
// thread per listener".
func (r *Receiver) Serve() error {
	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, srcAddr, err := r.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.stopCh:
				return nil
			default:
				continue
			}
		}

		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			continue // malformed packet; RFC 1996 names no error reply for this
		}

		r.wg.Add(1)
		go func(m *dns.Msg, addr net.Addr) {
			defer r.wg.Done()
			r.handle(m, addr)
		}(msg, srcAddr)
	}
}

// Stop closes the socket and waits for in-flight packets to finish.
func (r *Receiver) Stop() error {
	close(r.stopCh)
	err := r.pc.Close()
	r.wg.Wait()
	return err
}

func (r *Receiver) handle(req *dns.Msg, addr net.Addr) {
	if !validateNotify(req) {
		return
	}

	origin := dns.Fqdn(req.Question[0].Name)
	master, ok := r.masters.MasterForZone(origin)
	if !ok || !addrMatchesMaster(addr, master) {
		return
	}

	r.enqueueRefresh(origin)
	r.reply(req, addr)
}

func (r *Receiver) enqueueRefresh(origin string) {
	job := worker.JobFunc(func(ctx context.Context) error {
		return r.refresh(origin)
	})

	if r.pool == nil {
		go job.Execute(context.Background())
		return
	}
	_ = r.pool.SubmitAsync(context.Background(), job)
}

func (r *Receiver) reply(req *dns.Msg, addr net.Addr) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Opcode = dns.OpcodeNotify
	resp.Authoritative = true

	out, err := resp.Pack()
	if err != nil {
		return
	}
	r.pc.WriteTo(out, addr)
}

// validateNotify checks opcode/qdcount/qclass/qtype per spec.md §4.7.
func validateNotify(req *dns.Msg) bool {
	if req.Opcode != dns.OpcodeNotify {
		return false
	}
	if len(req.Question) != 1 {
		return false
	}
	q := req.Question[0]
	return q.Qclass == dns.ClassINET && q.Qtype == dns.TypeSOA
}

// addrMatchesMaster compares a UDP source address's IP against a
// configured master's host:port (or bare host) string.
func addrMatchesMaster(addr net.Addr, master string) bool {
	srcIP, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		srcIP = addr.String()
	}

	masterHost := master
	if h, _, err := net.SplitHostPort(master); err == nil {
		masterHost = h
	}

	a := net.ParseIP(srcIP)
	b := net.ParseIP(masterHost)
	if a == nil || b == nil {
		return strings.EqualFold(srcIP, masterHost)
	}
	return a.Equal(b)
}
