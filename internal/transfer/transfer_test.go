package transfer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydns-io/mydnsd/internal/zonestore"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func newTestStore(t *testing.T, origin string) (*zonestore.Store, uint32) {
	t.Helper()
	store := zonestore.Open(true, zonestore.DefaultConfig())
	soa := mustRR(t, origin+" 3600 IN SOA ns1."+origin+" hostmaster."+origin+" 1 3600 600 86400 300").(*dns.SOA)
	zoneID, err := store.AddZone(soa)
	require.NoError(t, err)
	return store, zoneID
}

// startAXFRMaster serves a fixed AXFR response: SOA, two records, SOA.
func startAXFRMaster(t *testing.T, origin string, serial uint32) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	soa := &dns.SOA{
		Hdr:     dns.RR_Header{Name: origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 3600},
		Ns:      "ns1." + origin,
		Mbox:    "hostmaster." + origin,
		Serial:  serial,
		Refresh: 3600, Retry: 600, Expire: 86400, Minttl: 300,
	}
	a := mustRR(t, "www."+origin+" 300 IN A 192.0.2.10")
	ns := mustRR(t, origin+" 3600 IN NS ns1."+origin)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		tr := new(dns.Transfer)
		ch := make(chan *dns.Envelope)
		go func() {
			defer close(ch)
			ch <- &dns.Envelope{RR: []dns.RR{soa, ns, a, soa}}
		}()
		tr.Out(w, r, ch)
		w.Close()
	})

	srv := &dns.Server{Listener: l, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return l.Addr().String()
}

// startIXFRMaster serves a single RFC 1995 diff sequence: SOA(final),
// SOA(old), deletes..., SOA(new), adds..., ending because SOA(new)'s
// serial equals SOA(final)'s.
func startIXFRMaster(t *testing.T, origin string, oldSerial, newSerial uint32, deletes, adds []dns.RR) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	mkSOA := func(serial uint32) *dns.SOA {
		return &dns.SOA{
			Hdr:     dns.RR_Header{Name: origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 3600},
			Ns:      "ns1." + origin,
			Mbox:    "hostmaster." + origin,
			Serial:  serial,
			Refresh: 3600, Retry: 600, Expire: 86400, Minttl: 300,
		}
	}

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		tr := new(dns.Transfer)
		ch := make(chan *dns.Envelope)
		go func() {
			defer close(ch)
			var all []dns.RR
			all = append(all, mkSOA(newSerial))
			all = append(all, mkSOA(oldSerial))
			all = append(all, deletes...)
			all = append(all, mkSOA(newSerial))
			all = append(all, adds...)
			ch <- &dns.Envelope{RR: all}
		}()
		tr.Out(w, r, ch)
		w.Close()
	})

	srv := &dns.Server{Listener: l, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return l.Addr().String()
}

func startSOAMaster(t *testing.T, origin string, serial uint32) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		soa := &dns.SOA{
			Hdr:     dns.RR_Header{Name: origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 3600},
			Ns:      "ns1." + origin,
			Mbox:    "hostmaster." + origin,
			Serial:  serial,
			Refresh: 3600, Retry: 600, Expire: 86400, Minttl: 300,
		}
		m.Answer = []dns.RR{soa}
		w.WriteMsg(m)
	})

	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestProbeSOAReturnsMasterSerial(t *testing.T) {
	addr := startSOAMaster(t, "example.com.", 42)
	store, _ := newTestStore(t, "example.com.")
	c := New(store, DefaultConfig(), nil)

	soa, err := c.ProbeSOA("example.com.", addr)
	require.NoError(t, err)
	assert.EqualValues(t, 42, soa.Serial)
}

func TestNeedsUpdateComparesSerials(t *testing.T) {
	store, zoneID := newTestStore(t, "example.com.")
	c := New(store, DefaultConfig(), nil)

	assert.False(t, c.NeedsUpdate(zoneID, 1))
	assert.True(t, c.NeedsUpdate(zoneID, 2))
}

func TestAXFRAppliesTransferredRecords(t *testing.T) {
	store, zoneID := newTestStore(t, "example.com.")
	addr := startAXFRMaster(t, "example.com.", 2)
	c := New(store, DefaultConfig(), nil)

	err := c.AXFR(context.Background(), zoneID, "example.com.", addr)
	require.NoError(t, err)

	recs := store.Query(zoneID, "www.example.com.", dns.TypeA)
	require.Len(t, recs, 1)

	soa := store.GetSOA(zoneID)
	assert.EqualValues(t, 2, soa.Serial)
}

func TestAXFRFailureLeavesStoreUntouched(t *testing.T) {
	store, zoneID := newTestStore(t, "example.com.")
	store.AddRR(&zonestore.Record{
		ZoneID: zoneID, Name: "old.example.com.", Type: dns.TypeA, Class: dns.ClassINET, TTL: 300,
		RR: mustRR(t, "old.example.com. 300 IN A 192.0.2.99"),
	})

	c := New(store, Config{Timeout: 200 * time.Millisecond}, nil)
	err := c.AXFR(context.Background(), zoneID, "example.com.", "127.0.0.1:1")
	require.Error(t, err)

	recs := store.Query(zoneID, "old.example.com.", dns.TypeA)
	assert.Len(t, recs, 1, "failed transfer must not touch existing zone data")
}

func TestIXFRAppliesDeletesBeforeAdds(t *testing.T) {
	store, zoneID := newTestStore(t, "example.com.")
	require.NoError(t, store.AddRR(&zonestore.Record{
		ZoneID: zoneID, Name: "stale.example.com.", Type: dns.TypeA, Class: dns.ClassINET, TTL: 300,
		RR: mustRR(t, "stale.example.com. 300 IN A 192.0.2.99"),
	}))
	// Bump the store's serial to 1 so NeedsUpdate/IXFR (not AXFR fallback) is exercised.
	store.IncrementSerial(zoneID)
	soa := store.GetSOA(zoneID)
	soa.Serial = 1

	deletes := []dns.RR{mustRR(t, "stale.example.com. 300 IN A 192.0.2.99")}
	adds := []dns.RR{mustRR(t, "fresh.example.com. 300 IN A 192.0.2.1")}
	addr := startIXFRMaster(t, "example.com.", 1, 2, deletes, adds)

	c := New(store, DefaultConfig(), nil)
	err := c.IXFR(context.Background(), zoneID, "example.com.", addr)
	require.NoError(t, err)

	assert.Empty(t, store.Query(zoneID, "stale.example.com.", dns.TypeA), "deleted record must not survive the diff")
	assert.Len(t, store.Query(zoneID, "fresh.example.com.", dns.TypeA), 1)
	assert.EqualValues(t, 2, store.GetSOA(zoneID).Serial)
}

func TestNextBackoffDoublesAndIsBoundedBySOARetry(t *testing.T) {
	store, zoneID := newTestStore(t, "example.com.")
	_ = zoneID
	c := New(store, Config{BackoffBase: time.Second, BackoffMax: time.Hour, MaxRetries: 5}, nil)

	c.stats.ConsecutiveFailures = 1
	d1 := c.NextBackoff(0)
	c.stats.ConsecutiveFailures = 2
	d2 := c.NextBackoff(0)
	assert.Greater(t, d2, d1)

	bounded := c.NextBackoff(5)
	assert.LessOrEqual(t, bounded, 5*time.Second)
}

func TestShouldStopAfterMaxRetries(t *testing.T) {
	store, _ := newTestStore(t, "example.com.")
	c := New(store, Config{MaxRetries: 3}, nil)

	for i := 0; i < 2; i++ {
		c.recordFailure()
	}
	assert.False(t, c.ShouldStop())

	c.recordFailure()
	assert.True(t, c.ShouldStop())

	c.recordSuccess()
	assert.False(t, c.ShouldStop())
}

func TestSerialGTHandlesWraparound(t *testing.T) {
	assert.True(t, serialGT(1, 0xFFFFFFFF))
	assert.True(t, serialGT(2, 1))
	assert.False(t, serialGT(1, 2))
	assert.False(t, serialGT(1, 1))
}
