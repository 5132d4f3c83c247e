// Package transfer implements the AXFR/IXFR zone-transfer client:
// SoaProbe → Decision → ConnectTcp → SendQuery → ReceiveStream →
// ParseRRs → ApplyAtomically, per spec.md §4.6.
//
// No teacher file implements zone transfer (its dnsasm/gRPC stack
// assumed an external provisioning pipeline instead), so this is new
// code grounded on two things the teacher does show: miekg/dns usage
// patterns from internal/engine/resolver.go (dns.Client.Exchange,
// RR conversion) and the transactional apply-then-commit shape of
// internal/zone.Zone's mutation methods, now routed through
// zonestore.Store.
package transfer

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/dnsutil"
	"github.com/mydns-io/mydnsd/internal/wire"
	"github.com/mydns-io/mydnsd/internal/zonestore"
)

// DefaultTimeout is spec.md §4.6's 300s transfer timeout.
const DefaultTimeout = 300 * time.Second

// TSIGKey carries the key material used to sign outbound AXFR/IXFR
// requests. A nil *TSIGKey means unsigned transfers.
type TSIGKey struct {
	Name      string // fully-qualified key name
	Secret    string // base64-encoded secret
	Algorithm string // e.g. dns.HmacSHA256
}

// Config configures a Client.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		MaxRetries:  5,
		BackoffBase: 10 * time.Second,
		BackoffMax:  30 * time.Minute,
	}
}

// Stats tracks transfer outcomes.
type Stats struct {
	Failures            uint64
	ConsecutiveFailures int
}

// Client performs AXFR/IXFR transfers against a zone's configured
// master, applying the result atomically into a zonestore.Store.
type Client struct {
	store *zonestore.Store
	cfg   Config
	tsig  *TSIGKey

	stats Stats
}

// New constructs a Client. tsig may be nil for unsigned transfers.
func New(store *zonestore.Store, cfg Config, tsig *TSIGKey) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{store: store, cfg: cfg, tsig: tsig}
}

func (c *Client) transferMsg(qtype uint16, origin string, soa *dns.SOA) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(origin), qtype)
	if qtype == dns.TypeIXFR && soa != nil {
		m.Ns = []dns.RR{soa}
	}
	if c.tsig != nil {
		m.SetTsig(c.tsig.Name, c.tsig.Algorithm, 300, time.Now().Unix())
	}
	return m
}

func (c *Client) tsigSecrets() map[string]string {
	if c.tsig == nil {
		return nil
	}
	return map[string]string{dns.Fqdn(c.tsig.Name): c.tsig.Secret}
}

// ProbeSOA queries master's SOA for origin over UDP, used to decide
// whether a transfer is needed before paying for a TCP connection.
func (c *Client) ProbeSOA(origin, master string) (*dns.SOA, error) {
	client := &dns.Client{Net: "udp", Timeout: c.cfg.Timeout}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(origin), dns.TypeSOA)

	resp, _, err := client.Exchange(m, master)
	if err != nil {
		return nil, dnsutil.Wrap(dnsutil.KindTransferError, "soa probe", err)
	}
	if resp.Rcode != dns.RcodeSuccess || len(resp.Answer) == 0 {
		return nil, dnsutil.New(dnsutil.KindTransferError, "soa probe: no answer")
	}
	soa, ok := resp.Answer[0].(*dns.SOA)
	if !ok {
		return nil, dnsutil.New(dnsutil.KindTransferError, "soa probe: not a SOA record")
	}
	return soa, nil
}

// NeedsUpdate reports whether masterSerial is newer than the zone's
// currently stored serial (RFC 1982 serial number arithmetic).
func (c *Client) NeedsUpdate(zoneID uint32, masterSerial uint32) bool {
	local := c.store.GetSOA(zoneID)
	if local == nil {
		return true
	}
	return serialGT(masterSerial, local.Serial)
}

func serialGT(a, b uint32) bool {
	return (a != b) && ((a-b)&0x80000000 == 0)
}

// AXFR performs a full zone transfer for zoneID from master, applying
// the result atomically: the transferred RRs are collected and
// validated in a scratch slice first, then the whole record set is
// built into a fresh bucket table off-lock and swapped into the store
// in one write-locked step (zonestore.Store.ReplaceZoneRecords), once
// the full AXFR stream has been received without error. This
// satisfies both spec.md §4.6/§10's transfer-atomicity property (a
// failed transfer leaves the store's pre-transfer state untouched)
// and §5's concurrent-read guarantee (a reader never observes the
// zone mid-replace, only the whole pre-image or the whole post-image).
func (c *Client) AXFR(ctx context.Context, zoneID uint32, origin, master string) error {
	soa := c.store.GetSOA(zoneID)
	m := c.transferMsg(dns.TypeAXFR, origin, soa)

	tr := &dns.Transfer{DialTimeout: c.cfg.Timeout, ReadTimeout: c.cfg.Timeout}
	if secrets := c.tsigSecrets(); secrets != nil {
		tr.TsigSecret = secrets
	}

	env, err := tr.In(m, master)
	if err != nil {
		c.recordFailure()
		return dnsutil.Wrap(dnsutil.KindTransferError, "axfr connect", err)
	}

	records, err := collectAXFR(env)
	if err != nil {
		c.recordFailure()
		return err
	}

	c.applyAtomic(zoneID, origin, records)
	c.recordSuccess()
	return nil
}

// collectAXFR drains the envelope channel, validating that the stream
// begins and ends with an SOA (RFC 5936), and returns the whole
// stream, bracketing SOAs included; applyAtomic strips them and uses
// the final SOA to update the zone's serial.
func collectAXFR(envs chan *dns.Envelope) ([]dns.RR, error) {
	var all []dns.RR
	for e := range envs {
		if e.Error != nil {
			return nil, dnsutil.Wrap(dnsutil.KindTransferError, "axfr parse", e.Error)
		}
		all = append(all, e.RR...)
	}

	if len(all) < 2 {
		return nil, dnsutil.New(dnsutil.KindTransferError, "axfr: stream too short to contain bracketing SOAs")
	}
	if _, ok := all[0].(*dns.SOA); !ok {
		return nil, dnsutil.New(dnsutil.KindTransferError, "axfr: stream does not begin with SOA")
	}
	if _, ok := all[len(all)-1].(*dns.SOA); !ok {
		return nil, dnsutil.New(dnsutil.KindTransferError, "axfr: stream does not end with SOA")
	}

	return all, nil
}

// applyAtomic builds the transferred set (minus the bracketing SOAs,
// plus the zone's own updated SOA row) into a single record slice and
// hands it to ReplaceZoneRecords for an off-lock build / single-swap
// apply, skipping the bracketing SOAs except to update the zone's own
// SOA row.
func (c *Client) applyAtomic(zoneID uint32, origin string, records []dns.RR) {
	finalSOA := records[len(records)-1].(*dns.SOA)
	body := records[1 : len(records)-1]

	recs := make([]*zonestore.Record, 0, len(body)+1)
	for _, rr := range body {
		recs = append(recs, &zonestore.Record{
			ZoneID: zoneID,
			Name:   wire.CanonicalName(rr.Header().Name),
			Type:   rr.Header().Rrtype,
			Class:  rr.Header().Class,
			TTL:    rr.Header().Ttl,
			RR:     rr,
		})
	}
	recs = append(recs, &zonestore.Record{
		ZoneID: zoneID,
		Name:   wire.CanonicalName(origin),
		Type:   dns.TypeSOA,
		Class:  finalSOA.Header().Class,
		TTL:    finalSOA.Header().Ttl,
		RR:     finalSOA,
	})

	_ = c.store.ReplaceZoneRecords(zoneID, finalSOA, recs)
}

// IXFR attempts an incremental transfer. If the master responds with
// a single SOA (it has no diff history), it reconnects and performs a
// full AXFR instead, per spec.md §4.6.
func (c *Client) IXFR(ctx context.Context, zoneID uint32, origin, master string) error {
	soa := c.store.GetSOA(zoneID)
	if soa == nil {
		return c.AXFR(ctx, zoneID, origin, master)
	}

	m := c.transferMsg(dns.TypeIXFR, origin, soa)
	tr := &dns.Transfer{DialTimeout: c.cfg.Timeout, ReadTimeout: c.cfg.Timeout}
	if secrets := c.tsigSecrets(); secrets != nil {
		tr.TsigSecret = secrets
	}

	env, err := tr.In(m, master)
	if err != nil {
		c.recordFailure()
		return dnsutil.Wrap(dnsutil.KindTransferError, "ixfr connect", err)
	}

	var all []dns.RR
	for e := range env {
		if e.Error != nil {
			c.recordFailure()
			return dnsutil.Wrap(dnsutil.KindTransferError, "ixfr parse", e.Error)
		}
		all = append(all, e.RR...)
	}

	if len(all) == 1 {
		// Master has no history for this zone; fall back to AXFR.
		return c.AXFR(ctx, zoneID, origin, master)
	}

	diffs, err := parseIXFRDiffs(all)
	if err != nil {
		c.recordFailure()
		return err
	}

	c.applyDiffs(zoneID, diffs)
	c.recordSuccess()
	return nil
}

// ixfrDiff is one SOA(old)+deletes / SOA(new)+adds segment.
type ixfrDiff struct {
	deletes []dns.RR
	adds    []dns.RR
	newSOA  *dns.SOA
}

// parseIXFRDiffs walks the RFC 1995 diff-sequence framing: the stream
// starts with SOA(new-final) (all[0]; the caller has only counted the
// RRs to detect AXFR-fallback), then repeats SOA(old), deletes...,
// SOA(new), adds... until the same final SOA serial is seen again.
func parseIXFRDiffs(all []dns.RR) ([]ixfrDiff, error) {
	if len(all) < 1 {
		return nil, dnsutil.New(dnsutil.KindTransferError, "ixfr: empty stream")
	}
	finalSOA, ok := all[0].(*dns.SOA)
	if !ok {
		return nil, dnsutil.New(dnsutil.KindTransferError, "ixfr: stream does not begin with SOA")
	}

	var diffs []ixfrDiff
	i := 1
	for i < len(all) {
		oldSOA, ok := all[i].(*dns.SOA)
		if !ok {
			return nil, dnsutil.New(dnsutil.KindTransferError, "ixfr: expected SOA(old) at diff boundary")
		}
		i++

		var deletes []dns.RR
		for i < len(all) {
			if soa, ok := all[i].(*dns.SOA); ok {
				_ = soa
				break
			}
			deletes = append(deletes, all[i])
			i++
		}

		if i >= len(all) {
			return nil, dnsutil.New(dnsutil.KindTransferError, "ixfr: truncated diff (missing SOA(new))")
		}
		newSOA := all[i].(*dns.SOA)
		i++

		var adds []dns.RR
		for i < len(all) {
			if _, ok := all[i].(*dns.SOA); ok {
				break
			}
			adds = append(adds, all[i])
			i++
		}

		diffs = append(diffs, ixfrDiff{deletes: deletes, adds: adds, newSOA: newSOA})

		if newSOA.Serial == finalSOA.Serial {
			break
		}
		_ = oldSOA
	}

	return diffs, nil
}

// applyDiffs applies each diff segment's deletes before its adds, per
// RFC 1995 §4's per-segment ordering, using the store's rdata-matched
// DeleteRR so a record named in d.deletes but not re-added in d.adds
// is actually removed rather than left stale.
func (c *Client) applyDiffs(zoneID uint32, diffs []ixfrDiff) {
	for _, d := range diffs {
		for _, rr := range d.deletes {
			_ = c.store.DeleteRR(zoneID, wire.CanonicalName(rr.Header().Name), rr.Header().Rrtype, rr)
		}
		for _, rr := range d.adds {
			_ = c.store.AddRR(&zonestore.Record{
				ZoneID: zoneID,
				Name:   wire.CanonicalName(rr.Header().Name),
				Type:   rr.Header().Rrtype,
				Class:  rr.Header().Class,
				TTL:    rr.Header().Ttl,
				RR:     rr,
			})
		}
		_ = c.store.AddRR(&zonestore.Record{
			ZoneID: zoneID,
			Name:   wire.CanonicalName(d.newSOA.Header().Name),
			Type:   dns.TypeSOA,
			Class:  d.newSOA.Header().Class,
			TTL:    d.newSOA.Header().Ttl,
			RR:     d.newSOA,
		})
	}
}

func (c *Client) recordFailure() {
	c.stats.Failures++
	c.stats.ConsecutiveFailures++
}

func (c *Client) recordSuccess() {
	c.stats.ConsecutiveFailures = 0
}

// Stats returns the client's point-in-time counters.
func (c *Client) Stats() Stats {
	return c.stats
}

// NextBackoff computes the retry delay for the client's current
// consecutive failure count, bounded by the zone's SOA retry (soaRetry,
// 0 for no bound) and by cfg.BackoffMax, per spec.md §4.6.
func (c *Client) NextBackoff(soaRetry uint32) time.Duration {
	delay := c.cfg.BackoffBase * time.Duration(1<<min(c.stats.ConsecutiveFailures, 10))
	bound := time.Duration(soaRetry) * time.Second
	if bound > 0 && delay > bound {
		delay = bound
	}
	if delay > c.cfg.BackoffMax {
		delay = c.cfg.BackoffMax
	}
	return delay
}

// ShouldStop reports whether max_retries consecutive failures have
// been reached, per spec.md §4.6's "stop attempting until the next
// configured interval".
func (c *Client) ShouldStop() bool {
	return c.cfg.MaxRetries > 0 && c.stats.ConsecutiveFailures >= c.cfg.MaxRetries
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
