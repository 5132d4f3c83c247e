package zonestore

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydns-io/mydnsd/internal/dnsutil"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func newTestStore(t *testing.T) (*Store, uint32) {
	t.Helper()
	store := Open(true, DefaultConfig())
	soa := mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 2024010100 3600 600 604800 3600").(*dns.SOA)
	zoneID, err := store.AddZone(soa)
	require.NoError(t, err)
	return store, zoneID
}

func TestAddZoneIsIdempotentByOrigin(t *testing.T) {
	store, zoneID := newTestStore(t)
	soa2 := mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 2024010200 3600 600 604800 3600").(*dns.SOA)
	again, err := store.AddZone(soa2)
	require.NoError(t, err)
	assert.Equal(t, zoneID, again)
	assert.Equal(t, 1, store.Stats().Zones)
}

func TestAddZoneFullWhenPoolExhausted(t *testing.T) {
	store := Open(true, Config{MaxZones: 1, MaxRecords: DefaultMaxRecords})
	_, err := store.AddZone(mustRR(t, "a.com. 3600 IN SOA ns.a.com. host.a.com. 1 3600 600 604800 3600").(*dns.SOA))
	require.NoError(t, err)

	_, err = store.AddZone(mustRR(t, "b.com. 3600 IN SOA ns.b.com. host.b.com. 1 3600 600 604800 3600").(*dns.SOA))
	require.Error(t, err)
	de, ok := dnsutil.As(err)
	require.True(t, ok)
	assert.Equal(t, dnsutil.KindPoolFull, de.Kind)
}

func TestAddRRAndQuery(t *testing.T) {
	store, zoneID := newTestStore(t)
	rr := mustRR(t, "www.example.com. 300 IN A 192.0.2.1")
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "www.example.com.", Type: dns.TypeA, TTL: 300, RR: rr}))

	got := store.Query(zoneID, "www.example.com.", dns.TypeA)
	require.Len(t, got, 1)
	assert.Equal(t, rr.String(), got[0].RR.String())

	stats := store.Stats()
	assert.Equal(t, 1, stats.Records)
	assert.EqualValues(t, 1, stats.Queries)
	assert.EqualValues(t, 1, stats.Hits)
}

func TestQueryIsCaseInsensitive(t *testing.T) {
	store, zoneID := newTestStore(t)
	rr := mustRR(t, "www.example.com. 300 IN A 192.0.2.1")
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "www.example.com.", Type: dns.TypeA, RR: rr}))

	got := store.Query(zoneID, "WWW.EXAMPLE.COM.", dns.TypeA)
	require.Len(t, got, 1)
}

func TestQueryMissIncrementsMisses(t *testing.T) {
	store, zoneID := newTestStore(t)
	got := store.Query(zoneID, "nope.example.com.", dns.TypeA)
	assert.Nil(t, got)
	assert.EqualValues(t, 1, store.Stats().Misses)
}

func TestQueryWildcardExpansion(t *testing.T) {
	store, zoneID := newTestStore(t)
	rr := mustRR(t, "*.example.com. 300 IN A 192.0.2.9")
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "*.example.com.", Type: dns.TypeA, RR: rr}))

	got := store.Query(zoneID, "anything.example.com.", dns.TypeA)
	require.Len(t, got, 1)
	assert.Equal(t, "anything.example.com.", got[0].RR.Header().Name)
}

func TestQueryANYReturnsAllTypes(t *testing.T) {
	store, zoneID := newTestStore(t)
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "www.example.com.", Type: dns.TypeA, RR: mustRR(t, "www.example.com. 300 IN A 192.0.2.1")}))
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "www.example.com.", Type: dns.TypeAAAA, RR: mustRR(t, "www.example.com. 300 IN AAAA ::1")}))

	got := store.Query(zoneID, "www.example.com.", TypeANY)
	assert.Len(t, got, 2)
}

func TestDeleteAllRRClearsCountAtomically(t *testing.T) {
	store, zoneID := newTestStore(t)
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "www.example.com.", Type: dns.TypeA, RR: mustRR(t, "www.example.com. 300 IN A 192.0.2.1")}))
	require.Equal(t, 1, store.Stats().Records)

	require.NoError(t, store.DeleteAllRR(zoneID))
	assert.Equal(t, 0, store.Stats().Records)
	assert.Nil(t, store.Query(zoneID, "www.example.com.", dns.TypeA))
}

func TestReplaceZoneRecordsSwapsWholeZone(t *testing.T) {
	store, zoneID := newTestStore(t)
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "old.example.com.", Type: dns.TypeA, TTL: 300, RR: mustRR(t, "old.example.com. 300 IN A 192.0.2.1")}))

	newSOA := mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 2024010200 3600 600 604800 3600").(*dns.SOA)
	fresh := []*Record{
		{ZoneID: zoneID, Name: "fresh.example.com.", Type: dns.TypeA, TTL: 300, RR: mustRR(t, "fresh.example.com. 300 IN A 192.0.2.2")},
	}
	require.NoError(t, store.ReplaceZoneRecords(zoneID, newSOA, fresh))

	assert.Nil(t, store.Query(zoneID, "old.example.com.", dns.TypeA), "prior records must not survive a replace")
	got := store.Query(zoneID, "fresh.example.com.", dns.TypeA)
	require.Len(t, got, 1)
	assert.Equal(t, 1, store.Stats().Records)
	assert.EqualValues(t, 2024010200, store.GetSOA(zoneID).Serial)
}

func TestReplaceZoneRecordsNoSuchZone(t *testing.T) {
	store := Open(true, DefaultConfig())
	soa := mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 3600 600 604800 3600").(*dns.SOA)
	err := store.ReplaceZoneRecords(999, soa, nil)
	assert.ErrorIs(t, err, dnsutil.ErrNoSuchZone)
}

func TestAddRRNoSuchZone(t *testing.T) {
	store := Open(true, DefaultConfig())
	err := store.AddRR(&Record{ZoneID: 999, Name: "www.example.com.", Type: dns.TypeA, RR: mustRR(t, "www.example.com. 300 IN A 192.0.2.1")})
	require.Error(t, err)
	de, ok := dnsutil.As(err)
	require.True(t, ok)
	assert.Equal(t, dnsutil.KindRefused, de.Kind)
}

func TestIncrementSerialIsMonotonic(t *testing.T) {
	store, zoneID := newTestStore(t)
	before := store.GetSOA(zoneID).Serial
	require.NoError(t, store.IncrementSerial(zoneID))
	after := store.GetSOA(zoneID).Serial
	assert.GreaterOrEqual(t, after, before)
}

func TestValidateRequiresNameserversWithGlue(t *testing.T) {
	store, zoneID := newTestStore(t)
	err := store.Validate(zoneID)
	require.Error(t, err, "zone with no NS records must fail validation")

	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "example.com.", Type: dns.TypeNS, RR: mustRR(t, "example.com. 3600 IN NS ns1.example.com.")}))
	err = store.Validate(zoneID)
	require.Error(t, err, "in-bailiwick nameserver without glue must fail validation")

	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "ns1.example.com.", Type: dns.TypeA, RR: mustRR(t, "ns1.example.com. 3600 IN A 192.0.2.53")}))
	require.NoError(t, store.Validate(zoneID))
}

func TestValidateRejectsCNAMECoexistence(t *testing.T) {
	store, zoneID := newTestStore(t)
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "example.com.", Type: dns.TypeNS, RR: mustRR(t, "example.com. 3600 IN NS ns1.example.com.")}))
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "ns1.example.com.", Type: dns.TypeA, RR: mustRR(t, "ns1.example.com. 3600 IN A 192.0.2.53")}))

	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "dup.example.com.", Type: dns.TypeCNAME, RR: mustRR(t, "dup.example.com. 3600 IN CNAME target.example.com.")}))
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "dup.example.com.", Type: dns.TypeA, RR: mustRR(t, "dup.example.com. 3600 IN A 192.0.2.1")}))

	require.Error(t, store.Validate(zoneID))
}

func TestValidateRejectsMXPointingAtCNAME(t *testing.T) {
	store, zoneID := newTestStore(t)
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "example.com.", Type: dns.TypeNS, RR: mustRR(t, "example.com. 3600 IN NS ns1.example.com.")}))
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "ns1.example.com.", Type: dns.TypeA, RR: mustRR(t, "ns1.example.com. 3600 IN A 192.0.2.53")}))

	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "mail.example.com.", Type: dns.TypeCNAME, RR: mustRR(t, "mail.example.com. 3600 IN CNAME real.example.com.")}))
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "example.com.", Type: dns.TypeMX, RR: mustRR(t, "example.com. 3600 IN MX 10 mail.example.com.")}))

	require.Error(t, store.Validate(zoneID))
}

func TestValidateAllowsNullMX(t *testing.T) {
	store, zoneID := newTestStore(t)
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "example.com.", Type: dns.TypeNS, RR: mustRR(t, "example.com. 3600 IN NS ns1.example.com.")}))
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "ns1.example.com.", Type: dns.TypeA, RR: mustRR(t, "ns1.example.com. 3600 IN A 192.0.2.53")}))
	require.NoError(t, store.AddRR(&Record{ZoneID: zoneID, Name: "example.com.", Type: dns.TypeMX, RR: mustRR(t, "example.com. 3600 IN MX 0 .")}))

	require.NoError(t, store.Validate(zoneID))
}
