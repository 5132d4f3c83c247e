package zonestore

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteRRsetRemovesOnlyThatType(t *testing.T) {
	store, zoneID := newTestStore(t)

	store.AddRR(&Record{ZoneID: zoneID, Name: "host.example.com.", Type: dns.TypeA, Class: dns.ClassINET, TTL: 300, RR: mustRR(t, "host.example.com. 300 IN A 10.0.0.1")})
	store.AddRR(&Record{ZoneID: zoneID, Name: "host.example.com.", Type: dns.TypeAAAA, Class: dns.ClassINET, TTL: 300, RR: mustRR(t, "host.example.com. 300 IN AAAA ::1")})

	require.NoError(t, store.DeleteRRset(zoneID, "host.example.com.", dns.TypeA))

	assert.Empty(t, store.Query(zoneID, "host.example.com.", dns.TypeA))
	assert.Len(t, store.Query(zoneID, "host.example.com.", dns.TypeAAAA), 1)
}

func TestDeleteAllAtNameRemovesEveryType(t *testing.T) {
	store, zoneID := newTestStore(t)

	store.AddRR(&Record{ZoneID: zoneID, Name: "host.example.com.", Type: dns.TypeA, Class: dns.ClassINET, TTL: 300, RR: mustRR(t, "host.example.com. 300 IN A 10.0.0.1")})
	store.AddRR(&Record{ZoneID: zoneID, Name: "host.example.com.", Type: dns.TypeAAAA, Class: dns.ClassINET, TTL: 300, RR: mustRR(t, "host.example.com. 300 IN AAAA ::1")})

	require.NoError(t, store.DeleteAllAtName(zoneID, "host.example.com."))

	assert.False(t, store.HasName(zoneID, "host.example.com."))
}

func TestDeleteRRMatchesOnlyGivenRdata(t *testing.T) {
	store, zoneID := newTestStore(t)

	store.AddRR(&Record{ZoneID: zoneID, Name: "host.example.com.", Type: dns.TypeA, Class: dns.ClassINET, TTL: 300, RR: mustRR(t, "host.example.com. 300 IN A 10.0.0.1")})
	store.AddRR(&Record{ZoneID: zoneID, Name: "host.example.com.", Type: dns.TypeA, Class: dns.ClassINET, TTL: 300, RR: mustRR(t, "host.example.com. 300 IN A 10.0.0.2")})

	require.NoError(t, store.DeleteRR(zoneID, "host.example.com.", dns.TypeA, mustRR(t, "host.example.com. 0 IN A 10.0.0.1")))

	recs := store.Query(zoneID, "host.example.com.", dns.TypeA)
	require.Len(t, recs, 1)
	assert.Equal(t, "10.0.0.2", recs[0].RR.(*dns.A).A.String())
}

func TestHasRRsetMatchingDetectsExactSet(t *testing.T) {
	store, zoneID := newTestStore(t)

	store.AddRR(&Record{ZoneID: zoneID, Name: "host.example.com.", Type: dns.TypeA, Class: dns.ClassINET, TTL: 300, RR: mustRR(t, "host.example.com. 300 IN A 10.0.0.1")})

	assert.True(t, store.HasRRsetMatching(zoneID, "host.example.com.", dns.TypeA, []dns.RR{mustRR(t, "host.example.com. 0 IN A 10.0.0.1")}))
	assert.False(t, store.HasRRsetMatching(zoneID, "host.example.com.", dns.TypeA, []dns.RR{mustRR(t, "host.example.com. 0 IN A 10.0.0.9")}))
}
