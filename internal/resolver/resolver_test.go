package resolver

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydns-io/mydnsd/internal/acl"
	"github.com/mydns-io/mydnsd/internal/zonestore"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func newTestResolver(t *testing.T) (*Resolver, *zonestore.Store, uint32) {
	t.Helper()
	store := zonestore.Open(true, zonestore.DefaultConfig())
	soa := mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 2024010100 3600 600 604800 300").(*dns.SOA)
	zoneID, err := store.AddZone(soa)
	require.NoError(t, err)
	require.NoError(t, store.AddRR(&zonestore.Record{ZoneID: zoneID, Name: "example.com.", Type: dns.TypeNS, RR: mustRR(t, "example.com. 3600 IN NS ns1.example.com.")}))
	require.NoError(t, store.AddRR(&zonestore.Record{ZoneID: zoneID, Name: "ns1.example.com.", Type: dns.TypeA, RR: mustRR(t, "ns1.example.com. 3600 IN A 192.0.2.53")}))
	require.NoError(t, store.AddRR(&zonestore.Record{ZoneID: zoneID, Name: "www.example.com.", Type: dns.TypeA, RR: mustRR(t, "www.example.com. 300 IN A 192.0.2.1")}))

	return New(store, nil, nil), store, zoneID
}

func query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	return m
}

func TestResolveAnswersDirectMatch(t *testing.T) {
	res, _, _ := newTestResolver(t)
	reply := res.Resolve(query("www.example.com.", dns.TypeA), net.ParseIP("198.51.100.1"))
	require.Equal(t, dns.RcodeSuccess, reply.Rcode)
	require.Len(t, reply.Answer, 1)
	assert.True(t, reply.Authoritative)
}

func TestResolveNXDOMAIN(t *testing.T) {
	res, _, _ := newTestResolver(t)
	reply := res.Resolve(query("nope.example.com.", dns.TypeA), net.ParseIP("198.51.100.1"))
	assert.Equal(t, dns.RcodeNameError, reply.Rcode)
	require.Len(t, reply.Ns, 1)
	_, ok := reply.Ns[0].(*dns.SOA)
	assert.True(t, ok)
}

func TestResolveNODATA(t *testing.T) {
	res, _, _ := newTestResolver(t)
	reply := res.Resolve(query("www.example.com.", dns.TypeAAAA), net.ParseIP("198.51.100.1"))
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
	assert.Empty(t, reply.Answer)
	require.Len(t, reply.Ns, 1)
}

func TestResolveUnservedZoneIsRefused(t *testing.T) {
	res, _, _ := newTestResolver(t)
	reply := res.Resolve(query("other.net.", dns.TypeA), net.ParseIP("198.51.100.1"))
	assert.Equal(t, dns.RcodeRefused, reply.Rcode)
}

func TestResolveWrongClassIsNotImplemented(t *testing.T) {
	res, _, _ := newTestResolver(t)
	q := query("www.example.com.", dns.TypeA)
	q.Question[0].Qclass = dns.ClassCHAOS
	reply := res.Resolve(q, net.ParseIP("198.51.100.1"))
	assert.Equal(t, dns.RcodeNotImplemented, reply.Rcode)
}

func TestResolveFollowsCNAME(t *testing.T) {
	res, store, zoneID := newTestResolver(t)
	require.NoError(t, store.AddRR(&zonestore.Record{ZoneID: zoneID, Name: "alias.example.com.", Type: dns.TypeCNAME, RR: mustRR(t, "alias.example.com. 300 IN CNAME www.example.com.")}))

	reply := res.Resolve(query("alias.example.com.", dns.TypeA), net.ParseIP("198.51.100.1"))
	require.Equal(t, dns.RcodeSuccess, reply.Rcode)
	require.Len(t, reply.Answer, 2)
	_, isCNAME := reply.Answer[0].(*dns.CNAME)
	assert.True(t, isCNAME)
	_, isA := reply.Answer[1].(*dns.A)
	assert.True(t, isA)
}

func TestResolveDetectsCNAMELoop(t *testing.T) {
	res, store, zoneID := newTestResolver(t)
	require.NoError(t, store.AddRR(&zonestore.Record{ZoneID: zoneID, Name: "a.example.com.", Type: dns.TypeCNAME, RR: mustRR(t, "a.example.com. 300 IN CNAME b.example.com.")}))
	require.NoError(t, store.AddRR(&zonestore.Record{ZoneID: zoneID, Name: "b.example.com.", Type: dns.TypeCNAME, RR: mustRR(t, "b.example.com. 300 IN CNAME a.example.com.")}))

	reply := res.Resolve(query("a.example.com.", dns.TypeA), net.ParseIP("198.51.100.1"))
	assert.Equal(t, dns.RcodeServerFailure, reply.Rcode)
}

func TestResolveAttachesNSGlue(t *testing.T) {
	res, _, _ := newTestResolver(t)
	reply := res.Resolve(query("example.com.", dns.TypeNS), net.ParseIP("198.51.100.1"))
	require.Equal(t, dns.RcodeSuccess, reply.Rcode)
	require.Len(t, reply.Answer, 1)
	require.Len(t, reply.Extra, 1, "in-bailiwick NS target should get A glue in Additional")
	_, ok := reply.Extra[0].(*dns.A)
	assert.True(t, ok)
}

func TestResolveACLDeny(t *testing.T) {
	store := zonestore.Open(true, zonestore.DefaultConfig())
	soa := mustRR(t, "example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 3600 600 604800 300").(*dns.SOA)
	zoneID, err := store.AddZone(soa)
	require.NoError(t, err)
	require.NoError(t, store.AddRR(&zonestore.Record{ZoneID: zoneID, Name: "example.com.", Type: dns.TypeNS, RR: mustRR(t, "example.com. 3600 IN NS ns1.example.com.")}))

	a := acl.New()
	_, err = a.AddRule(acl.TypeCIDR, "master", acl.ActionDeny, "198.51.100.0/24", true)
	require.NoError(t, err)

	res := New(store, a, nil)
	reply := res.Resolve(query("example.com.", dns.TypeNS), net.ParseIP("198.51.100.1"))
	assert.Equal(t, dns.RcodeRefused, reply.Rcode)

	reply2 := res.Resolve(query("example.com.", dns.TypeNS), net.ParseIP("203.0.113.1"))
	assert.Equal(t, dns.RcodeSuccess, reply2.Rcode)
}
