package server

import (
	"encoding/hex"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydns-io/mydnsd/internal/acl"
	"github.com/mydns-io/mydnsd/internal/cookie"
	"github.com/mydns-io/mydnsd/internal/zonestore"
)

func newTestServer(t *testing.T, cookieCfg cookie.Config) *Server {
	t.Helper()
	store := zonestore.Open(true, zonestore.DefaultConfig())
	cfg := DefaultConfig()
	cfg.CookiesEnabled = true
	cfg.Cookie = cookieCfg
	cfg.RateLimitEnabled = false
	s, err := New(cfg, store, acl.New(), nil)
	require.NoError(t, err)
	return s
}

func queryWithCookie(t *testing.T, clientCookie [8]byte, serverCookie []byte) *dns.Msg {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT, Class: 4096}}
	raw := cookie.FormatCookie(clientCookie, serverCookie)
	opt.Option = append(opt.Option, &dns.EDNS0_COOKIE{Code: dns.EDNS0COOKIE, Cookie: hex.EncodeToString(raw)})
	m.Extra = append(m.Extra, opt)
	return m
}

func TestCheckCookieAcceptsFirstQueryWithNoServerCookie(t *testing.T) {
	s := newTestServer(t, cookie.Config{Enabled: true})
	r := queryWithCookie(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, nil)

	assert.Nil(t, s.checkCookie(r, net.ParseIP("192.0.2.1")))
}

func TestCheckCookieRejectsBadServerCookieWhenRequired(t *testing.T) {
	s := newTestServer(t, cookie.Config{Enabled: true, RequireValid: true})
	r := queryWithCookie(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte{9, 9, 9, 9, 9, 9, 9, 9})

	resp := s.checkCookie(r, net.ParseIP("192.0.2.1"))
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeBadCookie, resp.Rcode)
}

func TestWriteCookieRoundTripsThroughHexEncoding(t *testing.T) {
	s := newTestServer(t, cookie.Config{Enabled: true})
	clientCookie := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	r := queryWithCookie(t, clientCookie, nil)
	clientIP := net.ParseIP("192.0.2.1")

	m := new(dns.Msg)
	m.SetReply(r)
	s.writeCookie(r, m, clientIP)

	opt := m.IsEdns0()
	require.NotNil(t, opt)
	var got *dns.EDNS0_COOKIE
	for _, o := range opt.Option {
		if c, ok := o.(*dns.EDNS0_COOKIE); ok {
			got = c
		}
	}
	require.NotNil(t, got)

	raw, err := hex.DecodeString(got.Cookie)
	require.NoError(t, err)
	gotClient, gotServer, err := cookie.ParseCookie(raw)
	require.NoError(t, err)
	assert.Equal(t, clientCookie, gotClient)
	require.Len(t, gotServer, 8)

	var sc [8]byte
	copy(sc[:], gotServer)
	assert.NoError(t, s.cookies.ValidateServerCookie(clientCookie, sc, clientIP))
}

func TestCookieStatsReflectActivity(t *testing.T) {
	s := newTestServer(t, cookie.Config{Enabled: true})
	r := queryWithCookie(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, nil)
	m := new(dns.Msg)
	m.SetReply(r)
	s.writeCookie(r, m, net.ParseIP("192.0.2.1"))

	st := s.cookies.Stats()
	assert.EqualValues(t, 1, st.CookiesGenerated)
}
