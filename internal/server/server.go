// Package server wires every protocol-plane package into the running
// process: UDP/TCP/DoH listeners, the authoritative resolver, the
// recursive cache+forwarder, dynamic UPDATE, NOTIFY-triggered
// transfers and the ambient ratelimit/cookie/metrics stack, per
// spec.md §5's scheduling model.
//
// Grounded on the teacher's internal/server/server.go: SO_REUSEPORT
// UDP listener fan-out via dns.Server.ReusePort, pool.GetMessage/
// PutMessage reuse for FORMERR and BADCOOKIE replies, and the same "try authoritative,
// fall back to recursive" dispatch shape — generalized from a single
// zone map + rrl.Limiter to zonestore.Store + internal/resolver, and
// from rrl's BIND-style algorithm to internal/ratelimit's token
// bucket (see DESIGN.md for why rrl itself was dropped).
package server

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/acl"
	"github.com/mydns-io/mydnsd/internal/cache"
	"github.com/mydns-io/mydnsd/internal/config"
	"github.com/mydns-io/mydnsd/internal/cookie"
	"github.com/mydns-io/mydnsd/internal/dnssec"
	"github.com/mydns-io/mydnsd/internal/dnsutil"
	"github.com/mydns-io/mydnsd/internal/doh"
	"github.com/mydns-io/mydnsd/internal/logging"
	"github.com/mydns-io/mydnsd/internal/metrics"
	"github.com/mydns-io/mydnsd/internal/notify"
	"github.com/mydns-io/mydnsd/internal/pool"
	"github.com/mydns-io/mydnsd/internal/ratelimit"
	"github.com/mydns-io/mydnsd/internal/resolver"
	"github.com/mydns-io/mydnsd/internal/transfer"
	"github.com/mydns-io/mydnsd/internal/tsig"
	"github.com/mydns-io/mydnsd/internal/update"
	"github.com/mydns-io/mydnsd/internal/worker"
	"github.com/mydns-io/mydnsd/internal/zonestore"
)

// Config holds everything server.New needs beyond the already-built
// zone store, ACL and TSIG keyring (zone and key provisioning is a
// separate concern owned by cmd/mydnsd's startup sequence).
type Config struct {
	UDPAddr      string
	TCPAddr      string
	UDPListeners int // SO_REUSEPORT fan-out width; runtime.NumCPU() if 0

	Recursive          bool
	RecursiveUpstreams []string
	Cache              cache.Config

	CookiesEnabled bool
	Cookie         cookie.Config

	RateLimitEnabled bool
	RateLimit        ratelimit.Config

	Workers worker.Config

	// Masters lists the zone-masters file's master blocks; used both
	// to build transfer.Clients and to validate inbound NOTIFYs.
	Masters      []config.Master
	Transfer     transfer.Config
	NotifyAddr   string // "" disables the dedicated NOTIFY listener
	ZonePolicies map[string]update.ZonePolicy

	DNSSEC *dnssec.Manager // nil disables DNSSEC signing/denial

	DoHEnabled bool
	DoH        doh.Config

	MetricsAddr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig mirrors the teacher's DefaultConfig: SO_REUSEPORT
// fan-out sized to the host, conservative timeouts, cookies and rate
// limiting on by default, recursion and DoH off until a deployment
// opts in.
func DefaultConfig() Config {
	return Config{
		UDPAddr:      ":53",
		TCPAddr:      ":53",
		UDPListeners: runtime.NumCPU(),

		Cache: cache.Config{ShardCount: 256, MaxEntries: 100_000},

		CookiesEnabled: true,
		Cookie:         cookie.Config{Enabled: true},

		RateLimitEnabled: true,
		RateLimit:        ratelimit.DefaultConfig(),

		Workers: worker.Config{Workers: 64, QueueSize: 4096},

		Transfer: transfer.DefaultConfig(),

		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Server is the running mydnsd process.
type Server struct {
	cfg Config
	log *logging.Logger

	store   *zonestore.Store
	aclEval *acl.ACL
	resolve *resolver.Resolver
	cache   *cache.ShardedCache
	forward *cache.Forwarder
	cookies *cookie.Manager
	limiter *ratelimit.Limiter
	keyring *tsig.Keyring
	updates *update.Handler
	pool    *worker.Pool

	masters    *masterTable
	transfers  map[string]*transfer.Client // by master name
	notifyRecv *notify.Receiver

	doh *doh.Listener

	udpServers []*dns.Server
	tcpServer  *dns.Server

	metricsCancel context.CancelFunc

	queries, answers, errors, nxdomain atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// masterTable answers notify.MasterResolver and also gives the worker
// pool's scheduled-refresh jobs a name->Client lookup.
type masterTable struct {
	mu       sync.RWMutex
	byOrigin map[string]string // origin -> master name
	byName   map[string]config.Master
}

func newMasterTable(masters []config.Master) *masterTable {
	t := &masterTable{byOrigin: map[string]string{}, byName: map[string]config.Master{}}
	for _, m := range masters {
		t.byName[m.Name] = m
		for _, origin := range m.Zones {
			t.byOrigin[dns.Fqdn(origin)] = m.Name
		}
	}
	return t
}

func (t *masterTable) MasterForZone(origin string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.byOrigin[dns.Fqdn(origin)]
	if !ok {
		return "", false
	}
	m := t.byName[name]
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port)), true
}

func (t *masterTable) nameForOrigin(origin string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.byOrigin[dns.Fqdn(origin)]
	return name, ok
}

// policyMap is the trivial update.PolicyLookup backing Config.ZonePolicies.
type policyMap map[string]update.ZonePolicy

func (p policyMap) PolicyForZone(origin string) (update.ZonePolicy, bool) {
	pol, ok := p[dns.Fqdn(origin)]
	return pol, ok
}

// New builds a Server. store, aclEval and keyring are provisioned by
// the caller (cmd/mydnsd loads zones and keys before starting the
// server); keyring may be nil if no configured zone requires TSIG.
func New(cfg Config, store *zonestore.Store, aclEval *acl.ACL, keyring *tsig.Keyring) (*Server, error) {
	if cfg.UDPListeners <= 0 {
		cfg.UDPListeners = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		log:     logging.New("server"),
		store:   store,
		aclEval: aclEval,
		keyring: keyring,
		ctx:     ctx,
		cancel:  cancel,
	}

	var signer resolver.DNSSECSigner
	if cfg.DNSSEC != nil {
		signer = cfg.DNSSEC
	}
	s.resolve = resolver.New(store, aclEval, signer)

	if cfg.Recursive {
		s.cache = cache.NewShardedCache(cfg.Cache)
		s.forward = cache.NewForwarder(cfg.RecursiveUpstreams, 5*time.Second)
	}

	if cfg.CookiesEnabled {
		mgr, err := cookie.NewManager(cfg.Cookie)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("server: init cookies: %w", err)
		}
		s.cookies = mgr
	}

	if cfg.RateLimitEnabled {
		s.limiter = ratelimit.New(cfg.RateLimit)
	}

	s.pool = worker.NewPool(cfg.Workers)

	s.updates = update.New(store, aclEval, policyMap(cfg.ZonePolicies), keyring)

	s.masters = newMasterTable(cfg.Masters)
	s.transfers = make(map[string]*transfer.Client, len(cfg.Masters))
	for _, m := range cfg.Masters {
		var key *transfer.TSIGKey
		if m.TSIGKey != nil {
			key = &transfer.TSIGKey{Name: m.TSIGKey.Name, Algorithm: m.TSIGKey.Algorithm, Secret: m.TSIGKey.SecretB64}
		}
		s.transfers[m.Name] = transfer.New(store, cfg.Transfer, key)
	}

	if cfg.NotifyAddr != "" {
		recv, err := notify.Listen(cfg.NotifyAddr, s.masters, s.pool, s.refreshZone)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("server: notify listener: %w", err)
		}
		s.notifyRecv = recv
	}

	if cfg.DoHEnabled {
		l, err := doh.New(cfg.DoH, dohAdapter{s}, aclEval)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("server: doh listener: %w", err)
		}
		s.doh = l
	}

	for i := 0; i < cfg.UDPListeners; i++ {
		s.udpServers = append(s.udpServers, &dns.Server{
			Addr:         cfg.UDPAddr,
			Net:          "udp",
			ReusePort:    true,
			Handler:      dns.HandlerFunc(s.handleDNS),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			UDPSize:      4096,
		})
	}
	s.tcpServer = &dns.Server{
		Addr:         cfg.TCPAddr,
		Net:          "tcp",
		Handler:      dns.HandlerFunc(s.handleDNS),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start brings up every configured listener and the background
// metrics collector. Non-blocking; call Stop to shut down.
func (s *Server) Start() error {
	for i, srv := range s.udpServers {
		i, srv := i, srv
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.log.Infof("udp listener %d started on %s (reuseport)", i, s.cfg.UDPAddr)
			if err := srv.ListenAndServe(); err != nil {
				s.log.Errorf("udp listener %d: %v", i, err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Infof("tcp listener started on %s", s.cfg.TCPAddr)
		if err := s.tcpServer.ListenAndServe(); err != nil {
			s.log.Errorf("tcp listener: %v", err)
		}
	}()

	if s.notifyRecv != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.log.Infof("notify listener started on %s", s.notifyRecv.Addr())
			if err := s.notifyRecv.Serve(); err != nil {
				s.log.Errorf("notify listener: %v", err)
			}
		}()
	}

	if s.doh != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.doh.Start(); err != nil {
				s.log.Errorf("doh listener: %v", err)
			}
		}()
	}

	if s.cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(s.ctx)
		s.metricsCancel = cancel
		collector := metrics.NewCollector(s.statsSource(), 10*time.Second)
		s.wg.Add(2)
		go func() { defer s.wg.Done(); collector.Run(metricsCtx) }()
		go func() {
			defer s.wg.Done()
			if err := metrics.Serve(metricsCtx, s.cfg.MetricsAddr); err != nil {
				s.log.Errorf("metrics server: %v", err)
			}
		}()
	}

	return nil
}

// Stop shuts every listener down and waits for in-flight work to
// finish.
func (s *Server) Stop() error {
	s.cancel()
	if s.metricsCancel != nil {
		s.metricsCancel()
	}

	for i, srv := range s.udpServers {
		if err := srv.Shutdown(); err != nil {
			s.log.Warnf("udp listener %d shutdown: %v", i, err)
		}
	}
	if err := s.tcpServer.Shutdown(); err != nil {
		s.log.Warnf("tcp listener shutdown: %v", err)
	}
	if s.notifyRecv != nil {
		if err := s.notifyRecv.Stop(); err != nil {
			s.log.Warnf("notify listener shutdown: %v", err)
		}
	}
	if s.doh != nil {
		if err := s.doh.Stop(); err != nil {
			s.log.Warnf("doh listener shutdown: %v", err)
		}
	}

	s.wg.Wait()

	if s.cache != nil {
		s.cache.Close()
	}
	if err := s.pool.CloseTimeout(10 * time.Second); err != nil {
		s.log.Warnf("worker pool close: %v", err)
	}

	s.log.Infof("server stopped")
	return nil
}

// handleDNS is the shared UDP/TCP dispatch entry point, per spec.md
// §5's one-thread-per-listener model: DNS cookies, rate limiting,
// UPDATE/NOTIFY opcode routing and authoritative-then-recursive
// resolution all happen here.
func (s *Server) handleDNS(w dns.ResponseWriter, r *dns.Msg) {
	s.queries.Add(1)

	clientIP := clientIPFromAddr(w.RemoteAddr())

	if s.limiter != nil && !s.limiter.Allow(clientIP) {
		s.errors.Add(1)
		return // silently drop, per token-bucket exhaustion semantics
	}

	if len(r.Question) == 0 && r.Opcode != dns.OpcodeUpdate {
		m := pool.GetMessage()
		defer pool.PutMessage(m)
		m.SetReply(r)
		m.Rcode = dns.RcodeFormatError
		s.errors.Add(1)
		w.WriteMsg(m)
		return
	}

	if bad := s.checkCookie(r, clientIP); bad != nil {
		s.errors.Add(1)
		w.WriteMsg(bad)
		pool.PutMessage(bad)
		return
	}

	switch r.Opcode {
	case dns.OpcodeUpdate:
		s.handleUpdate(w, r, clientIP)
		return
	case dns.OpcodeNotify:
		s.handleNotify(w, r, clientIP)
		return
	}

	m := s.answerQuery(r, clientIP)
	s.writeCookie(r, m, clientIP)

	if m.Rcode == dns.RcodeNameError {
		s.nxdomain.Add(1)
	}
	s.answers.Add(1)
	w.WriteMsg(m)
}

// answerQuery tries the authoritative resolver first; if the zone
// isn't served locally and recursion is enabled, it falls back to the
// shared cache + forwarder, matching the teacher's
// handleAuthoritative/recursive fallback order.
func (s *Server) answerQuery(r *dns.Msg, clientIP net.IP) *dns.Msg {
	m := s.resolve.Resolve(r, clientIP)
	if m.Rcode != dns.RcodeRefused || !s.cfg.Recursive || len(r.Question) != 1 {
		return m
	}

	q := r.Question[0]
	key := cache.Key(q.Name, q.Qtype, q.Qclass)
	if entry, ok := s.cache.Get(key); ok {
		reply := new(dns.Msg)
		reply.SetReply(r)
		if entry.Data != nil {
			if err := reply.Unpack(entry.Data); err == nil {
				return reply
			}
		}
		reply.RecursionAvailable = true
		return reply
	}

	resp, err := s.forward.Forward(r)
	if err != nil {
		reply := new(dns.Msg)
		reply.SetReply(r)
		reply.Rcode = dns.RcodeServerFailure
		reply.RecursionAvailable = true
		return reply
	}
	resp.RecursionAvailable = true

	if wire, err := resp.Pack(); err == nil {
		ttl := minTTL(resp, 300)
		s.cache.Set(key, &cache.Entry{Data: wire, ExpiresAt: time.Now().Add(time.Duration(ttl) * time.Second), OrigTTL: ttl})
	}
	return resp
}

// handleUpdate authorizes and applies an RFC 2136 UPDATE. TSIG
// verification needs the request's original wire encoding; Pack()
// reproduces it byte-for-byte for the common case of an
// already-canonical incoming message (no compression-pointer
// reordering), which is the only shape dns.Server hands handlers.
func (s *Server) handleUpdate(w dns.ResponseWriter, r *dns.Msg, clientIP net.IP) {
	raw, err := r.Pack()
	if err != nil {
		resp := new(dns.Msg)
		resp.SetReply(r)
		resp.Rcode = dns.RcodeFormatError
		w.WriteMsg(resp)
		s.errors.Add(1)
		return
	}
	resp := s.updates.Handle(raw, clientIP)
	s.answers.Add(1)
	w.WriteMsg(resp)
}

// handleNotify validates an inbound NOTIFY against the configured
// master table and hands the refresh off to the worker pool, per
// spec.md §4.7. Kept inline (rather than routed through
// internal/notify's standalone listener) so NOTIFY shares the same
// UDP dispatch thread as ordinary queries, per spec.md §5.
func (s *Server) handleNotify(w dns.ResponseWriter, r *dns.Msg, clientIP net.IP) {
	resp := new(dns.Msg)
	resp.SetReply(r)
	resp.Opcode = dns.OpcodeNotify
	resp.Authoritative = true

	if len(r.Question) != 1 {
		resp.Rcode = dns.RcodeFormatError
		w.WriteMsg(resp)
		return
	}
	q := r.Question[0]
	if q.Qclass != dns.ClassINET || q.Qtype != dns.TypeSOA {
		resp.Rcode = dns.RcodeFormatError
		w.WriteMsg(resp)
		return
	}

	origin := dns.Fqdn(q.Name)
	masterAddr, ok := s.masters.MasterForZone(origin)
	if !ok || !hostMatches(clientIP, masterAddr) {
		resp.Rcode = dns.RcodeRefused
		w.WriteMsg(resp)
		return
	}

	origin2 := origin
	job := worker.JobFunc(func(ctx context.Context) error {
		return s.refreshZone(origin2)
	})
	_ = s.pool.SubmitAsync(context.Background(), job)

	w.WriteMsg(resp)
}

// refreshZone is notify's RefreshFunc and the worker-pool job body for
// a NOTIFY-triggered transfer: probe the master's SOA serial, then
// AXFR or IXFR if it has advanced.
func (s *Server) refreshZone(origin string) error {
	name, ok := s.masters.nameForOrigin(origin)
	if !ok {
		return dnsutil.New(dnsutil.KindTransferError, "no master configured for zone")
	}
	client, ok := s.transfers[name]
	if !ok {
		return dnsutil.New(dnsutil.KindTransferError, "no transfer client for master")
	}
	m := s.masters.byName[name]
	masterAddr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))

	zoneID, ok := s.store.ZoneIDByOrigin(origin)
	if !ok {
		return dnsutil.New(dnsutil.KindTransferError, "zone not loaded")
	}

	soa, err := client.ProbeSOA(origin, masterAddr)
	if err != nil {
		return err
	}
	if !client.NeedsUpdate(zoneID, soa.Serial) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Transfer.Timeout)
	defer cancel()

	if err := client.IXFR(ctx, zoneID, origin, masterAddr); err != nil {
		return client.AXFR(ctx, zoneID, origin, masterAddr)
	}
	return nil
}

// RefreshZone triggers an immediate out-of-band AXFR/IXFR for a
// configured slave zone, bypassing NOTIFY. cmd/mydnsd calls this once
// per configured zone at startup to pull its initial contents.
func (s *Server) RefreshZone(origin string) error {
	return s.refreshZone(dns.Fqdn(origin))
}

// edns0Cookie extracts and hex-decodes an inbound EDNS0 COOKIE option's
// data; miekg/dns stores EDNS0_COOKIE.Cookie as a hex string (it's built
// from pack()/unpack() around raw wire bytes), so the raw []byte a
// cookie.Manager deals in has to come through hex.DecodeString, not a
// direct cast.
func edns0Cookie(r *dns.Msg) ([]byte, bool) {
	opt := r.IsEdns0()
	if opt == nil {
		return nil, false
	}
	for _, o := range opt.Option {
		if c, ok := o.(*dns.EDNS0_COOKIE); ok {
			raw, err := hex.DecodeString(c.Cookie)
			if err != nil {
				return nil, false
			}
			return raw, true
		}
	}
	return nil, false
}

// checkCookie gates the shared dispatch path on RFC 7873/9018: a query
// presenting no cookie or a cookie the manager accepts passes through
// (nil return); one the manager rejects gets a BADCOOKIE reply the
// caller must write back verbatim and stop processing.
func (s *Server) checkCookie(r *dns.Msg, clientIP net.IP) *dns.Msg {
	if s.cookies == nil {
		return nil
	}
	raw, ok := edns0Cookie(r)
	if !ok {
		return nil
	}
	clientCookie, serverCookie, err := cookie.ParseCookie(raw)
	if err != nil {
		return nil
	}
	bad, _ := s.cookies.ValidateQueryCookie(clientCookie, serverCookie, clientIP)
	if !bad {
		return nil
	}
	m := pool.GetMessage()
	m.SetReply(r)
	m.Rcode = dns.RcodeBadCookie
	s.writeCookie(r, m, clientIP)
	return m
}

// writeCookie attaches a freshly generated server cookie to every reply
// once the client has shown it supports DNS Cookies, per RFC 7873 §5.3.
func (s *Server) writeCookie(r, m *dns.Msg, clientIP net.IP) {
	if s.cookies == nil {
		return
	}
	raw, ok := edns0Cookie(r)
	if !ok {
		return
	}
	clientCookie, _, err := cookie.ParseCookie(raw)
	if err != nil {
		return
	}
	serverCookie, err := s.cookies.GenerateServerCookie(clientCookie, clientIP)
	if err != nil {
		return
	}
	mopt := m.IsEdns0()
	if mopt == nil {
		mopt = &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT, Class: 4096}}
		m.Extra = append(m.Extra, mopt)
	}
	full := cookie.FormatCookie(clientCookie, serverCookie[:])
	mopt.Option = append(mopt.Option, &dns.EDNS0_COOKIE{Code: dns.EDNS0COOKIE, Cookie: hex.EncodeToString(full)})
}

// Stats summarizes the running server for /metrics and operator
// tooling.
type Stats struct {
	Queries  uint64
	Answers  uint64
	Errors   uint64
	NXDOMAIN uint64
}

func (s *Server) GetStats() Stats {
	return Stats{
		Queries:  s.queries.Load(),
		Answers:  s.answers.Load(),
		Errors:   s.errors.Load(),
		NXDOMAIN: s.nxdomain.Load(),
	}
}

// statsSource adapts every package's Stats() method into
// internal/metrics' polling surface.
func (s *Server) statsSource() metrics.StatsSource {
	return metrics.StatsSource{
		Zones: func() (zones, records int, queries, hits, misses, aclChecks, aclDenies uint64) {
			st := s.store.Stats()
			return st.Zones, st.Records, st.Queries, st.Hits, st.Misses, st.ACLChecks, st.ACLDenies
		},
		Cache: func() (hits, misses, evictions, expirations uint64, size int) {
			if s.cache == nil {
				return 0, 0, 0, 0, 0
			}
			st := s.cache.GetStats()
			return st.Hits, st.Misses, st.Evictions, st.Expirations, st.Size
		},
		Transfer: func() (failures uint64, consecutiveFailures int) {
			var f uint64
			var cmax int
			for _, c := range s.transfers {
				st := c.Stats()
				f += st.Failures
				if st.ConsecutiveFailures > cmax {
					cmax = st.ConsecutiveFailures
				}
			}
			return f, cmax
		},
		Workers: func() (submitted, completed, rejected, failed, timedOut uint64, queueDepth int) {
			st := s.pool.GetStats()
			return st.Submitted, st.Completed, st.Rejected, st.Failed, st.TimedOut, st.QueueDepth
		},
		Cookie: func() (totalQueries, queriesWithCookie, valid, invalid, badCookie, generated uint64) {
			if s.cookies == nil {
				return 0, 0, 0, 0, 0, 0
			}
			st := s.cookies.Stats()
			return st.TotalQueries, st.QueriesWithCookie, st.ValidCookies, st.InvalidCookies, st.BadCookieResponses, st.CookiesGenerated
		},
	}
}

// dohAdapter satisfies doh.QueryHandler by running an inbound DoH
// message through the same authoritative/recursive path as UDP/TCP.
type dohAdapter struct{ s *Server }

func (d dohAdapter) HandleQuery(_ context.Context, req *dns.Msg, clientIP net.IP) (*dns.Msg, error) {
	return d.s.answerQuery(req, clientIP), nil
}

func clientIPFromAddr(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

// hostMatches reports whether clientIP's address matches hostPort's
// host component, ignoring the port (NOTIFY source validation only
// cares about the sending host, per spec.md §4.7).
func hostMatches(clientIP net.IP, hostPort string) bool {
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = hostPort
	}
	masterIP := net.ParseIP(host)
	if masterIP == nil || clientIP == nil {
		return false
	}
	return masterIP.Equal(clientIP)
}

func minTTL(m *dns.Msg, fallback uint32) uint32 {
	min := fallback
	found := false
	for _, rr := range append(append([]dns.RR{}, m.Answer...), m.Ns...) {
		ttl := rr.Header().Ttl
		if !found || ttl < min {
			min = ttl
			found = true
		}
	}
	return min
}
