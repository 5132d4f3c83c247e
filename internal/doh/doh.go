// Package doh implements the RFC 8484 DNS-over-HTTPS frontend,
// bridging an HTTPS listener onto the authoritative/recursive query
// path, per spec.md §4.11.
//
// Kept close to the teacher's internal/transport/doh.go (same
// http.Server/mux shape, same GET/POST decoding), generalized to call
// a QueryHandler instead of a single-method Handler so the server can
// hand it the combined authoritative+recursive path, and to enforce
// the "doh" ACL target spec.md §4.11 names explicitly (the teacher's
// DoH listener never consulted an ACL at all).
package doh

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/acl"
	"github.com/mydns-io/mydnsd/internal/dnsutil"
)

// ACLTarget is the evaluation target spec.md §4.11 names for DoH
// requests.
const ACLTarget = "doh"

// QueryHandler answers a decoded DNS query on behalf of clientIP. It
// is satisfied by whatever combines internal/resolver (authoritative)
// and internal/cache (recursive) at the server layer; this package
// only knows about the DNS wire format and HTTP framing.
type QueryHandler interface {
	HandleQuery(ctx context.Context, req *dns.Msg, clientIP net.IP) (*dns.Msg, error)
}

// Config configures the DoH listener.
type Config struct {
	Address  string        // e.g. ":443"
	Path     string        // default "/dns-query"
	CertFile string
	KeyFile  string
	Timeout  time.Duration // default 5s
}

func (c *Config) setDefaults() {
	if c.Address == "" {
		c.Address = ":443"
	}
	if c.Path == "" {
		c.Path = "/dns-query"
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
}

// Listener is the RFC 8484 HTTPS frontend.
type Listener struct {
	mu       sync.Mutex
	addr     string
	server   *http.Server
	handler  QueryHandler
	acl      *acl.ACL
	running  bool
	listener net.Listener
}

// New builds a Listener from cfg. aclEval may be nil to skip ACL
// enforcement (e.g. in tests).
func New(cfg Config, handler QueryHandler, aclEval *acl.ACL) (*Listener, error) {
	cfg.setDefaults()

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("doh: load TLS certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	l := &Listener{
		addr:    cfg.Address,
		handler: handler,
		acl:     aclEval,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, l.handle)

	l.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		TLSConfig:    tlsConfig,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		IdleTimeout:  30 * time.Second,
	}

	return l, nil
}

// Start begins accepting connections.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("doh: listener already running")
	}

	ln, err := tls.Listen("tcp", l.addr, l.server.TLSConfig)
	if err != nil {
		return fmt.Errorf("doh: start HTTPS listener: %w", err)
	}
	l.listener = ln
	l.running = true

	go l.server.Serve(ln)
	return nil
}

// Stop gracefully stops the listener.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return nil
	}
	l.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Addr()
	}
	return nil
}

func (l *Listener) handle(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIPFromRequest(r)

	if l.acl != nil {
		denied := !l.acl.Evaluate(acl.Request{Target: ACLTarget, ClientIP: clientIP})
		if denied {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	var req *dns.Msg
	var err error
	switch r.Method {
	case http.MethodGet:
		req, err = parseGET(r)
	case http.MethodPost:
		req, err = parsePOST(r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := l.handler.HandleQuery(r.Context(), req, clientIP)
	if err != nil {
		if de, ok := dnsutil.As(err); ok && de.Kind == dnsutil.KindRefused {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		resp = new(dns.Msg)
		resp.SetRcode(req, dns.RcodeServerFailure)
	}

	out, err := resp.Pack()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/dns-message")
	w.Header().Set("Cache-Control", cacheControl(resp))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func parseGET(r *http.Request) (*dns.Msg, error) {
	raw := r.URL.Query().Get("dns")
	if raw == "" {
		return nil, fmt.Errorf("missing 'dns' query parameter")
	}
	wire, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// Tolerate a padded base64url value too, though RFC 8484 names
		// unpadded base64url as the wire format.
		wire, err = base64.URLEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid base64url encoding: %w", err)
		}
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(wire); err != nil {
		return nil, fmt.Errorf("invalid DNS message: %w", err)
	}
	return msg, nil
}

func parsePOST(r *http.Request) (*dns.Msg, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/dns-message") {
		return nil, fmt.Errorf("unsupported content type: %s", ct)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 65535))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(body); err != nil {
		return nil, fmt.Errorf("invalid DNS message: %w", err)
	}
	return msg, nil
}

func cacheControl(resp *dns.Msg) string {
	if resp.Rcode != dns.RcodeSuccess {
		return "max-age=60"
	}
	minTTL := uint32(300)
	for _, rr := range resp.Answer {
		if ttl := rr.Header().Ttl; ttl < minTTL {
			minTTL = ttl
		}
	}
	return fmt.Sprintf("max-age=%d", minTTL)
}

func clientIPFromRequest(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}
