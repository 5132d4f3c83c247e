// Package dnssec implements RFC 4034/5155 zone signing: key
// generation, RRSIG production, and NSEC/NSEC3 authenticated denial,
// satisfying internal/resolver's DNSSECSigner interface.
//
// No teacher file signs zones (internal/zone.DNSSECConfig only carries
// configuration fields — Enabled/Algorithm/key lifetimes/NSEC3
// settings — never wired to an actual signer). Built fresh on
// miekg/dns's own DNSKEY.Generate/RRSIG.Sign/HashName helpers, which
// already implement the RFC 4034 Appendix B key tag (over DNSKEY
// RDATA) and the RFC 5155 NSEC3 iterated-hash correctly — resolving
// the key-tag Open Question in the RFC's favor rather than
// reproducing a DER-encoded-key key tag bug.
package dnssec

import (
	"crypto"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/zonestore"
)

// SignatureValidity is spec.md §4.10's default RRSIG validity window.
const SignatureValidity = 30 * 24 * time.Hour

// KeyPair is one published DNSSEC signing key.
type KeyPair struct {
	DNSKEY *dns.DNSKEY
	Signer crypto.Signer
}

// ZoneKeys holds a zone's active KSK and ZSK (a combined CSK is
// represented by setting both fields to the same KeyPair).
type ZoneKeys struct {
	KSK *KeyPair
	ZSK *KeyPair
}

func (zk *ZoneKeys) signerFor(rrtype uint16) *KeyPair {
	if rrtype == dns.TypeDNSKEY && zk.KSK != nil {
		return zk.KSK
	}
	if zk.ZSK != nil {
		return zk.ZSK
	}
	return zk.KSK
}

// NSEC3Config is a zone's published NSEC3PARAM.
type NSEC3Config struct {
	Enabled    bool
	Iterations uint16
	Salt       string // hex-encoded, per spec.md §6's storage note
}

// Manager generates and publishes per-zone DNSSEC key material and
// signs RRsets/denial proofs on behalf of internal/resolver.
type Manager struct {
	store *zonestore.Store

	mu    sync.RWMutex
	keys  map[uint32]*ZoneKeys
	nsec3 map[uint32]NSEC3Config

	validity time.Duration
	now      func() time.Time // injectable, per spec.md §9's single-clock-source note
}

// NewManager constructs a Manager bound to store.
func NewManager(store *zonestore.Store) *Manager {
	return &Manager{
		store:    store,
		keys:     make(map[uint32]*ZoneKeys),
		nsec3:    make(map[uint32]NSEC3Config),
		validity: SignatureValidity,
		now:      time.Now,
	}
}

// SetClock overrides the manager's time source, for deterministic tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// GenerateZoneKeys creates a KSK/ZSK pair for zoneID/origin using
// algorithm (e.g. dns.ECDSAP256SHA256), publishes both DNSKEY RRs into
// the zone, and registers the signing material.
func (m *Manager) GenerateZoneKeys(zoneID uint32, origin string, algorithm uint8) error {
	ksk, err := newKeyPair(origin, algorithm, 257, keyBits(algorithm, true))
	if err != nil {
		return err
	}
	zsk, err := newKeyPair(origin, algorithm, 256, keyBits(algorithm, false))
	if err != nil {
		return err
	}

	for _, kp := range []*KeyPair{ksk, zsk} {
		if err := m.store.AddRR(&zonestore.Record{
			ZoneID: zoneID, Name: origin, Type: dns.TypeDNSKEY, Class: dns.ClassINET,
			TTL: kp.DNSKEY.Hdr.Ttl, RR: kp.DNSKEY,
		}); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.keys[zoneID] = &ZoneKeys{KSK: ksk, ZSK: zsk}
	m.mu.Unlock()
	return nil
}

func newKeyPair(origin string, algorithm uint8, flags uint16, bits int) (*KeyPair, error) {
	dnskey := &dns.DNSKEY{
		Hdr:       dns.RR_Header{Name: dns.Fqdn(origin), Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET, Ttl: 3600},
		Flags:     flags,
		Protocol:  3,
		Algorithm: algorithm,
	}
	priv, err := dnskey.Generate(bits)
	if err != nil {
		return nil, err
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, errors.New("dnssec: generated key does not implement crypto.Signer")
	}
	return &KeyPair{DNSKEY: dnskey, Signer: signer}, nil
}

func keyBits(algorithm uint8, ksk bool) int {
	switch algorithm {
	case dns.RSASHA256, dns.RSASHA512, dns.RSASHA1:
		if ksk {
			return 2048
		}
		return 1024
	default: // ECDSA/EdDSA algorithms ignore the bit-size parameter
		return 256
	}
}

// EnableNSEC3 switches zoneID from NSEC to NSEC3 denial-of-existence.
func (m *Manager) EnableNSEC3(zoneID uint32, iterations uint16, saltHex string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nsec3[zoneID] = NSEC3Config{Enabled: true, Iterations: iterations, Salt: saltHex}
}

// SignZone reports whether zoneID has DNSSEC key material published,
// satisfying resolver.DNSSECSigner.
func (m *Manager) SignZone(zoneID uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	zk, ok := m.keys[zoneID]
	return ok && zk.ZSK != nil
}

// Sign appends an RRSIG after each distinct (owner, type) group found
// in rrset, signing with the ZSK (or KSK for a DNSKEY RRset), per
// spec.md §4.10's RRSIG-generation recipe.
func (m *Manager) Sign(zoneID uint32, qname string, rrset []dns.RR) []dns.RR {
	m.mu.RLock()
	zk, ok := m.keys[zoneID]
	m.mu.RUnlock()
	if !ok {
		return rrset
	}

	out := make([]dns.RR, 0, len(rrset)*2)
	groups, order := groupByOwnerType(rrset)
	for _, key := range order {
		members := groups[key]
		out = append(out, members...)
		if rrsig := m.signRRset(zk, members); rrsig != nil {
			out = append(out, rrsig)
		}
	}
	return out
}

// Deny builds the NSEC/NSEC3 denial-of-existence proof (plus RRSIGs
// over it and over the zone's SOA) for a NODATA/NXDOMAIN response.
func (m *Manager) Deny(zoneID uint32, qname string, qtype uint16, nxdomain bool) []dns.RR {
	m.mu.RLock()
	zk, ok := m.keys[zoneID]
	nsec3cfg, useNSEC3 := m.nsec3[zoneID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	var out []dns.RR

	if soa := m.store.GetSOA(zoneID); soa != nil {
		if rrsig := m.signRRset(zk, []dns.RR{soa}); rrsig != nil {
			out = append(out, rrsig)
		}
	}

	var proof []dns.RR
	if useNSEC3 && nsec3cfg.Enabled {
		proof = m.nsec3Proof(zoneID, qname, nsec3cfg)
	} else {
		proof = m.nsecProof(zoneID, qname)
	}
	for _, rr := range proof {
		out = append(out, rr)
		if rrsig := m.signRRset(zk, []dns.RR{rr}); rrsig != nil {
			out = append(out, rrsig)
		}
	}
	return out
}

func (m *Manager) signRRset(zk *ZoneKeys, rrset []dns.RR) *dns.RRSIG {
	if len(rrset) == 0 {
		return nil
	}
	kp := zk.signerFor(rrset[0].Header().Rrtype)
	if kp == nil {
		return nil
	}

	now := m.now()
	owner := rrset[0].Header().Name
	labels := uint8(dns.CountLabel(owner))
	if strings.HasPrefix(owner, "*.") {
		labels--
	}

	rrsig := &dns.RRSIG{
		Hdr:         dns.RR_Header{Name: owner, Rrtype: dns.TypeRRSIG, Class: dns.ClassINET, Ttl: rrset[0].Header().Ttl},
		TypeCovered: rrset[0].Header().Rrtype,
		Algorithm:   kp.DNSKEY.Algorithm,
		Labels:      labels,
		OrigTtl:     rrset[0].Header().Ttl,
		Expiration:  uint32(now.Add(m.validity).Unix()),
		Inception:   uint32(now.Unix()),
		KeyTag:      kp.DNSKEY.KeyTag(),
		SignerName:  kp.DNSKEY.Hdr.Name,
	}

	if err := rrsig.Sign(kp.Signer, rrset); err != nil {
		return nil
	}
	return rrsig
}

// groupByOwnerType partitions rrset into (owner, type) RRsets,
// preserving first-seen order so a CNAME-then-target answer keeps its
// original ordering once signed.
func groupByOwnerType(rrset []dns.RR) (map[[2]string][]dns.RR, [][2]string) {
	groups := make(map[[2]string][]dns.RR)
	var order [][2]string
	for _, rr := range rrset {
		key := [2]string{strings.ToLower(rr.Header().Name), dns.TypeToString[rr.Header().Rrtype]}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rr)
	}
	return groups, order
}
