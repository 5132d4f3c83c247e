// Package tsig implements RFC 2845 transaction signatures: a key
// registry plus sign/verify wrapping miekg/dns's own TsigGenerate/
// TsigVerify, which already build the signing payload correctly
// (including into a fresh buffer rather than aliasing the original
// message — resolving the aliasing concern noted against the prior
// implementation this system replaces). No teacher file touches TSIG;
// the registry shape (name -> key, guarded by a single RWMutex) is
// grounded on internal/engine/acl.go's rule-list pattern.
package tsig

import (
	"errors"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/dnsutil"
)

// DefaultFudge is spec.md §4.9's default TSIG clock-skew allowance.
const DefaultFudge = 300

// Key is one registered TSIG key.
type Key struct {
	Name      string // fully-qualified key name
	Algorithm string // e.g. dns.HmacSHA256
	Secret    string // base64-encoded secret
}

// Keyring is a thread-safe registry of TSIG keys, indexed by name.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]*Key
}

// NewKeyring constructs an empty Keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]*Key)}
}

// AddKey registers a key. name is FQDN-normalized.
func (k *Keyring) AddKey(name, algorithm, secretB64 string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[dns.Fqdn(name)] = &Key{Name: dns.Fqdn(name), Algorithm: algorithm, Secret: secretB64}
}

// RemoveKey unregisters a key by name.
func (k *Keyring) RemoveKey(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, dns.Fqdn(name))
}

// Lookup returns the key registered under name, if any.
func (k *Keyring) Lookup(name string) (*Key, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[dns.Fqdn(name)]
	return key, ok
}

// Secrets returns the name->secret map miekg/dns's Client/Transfer
// TsigSecret field expects.
func (k *Keyring) Secrets() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]string, len(k.keys))
	for name, key := range k.keys {
		out[name] = key.Secret
	}
	return out
}

// Sign appends a TSIG RR to m (per spec.md §4.9's signing-payload
// recipe, which dns.Msg.SetTsig + dns.TsigGenerate already implement)
// and returns the signed wire bytes.
func (k *Keyring) Sign(m *dns.Msg, keyName string, fudge uint16) ([]byte, error) {
	key, ok := k.Lookup(keyName)
	if !ok {
		return nil, dnsutil.WithRcode(dnsutil.KindTsigBadKey, dns.RcodeBadKey, "unknown tsig key: "+keyName)
	}
	if fudge == 0 {
		fudge = DefaultFudge
	}

	m.SetTsig(key.Name, key.Algorithm, fudge, time.Now().Unix())

	out, _, err := dns.TsigGenerate(m, key.Secret, "", false)
	if err != nil {
		return nil, dnsutil.Wrap(dnsutil.KindTsigBadSig, "tsig generate", err)
	}
	return out, nil
}

// Verify checks a signed wire message's TSIG RR (which must be last
// in Additional), mapping failures to the RFC 2845 error kinds spec.md
// §4.9 names.
func (k *Keyring) Verify(wire []byte, fudge uint16) error {
	if fudge == 0 {
		fudge = DefaultFudge
	}

	m := new(dns.Msg)
	if err := m.Unpack(wire); err != nil {
		return dnsutil.Wrap(dnsutil.KindFormError, "tsig: unpack", err)
	}
	if len(m.Extra) == 0 {
		return dnsutil.WithRcode(dnsutil.KindTsigBadKey, dns.RcodeBadKey, "no tsig rr present")
	}
	tsigRR, ok := m.Extra[len(m.Extra)-1].(*dns.TSIG)
	if !ok {
		return dnsutil.WithRcode(dnsutil.KindTsigBadKey, dns.RcodeBadKey, "tsig rr not last in additional")
	}

	key, ok := k.Lookup(tsigRR.Hdr.Name)
	if !ok {
		return dnsutil.WithRcode(dnsutil.KindTsigBadKey, dns.RcodeBadKey, "unknown tsig key: "+tsigRR.Hdr.Name)
	}

	now := uint64(time.Now().Unix())
	delta := int64(now) - int64(tsigRR.TimeSigned)
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(fudge) {
		return dnsutil.WithRcode(dnsutil.KindTsigBadTime, dns.RcodeBadTime, "tsig time outside fudge window")
	}

	if err := dns.TsigVerify(wire, key.Secret, "", false); err != nil {
		return dnsutil.WithRcode(mapVerifyError(err), rcodeForErr(err), "tsig verify failed: "+err.Error())
	}
	return nil
}

func mapVerifyError(err error) dnsutil.Kind {
	switch {
	case errors.Is(err, dns.ErrTime):
		return dnsutil.KindTsigBadTime
	case errors.Is(err, dns.ErrSecret), errors.Is(err, dns.ErrKeyAlg):
		return dnsutil.KindTsigBadKey
	default:
		return dnsutil.KindTsigBadSig
	}
}

func rcodeForErr(err error) int {
	switch {
	case errors.Is(err, dns.ErrTime):
		return dns.RcodeBadTime
	case errors.Is(err, dns.ErrSecret), errors.Is(err, dns.ErrKeyAlg):
		return dns.RcodeBadKey
	default:
		return dns.RcodeBadSig
	}
}
