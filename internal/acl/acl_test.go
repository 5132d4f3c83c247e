package acl

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func req(target, ip string) Request {
	return Request{Target: target, ClientIP: net.ParseIP(ip)}
}

func TestEvaluateDefaultsToAllowWithNoRules(t *testing.T) {
	a := New()
	assert.True(t, a.Evaluate(req("master", "192.168.1.1")))
}

func TestEvaluateAllowOnlyExistsMeansDenyUnlessMatched(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeCIDR, "master", ActionAllow, "192.168.0.0/16", true)
	require.NoError(t, err)

	assert.True(t, a.Evaluate(req("master", "192.168.1.1")))
	assert.False(t, a.Evaluate(req("master", "10.0.0.1")), "no allow rule matched, but an allow rule exists for this target")
}

func TestEvaluateDenyOverridesAllow(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeCIDR, "master", ActionAllow, "10.0.0.0/8", true)
	require.NoError(t, err)
	_, err = a.AddRule(TypeCIDR, "master", ActionDeny, "10.0.1.0/24", true)
	require.NoError(t, err)

	assert.True(t, a.Evaluate(req("master", "10.0.0.1")))
	assert.True(t, a.Evaluate(req("master", "10.0.2.1")))
	assert.False(t, a.Evaluate(req("master", "10.0.1.1")))
}

func TestEvaluateSystemTargetAppliesEverywhere(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeCIDR, SystemTarget, ActionDeny, "10.0.0.0/8", true)
	require.NoError(t, err)

	assert.False(t, a.Evaluate(req("master", "10.0.0.1")))
	assert.False(t, a.Evaluate(req("cache", "10.0.0.1")))
	assert.True(t, a.Evaluate(req("cache", "192.0.2.1")))
}

func TestEvaluateDisabledRuleIsIgnored(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeCIDR, "master", ActionDeny, "10.0.0.0/8", false)
	require.NoError(t, err)

	assert.True(t, a.Evaluate(req("master", "10.0.0.1")))
}

func TestEvaluateSingleIP(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeIP, "master", ActionAllow, "192.168.1.100", true)
	require.NoError(t, err)

	assert.True(t, a.Evaluate(req("master", "192.168.1.100")))
	assert.False(t, a.Evaluate(req("master", "192.168.1.101")))
}

func TestEvaluateIPv6CIDR(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeCIDR, "master", ActionAllow, "2001:db8::/32", true)
	require.NoError(t, err)

	assert.True(t, a.Evaluate(req("master", "2001:db8::1")))
	assert.True(t, a.Evaluate(req("master", "2001:db8:ffff::1")))
	assert.False(t, a.Evaluate(req("master", "2001:db9::1")))
}

func TestEvaluateCountryCodeIsCaseInsensitive(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeCountry, "master", ActionDeny, "ru", true)
	require.NoError(t, err)

	r := req("master", "192.0.2.1")
	r.CountryCode = "RU"
	assert.False(t, a.Evaluate(r))

	r2 := req("master", "192.0.2.2")
	r2.CountryCode = "US"
	assert.True(t, a.Evaluate(r2))
}

func TestEvaluateASNMatch(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeASN, "master", ActionDeny, "64512", true)
	require.NoError(t, err)

	r := req("master", "192.0.2.1")
	r.ASN = 64512
	r.HasASN = true
	assert.False(t, a.Evaluate(r))

	r2 := req("master", "192.0.2.2")
	r2.ASN = 64513
	r2.HasASN = true
	assert.True(t, a.Evaluate(r2))
}

func TestEvaluateTargetIsolation(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeCIDR, "update", ActionDeny, "0.0.0.0/0", true)
	require.NoError(t, err)

	assert.False(t, a.Evaluate(req("update", "192.0.2.1")))
	assert.True(t, a.Evaluate(req("master", "192.0.2.1")))
}

func TestRemoveRule(t *testing.T) {
	a := New()
	rule, err := a.AddRule(TypeCIDR, "master", ActionDeny, "10.0.0.0/8", true)
	require.NoError(t, err)
	require.False(t, a.Evaluate(req("master", "10.0.0.1")))

	a.RemoveRule(rule.ID)
	assert.True(t, a.Evaluate(req("master", "10.0.0.1")))
}

func TestAddRuleRejectsInvalidCIDR(t *testing.T) {
	a := New()
	_, err := a.AddRule(TypeCIDR, "master", ActionDeny, "not-a-cidr", true)
	assert.Error(t, err)
}

func TestMonotonicity(t *testing.T) {
	// Adding a deny rule never turns a prior deny into an allow
	// (spec.md §10 property 4).
	a := New()
	_, err := a.AddRule(TypeCIDR, "master", ActionDeny, "10.0.0.0/8", true)
	require.NoError(t, err)
	require.False(t, a.Evaluate(req("master", "10.0.0.1")))

	_, err = a.AddRule(TypeCIDR, "master", ActionDeny, "192.0.2.0/24", true)
	require.NoError(t, err)
	assert.False(t, a.Evaluate(req("master", "10.0.0.1")))
}
