package zonestore

import (
	"sort"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"

	"github.com/mydns-io/mydnsd/internal/dnsutil"
)

// SnapshotRecord is one record as it appears in a YAML zone snapshot:
// the wire text form, since dns.RR itself doesn't round-trip through
// yaml.v3's struct tags.
type SnapshotRecord struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	TTL  uint32 `yaml:"ttl"`
	RR   string `yaml:"rr"`
}

// Snapshot is a read-only, YAML-serializable dump of one zone's
// contents, used by the `mydnsctl dump` debug command and by tests
// that want to assert on a zone's full record set rather than probing
// it name-by-name through Query.
type Snapshot struct {
	Origin  string           `yaml:"origin"`
	Serial  uint32           `yaml:"serial"`
	Slave   bool             `yaml:"slave"`
	Records []SnapshotRecord `yaml:"records"`
}

// Snapshot builds a Snapshot of zoneID's current contents.
func (s *Store) Snapshot(zoneID uint32) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	z, ok := s.zones[zoneID]
	if !ok {
		return Snapshot{}, dnsutil.ErrNoSuchZone
	}

	snap := Snapshot{Origin: z.origin, Slave: z.slaveMode}
	if z.soa != nil {
		snap.Serial = z.soa.Serial
	}

	for _, chains := range z.buckets {
		for _, c := range chains {
			for _, records := range c.types {
				for _, rec := range records {
					snap.Records = append(snap.Records, SnapshotRecord{
						Name: rec.Name,
						Type: dns.TypeToString[rec.Type],
						TTL:  rec.TTL,
						RR:   rec.RR.String(),
					})
				}
			}
		}
	}

	sort.Slice(snap.Records, func(i, j int) bool {
		if snap.Records[i].Name != snap.Records[j].Name {
			return snap.Records[i].Name < snap.Records[j].Name
		}
		return snap.Records[i].RR < snap.Records[j].RR
	})

	return snap, nil
}

// YAML renders the snapshot as YAML text, for `mydnsctl dump`.
func (snap Snapshot) YAML() ([]byte, error) {
	return yaml.Marshal(snap)
}
