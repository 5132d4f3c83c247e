// Package config parses mydnsd's two text configuration files: the
// flat main configuration and the brace-delimited zone-masters file,
// per spec.md §6.
//
// Grounded on the *parsing style* of the teacher's
// internal/zone/parser_dnszone.go — a typed destination struct filled
// field-by-field from a scanned file, errors wrapped with
// fmt.Errorf("parse X: %w", err) — rather than its grammar, which is
// YAML and therefore the wrong fit for spec.md's bespoke line-oriented
// format. No retrieved example repo parses a brace-delimited config
// grammar, so this scanner is hand-rolled stdlib bufio/strings, the
// same tool the teacher itself reaches for outside the YAML path (see
// internal/packet/parser.go for precedent of manual field splitting).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// HostPolicy selects how the database driver distributes reads/writes
// across the configured db-hostN entries.
type HostPolicy string

const (
	HostPolicySequential HostPolicy = "sequential"
	HostPolicyRoundRobin HostPolicy = "round-robin"
	HostPolicyLeastUsed  HostPolicy = "least-used"
)

// Main is the parsed main configuration file.
type Main struct {
	Database     string
	DBHosts      []string // db-host1..db-host4, in order
	DBUser       string
	DBPassword   string
	DBHostPolicy HostPolicy

	Recursive    bool
	RecursiveACL []string // CIDR strings

	DNSCacheEnabled bool
	DNSCacheSizeMB  int
	DNSCacheTTLMin  uint32
	DNSCacheTTLMax  uint32

	DoHEnabled bool
	DoHPort    int
	DoHPath    string
	DoHCert    string
	DoHKey     string
}

// defaultMain mirrors spec.md §6's named defaults where one is given;
// every DNSCacheTTL bound and the DoH path fall back to §4.5/§4.11.
func defaultMain() *Main {
	return &Main{
		DBHostPolicy:   HostPolicySequential,
		DNSCacheTTLMin: 0,
		DNSCacheTTLMax: 86400,
		DoHPath:        "/dns-query",
		DoHPort:        443,
	}
}

// ParseMain reads and parses the main configuration file at path.
func ParseMain(path string) (*Main, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open main config: %w", err)
	}
	defer f.Close()

	cfg := defaultMain()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, val, ok := splitOption(scanner.Text())
		if !ok {
			continue
		}
		if err := cfg.applyOption(key, val); err != nil {
			return nil, fmt.Errorf("config: main config line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read main config: %w", err)
	}
	return cfg, nil
}

func (cfg *Main) applyOption(key, val string) error {
	switch {
	case key == "database":
		cfg.Database = val
	case strings.HasPrefix(key, "db-host") && key != "db-host-policy":
		n, err := strconv.Atoi(strings.TrimPrefix(key, "db-host"))
		if err != nil || n < 1 || n > 4 {
			return fmt.Errorf("db-hostN key out of range 1..4: %q", key)
		}
		for len(cfg.DBHosts) < n {
			cfg.DBHosts = append(cfg.DBHosts, "")
		}
		cfg.DBHosts[n-1] = val
	case key == "db-user":
		cfg.DBUser = val
	case key == "db-password":
		cfg.DBPassword = val
	case key == "db-host-policy":
		p := HostPolicy(val)
		switch p {
		case HostPolicySequential, HostPolicyRoundRobin, HostPolicyLeastUsed:
			cfg.DBHostPolicy = p
		default:
			return fmt.Errorf("db-host-policy: unknown value %q", val)
		}
	case key == "recursive":
		b, err := parseBool(val)
		if err != nil {
			return err
		}
		cfg.Recursive = b
	case key == "recursive-acl":
		cfg.RecursiveACL = splitCSV(val)
	case key == "dns-cache-enabled":
		b, err := parseBool(val)
		if err != nil {
			return err
		}
		cfg.DNSCacheEnabled = b
	case key == "dns-cache-size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("dns-cache-size: %w", err)
		}
		cfg.DNSCacheSizeMB = n
	case key == "dns-cache-ttl-min":
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return fmt.Errorf("dns-cache-ttl-min: %w", err)
		}
		cfg.DNSCacheTTLMin = uint32(n)
	case key == "dns-cache-ttl-max":
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return fmt.Errorf("dns-cache-ttl-max: %w", err)
		}
		cfg.DNSCacheTTLMax = uint32(n)
	case key == "doh-enabled":
		b, err := parseBool(val)
		if err != nil {
			return err
		}
		cfg.DoHEnabled = b
	case key == "doh-port":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("doh-port: %w", err)
		}
		cfg.DoHPort = n
	case key == "doh-path":
		cfg.DoHPath = val
	case key == "doh-cert":
		cfg.DoHCert = val
	case key == "doh-key":
		cfg.DoHKey = val
	default:
		// Unrecognized options are ignored rather than fatal, per
		// spec.md §6's "recognized (subset)" wording — the full config
		// surface is owned by the collaborator's schema.
	}
	return nil
}

// splitOption strips comments and blank lines, then splits a line into
// its leading option key and the remainder as the value.
func splitOption(line string) (key, val string, ok bool) {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", "", false
	}
	return fields[0], strings.Join(fields[1:], " "), true
}

func parseBool(val string) (bool, error) {
	switch strings.ToLower(val) {
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", val)
	}
}

func splitCSV(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
