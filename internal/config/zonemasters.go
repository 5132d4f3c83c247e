package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TSIGKeyRef is a master's TSIG signing key, as declared inline in a
// zone-masters `master { ... }` block.
type TSIGKeyRef struct {
	Name      string
	Algorithm string
	SecretB64 string
}

// Master is one `master <name> { ... }` block: where to pull transfers
// from, and which zones that master is authoritative for.
type Master struct {
	Name    string
	Host    string
	Port    int
	TSIGKey *TSIGKeyRef
	Zones   []string
}

// ZoneMasters is the parsed zone-masters configuration file.
type ZoneMasters struct {
	TransferInterval time.Duration
	TransferTimeout  time.Duration
	MaxRetries       int
	RetryDelay       time.Duration

	Masters []Master
}

func defaultZoneMasters() *ZoneMasters {
	return &ZoneMasters{
		TransferInterval: time.Hour,
		TransferTimeout:  30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       time.Minute,
	}
}

// parseState tracks which nested block the scanner is currently inside.
type parseState int

const (
	stateTop parseState = iota
	stateMaster
	stateZones
)

// ParseZoneMasters reads and parses the zone-masters file at path.
func ParseZoneMasters(path string) (*ZoneMasters, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open zone-masters file: %w", err)
	}
	defer f.Close()

	zm := defaultZoneMasters()

	state := stateTop
	var cur *Master

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch state {
		case stateTop:
			if name, ok := matchMasterOpen(line); ok {
				cur = &Master{Name: name}
				state = stateMaster
				continue
			}
			key, val, ok := splitOption(line)
			if !ok {
				continue
			}
			if err := zm.applyGlobal(key, val); err != nil {
				return nil, fmt.Errorf("config: zone-masters line %d: %w", lineNo, err)
			}

		case stateMaster:
			if line == "}" {
				zm.Masters = append(zm.Masters, *cur)
				cur = nil
				state = stateTop
				continue
			}
			if line == "zones {" || line == "zones{" {
				state = stateZones
				continue
			}
			stmt := strings.TrimSuffix(strings.TrimSpace(line), ";")
			if err := cur.applyField(stmt); err != nil {
				return nil, fmt.Errorf("config: zone-masters line %d: %w", lineNo, err)
			}

		case stateZones:
			if line == "}" {
				state = stateMaster
				continue
			}
			zone := strings.TrimSuffix(strings.TrimSpace(line), ";")
			if zone != "" {
				cur.Zones = append(cur.Zones, zone)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read zone-masters file: %w", err)
	}
	if state != stateTop {
		return nil, fmt.Errorf("config: zone-masters file: unterminated block")
	}

	return zm, nil
}

func (zm *ZoneMasters) applyGlobal(key, val string) error {
	switch key {
	case "transfer_interval":
		d, err := parseSeconds(val)
		if err != nil {
			return fmt.Errorf("transfer_interval: %w", err)
		}
		zm.TransferInterval = d
	case "transfer_timeout":
		d, err := parseSeconds(val)
		if err != nil {
			return fmt.Errorf("transfer_timeout: %w", err)
		}
		zm.TransferTimeout = d
	case "max_retries":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("max_retries: %w", err)
		}
		zm.MaxRetries = n
	case "retry_delay":
		d, err := parseSeconds(val)
		if err != nil {
			return fmt.Errorf("retry_delay: %w", err)
		}
		zm.RetryDelay = d
	}
	return nil
}

// applyField parses one semicolon-terminated master-block statement
// ("host 192.0.2.2", "tsig_key k1 hmac-sha256 AAAA...").
func (m *Master) applyField(stmt string) error {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return nil
	}
	key, rest := fields[0], fields[1:]

	switch key {
	case "host":
		if len(rest) != 1 {
			return fmt.Errorf("host: expected one address")
		}
		m.Host = rest[0]
	case "port":
		if len(rest) != 1 {
			return fmt.Errorf("port: expected one value")
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		m.Port = n
	case "tsig_key":
		if len(rest) != 3 {
			return fmt.Errorf("tsig_key: expected <name> <algorithm> <base64-secret>")
		}
		m.TSIGKey = &TSIGKeyRef{Name: rest[0], Algorithm: rest[1], SecretB64: rest[2]}
	}
	return nil
}

func matchMasterOpen(line string) (name string, ok bool) {
	if !strings.HasPrefix(line, "master ") && !strings.HasPrefix(line, "master\t") {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "master"))
	if !strings.HasSuffix(rest, "{") {
		return "", false
	}
	name = strings.TrimSpace(strings.TrimSuffix(rest, "{"))
	if name == "" {
		return "", false
	}
	return name, true
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

func parseSeconds(val string) (time.Duration, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
