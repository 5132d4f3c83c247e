// Command mydnsd is the authoritative/recursive DNS server process:
// it parses the main and zone-masters configuration files, builds a
// zone store from them (the ACL starts with no rules), pulls each configured slave zone's
// initial contents, then runs until terminated.
//
// Grounded on the teacher's cmd/dnsscienced/main.go: flag parsing,
// startup banner, a periodic stats printer and signal-driven graceful
// shutdown, now wired to internal/config instead of flag-only
// settings and internal/server's zonestore/transfer-based startup
// instead of a single LoadZone call.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/acl"
	"github.com/mydns-io/mydnsd/internal/config"
	"github.com/mydns-io/mydnsd/internal/dnssec"
	"github.com/mydns-io/mydnsd/internal/logging"
	"github.com/mydns-io/mydnsd/internal/server"
	"github.com/mydns-io/mydnsd/internal/tsig"
	"github.com/mydns-io/mydnsd/internal/update"
	"github.com/mydns-io/mydnsd/internal/zonestore"
)

var (
	mainConfigPath = flag.String("config", "/etc/mydnsd/mydnsd.conf", "Main configuration file")
	mastersPath    = flag.String("zone-masters", "/etc/mydnsd/zone-masters.conf", "Zone-masters configuration file")
	udpAddr        = flag.String("udp", ":53", "UDP listen address")
	tcpAddr        = flag.String("tcp", ":53", "TCP listen address")
	udpListeners   = flag.Int("listeners", runtime.NumCPU(), "Number of UDP listeners (SO_REUSEPORT)")
	notifyAddr     = flag.String("notify", "", "Dedicated NOTIFY listen address (optional)")
	metricsAddr    = flag.String("metrics", ":9153", "Prometheus /metrics listen address")
	printStats     = flag.Bool("stats", true, "Print statistics periodically")
)

var log = logging.New("main")

func main() {
	flag.Parse()

	fmt.Println("mydnsd starting")

	mainCfg, err := config.ParseMain(*mainConfigPath)
	if err != nil {
		log.Warnf("main config: %v (continuing with defaults)", err)
		mainCfg = nil
	}
	zoneMasters, err := config.ParseZoneMasters(*mastersPath)
	if err != nil {
		log.Warnf("zone-masters config: %v (continuing with no masters)", err)
		zoneMasters = &config.ZoneMasters{}
	}

	store := zonestore.Open(true, zonestore.DefaultConfig())
	aclEval := acl.New()
	keyring := tsig.NewKeyring()

	policies := make(map[string]update.ZonePolicy)
	for _, m := range zoneMasters.Masters {
		if m.TSIGKey != nil {
			keyring.AddKey(m.TSIGKey.Name, m.TSIGKey.Algorithm, m.TSIGKey.SecretB64)
		}
		for _, origin := range m.Zones {
			id, err := store.AddZone(placeholderSOA(origin))
			if err != nil {
				log.Errorf("add zone %s: %v", origin, err)
				continue
			}
			if err := store.SetSlaveMode(id, true); err != nil {
				log.Errorf("set slave mode %s: %v", origin, err)
			}
			policies[dns.Fqdn(origin)] = update.ZonePolicy{AllowAdd: false, AllowDelete: false, AllowUpdate: false}
		}
	}

	cfg := server.DefaultConfig()
	cfg.UDPAddr = *udpAddr
	cfg.TCPAddr = *tcpAddr
	cfg.UDPListeners = *udpListeners
	cfg.NotifyAddr = *notifyAddr
	cfg.Masters = zoneMasters.Masters
	cfg.ZonePolicies = policies
	cfg.MetricsAddr = *metricsAddr

	if mainCfg != nil {
		cfg.Recursive = mainCfg.Recursive
		cfg.CookiesEnabled = true
		cfg.DoHEnabled = mainCfg.DoHEnabled
		if mainCfg.DoHEnabled {
			cfg.DoH.Address = fmt.Sprintf(":%d", mainCfg.DoHPort)
			cfg.DoH.Path = mainCfg.DoHPath
			cfg.DoH.CertFile = mainCfg.DoHCert
			cfg.DoH.KeyFile = mainCfg.DoHKey
		}
	}

	dnssecMgr := dnssec.NewManager(store)
	cfg.DNSSEC = dnssecMgr

	srv, err := server.New(cfg, store, aclEval, keyring)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error starting server: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("mydnsd started")

	for _, m := range zoneMasters.Masters {
		for _, origin := range m.Zones {
			origin := origin
			go func() {
				if err := srv.RefreshZone(origin); err != nil {
					log.Warnf("initial transfer of %s: %v", origin, err)
				}
			}()
		}
	}

	if *printStats {
		go printStatsLoop(srv)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("mydnsd shutting down")
	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping server: %v\n", err)
		os.Exit(1)
	}
}

// placeholderSOA stands in until the zone's first AXFR replaces it;
// serial 0 guarantees transfer.Client.NeedsUpdate sees the master's
// real serial as newer.
func placeholderSOA(origin string) *dns.SOA {
	fqdn := dns.Fqdn(origin)
	return &dns.SOA{
		Hdr:     dns.RR_Header{Name: fqdn, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 3600},
		Ns:      "invalid.",
		Mbox:    "hostmaster.invalid.",
		Serial:  0,
		Refresh: 3600,
		Retry:   600,
		Expire:  604800,
		Minttl:  3600,
	}
}

func printStatsLoop(srv *server.Server) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var lastQueries uint64
	lastTime := time.Now()

	for range ticker.C {
		stats := srv.GetStats()
		now := time.Now()
		elapsed := now.Sub(lastTime).Seconds()
		qps := float64(stats.Queries-lastQueries) / elapsed

		log.Infof("queries=%d (%.0f qps) answers=%d errors=%d nxdomain=%d",
			stats.Queries, qps, stats.Answers, stats.Errors, stats.NXDOMAIN)

		lastQueries = stats.Queries
		lastTime = now
	}
}
