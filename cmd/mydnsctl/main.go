// Command mydnsctl is a small operator debug tool. Its only
// subcommand, `dump`, pulls a zone by AXFR from a master and prints
// its contents as YAML — useful for inspecting what a master actually
// serves without standing up a full mydnsd process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/miekg/dns"

	"github.com/mydns-io/mydnsd/internal/transfer"
	"github.com/mydns-io/mydnsd/internal/zonestore"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] != "dump" {
		fmt.Fprintln(os.Stderr, "usage: mydnsctl dump -zone <origin> -master <host:port> [-tsig-name NAME -tsig-alg ALG -tsig-secret BASE64]")
		os.Exit(2)
	}

	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	zone := fs.String("zone", "", "Zone origin to transfer")
	master := fs.String("master", "", "Master address (host:port)")
	tsigName := fs.String("tsig-name", "", "TSIG key name (optional)")
	tsigAlg := fs.String("tsig-alg", dns.HmacSHA256, "TSIG algorithm")
	tsigSecret := fs.String("tsig-secret", "", "TSIG base64 secret")
	fs.Parse(os.Args[2:])

	if *zone == "" || *master == "" {
		fmt.Fprintln(os.Stderr, "both -zone and -master are required")
		os.Exit(2)
	}

	if err := dumpZone(*zone, *master, *tsigName, *tsigAlg, *tsigSecret); err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		os.Exit(1)
	}
}

func dumpZone(origin, master, tsigName, tsigAlg, tsigSecret string) error {
	store := zonestore.Open(true, zonestore.DefaultConfig())
	placeholder := &dns.SOA{
		Hdr:    dns.RR_Header{Name: dns.Fqdn(origin), Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 3600},
		Ns:     "invalid.",
		Mbox:   "invalid.",
		Serial: 0,
	}
	zoneID, err := store.AddZone(placeholder)
	if err != nil {
		return err
	}

	var key *transfer.TSIGKey
	if tsigName != "" {
		key = &transfer.TSIGKey{Name: tsigName, Algorithm: tsigAlg, Secret: tsigSecret}
	}
	client := transfer.New(store, transfer.DefaultConfig(), key)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.AXFR(ctx, zoneID, origin, master); err != nil {
		return err
	}

	snap, err := store.Snapshot(zoneID)
	if err != nil {
		return err
	}
	out, err := snap.YAML()
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
