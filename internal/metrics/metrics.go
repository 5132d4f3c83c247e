// Package metrics exports a Prometheus view of the shared state
// spec.md §5 names: zone store (including its ACL check/deny counts),
// cache, transfer client, worker pool, plus the cookie manager. The
// TSIG keyring is not exported.
//
// Grounded on the teacher's api/grpc/middleware.go (package-level
// prometheus.NewCounterVec/NewGaugeVec + MustRegister in init) and
// cmd/dnsscience-grpc/main.go (a dedicated /metrics mux served by
// promhttp.Handler()) — the only in-repo consumer of the
// already-required github.com/prometheus/client_golang dependency,
// now given a second, DNS-server-shaped home instead of gRPC-only use.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsSource is the narrow surface each shared-state package exposes;
// Collector polls it on a fixed interval rather than wiring a push
// path into every call site, matching spec.md §5's "all are mediated
// by a single reader-writer lock" read-mostly shape.
type StatsSource struct {
	Zones    func() (zones, records int, queries, hits, misses, aclChecks, aclDenies uint64)
	Cache    func() (hits, misses, evictions, expirations uint64, size int)
	Transfer func() (failures uint64, consecutiveFailures int)
	Workers  func() (submitted, completed, rejected, failed, timedOut uint64, queueDepth int)
	Cookie   func() (totalQueries, queriesWithCookie, valid, invalid, badCookie, generated uint64)
}

var (
	zoneCount   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "mydnsd_zones", Help: "Zones currently loaded"})
	recordCount = prometheus.NewGauge(prometheus.GaugeOpts{Name: "mydnsd_records", Help: "Records currently loaded"})

	queryTotal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_queries_total", Help: "Zone store queries served"})
	queryHits     = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_query_hits_total", Help: "Zone store queries that found a matching name"})
	queryMisses   = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_query_misses_total", Help: "Zone store queries that found no matching name"})
	aclCheckTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_acl_checks_total", Help: "ACL evaluations performed"})
	aclDenyTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_acl_denies_total", Help: "ACL evaluations that denied"})

	cacheHits        = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cache_hits_total", Help: "Recursive cache hits"})
	cacheMisses      = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cache_misses_total", Help: "Recursive cache misses"})
	cacheEvictions   = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cache_evictions_total", Help: "Recursive cache entries evicted for space"})
	cacheExpirations = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cache_expirations_total", Help: "Recursive cache entries expired"})
	cacheSize        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "mydnsd_cache_size", Help: "Recursive cache entries currently held"})

	transferFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_transfer_failures_total", Help: "AXFR/IXFR attempts that failed"})
	transferConsecFail = prometheus.NewGauge(prometheus.GaugeOpts{Name: "mydnsd_transfer_consecutive_failures", Help: "Current consecutive transfer failure streak"})

	workerSubmitted = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_worker_submitted_total", Help: "Jobs submitted to the worker pool"})
	workerCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_worker_completed_total", Help: "Jobs completed by the worker pool"})
	workerRejected  = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_worker_rejected_total", Help: "Jobs rejected because the pool queue was full"})
	workerFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_worker_failed_total", Help: "Jobs that returned an error"})
	workerTimedOut  = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_worker_timed_out_total", Help: "Jobs that exceeded their deadline"})
	workerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{Name: "mydnsd_worker_queue_depth", Help: "Jobs currently queued"})

	cookieQueries    = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cookie_queries_total", Help: "Queries seen by the DNS Cookie validator"})
	cookieWithCookie = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cookie_queries_with_cookie_total", Help: "Queries that presented a server cookie"})
	cookieValid      = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cookie_valid_total", Help: "Server cookies that validated"})
	cookieInvalid    = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cookie_invalid_total", Help: "Server cookies that failed to validate"})
	cookieBadCookie  = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cookie_badcookie_total", Help: "Queries rejected with BADCOOKIE"})
	cookieGenerated  = prometheus.NewCounter(prometheus.CounterOpts{Name: "mydnsd_cookie_generated_total", Help: "Server cookies generated for replies"})
)

func init() {
	prometheus.MustRegister(
		zoneCount, recordCount,
		queryTotal, queryHits, queryMisses, aclCheckTotal, aclDenyTotal,
		cacheHits, cacheMisses, cacheEvictions, cacheExpirations, cacheSize,
		transferFailures, transferConsecFail,
		workerSubmitted, workerCompleted, workerRejected, workerFailed, workerTimedOut, workerQueueDepth,
		cookieQueries, cookieWithCookie, cookieValid, cookieInvalid, cookieBadCookie, cookieGenerated,
	)
}

// Collector polls a StatsSource on an interval and republishes the
// deltas/levels as Prometheus series. Counters are monotonic sources
// (zonestore.Stats, cache.Stats, etc. never decrease within a process
// lifetime) so Collector adds the observed increase since its last
// poll rather than re-registering a new counter value.
type Collector struct {
	src      StatsSource
	interval time.Duration

	prevQueries, prevHits, prevMisses         uint64
	prevACLChecks, prevACLDenies              uint64
	prevCacheHits, prevCacheMisses            uint64
	prevCacheEvictions, prevCacheExpirations  uint64
	prevTransferFailures                      uint64
	prevWorkerSubmitted, prevWorkerCompleted  uint64
	prevWorkerRejected, prevWorkerFailed      uint64
	prevWorkerTimedOut                        uint64
	prevCookieQueries, prevCookieWithCookie   uint64
	prevCookieValid, prevCookieInvalid        uint64
	prevCookieBadCookie, prevCookieGenerated  uint64
}

// NewCollector constructs a Collector polling src every interval
// (default 10s if interval <= 0).
func NewCollector(src StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{src: src, interval: interval}
}

// Run polls until ctx is cancelled. Intended to be started in its own
// goroutine by the server orchestrator.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

func (c *Collector) poll() {
	if c.src.Zones != nil {
		zones, records, queries, hits, misses, aclChecks, aclDenies := c.src.Zones()
		zoneCount.Set(float64(zones))
		recordCount.Set(float64(records))
		queryTotal.Add(delta(&c.prevQueries, queries))
		queryHits.Add(delta(&c.prevHits, hits))
		queryMisses.Add(delta(&c.prevMisses, misses))
		aclCheckTotal.Add(delta(&c.prevACLChecks, aclChecks))
		aclDenyTotal.Add(delta(&c.prevACLDenies, aclDenies))
	}
	if c.src.Cache != nil {
		hits, misses, evictions, expirations, size := c.src.Cache()
		cacheHits.Add(delta(&c.prevCacheHits, hits))
		cacheMisses.Add(delta(&c.prevCacheMisses, misses))
		cacheEvictions.Add(delta(&c.prevCacheEvictions, evictions))
		cacheExpirations.Add(delta(&c.prevCacheExpirations, expirations))
		cacheSize.Set(float64(size))
	}
	if c.src.Transfer != nil {
		failures, consecutive := c.src.Transfer()
		transferFailures.Add(delta(&c.prevTransferFailures, failures))
		transferConsecFail.Set(float64(consecutive))
	}
	if c.src.Workers != nil {
		submitted, completed, rejected, failed, timedOut, queueDepth := c.src.Workers()
		workerSubmitted.Add(delta(&c.prevWorkerSubmitted, submitted))
		workerCompleted.Add(delta(&c.prevWorkerCompleted, completed))
		workerRejected.Add(delta(&c.prevWorkerRejected, rejected))
		workerFailed.Add(delta(&c.prevWorkerFailed, failed))
		workerTimedOut.Add(delta(&c.prevWorkerTimedOut, timedOut))
		workerQueueDepth.Set(float64(queueDepth))
	}
	if c.src.Cookie != nil {
		totalQueries, queriesWithCookie, valid, invalid, badCookie, generated := c.src.Cookie()
		cookieQueries.Add(delta(&c.prevCookieQueries, totalQueries))
		cookieWithCookie.Add(delta(&c.prevCookieWithCookie, queriesWithCookie))
		cookieValid.Add(delta(&c.prevCookieValid, valid))
		cookieInvalid.Add(delta(&c.prevCookieInvalid, invalid))
		cookieBadCookie.Add(delta(&c.prevCookieBadCookie, badCookie))
		cookieGenerated.Add(delta(&c.prevCookieGenerated, generated))
	}
}

// delta returns cur-prev (0 if the monotonic source somehow went
// backwards, e.g. a process-local counter reset) and advances *prev.
func delta(prev *uint64, cur uint64) float64 {
	if cur < *prev {
		*prev = cur
		return 0
	}
	d := cur - *prev
	*prev = cur
	return float64(d)
}

// Serve starts a /metrics HTTP server on addr, serving until ctx is
// cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
