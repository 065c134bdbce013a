// Command bench runs a synthetic workload against the cache and exposes
// optional pprof/Prometheus endpoints.
package main

import (
	"flag"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	pmet "github.com/probecache/probecache/metrics/prom"
	"github.com/probecache/probecache/realtime"
)

func main() {
	// ---- Flags ----
	var (
		maxEntries = flag.Int("entries", 100_000, "maximum live entries")
		loadFactor = flag.Float64("load", 0.5, "max table load factor [0.01..0.5]")
		tick       = flag.Duration("tick", time.Millisecond, "cache time unit")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		minTTL  = flag.Duration("min_ttl", 100*time.Millisecond, "minimum entry TTL")
		maxTTL  = flag.Duration("max_ttl", 10*time.Second, "maximum entry TTL")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 0, "preload entries (0 = entries/2)")

		sweepEvery = flag.Duration("sweep", 100*time.Millisecond, "background sweep interval (0 = off)")
		sweepRatio = flag.Float64("sweep_ratio", 0.25, "background sweep target expired ratio")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Info("pprof: serving", zap.String("addr", *pprofAddr))
			log.Error("pprof server exited", zap.Error(http.ListenAndServe(*pprofAddr, nil)))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "probecache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Info("metrics: serving", zap.String("addr", *metricsAddr))
		log.Error("metrics server exited", zap.Error(http.ListenAndServe(*metricsAddr, nil)))
	}()

	// ---- Build cache ----
	c, err := realtime.New[string, string](realtime.Options[string, string]{
		MaxEntries:       *maxEntries,
		MaxLoadFactor:    *loadFactor,
		Tick:             *tick,
		Metrics:          metrics,
		SweepInterval:    *sweepEvery,
		SweepTargetRatio: *sweepRatio,
	})
	if err != nil {
		log.Fatal("bad configuration", zap.Error(err))
	}
	defer func() { _ = c.Close() }()

	// ---- Preload for a realistic hit-rate ----
	pl := *preload
	if pl == 0 {
		pl = *maxEntries / 2
	}
	for i := 0; i < pl; i++ {
		_ = c.Insert("k:"+strconv.Itoa(i), "v"+strconv.Itoa(i), *maxTTL)
	}

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	ttlSpread := int64(*maxTTL - *minTTL)
	minTTLVal := *minTTL
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, writes, total uint64
	stop := time.Now().Add(*duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for time.Now().Before(stop) {
				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					c.Get(keyByZipf())
				} else {
					atomic.AddUint64(&writes, 1)
					ttl := minTTLVal
					if ttlSpread > 0 {
						ttl += time.Duration(localR.Int63n(ttlSpread))
					}
					_ = c.Insert(keyByZipf(), "v"+strconv.Itoa(localR.Int()), ttl)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	st := c.Stats()
	ops := atomic.LoadUint64(&total)
	hitRate := 0.0
	if st.Hits+st.Misses > 0 {
		hitRate = float64(st.Hits) / float64(st.Hits+st.Misses) * 100
	}
	log.Info("benchmark finished",
		zap.Int("entries", *maxEntries),
		zap.Float64("load_factor", *loadFactor),
		zap.Int("workers", workersN),
		zap.Int("keys", *keys),
		zap.Duration("elapsed", elapsed),
		zap.Int64("seed", seedBase),
		zap.Uint64("ops", ops),
		zap.Float64("ops_per_sec", float64(ops)/elapsed.Seconds()),
		zap.Uint64("reads", atomic.LoadUint64(&reads)),
		zap.Uint64("writes", atomic.LoadUint64(&writes)),
		zap.Uint64("hits", st.Hits),
		zap.Uint64("misses", st.Misses),
		zap.Float64("hit_rate_pct", hitRate),
		zap.Int("resident", c.Len()),
	)
}
