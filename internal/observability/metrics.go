package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

type MetricsConfig struct {
	Enabled bool
	// Requests at or under this latency count as good for the API SLO.
	SLOLatencyThreshold time.Duration
	ScrapeInterval      time.Duration
}

type Metrics struct {
	apiRequests         *CounterVec
	apiLatency          *HistogramVec
	apiInflight         *Gauge
	apiReqTotal         *Counter
	apiReqError         *Counter
	apiReqGood          *Counter
	sloLatencyThreshold float64

	collectionOps       *CounterVec
	collectionLatency   *HistogramVec
	collectionConflicts *CounterVec
	collectionRetries   *CounterVec
	integrityViolations *CounterVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge

	scrapeInterval time.Duration
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Current() *Metrics {
	return instance
}

// Init builds the process-wide registry once. It returns nil when metrics
// are disabled; every Metrics method is nil-safe.
func Init(log *logger.Logger, cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics(cfg)
		if log != nil {
			log.Info("Observability metrics enabled")
		}
	})
	return instance
}

// NewMetrics builds a standalone registry. Prefer Init outside tests.
func NewMetrics(cfg MetricsConfig) *Metrics {
	threshold := cfg.SLOLatencyThreshold
	if threshold <= 0 {
		threshold = 500 * time.Millisecond
	}
	interval := cfg.ScrapeInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Metrics{
		apiRequests: NewCounterVec("cb_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"cb_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight:         NewGauge("cb_api_inflight_requests", "In-flight API requests."),
		apiReqTotal:         NewCounter("cb_api_requests_total_all", "Total API requests (all)."),
		apiReqError:         NewCounter("cb_api_requests_error_total", "Total API requests with 5xx status."),
		apiReqGood:          NewCounter("cb_api_requests_good_latency_total", "Total API requests under SLO latency threshold."),
		sloLatencyThreshold: threshold.Seconds(),

		collectionOps: NewCounterVec("collection_op_total", "Collection operations by op/status.", []string{"op", "status"}),
		collectionLatency: NewHistogramVec(
			"collection_op_duration_seconds",
			"Collection operation latency in seconds by op/status.",
			[]string{"op", "status"},
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		),
		collectionConflicts: NewCounterVec("collection_conflicts_total", "Collection operations rejected with a conflict.", []string{"op"}),
		collectionRetries:   NewCounterVec("collection_retries_total", "Collection operations that failed with a retryable error.", []string{"op"}),
		integrityViolations: NewCounterVec("collection_integrity_violations_total", "Collections found with non-contiguous positions.", []string{"relation"}),

		pgStats:   NewGaugeVec("cb_postgres_pool", "Database pool stats by kind.", []string{"kind"}),
		redisUp:   NewGauge("cb_redis_up", "1 when the last redis ping succeeded."),
		redisPing: NewGauge("cb_redis_ping_seconds", "Last redis ping latency in seconds."),

		scrapeInterval: interval,
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, c := range []promWriter{
		m.apiRequests,
		m.apiLatency,
		m.apiInflight,
		m.apiReqTotal,
		m.apiReqError,
		m.apiReqGood,
		m.collectionOps,
		m.collectionLatency,
		m.collectionConflicts,
		m.collectionRetries,
		m.integrityViolations,
		m.pgStats,
		m.redisUp,
		m.redisPing,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	m.apiReqTotal.Inc()
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
	if m.sloLatencyThreshold > 0 && dur.Seconds() <= m.sloLatencyThreshold {
		m.apiReqGood.Inc()
	}
}

// ObserveAPIStream counts a finished event stream without touching the
// latency histogram or the SLO counters.
func (m *Metrics) ObserveAPIStream(method, route, status string) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, status)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveCollectionOperation(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.collectionOps.Inc(op, status)
	m.collectionLatency.Observe(dur.Seconds(), op, status)
}

func (m *Metrics) IncCollectionConflict(op string) {
	if m == nil {
		return
	}
	m.collectionConflicts.Inc(op)
}

func (m *Metrics) IncCollectionRetry(op string) {
	if m == nil {
		return
	}
	m.collectionRetries.Inc(op)
}

func (m *Metrics) IncIntegrityViolation(relation string) {
	if m == nil {
		return
	}
	if relation == "" {
		relation = "unknown"
	}
	m.integrityViolations.Inc(relation)
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(m.scrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(m.scrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func isServerErrorStatus(status string) bool {
	status = strings.TrimSpace(status)
	if len(status) < 3 {
		return false
	}
	return status[0] == '5'
}
