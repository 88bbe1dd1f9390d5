package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-api/internal/handler"
	"github.com/jwalitptl/clinic-api/internal/middleware"
)

// Handler is a resource handler mounted on the authenticated API group.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup, *middleware.AuthMiddleware)
}

// AuthHandler additionally receives the limiter for credential endpoints.
type AuthHandler interface {
	RegisterRoutes(*gin.RouterGroup, *middleware.AuthMiddleware, gin.HandlerFunc)
}

type Router struct {
	engine       *gin.Engine
	auth         *middleware.AuthMiddleware
	authH        AuthHandler
	appointmentH Handler
	patientH     Handler
	h            *handler.Handler
	authLimiter  *middleware.RateLimiter
	metrics      *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type RouterConfig struct {
	Mode           string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	AuthRateLimit  rate.Limit
	AuthRateBurst  int
	CORSConfig     middleware.CORSConfig
	MetricsPrefix  string
	Registerer     prometheus.Registerer
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	authH AuthHandler,
	appointmentH Handler,
	patientH Handler,
	h *handler.Handler,
	config RouterConfig,
) (*Router, error) {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if err := middleware.RegisterValidators(); err != nil {
		return nil, err
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = middleware.DefaultMaxBodySize
	}

	metrics, err := initRouterMetrics(config.MetricsPrefix, config.Registerer)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	r := &Router{
		engine:       engine,
		auth:         auth,
		authH:        authH,
		appointmentH: appointmentH,
		patientH:     patientH,
		h:            h,
		metrics:      metrics,
		authLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.AuthRateLimit,
			Burst: config.AuthRateBurst,
		}),
	}

	// RequestID comes first so that every later log line carries it.
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.SizeLimit(config.MaxBodyBytes),
		middleware.CORS(config.CORSConfig),
	)

	return r, nil
}

func (r *Router) Setup() {
	r.h.RegisterHealthRoutes(r.engine)

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", handler.Version)
		c.Next()
	})

	r.h.RegisterRoutes(api)
	r.authH.RegisterRoutes(api, r.auth, r.authLimiter.RateLimit())
	r.appointmentH.RegisterRoutes(api, r.auth)
	r.patientH.RegisterRoutes(api, r.auth)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string, reg prometheus.Registerer) (*routerMetrics, error) {
	if prefix == "" {
		prefix = "clinic"
	}
	m := &routerMetrics{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_errors_total",
				Help: "Total number of HTTP responses with a 4xx or 5xx status",
			},
			[]string{"method", "path", "class"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.requestDuration, m.requestTotal, m.errorTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Unmatched routes share one label to keep cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := c.Writer.Status()
		status := strconv.Itoa(code)

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		switch {
		case code >= 500:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "server").Inc()
		case code >= 400:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "client").Inc()
		}
	}
}
