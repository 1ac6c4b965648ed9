package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/loykin/cpueff/internal/metrics"
)

// Router provides embeddable HTTP handlers for a monitoring session.
// Endpoints:
//
//	GET /metrics              Prometheus exposition
//	GET {basePath}/latest     last report as JSON, 404 before the first one
//	GET {basePath}/healthz    liveness and session progress
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	latest   *LatestSink
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/cpu" results in /cpu/latest and /cpu/healthz.
func NewRouter(latest *LatestSink, basePath string) *Router {
	return &Router{latest: latest, basePath: normalizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	group := g.Group(r.basePath)
	group.GET("/latest", r.handleLatest)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// EchoHandler mounts the gin handler inside an echo instance, for embedding next
// to existing echo routes.
func (r *Router) EchoHandler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	h := echo.WrapHandler(r.Handler())
	e.Any("/metrics", h)
	e.Any(r.basePath+"/*", h)
	return e
}

// HandlerFor picks the framework by name: "echo" or anything else for gin.
func (r *Router) HandlerFor(framework string) http.Handler {
	if framework == "echo" {
		return r.EchoHandler()
	}
	return r.Handler()
}

// NewServer builds an http.Server on addr with conservative timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Start serves srv on its own goroutine. The returned stop function shuts it
// down gracefully, waiting at most timeout.
func Start(srv *http.Server, logger *slog.Logger) (stop func(timeout time.Duration)) {
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "addr", srv.Addr, "error", err)
		}
	}()
	return func(timeout time.Duration) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("http server shutdown", "error", err)
		}
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type latestResp struct {
	Process       string    `json:"process"`
	PID           int32     `json:"pid"`
	IntervalSecs  float64   `json:"interval_seconds"`
	ElapsedSecs   float64   `json:"elapsed_seconds"`
	Timestamp     time.Time `json:"timestamp"`
	WallSeconds   float64   `json:"wall_seconds"`
	CPUSeconds    float64   `json:"cpu_seconds"`
	SystemSeconds float64   `json:"system_seconds"`
	UserSeconds   float64   `json:"user_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	SystemPercent float64   `json:"system_percent"`
	UserPercent   float64   `json:"user_percent"`
}

type healthResp struct {
	OK       bool `json:"ok"`
	Reports  int  `json:"reports"`
	Finished bool `json:"finished"`
}

func (r *Router) handleLatest(c *gin.Context) {
	rep, ok := r.latest.Latest()
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no report yet"})
		return
	}
	m := rep.Metrics
	writeJSON(c, http.StatusOK, latestResp{
		Process:       rep.Process,
		PID:           rep.PID,
		IntervalSecs:  rep.Interval.Seconds(),
		ElapsedSecs:   rep.SessionElapsed.Seconds(),
		Timestamp:     rep.Timestamp,
		WallSeconds:   m.ElapsedWall,
		CPUSeconds:    m.DeltaTotal,
		SystemSeconds: m.DeltaSystem,
		UserSeconds:   m.DeltaUser,
		CPUPercent:    m.CPUPercent,
		SystemPercent: m.SystemPercent,
		UserPercent:   m.UserPercent,
	})
}

func (r *Router) handleHealthz(c *gin.Context) {
	n, closed := r.latest.stats()
	writeJSON(c, http.StatusOK, healthResp{OK: true, Reports: n, Finished: closed})
}
