package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"leo/internal/health"
	"leo/internal/logging"
)

// DefaultListen is the student channel address.
const DefaultListen = ":8080"

// Options configures a Server.
type Options struct {
	Listen string

	// AllowedOrigins restricts browser origins. Empty or "*" allows any
	// origin, which is what students on a classroom LAN need.
	AllowedOrigins []string

	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration

	// Health backs /healthz and /readyz. Nil serves the student count
	// only and reports ready.
	Health *health.Checker

	// Metrics is served on /metrics when set.
	Metrics http.Handler

	Logger *logging.Logger
}

// Server is the HTTP front of a Hub.
type Server struct {
	hub       *Hub
	log       *logging.Logger
	router    *gin.Engine
	checker   *health.Checker
	srv       *http.Server
	heartbeat time.Duration
}

// NewServer builds the router for hub.
func NewServer(hub *Hub, opts Options) *Server {
	if opts.Listen == "" {
		opts.Listen = DefaultListen
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("broadcast")
	}

	if opts.Health == nil {
		opts.Health = health.NewChecker()
		opts.Health.SetReady(true)
	}
	opts.Health.RegisterFunc("students", false, func(context.Context) health.CheckResult {
		return health.CheckResult{
			Status:  health.StatusHealthy,
			Details: map[string]any{"clients": hub.ClientCount()},
		}
	})

	s := &Server{hub: hub, log: opts.Logger, heartbeat: opts.Heartbeat, checker: opts.Health}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	if len(opts.AllowedOrigins) == 0 || slices.Contains(opts.AllowedOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = opts.AllowedOrigins
	}
	router.Use(cors.New(corsCfg))

	router.GET("/healthz", s.health)
	router.GET("/readyz", s.ready)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	api := router.Group("/api")
	{
		api.GET("/state", s.getState)
		api.GET("/events", s.stream)
		api.POST("/messages", s.postMessage)
	}

	s.router = router
	s.srv = &http.Server{
		Addr:              opts.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// ListenAndServe serves until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	for _, u := range LocalURLs(port) {
		s.log.Info("student channel available", "url", u)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// SSE handlers only return once their clients are dropped
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	r := s.checker.Report(c.Request.Context(), c.Query("full") == "true")
	code := http.StatusOK
	if r.Status == health.StatusUnhealthy || r.Status == health.StatusUnknown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, r)
}

func (s *Server) ready(c *gin.Context) {
	if !s.checker.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.State())
}

func (s *Server) postMessage(c *gin.Context) {
	var msg ClientMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.hub.HandleClientMessage(msg) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presenter not ready"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "accepted", "type": msg.Type})
}

func (s *Server) stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	client, err := s.hub.Connect()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer s.hub.Disconnect(client)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg := <-client.Outbound:
			raw, err := json.Marshal(msg)
			if err != nil {
				s.log.Warn("failed to encode message", "type", msg.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
			flusher.Flush()
		}
	}
}

// LocalURLs lists http URLs on every non-loopback IPv4 address.
func LocalURLs(port string) []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			out = append(out, "http://"+net.JoinHostPort(ip4.String(), port))
		}
	}
	return out
}
