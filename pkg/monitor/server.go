package monitor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"avaneesh/h4-go/pkg/h4"
	"avaneesh/h4-go/pkg/internal/logger"
)

// Source lists the channels to report on; *h4.Manager satisfies it
type Source interface {
	Channels() []h4.Channel
	GetChannel(id string) (h4.Channel, bool)
}

// Config configures the HTTP server
type Config struct {
	Address string // "host:port" to listen on
}

// DefaultConfig returns the default listen address
func DefaultConfig() Config {
	return Config{Address: ":8080"}
}

// ChannelReport is one channel in the /channels response
type ChannelReport struct {
	ID         string               `json:"id"`
	Statistics h4.ChannelStatistics `json:"statistics"`
}

// Server exposes channel statistics and the live frame tap over HTTP
type Server struct {
	config  Config
	source  Source
	tap     *Tap
	router  *gin.Engine
	http    *http.Server
	logger  logger.Logger
	started time.Time
}

// NewServer builds the routes. tap may be nil to disable /frames.
func NewServer(config Config, source Source, tap *Tap, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.Address == "" {
		config.Address = DefaultConfig().Address
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:  config,
		source:  source,
		tap:     tap,
		logger:  log,
		started: time.Now(),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.requestLogger())

	s.router.GET("/health", s.health)
	s.router.GET("/channels", s.listChannels)
	s.router.GET("/channels/:id", s.getChannel)
	if s.tap != nil {
		s.router.GET("/frames", s.frames)
	}

	s.http = &http.Server{
		Addr:    s.config.Address,
		Handler: s.router,
	}
}

// requestLogger logs each request at debug level
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("Monitor listening on %s", s.config.Address)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Monitor server error: %v", err)
		}
	}()
}

// Shutdown stops the server and disconnects tap clients
func (s *Server) Shutdown(ctx context.Context) error {
	if s.tap != nil {
		s.tap.Close()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":   "ok",
		"channels": len(s.source.Channels()),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	}
	if s.tap != nil {
		resp["tap_clients"] = s.tap.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listChannels(c *gin.Context) {
	chans := s.source.Channels()
	reports := make([]ChannelReport, 0, len(chans))
	for _, ch := range chans {
		reports = append(reports, ChannelReport{ID: ch.ID(), Statistics: ch.Statistics()})
	}
	c.JSON(http.StatusOK, gin.H{"channels": reports})
}

func (s *Server) getChannel(c *gin.Context) {
	ch, ok := s.source.GetChannel(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	c.JSON(http.StatusOK, ChannelReport{ID: ch.ID(), Statistics: ch.Statistics()})
}

// frames streams frames; ?channel=ID and ?type=event,acl filter them
func (s *Server) frames(c *gin.Context) {
	var types []string
	if q := c.Query("type"); q != "" {
		types = strings.Split(q, ",")
	}
	s.tap.serve(c.Writer, c.Request, c.Query("channel"), types)
}
