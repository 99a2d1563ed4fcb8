// Package web exposes the watcher over HTTP: fleet management REST
// endpoints, the realtime WebSocket, and a self-status probe.
package web

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perchlabs/perch/internal/config"
	"github.com/perchlabs/perch/internal/hub"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/monitor"
	"github.com/perchlabs/perch/internal/provision"
)

// Server wires the HTTP surface over the monitoring core.
type Server struct {
	cfg     *config.Config
	svc     *monitor.Service
	hub     *hub.Hub
	prov    *provision.Provisioner
	pubKey  string
	version string
	started time.Time
	log     logger.Logger

	engine *gin.Engine
}

// New builds the router. pubKey is the watcher's authorized_keys line,
// installed on hosts added through the API.
func New(cfg *config.Config, svc *monitor.Service, h *hub.Hub, prov *provision.Provisioner, pubKey, version string, log logger.Logger) *Server {
	if log == nil {
		log = logger.Noop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		hub:     h,
		prov:    prov,
		pubKey:  pubKey,
		version: version,
		started: time.Now(),
		log:     log,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery())

	api := s.engine.Group("/api")
	api.GET("/servers", s.listServers)
	api.POST("/servers", s.addServer)
	api.PATCH("/servers/:id", s.patchServer)
	api.DELETE("/servers/:id", s.deleteServer)
	api.GET("/stats", s.stats)
	api.GET("/status", s.status)

	s.engine.GET("/ws", s.websocket)
	return s
}

// Router exposes the gin engine for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.log.Info("listening on %s", s.cfg.Listen)
	return s.engine.Run(s.cfg.Listen)
}
