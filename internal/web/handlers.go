package web

import (
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/perchlabs/perch/internal/registry"
)

func (s *Server) listServers(c *gin.Context) {
	servers := s.svc.Store().List()
	public := make([]registry.Server, 0, len(servers))
	for _, server := range servers {
		public = append(public, server.Public())
	}
	c.JSON(http.StatusOK, gin.H{"servers": public})
}

// addServer registers a host from a multipart form, provisioning the
// watcher key first so the registration never outlives a host we can't
// actually reach.
func (s *Server) addServer(c *gin.Context) {
	input := registry.ServerInput{
		Name:     strings.TrimSpace(c.PostForm("name")),
		Host:     strings.TrimSpace(c.PostForm("host")),
		User:     strings.TrimSpace(c.PostForm("user")),
		Password: c.PostForm("password"),
		Pm2User:  strings.TrimSpace(c.PostForm("pm2_user")),
		Pm2Home:  strings.TrimSpace(c.PostForm("pm2_home")),
		Tags:     splitTags(c.PostForm("tags")),
		Enabled:  true,
	}
	if input.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host is required"})
		return
	}
	if port := c.PostForm("port"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
			return
		}
		input.Port = n
	}

	server := registry.NewServer(input)

	if file, err := c.FormFile("key_file"); err == nil {
		name := fmt.Sprintf("%s_%s", server.ID, filepath.Base(file.Filename))
		if err := c.SaveUploadedFile(file, filepath.Join(s.cfg.KeysDir(), name)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store key file"})
			return
		}
		// Stored relative to the keys dir; the pool resolves it.
		server.KeyPath = name
	}

	if input.Password != "" {
		if err := s.prov.InstallKey(server, input.Password, s.pubKey); err != nil {
			s.log.Warn("provisioning %s failed: %v", server.DisplayName(), err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}

	if err := s.svc.Store().Add(server); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	go s.svc.Pool().WarmConnections([]registry.Server{server})
	c.JSON(http.StatusCreated, gin.H{"server": server.Public()})
}

func (s *Server) patchServer(c *gin.Context) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must carry an enabled flag"})
		return
	}

	server, err := s.svc.Store().SetEnabled(c.Param("id"), *body.Enabled)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.svc.Pool().Register(server)
	c.JSON(http.StatusOK, gin.H{"server": server.Public()})
}

func (s *Server) deleteServer(c *gin.Context) {
	id := c.Param("id")
	if err := s.svc.Store().Remove(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.svc.Pool().Remove(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) stats(c *gin.Context) {
	include := c.Query("include_disabled") == "true" || c.Query("include_disabled") == "1"
	c.JSON(http.StatusOK, gin.H{"stats": s.svc.CollectAll(include)})
}

// status reports the watcher's own health so the dashboard can tell a
// dead fleet from a dead watcher.
func (s *Server) status(c *gin.Context) {
	payload := gin.H{
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		payload["cpu_percent"] = percents[0]
	}
	c.JSON(http.StatusOK, payload)
}

func splitTags(raw string) []string {
	tags := []string{}
	for _, tag := range strings.Split(raw, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
