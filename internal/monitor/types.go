package monitor

import (
	"fmt"

	"github.com/perchlabs/perch/internal/registry"
)

// HostStats is the structured result of one collection pass for one
// server. Every numeric field is independently nullable: a probe that
// fails leaves its fields nil without blocking the others. Error
// snapshots (session unusable) carry the same shape with every section
// degraded, so consumers never special-case them.
type HostStats struct {
	ServerID   string   `json:"server_id"`
	ServerName string   `json:"server_name,omitempty"`
	Host       string   `json:"host"`
	User       string   `json:"user"`
	Port       int      `json:"port"`
	Tags       []string `json:"tags"`
	Error      *string  `json:"error"`

	CPU        CPUInfo        `json:"cpu"`
	Memory     MemoryInfo     `json:"memory"`
	Disk       DiskInfo       `json:"disk"`
	Uptime     UptimeInfo     `json:"uptime"`
	Pm2        Pm2Info        `json:"pm2"`
	Supervisor SupervisorInfo `json:"supervisor"`
}

// CPUInfo reports core count and a usage sample.
type CPUInfo struct {
	Cores        *int     `json:"cores"`
	UsagePercent *float64 `json:"usage_percent"`
	UsageHuman   string   `json:"usage_human"`
}

// MemoryInfo reports total and used bytes. Both are present or both
// are nil; "used" is meaningless without a total to compare against.
type MemoryInfo struct {
	TotalBytes *int64 `json:"total_bytes"`
	UsedBytes  *int64 `json:"used_bytes"`
	TotalHuman string `json:"total_human"`
	UsedHuman  string `json:"used_human"`
}

// DiskInfo reports usage of the root filesystem.
type DiskInfo struct {
	Mount      string `json:"mount"`
	TotalBytes *int64 `json:"total_bytes"`
	UsedBytes  *int64 `json:"used_bytes"`
	TotalHuman string `json:"total_human"`
	UsedHuman  string `json:"used_human"`
}

// UptimeInfo reports seconds since boot.
type UptimeInfo struct {
	Seconds *float64 `json:"seconds"`
	Human   string   `json:"human"`
}

// Pm2Info aggregates the pm2 process list.
type Pm2Info struct {
	TotalMemoryBytes *int64       `json:"total_memory_bytes"`
	Processes        *int         `json:"processes"`
	Details          []Pm2Process `json:"details"`
	Error            *string      `json:"error"`
}

// Pm2Process is one entry from pm2's JSON listing.
type Pm2Process struct {
	ID          *int     `json:"id"`
	Name        *string  `json:"name"`
	Namespace   *string  `json:"namespace"`
	Version     *string  `json:"version"`
	Mode        *string  `json:"mode"`
	PID         *int     `json:"pid"`
	Uptime      *int64   `json:"uptime"`
	Restarts    *int     `json:"restarts"`
	Status      *string  `json:"status"`
	CPU         *float64 `json:"cpu"`
	MemoryBytes *int64   `json:"memory_bytes"`
	User        *string  `json:"user"`
	Watching    *bool    `json:"watching"`
}

// SupervisorInfo aggregates supervisorctl status output.
type SupervisorInfo struct {
	Total   *int                `json:"total"`
	Running *int                `json:"running"`
	Details []SupervisorProcess `json:"details"`
}

// SupervisorProcess is one status line. Lines that don't match the
// expected pattern keep only Raw, so nothing the tool said is lost.
type SupervisorProcess struct {
	Name    *string `json:"name"`
	State   *string `json:"state"`
	PID     *int    `json:"pid"`
	Uptime  *string `json:"uptime"`
	Message *string `json:"message"`
	Raw     *string `json:"raw"`
}

// ErrorStats builds the fully-degraded snapshot used when a session
// can't be established or used at all.
func ErrorStats(server registry.Server, message string) *HostStats {
	tags := server.Tags
	if tags == nil {
		tags = []string{}
	}
	return &HostStats{
		ServerID:   server.ID,
		ServerName: server.Name,
		Host:       server.Host,
		User:       server.User,
		Port:       server.Port,
		Tags:       tags,
		Error:      &message,
		CPU:        CPUInfo{UsageHuman: "n/a"},
		Memory:     MemoryInfo{TotalHuman: "n/a", UsedHuman: "n/a"},
		Disk:       DiskInfo{Mount: "/", TotalHuman: "n/a", UsedHuman: "n/a"},
		Uptime:     UptimeInfo{Human: "n/a"},
		Pm2:        Pm2Info{Error: &message},
		Supervisor: SupervisorInfo{},
	}
}

func usageHuman(usage *float64) string {
	if usage == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", *usage)
}

func int64Ptr(v int64) *int64     { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }
