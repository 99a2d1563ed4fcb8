package hub

import (
	"github.com/perchlabs/perch/internal/monitor"
)

// Wire payload structs mirror the HostStats field names but carry only
// what a dashboard card renders; full adds short per-process lists.

type cpuSummary struct {
	Cores        *int     `json:"cores"`
	UsagePercent *float64 `json:"usage_percent"`
}

type memorySummary struct {
	TotalBytes *int64 `json:"total_bytes"`
	UsedBytes  *int64 `json:"used_bytes"`
}

type diskSummary struct {
	TotalBytes *int64 `json:"total_bytes"`
	UsedBytes  *int64 `json:"used_bytes"`
}

type uptimeSummary struct {
	Seconds *float64 `json:"seconds"`
	Human   string   `json:"human"`
}

type pm2Summary struct {
	Processes        *int        `json:"processes"`
	TotalMemoryBytes *int64      `json:"total_memory_bytes"`
	Details          []pm2Detail `json:"details,omitempty"`
	Error            *string     `json:"error"`
}

type pm2Detail struct {
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

type supervisorSummary struct {
	Total   *int               `json:"total"`
	Running *int               `json:"running"`
	Details []supervisorDetail `json:"details,omitempty"`
}

type supervisorDetail struct {
	Name   *string `json:"name"`
	State  *string `json:"state"`
	Uptime *string `json:"uptime"`
}

type serverPayload struct {
	ServerID   string            `json:"server_id"`
	ServerName string            `json:"server_name"`
	Host       string            `json:"host"`
	Tags       []string          `json:"tags"`
	Error      *string           `json:"error"`
	CPU        cpuSummary        `json:"cpu"`
	Memory     memorySummary     `json:"memory"`
	Disk       diskSummary       `json:"disk"`
	Uptime     uptimeSummary     `json:"uptime"`
	Pm2        pm2Summary        `json:"pm2"`
	Supervisor supervisorSummary `json:"supervisor"`
}

// buildPayload projects a snapshot down to the requested detail level.
// Full payloads carry bounded process lists so a busy pm2 host can't
// flood every subscriber.
func buildPayload(stats *monitor.HostStats, detail string, pm2Limit, supervisorLimit int) serverPayload {
	payload := serverPayload{
		ServerID:   stats.ServerID,
		ServerName: stats.ServerName,
		Host:       stats.Host,
		Tags:       stats.Tags,
		Error:      stats.Error,
		CPU: cpuSummary{
			Cores:        stats.CPU.Cores,
			UsagePercent: stats.CPU.UsagePercent,
		},
		Memory: memorySummary{
			TotalBytes: stats.Memory.TotalBytes,
			UsedBytes:  stats.Memory.UsedBytes,
		},
		Disk: diskSummary{
			TotalBytes: stats.Disk.TotalBytes,
			UsedBytes:  stats.Disk.UsedBytes,
		},
		Uptime: uptimeSummary{
			Seconds: stats.Uptime.Seconds,
			Human:   stats.Uptime.Human,
		},
		Pm2: pm2Summary{
			Processes:        stats.Pm2.Processes,
			TotalMemoryBytes: stats.Pm2.TotalMemoryBytes,
			Error:            stats.Pm2.Error,
		},
		Supervisor: supervisorSummary{
			Total:   stats.Supervisor.Total,
			Running: stats.Supervisor.Running,
		},
	}
	if detail != DetailFull {
		return payload
	}

	for _, proc := range stats.Pm2.Details {
		if len(payload.Pm2.Details) >= pm2Limit {
			break
		}
		payload.Pm2.Details = append(payload.Pm2.Details, pm2Detail{
			Name:   proc.Name,
			Status: proc.Status,
		})
	}
	for _, proc := range stats.Supervisor.Details {
		if len(payload.Supervisor.Details) >= supervisorLimit {
			break
		}
		payload.Supervisor.Details = append(payload.Supervisor.Details, supervisorDetail{
			Name:   proc.Name,
			State:  proc.State,
			Uptime: proc.Uptime,
		})
	}
	return payload
}
