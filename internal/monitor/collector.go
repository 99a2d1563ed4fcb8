// Package monitor implements the stats-collection core: the persistent
// session pool, the remote probe battery, and bulk fleet collection.
package monitor

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/perchlabs/perch/internal/registry"
	"github.com/perchlabs/perch/internal/util"
	"github.com/perchlabs/perch/pkg/sshutil"
)

// Remote probe commands. All are POSIX-portable; the CPU sample command
// emits two /proc/stat snapshots 0.5s apart so the delta math can run
// locally.
const (
	coresCommand  = "command -v nproc >/dev/null 2>&1 && nproc || getconf _NPROCESSORS_ONLN"
	cpuCommand    = "grep '^cpu ' /proc/stat; sleep 0.5; grep '^cpu ' /proc/stat"
	memCommand    = "cat /proc/meminfo"
	uptimeCommand = "cat /proc/uptime"
	diskCommand   = "df -B1 /"
)

// Collector runs the probe battery against one live session. It holds
// no per-server state: retries and reconnects are the pool's job.
type Collector struct {
	// Timeout bounds each individual remote command.
	Timeout time.Duration
}

// NewCollector creates a collector with the given per-command timeout.
func NewCollector(timeout time.Duration) *Collector {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Collector{Timeout: timeout}
}

// Collect runs every probe over the given session and assembles a
// snapshot. Individual probe failures (non-zero exit, timeout, garbage
// output) degrade to nil fields; only a transport-level failure — the
// session itself is unusable — returns an error, which the pool maps to
// an error snapshot and a forced reconnect.
func (c *Collector) Collect(r sshutil.Runner, server registry.Server) (*HostStats, error) {
	cores, usage, err := c.fetchCPU(r)
	if err != nil {
		return nil, err
	}
	memTotal, memUsed, err := c.fetchMemory(r)
	if err != nil {
		return nil, err
	}
	uptimeSeconds, err := c.fetchUptime(r)
	if err != nil {
		return nil, err
	}
	diskTotal, diskUsed, err := c.fetchDisk(r)
	if err != nil {
		return nil, err
	}

	// Escalation only makes sense with a password and a non-root login.
	sudoPassword := ""
	if server.User != "root" {
		sudoPassword = server.Password
	}

	pm2Info, err := c.fetchPm2(r, server.Pm2User, server.Pm2Home, sudoPassword)
	if err != nil {
		return nil, err
	}
	if pm2Info.Error != nil && server.Password != "" && server.User != "root" {
		// Single fallback: retry as root against the default pm2 home.
		home := server.Pm2Home
		if home == "" {
			home = "/root/.pm2"
		}
		pm2Info, err = c.fetchPm2(r, "root", home, server.Password)
		if err != nil {
			return nil, err
		}
	}

	supervisorInfo, err := c.fetchSupervisor(r, server.User, sudoPassword)
	if err != nil {
		return nil, err
	}

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
		CPU: CPUInfo{
			Cores:        cores,
			UsagePercent: usage,
			UsageHuman:   usageHuman(usage),
		},
		Memory: MemoryInfo{
			TotalBytes: memTotal,
			UsedBytes:  memUsed,
			TotalHuman: util.FormatBytes(memTotal),
			UsedHuman:  util.FormatBytes(memUsed),
		},
		Disk: DiskInfo{
			Mount:      "/",
			TotalBytes: diskTotal,
			UsedBytes:  diskUsed,
			TotalHuman: util.FormatBytes(diskTotal),
			UsedHuman:  util.FormatBytes(diskUsed),
		},
		Uptime: UptimeInfo{
			Seconds: uptimeSeconds,
			Human:   util.FormatSeconds(uptimeSeconds),
		},
		Pm2:        pm2Info,
		Supervisor: supervisorInfo,
	}, nil
}

func (c *Collector) opts() sshutil.RunOpts {
	return sshutil.RunOpts{Timeout: c.Timeout}
}

// fetchCPU probes core count and a usage sample.
func (c *Collector) fetchCPU(r sshutil.Runner) (*int, *float64, error) {
	var cores *int
	result, err := r.Run(coresCommand, c.opts())
	if err != nil {
		return nil, nil, err
	}
	if result.ExitCode == 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(result.Stdout)); err == nil {
			cores = &n
		}
	}

	result, err = r.Run(cpuCommand, c.opts())
	if err != nil {
		return cores, nil, err
	}
	if result.ExitCode != 0 {
		return cores, nil, nil
	}
	return cores, parseCPUUsage(result.Stdout), nil
}

// cpuSample holds one /proc/stat aggregate line's jiffy counters.
type cpuSample struct {
	total int64
	idle  int64
}

// parseCPUUsage computes usage from two aggregate cpu lines taken 0.5s
// apart: 1 - Δidle/Δtotal, as a percentage rounded to two decimals.
// Idle includes iowait. A non-positive total delta reads as 0.00, never
// a division error.
func parseCPUUsage(output string) *float64 {
	var samples []cpuSample
	for _, line := range strings.Split(output, "\n") {
		sample, ok := parseProcStatLine(line)
		if ok {
			samples = append(samples, sample)
		}
	}
	if len(samples) < 2 {
		return nil
	}

	first, last := samples[0], samples[len(samples)-1]
	deltaTotal := last.total - first.total
	if deltaTotal <= 0 {
		return floatPtr(0.00)
	}
	deltaIdle := last.idle - first.idle
	usage := (1 - float64(deltaIdle)/float64(deltaTotal)) * 100
	return floatPtr(math.Round(usage*100) / 100)
}

// parseProcStatLine parses "cpu user nice system idle iowait irq
// softirq steal ...". Guest counters are already folded into user time
// by the kernel and are ignored.
func parseProcStatLine(line string) (cpuSample, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 || fields[0] != "cpu" {
		return cpuSample{}, false
	}

	values := make([]int64, 0, 8)
	for _, field := range fields[1:9] {
		v, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return cpuSample{}, false
		}
		values = append(values, v)
	}

	var total int64
	for _, v := range values {
		total += v
	}
	// idle + iowait
	idle := values[3] + values[4]
	return cpuSample{total: total, idle: idle}, true
}

// fetchMemory reads MemTotal/MemAvailable out of /proc/meminfo. Both
// must be present or both fields stay nil.
func (c *Collector) fetchMemory(r sshutil.Runner) (*int64, *int64, error) {
	result, err := r.Run(memCommand, c.opts())
	if err != nil {
		return nil, nil, err
	}
	if result.ExitCode != 0 {
		return nil, nil, nil
	}

	var total, available *int64
	for _, line := range strings.Split(result.Stdout, "\n") {
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMeminfoKB(line)
		}
	}
	if total == nil || available == nil {
		return nil, nil, nil
	}
	used := *total - *available
	return total, &used, nil
}

// parseMeminfoKB converts a "Key:  12345 kB" line to bytes.
func parseMeminfoKB(line string) *int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil
	}
	kb, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil
	}
	return int64Ptr(kb * 1024)
}

// fetchUptime reads seconds-since-boot from /proc/uptime.
func (c *Collector) fetchUptime(r sshutil.Runner) (*float64, error) {
	result, err := r.Run(uptimeCommand, c.opts())
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, nil
	}
	fields := strings.Fields(result.Stdout)
	if len(fields) == 0 {
		return nil, nil
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil, nil
	}
	return &seconds, nil
}

// fetchDisk reads byte-exact usage of the root filesystem from df.
func (c *Collector) fetchDisk(r sshutil.Runner) (*int64, *int64, error) {
	result, err := r.Run(diskCommand, c.opts())
	if err != nil {
		return nil, nil, err
	}
	if result.ExitCode != 0 {
		return nil, nil, nil
	}

	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	if len(lines) < 2 {
		return nil, nil, nil
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 6 {
		return nil, nil, nil
	}
	total, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, nil, nil
	}
	used, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, nil, nil
	}
	return &total, &used, nil
}
