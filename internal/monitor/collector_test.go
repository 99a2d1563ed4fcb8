package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/perch/internal/registry"
	"github.com/perchlabs/perch/pkg/sshutil"
	sshtest "github.com/perchlabs/perch/pkg/sshutil/testing"
)

func testServer() registry.Server {
	return registry.Server{
		ID:      "srv-1",
		Name:    "web-1",
		Host:    "10.0.0.5",
		Port:    22,
		User:    "deploy",
		Enabled: true,
		Tags:    []string{"web"},
	}
}

// healthyRunner wires a mock with plausible output for every probe.
func healthyRunner() *sshtest.MockRunner {
	r := sshtest.NewMockRunner()
	r.On("nproc", sshtest.Ok("4\n"))
	r.On("/proc/stat", sshtest.Ok(
		"cpu  100 0 100 700 100 0 0 0\ncpu  150 0 150 750 150 0 0 0\n"))
	r.On("/proc/meminfo", sshtest.Ok(
		"MemTotal:       8000000 kB\nMemFree:        1000000 kB\nMemAvailable:   6000000 kB\n"))
	r.On("/proc/uptime", sshtest.Ok("3600.50 14000.00\n"))
	r.On("df -B1", sshtest.Ok(
		"Filesystem        1B-blocks       Used  Available Use% Mounted on\n"+
			"/dev/vda1      42000000000 21000000000 21000000000  50% /\n"))
	r.On("pm2 jlist", sshtest.Ok("[]\n"))
	r.On("supervisorctl", sshtest.Ok(""))
	return r
}

func TestCollectHealthyHost(t *testing.T) {
	r := healthyRunner()
	c := NewCollector(5 * time.Second)

	stats, err := c.Collect(r, testServer())
	require.NoError(t, err)
	require.Nil(t, stats.Error)

	require.NotNil(t, stats.CPU.Cores)
	assert.Equal(t, 4, *stats.CPU.Cores)
	// deltas: idle 750+150-700-100=100 over total 1200-1000=200 -> 50%
	require.NotNil(t, stats.CPU.UsagePercent)
	assert.InDelta(t, 50.0, *stats.CPU.UsagePercent, 0.001)
	assert.Equal(t, "50.00%", stats.CPU.UsageHuman)

	require.NotNil(t, stats.Memory.TotalBytes)
	assert.Equal(t, int64(8000000*1024), *stats.Memory.TotalBytes)
	require.NotNil(t, stats.Memory.UsedBytes)
	assert.Equal(t, int64(2000000*1024), *stats.Memory.UsedBytes)

	require.NotNil(t, stats.Disk.TotalBytes)
	assert.Equal(t, int64(42000000000), *stats.Disk.TotalBytes)
	assert.Equal(t, int64(21000000000), *stats.Disk.UsedBytes)
	assert.Equal(t, "/", stats.Disk.Mount)

	require.NotNil(t, stats.Uptime.Seconds)
	assert.InDelta(t, 3600.50, *stats.Uptime.Seconds, 0.001)
	assert.Equal(t, "1h 0m", stats.Uptime.Human)

	assert.Equal(t, "srv-1", stats.ServerID)
	assert.Equal(t, []string{"web"}, stats.Tags)
}

func TestCollectProbeFailuresDegrade(t *testing.T) {
	r := sshtest.NewMockRunner()
	// Everything fails at the command level; nothing should error out.
	r.On("nproc", sshtest.Fail(1, "no such command"))
	r.On("/proc/stat", sshtest.Fail(1, ""))
	r.On("/proc/meminfo", sshtest.Fail(1, ""))
	r.On("/proc/uptime", sshtest.Fail(1, ""))
	r.On("df -B1", sshtest.Fail(1, ""))
	r.On("pm2 jlist", sshtest.Fail(127, "pm2: not found"))
	r.On("supervisorctl", sshtest.Ok(""))

	c := NewCollector(5 * time.Second)
	stats, err := c.Collect(r, testServer())
	require.NoError(t, err)

	assert.Nil(t, stats.CPU.Cores)
	assert.Nil(t, stats.CPU.UsagePercent)
	assert.Equal(t, "n/a", stats.CPU.UsageHuman)
	assert.Nil(t, stats.Memory.TotalBytes)
	assert.Equal(t, "n/a", stats.Memory.TotalHuman)
	assert.Nil(t, stats.Disk.TotalBytes)
	assert.Nil(t, stats.Uptime.Seconds)
	require.NotNil(t, stats.Pm2.Error)
	assert.Equal(t, "pm2: not found", *stats.Pm2.Error)
}

func TestCollectTransportErrorPropagates(t *testing.T) {
	r := sshtest.NewMockRunner()
	r.OnError("nproc", assert.AnError)

	c := NewCollector(5 * time.Second)
	stats, err := c.Collect(r, testServer())
	assert.Error(t, err)
	assert.Nil(t, stats)
}

func TestParseCPUUsageZeroDelta(t *testing.T) {
	// Identical samples: usage pins to 0.00 instead of dividing by zero.
	out := "cpu  100 0 100 700 100 0 0 0\ncpu  100 0 100 700 100 0 0 0\n"
	usage := parseCPUUsage(out)
	require.NotNil(t, usage)
	assert.Equal(t, 0.00, *usage)
}

func TestParseCPUUsageRounding(t *testing.T) {
	// Δidle=1, Δtotal=3 -> 66.666...% rounds to 66.67.
	out := "cpu  0 0 0 0 0 0 0 0\ncpu  2 0 0 1 0 0 0 0\n"
	usage := parseCPUUsage(out)
	require.NotNil(t, usage)
	assert.Equal(t, 66.67, *usage)
}

func TestParseCPUUsageGarbage(t *testing.T) {
	assert.Nil(t, parseCPUUsage("bash: grep: command not found\n"))
	assert.Nil(t, parseCPUUsage("cpu  100 0 100 700 100 0 0 0\n"))
}

func TestFetchMemoryRequiresBothFields(t *testing.T) {
	r := sshtest.NewMockRunner()
	// Old kernels without MemAvailable report neither field.
	r.On("/proc/meminfo", sshtest.Ok("MemTotal:       8000000 kB\nMemFree:        1000000 kB\n"))

	c := NewCollector(time.Second)
	total, used, err := c.fetchMemory(r)
	require.NoError(t, err)
	assert.Nil(t, total)
	assert.Nil(t, used)
}

func TestFetchDiskMalformedOutput(t *testing.T) {
	cases := []struct {
		name   string
		stdout string
	}{
		{"single line", "Filesystem 1B-blocks Used Available Use% Mounted on\n"},
		{"short fields", "header\n/dev/vda1 42 21\n"},
		{"non numeric", "header\n/dev/vda1 huge lots free 50% /\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := sshtest.NewMockRunner()
			r.On("df -B1", sshtest.Ok(tc.stdout))
			c := NewCollector(time.Second)
			total, used, err := c.fetchDisk(r)
			require.NoError(t, err)
			assert.Nil(t, total)
			assert.Nil(t, used)
		})
	}
}

func TestCollectCommandTimeoutDegrades(t *testing.T) {
	r := healthyRunner()
	r.On("/proc/uptime", sshutil.Result{
		Stderr:   "command timeout",
		ExitCode: sshutil.TimeoutExitCode,
	})

	c := NewCollector(time.Second)
	stats, err := c.Collect(r, testServer())
	require.NoError(t, err)
	assert.Nil(t, stats.Uptime.Seconds)
	assert.Equal(t, "n/a", stats.Uptime.Human)
	// Other probes were unaffected.
	assert.NotNil(t, stats.CPU.UsagePercent)
}
