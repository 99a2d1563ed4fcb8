package monitor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/perchlabs/perch/pkg/sshutil"
)

// supervisorCommand probes for supervisorctl before calling it so a
// host without supervisor reads as an empty process list, not an error.
const supervisorCommand = "command -v supervisorctl >/dev/null 2>&1 && supervisorctl status || true"

// supervisorLine matches one `supervisorctl status` row:
//
//	web    RUNNING   pid 1234, uptime 2 days, 3:04:05
//	api    STOPPED   Not started
var supervisorLine = regexp.MustCompile(`^(\S+)\s+(\S+)(?:\s+pid\s+(\d+),\s+uptime\s+(.+?))?(?:\s+-\s+(.+))?$`)

// fetchSupervisor lists supervisor-managed processes. supervisorctl
// often needs root to reach its socket, so a permission failure gets
// one escalated retry when a sudo password is available.
func (c *Collector) fetchSupervisor(r sshutil.Runner, user, sudoPassword string) (SupervisorInfo, error) {
	opts := c.opts()
	opts.LoginShell = true
	result, err := r.Run(supervisorCommand, opts)
	if err != nil {
		return SupervisorInfo{}, err
	}

	combined := strings.ToLower(result.Stdout + "\n" + result.Stderr)
	denied := strings.Contains(combined, "permission denied") || strings.Contains(combined, "error:")
	if denied && sudoPassword != "" && user != "root" {
		result, err = r.RunSudo("supervisorctl status || true", "root", sudoPassword, opts)
		if err != nil {
			return SupervisorInfo{}, err
		}
	}

	return parseSupervisorStatus(result.Stdout), nil
}

// parseSupervisorStatus parses status rows into structured details.
// Lines the pattern cannot match are kept verbatim under Raw so odd
// supervisor output still surfaces to the dashboard.
func parseSupervisorStatus(output string) SupervisorInfo {
	details := []SupervisorProcess{}
	running := 0
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		m := supervisorLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			raw := line
			details = append(details, SupervisorProcess{Raw: &raw})
			continue
		}

		proc := SupervisorProcess{
			Name:  strPtr(m[1]),
			State: strPtr(m[2]),
		}
		if m[3] != "" {
			if pid, err := strconv.Atoi(m[3]); err == nil {
				proc.PID = &pid
			}
		}
		if m[4] != "" {
			proc.Uptime = strPtr(m[4])
		}
		if m[5] != "" {
			proc.Message = strPtr(m[5])
		}
		if m[2] == "RUNNING" {
			running++
		}
		details = append(details, proc)
	}

	total := len(details)
	return SupervisorInfo{
		Total:   &total,
		Running: &running,
		Details: details,
	}
}
