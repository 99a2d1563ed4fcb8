package monitor

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/perchlabs/perch/internal/util"
	"github.com/perchlabs/perch/pkg/sshutil"
)

// buildPm2Script assembles the remote pm2 probe. pm2 is typically
// installed per-user via nvm, so the script sources the usual shell
// init files before looking for the binary.
func buildPm2Script(pm2Home string) string {
	var b strings.Builder
	b.WriteString("set -o pipefail; ")
	b.WriteString("[ -f ~/.bashrc ] && . ~/.bashrc >/dev/null 2>&1; ")
	b.WriteString("[ -f ~/.profile ] && . ~/.profile >/dev/null 2>&1; ")
	b.WriteString("[ -s ~/.nvm/nvm.sh ] && . ~/.nvm/nvm.sh >/dev/null 2>&1; ")
	if pm2Home != "" {
		b.WriteString("export PM2_HOME=" + util.ShellQuote(pm2Home) + "; ")
	}
	b.WriteString("pm2 jlist")
	return b.String()
}

// pm2Record mirrors the subset of `pm2 jlist` output we report.
// Everything is optional: pm2 versions disagree on which fields exist.
type pm2Record struct {
	PmID  *int    `json:"pm_id"`
	Name  *string `json:"name"`
	PID   *int    `json:"pid"`
	Monit *struct {
		// Memory occasionally comes back as a float from older pm2
		// builds, so decode wide and narrow later.
		Memory *float64 `json:"memory"`
		CPU    *float64 `json:"cpu"`
	} `json:"monit"`
	Env *struct {
		Namespace   *string `json:"namespace"`
		Version     *string `json:"version"`
		ExecMode    *string `json:"exec_mode"`
		PmUptime    *int64  `json:"pm_uptime"`
		RestartTime *int    `json:"restart_time"`
		Status      *string `json:"status"`
		Username    *string `json:"username"`
		Watching    *bool   `json:"watching"`
	} `json:"pm2_env"`
}

// fetchPm2 runs the pm2 probe as the configured identity and parses the
// process list. A probe-level failure is reported in Pm2Info.Error, not
// as a Go error; only transport failures propagate.
func (c *Collector) fetchPm2(r sshutil.Runner, pm2User, pm2Home, sudoPassword string) (Pm2Info, error) {
	script := buildPm2Script(pm2Home)

	var result sshutil.Result
	var err error
	switch {
	case pm2User != "" && sudoPassword != "":
		opts := c.opts()
		opts.LoginShell = true
		result, err = r.RunSudo(script, pm2User, sudoPassword, opts)
	case pm2User != "":
		// Passwordless sudo into the pm2 user's own login shell.
		cmd := "sudo -n -u " + util.ShellQuote(pm2User) + " -H bash -lc " + util.ShellQuote(script)
		opts := c.opts()
		opts.PTY = true
		result, err = r.Run(cmd, opts)
	default:
		opts := c.opts()
		opts.LoginShell = true
		opts.PTY = true
		result, err = r.Run(script, opts)
	}
	if err != nil {
		return Pm2Info{}, err
	}

	raw, ok := extractJSONArray(result.Stdout)
	if !ok {
		raw, ok = extractJSONArray(result.Stderr)
	}
	if !ok {
		return Pm2Info{Error: strPtr(pm2ErrorMessage(result))}, nil
	}

	var records []pm2Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return Pm2Info{Error: strPtr(pm2ErrorMessage(result))}, nil
	}

	return summarizePm2(records), nil
}

// extractJSONArray finds the first decodable JSON array in text. Login
// shells can splash motd banners and nvm chatter around the payload, so
// scan for each '[' and try a decode from there; the decoder stops at
// the end of the first complete value, so trailing noise is fine.
func extractJSONArray(text string) (string, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var probe []json.RawMessage
		if err := dec.Decode(&probe); err == nil {
			end := i + int(dec.InputOffset())
			if end > len(text) {
				end = len(text)
			}
			return text[i:end], true
		}
	}
	return "", false
}

// pm2ErrorMessage picks the most useful failure description available.
func pm2ErrorMessage(result sshutil.Result) string {
	if s := strings.TrimSpace(result.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(result.Stdout); s != "" {
		return s
	}
	if result.ExitCode != 0 {
		return fmt.Sprintf("pm2 exit code %d", result.ExitCode)
	}
	return "pm2 returned no output"
}

// summarizePm2 folds the raw record list into totals plus per-process
// details.
func summarizePm2(records []pm2Record) Pm2Info {
	var totalMemory int64
	details := make([]Pm2Process, 0, len(records))
	for _, rec := range records {
		proc := Pm2Process{
			ID:   rec.PmID,
			Name: rec.Name,
			PID:  rec.PID,
		}
		if rec.Monit != nil {
			proc.CPU = rec.Monit.CPU
			if rec.Monit.Memory != nil {
				mem := int64(*rec.Monit.Memory)
				proc.MemoryBytes = &mem
				totalMemory += mem
			}
		}
		if rec.Env != nil {
			proc.Namespace = rec.Env.Namespace
			proc.Version = rec.Env.Version
			proc.Mode = rec.Env.ExecMode
			proc.Uptime = rec.Env.PmUptime
			proc.Restarts = rec.Env.RestartTime
			proc.Status = rec.Env.Status
			proc.User = rec.Env.Username
			proc.Watching = rec.Env.Watching
		}
		details = append(details, proc)
	}

	count := len(details)
	return Pm2Info{
		TotalMemoryBytes: &totalMemory,
		Processes:        &count,
		Details:          details,
	}
}
