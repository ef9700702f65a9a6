// Package hostinfo runs the host commands behind /uptime, /temperature and the restart alert.
package hostinfo

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rpi-tgbot-go/internal/config"
)

// bootTimeLayout is the format printed by `uptime -s`.
const bootTimeLayout = "2006-01-02 15:04:05"

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands as subprocesses, each bounded by Timeout.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Host answers status queries about the machine the bot runs on
type Host struct {
	runner             Runner
	uptimeCommand      string
	temperatureCommand []string
	location           *time.Location
}

func New(cfg *config.HostConfig, runner Runner) *Host {
	return &Host{
		runner:             runner,
		uptimeCommand:      cfg.UptimeCommand,
		temperatureCommand: cfg.TemperatureCommand,
		location:           time.Local,
	}
}

// Uptime returns the trimmed output of the uptime command.
func (h *Host) Uptime(ctx context.Context, args ...string) (string, error) {
	out, err := h.runner.Run(ctx, h.uptimeCommand, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// BootTime returns when the host last booted, as reported by `uptime -s`.
func (h *Host) BootTime(ctx context.Context) (time.Time, error) {
	out, err := h.Uptime(ctx, "-s")
	if err != nil {
		return time.Time{}, err
	}
	since, err := time.ParseInLocation(bootTimeLayout, out, h.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse boot time %q: %w", out, err)
	}
	return since, nil
}

// Temperature returns the cleaned output of the temperature command, e.g. "48.3°C".
func (h *Host) Temperature(ctx context.Context) (string, error) {
	if len(h.temperatureCommand) == 0 {
		return "", fmt.Errorf("no temperature command configured")
	}
	out, err := h.runner.Run(ctx, h.temperatureCommand[0], h.temperatureCommand[1:]...)
	if err != nil {
		return "", err
	}
	return FormatTemperature(out), nil
}

// FormatTemperature turns vcgencmd output like "temp=48.3'C" into "48.3°C".
func FormatTemperature(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "temp=", "")
	return strings.ReplaceAll(s, "'", "°")
}
