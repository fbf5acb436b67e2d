package peer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tarun-kavipurapu/nitroshare/pkg/transfer"
)

// ANSI color codes for terminal output
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Bold   = "\033[1m"
)

// ProgressRenderer handles the rendering of transfer progress to the terminal
type ProgressRenderer struct {
	tracker     *Tracker
	out         io.Writer
	stopChan    chan struct{}
	doneChan    chan struct{}
	refreshRate time.Duration
	useColors   bool
	width       int
}

// NewProgressRenderer creates a new progress renderer writing to stdout
func NewProgressRenderer(tracker *Tracker, useColors bool) *ProgressRenderer {
	return &ProgressRenderer{
		tracker:     tracker,
		out:         os.Stdout,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
		refreshRate: 200 * time.Millisecond,
		useColors:   useColors,
		width:       40, // Progress bar width
	}
}

// SetOutput redirects rendering, mainly for tests
func (pr *ProgressRenderer) SetOutput(w io.Writer) {
	pr.out = w
}

// SetRefreshRate sets the refresh rate for the progress bar
func (pr *ProgressRenderer) SetRefreshRate(rate time.Duration) {
	pr.refreshRate = rate
}

// Start runs the render loop until Stop or until the transfer ends, then
// renders the outcome.
func (pr *ProgressRenderer) Start() {
	defer close(pr.doneChan)
	pr.Render()

	ticker := time.NewTicker(pr.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pr.tracker.UpdateSpeed()
			pr.Render()
		case <-pr.tracker.t.Done():
			pr.tracker.UpdateSpeed()
			pr.renderOutcome()
			return
		case <-pr.stopChan:
			return
		}
	}
}

// Stop signals the renderer to stop (does not wait for completion)
func (pr *ProgressRenderer) Stop() {
	select {
	case <-pr.stopChan:
	default:
		close(pr.stopChan)
	}
}

// Wait blocks until the render loop has returned.
func (pr *ProgressRenderer) Wait() {
	<-pr.doneChan
}

func (pr *ProgressRenderer) renderOutcome() {
	if pr.tracker.Status().State == transfer.StateSucceeded {
		pr.RenderFinal()
	} else {
		pr.RenderError()
	}
}

func (pr *ProgressRenderer) label() string {
	s := pr.tracker.Status()
	name := s.DeviceName
	if name == "" {
		name = "waiting for manifest"
	}
	arrow := "→"
	if s.Direction == transfer.Receive {
		arrow = "←"
	}
	return arrow + " " + name
}

// Render renders the current progress to the terminal
func (pr *ProgressRenderer) Render() {
	s := pr.tracker.Status()
	speed := pr.tracker.Speed()

	filled := pr.width * s.Progress / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pr.width-filled)

	sizeStr := fmt.Sprintf("%s/%s", formatBytes(float64(s.BytesDone)), formatBytes(float64(s.BytesTotal)))
	speedStr := formatBytes(speed)
	etaStr := formatETA(pr.tracker.GetETA())

	var line string
	if pr.useColors {
		line = fmt.Sprintf("\r%s[%s]%s [%s] %s%3d%%%s %s | %s/s | ETA: %s",
			Cyan, pr.label(), Reset,
			Green+bar+Reset,
			Yellow, s.Progress, Reset,
			sizeStr, Blue+speedStr+Reset, etaStr,
		)
	} else {
		line = fmt.Sprintf("\r[%s] [%s] %3d%% %s | %s/s | ETA: %s",
			pr.label(), bar, s.Progress, sizeStr, speedStr, etaStr,
		)
	}
	fmt.Fprint(pr.out, line)
}

// RenderFinal renders the final completed state
func (pr *ProgressRenderer) RenderFinal() {
	s := pr.tracker.Status()
	elapsed := pr.tracker.GetElapsedTime()

	// Clear the previous line completely
	fmt.Fprint(pr.out, "\r\033[K")

	var line string
	if pr.useColors {
		line = fmt.Sprintf("%s[%s]%s [%s] %s100%%%s %s | Completed in %s\n",
			Cyan, pr.label(), Reset,
			Green+strings.Repeat("█", pr.width)+Reset,
			Green, Reset, formatBytes(float64(s.BytesTotal)),
			formatDuration(elapsed),
		)
	} else {
		line = fmt.Sprintf("[%s] [%s] 100%% %s | Completed in %s\n",
			pr.label(), strings.Repeat("█", pr.width),
			formatBytes(float64(s.BytesTotal)), formatDuration(elapsed),
		)
	}
	fmt.Fprint(pr.out, line)
}

// RenderError renders an error state
func (pr *ProgressRenderer) RenderError() {
	s := pr.tracker.Status()

	// Clear the previous line completely
	fmt.Fprint(pr.out, "\r\033[K")

	var line string
	if pr.useColors {
		line = fmt.Sprintf("%s[%s]%s [%s] %d%% | %s%sTransfer failed%s: %s\n",
			Cyan, pr.label(), Reset,
			Red+"✗"+Reset,
			s.Progress,
			Red, Bold, Reset, s.Error,
		)
	} else {
		line = fmt.Sprintf("[%s] [✗] %d%% | Transfer failed: %s\n",
			pr.label(), s.Progress, s.Error,
		)
	}
	fmt.Fprint(pr.out, line)
}

// formatBytes formats a byte count into a human-readable string
func formatBytes(bytes float64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%.1f B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", bytes/float64(div), "KMGTPE"[exp])
}

// formatETA formats an estimated time into a human-readable string
func formatETA(eta time.Duration) string {
	if eta <= 0 {
		return "∞"
	}
	return formatDuration(eta)
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	if d < time.Hour {
		mins := d / time.Minute
		secs := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := d / time.Hour
	mins := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", hours, mins)
}
