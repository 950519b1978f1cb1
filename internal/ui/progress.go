package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressBar tracks files processed by a long running load.
type ProgressBar struct {
	w         io.Writer
	label     string
	total     int
	current   int
	startTime time.Time
	mu        sync.Mutex

	successCount int
	failureCount int
	currentFile  string
}

// NewProgressBar creates a progress bar writing to Err.
func NewProgressBar(label string) *ProgressBar {
	return &ProgressBar{w: Err, label: label, startTime: time.Now()}
}

// Update records one processed file. total may change between calls as
// each directory is discovered.
func (p *ProgressBar) Update(file string, current, total int, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	p.total = total
	p.currentFile = file
	if success {
		p.successCount++
	} else {
		p.failureCount++
	}
	p.render()
}

// Finish prints the totals.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "\n%s %s completed in %s\n",
		ColorSuccess("✓"),
		p.label,
		formatDuration(time.Since(p.startTime)),
	)
	fmt.Fprintf(p.w, "  %s %d files loaded\n", ColorSuccess("✓"), p.successCount)
	if p.failureCount > 0 {
		fmt.Fprintf(p.w, "  %s %d failed\n", ColorError("✗"), p.failureCount)
	}
}

func (p *ProgressBar) render() {
	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100
	}

	barWidth := 30
	filled := int(percentage / 100 * float64(barWidth))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	file := p.currentFile
	if len(file) > 40 {
		file = "..." + file[len(file)-37:]
	}

	fmt.Fprintf(p.w, "\r\033[K%s %s %.0f%% [%d/%d] %s - %s",
		ColorProgress("►"),
		bar,
		percentage,
		p.current,
		p.total,
		file,
		formatDuration(time.Since(p.startTime)),
	)
}

// Spinner represents an animated spinner for long operations
type Spinner struct {
	w       io.Writer
	frames  []string
	current int
	message string
	stop    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
}

// NewSpinner creates a spinner writing to Err.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		w:       Err,
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.w, "\r\033[K%s %s", ColorProgress(s.frames[s.current]), s.message)
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			}
		}
	}()
}

// Stop ends the animation and prints the outcome. It must be called once
// after Start.
func (s *Spinner) Stop(success bool, message string) {
	close(s.stop)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, "\r\033[K")
	if success {
		fmt.Fprintf(s.w, "%s %s\n", ColorSuccess("✓"), message)
	} else {
		fmt.Fprintf(s.w, "%s %s\n", ColorError("✗"), message)
	}
}

// UpdateMessage updates the spinner message
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, minutes)
}
