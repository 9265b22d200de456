package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
)

var stageDescriptions = map[string]string{
	"classify": "[cyan][bold]Classifying merchants...[reset]",
	"match":    "[cyan][bold]Matching recurring charges...[reset]",
	"detect":   "[cyan][bold]Running detectors...[reset]",
}

// StageProgress draws one progress bar per pipeline stage. A new bar starts
// whenever the reported stage changes.
type StageProgress struct {
	writer io.Writer
	bar    *progressbar.ProgressBar
	stage  string
	mu     sync.Mutex
}

// NewStageProgress creates a progress display writing to w.
func NewStageProgress(w io.Writer) *StageProgress {
	if w == nil {
		w = os.Stderr
	}
	return &StageProgress{writer: w}
}

// Update reports that done of total items of stage have finished.
func (p *StageProgress) Update(stage string, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if total <= 0 {
		return
	}
	if p.bar == nil || stage != p.stage {
		p.finish()
		p.stage = stage
		p.bar = p.newBar(stage, total)
	}
	if err := p.bar.Set(done); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the current bar, if any.
func (p *StageProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finish()
}

func (p *StageProgress) finish() {
	if p.bar == nil {
		return
	}
	if !p.bar.IsFinished() {
		if err := p.bar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
	}
	p.bar = nil
}

func (p *StageProgress) newBar(stage string, total int) *progressbar.ProgressBar {
	description, ok := stageDescriptions[stage]
	if !ok {
		description = stage
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(p.writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}
