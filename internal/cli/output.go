package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/media"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// renderInfo lays out resolved metadata for humans
func renderInfo(w io.Writer, info *media.Info) {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
	}

	rows := []string{titleStyle.Render(info.Title), ""}
	rows = append(rows, row("Platform", info.Platform.String()))
	rows = append(rows, row("Uploader", info.Uploader))
	if info.DurationFormatted != nil {
		rows = append(rows, row("Duration", *info.DurationFormatted))
	}
	if info.UploadDate != "" {
		rows = append(rows, row("Uploaded", info.UploadDate))
	}
	if info.WebpageURL != "" {
		rows = append(rows, row("URL", info.WebpageURL))
	}
	if info.ThumbnailURL != "" {
		rows = append(rows, row("Thumbnail", info.ThumbnailURL))
	}
	if !info.IsPlayable {
		rows = append(rows, hintStyle.Render("not playable"))
	}

	fmt.Fprintln(w, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))

	if len(info.Formats) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  Formats (%d):\n", len(info.Formats))
	for i, f := range info.Formats {
		line := fmt.Sprintf("    [%d] %s (%s)", i, f.Quality, f.Extension)
		if f.FilesizeBytes != nil {
			line += " " + formatSize(*f.FilesizeBytes)
		}
		if f.FPS != nil {
			line += fmt.Sprintf(" %gfps", *f.FPS)
		}
		var codecs []string
		if f.VideoCodec != nil {
			codecs = append(codecs, *f.VideoCodec)
		}
		if f.AudioCodec != nil {
			codecs = append(codecs, *f.AudioCodec)
		}
		if len(codecs) > 0 {
			line += " " + strings.Join(codecs, "+")
		}
		fmt.Fprintln(w, line)
	}
}

// describe turns an error into a one-line message with a hint for the
// kinds a user can act on
func describe(err error) string {
	var e *errs.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	msg := e.Message()
	switch e.Kind {
	case errs.KindUnsupportedPlatform:
		msg += " (run 'vfetch platforms' to list supported platforms)"
	case errs.KindAllBackendsFailed:
		msg += " (install yt-dlp or run with -v to see each attempt)"
	case errs.KindTimeout:
		msg += " (raise timeouts in the config file)"
	}
	return msg
}

// progressPrinter redraws a single status line at most every 200ms
type progressPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	last time.Time
	now  func() time.Time
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, now: time.Now}
}

func (p *progressPrinter) update(downloaded, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.last) < 200*time.Millisecond && downloaded != total {
		return
	}
	p.last = now

	if total > 0 {
		pct := float64(downloaded) / float64(total) * 100
		fmt.Fprintf(p.w, "\r  %s %5.1f%%  %s / %s", color.CyanString("⬇"), pct, formatSize(downloaded), formatSize(total))
		return
	}
	fmt.Fprintf(p.w, "\r  %s %s", color.CyanString("⬇"), formatSize(downloaded))
}

func (p *progressPrinter) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() {
		fmt.Fprintln(p.w)
	}
}
