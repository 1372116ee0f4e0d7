package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/platform"
)

// DefaultProbeTimeout bounds the one-time "<tool> --version" check
const DefaultProbeTimeout = 10 * time.Second

// CLIAdapter drives a youtube-dl style command line extractor (yt-dlp or youtube-dl)
type CLIAdapter struct {
	name       string
	bin        string
	platforms  []platform.Platform
	selector   func(quality string) string
	merge      bool
	stagingDir string
	probe      *Probe
}

// NewYtDlp creates the yt-dlp adapter. An empty bin means "yt-dlp" from PATH;
// an empty stagingDir means the system temp directory.
func NewYtDlp(bin, stagingDir string, probeTimeout time.Duration) *CLIAdapter {
	if bin == "" {
		bin = "yt-dlp"
	}
	return newCLIAdapter("ytdlp", bin, stagingDir, probeTimeout, ytdlpSelector,
		platform.YouTube, platform.Instagram, platform.TikTok, platform.Snapchat, platform.Twitter)
}

// NewYoutubeDL creates the youtube-dl adapter, kept as a fallback for yt-dlp
func NewYoutubeDL(bin, stagingDir string, probeTimeout time.Duration) *CLIAdapter {
	if bin == "" {
		bin = "youtube-dl"
	}
	return newCLIAdapter("youtube-dl", bin, stagingDir, probeTimeout, youtubeDLSelector,
		platform.YouTube, platform.Instagram, platform.TikTok, platform.Twitter)
}

func newCLIAdapter(name, bin, stagingDir string, probeTimeout time.Duration, selector func(string) string, platforms ...platform.Platform) *CLIAdapter {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	a := &CLIAdapter{
		name:       name,
		bin:        bin,
		platforms:  platforms,
		selector:   selector,
		merge:      true,
		stagingDir: stagingDir,
	}
	a.probe = NewProbe(func() error { return a.checkVersion(probeTimeout) })
	return a
}

func (a *CLIAdapter) Name() string                   { return a.name }
func (a *CLIAdapter) Platforms() []platform.Platform { return a.platforms }
func (a *CLIAdapter) CanDownload() bool              { return true }
func (a *CLIAdapter) Available() error               { return a.probe.Err() }

func (a *CLIAdapter) checkVersion(timeout time.Duration) error {
	op := a.name + ".probe"
	path, err := exec.LookPath(a.bin)
	if err != nil {
		return errs.E(errs.KindBackendUnavailable, op, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := toolCommand(ctx, path, "--version").Output()
	if err != nil {
		return errs.Errorf(errs.KindBackendUnavailable, op, "%s --version: %v", a.bin, err)
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return errs.Errorf(errs.KindBackendUnavailable, op, "%s --version printed nothing", a.bin)
	}
	a.bin = path
	return nil
}

// FetchInfo runs the tool in JSON dump mode
func (a *CLIAdapter) FetchInfo(ctx context.Context, rawURL string) (*Record, error) {
	op := a.name + ".FetchInfo"
	if err := a.Available(); err != nil {
		return nil, err
	}

	cmd := toolCommand(ctx, a.bin, "-J", "--no-playlist", "--no-warnings", rawURL)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, a.runError(ctx, op, err, stderr.String())
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, errs.Errorf(errs.KindExtractionFailed, op, "malformed output: %v", err)
	}
	if info.ID == "" && info.Title == "" {
		return nil, errs.Errorf(errs.KindExtractionFailed, op, "output carries no id or title")
	}
	return info.record(), nil
}

// FetchMedia downloads into a private staging directory and hands the file over
func (a *CLIAdapter) FetchMedia(ctx context.Context, rawURL string, opts Options) (*Payload, error) {
	op := a.name + ".FetchMedia"
	if err := a.Available(); err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp(a.stagingDir, a.name+"-*")
	if err != nil {
		return nil, errs.E(errs.KindBackendUnavailable, op, fmt.Errorf("create staging dir: %w", err))
	}
	cleanup := func() { os.RemoveAll(staging) }

	args := []string{
		"-f", a.selector(opts.Quality),
		"--no-playlist",
		"--newline", // one progress line per update
		"-o", filepath.Join(staging, "media.%(ext)s"),
	}
	if a.merge {
		args = append(args, "--merge-output-format", "mp4")
	}
	args = append(args, rawURL)

	cmd := toolCommand(ctx, a.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, errs.E(errs.KindBackendUnavailable, op, err)
	}

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, a.runError(ctx, op, err, "")
	}
	// Unblock the reader once ctx is done even if a stray process holds the pipe
	stopClose := context.AfterFunc(ctx, func() { stdout.Close() })
	defer stopClose()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if opts.Progress == nil {
			continue
		}
		if downloaded, total, ok := parseProgress(scanner.Text()); ok {
			opts.Progress(downloaded, total)
		}
	}
	// Drain anything the scanner gave up on so the tool never blocks on a full pipe
	io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		cleanup()
		return nil, a.runError(ctx, op, err, stderr.String())
	}

	path, err := stagedFile(staging)
	if err != nil {
		cleanup()
		return nil, errs.E(errs.KindExtractionFailed, op, err)
	}

	size := int64(-1)
	if st, err := os.Stat(path); err == nil {
		size = st.Size()
	}

	return &Payload{
		Path:    path,
		Ext:     strings.TrimPrefix(filepath.Ext(path), "."),
		Size:    size,
		Cleanup: cleanup,
	}, nil
}

// runError classifies a failed command run
func (a *CLIAdapter) runError(ctx context.Context, op string, err error, stderr string) error {
	if e := classifyCtx(ctx, op, err); e != nil {
		return e
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := lastLine(stderr)
		if msg == "" {
			msg = exitErr.Error()
		}
		return errs.Errorf(errs.KindExtractionFailed, op, "%s", msg)
	}
	// Failed to start at all (missing binary, permissions)
	return errs.E(errs.KindBackendUnavailable, op, err)
}

// stagedFile finds the finished output in the staging directory
func stagedFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "media.*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("tool exited cleanly but produced no file")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// Format: [download]  45.2% of  150.00MiB at  5.00MiB/s ETA 00:15
var progressRe = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%\s+of\s+~?\s*(\d+\.?\d*)(Ki|Mi|Gi)?B`)

func parseProgress(line string) (downloaded, total int64, ok bool) {
	matches := progressRe.FindStringSubmatch(line)
	if len(matches) < 3 {
		return 0, 0, false
	}
	percent, _ := strconv.ParseFloat(matches[1], 64)
	size, _ := strconv.ParseFloat(matches[2], 64)

	multiplier := int64(1)
	if len(matches) >= 4 {
		switch matches[3] {
		case "Ki":
			multiplier = 1024
		case "Mi":
			multiplier = 1024 * 1024
		case "Gi":
			multiplier = 1024 * 1024 * 1024
		}
	}

	total = int64(size * float64(multiplier))
	downloaded = int64(float64(total) * percent / 100)
	return downloaded, total, true
}

var heightRe = regexp.MustCompile(`^(\d{3,4})p?$`)

func ytdlpSelector(quality string) string {
	q := strings.ToLower(strings.TrimSpace(quality))
	switch {
	case q == "" || q == "best":
		return "bv*+ba/b"
	case q == "audio":
		return "ba/b"
	case q == "worst":
		return "wv*+wa/w"
	}
	if m := heightRe.FindStringSubmatch(q); m != nil {
		return fmt.Sprintf("bv*[height<=%s]+ba/b[height<=%s]", m[1], m[1])
	}
	return "bv*+ba/b"
}

func youtubeDLSelector(quality string) string {
	q := strings.ToLower(strings.TrimSpace(quality))
	if q == "audio" {
		return "bestaudio/best"
	}
	if m := heightRe.FindStringSubmatch(q); m != nil {
		return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", m[1], m[1])
	}
	return "bestvideo+bestaudio/best"
}

// ytdlpInfo is the subset of the -J dump we use
type ytdlpInfo struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Duration     float64 `json:"duration"`
	Thumbnail    string  `json:"thumbnail"`
	Uploader     string  `json:"uploader"`
	Channel      string  `json:"channel"`
	UploadDate   string  `json:"upload_date"`
	WebpageURL   string  `json:"webpage_url"`
	Availability string  `json:"availability"`
	Formats      []struct {
		FormatID       string  `json:"format_id"`
		FormatNote     string  `json:"format_note"`
		Ext            string  `json:"ext"`
		Height         int     `json:"height"`
		Filesize       int64   `json:"filesize"`
		FilesizeApprox int64   `json:"filesize_approx"`
		FPS            float64 `json:"fps"`
		VCodec         string  `json:"vcodec"`
		ACodec         string  `json:"acodec"`
	} `json:"formats"`
}

func (i *ytdlpInfo) record() *Record {
	rec := &Record{
		ID:          i.ID,
		Title:       i.Title,
		Description: i.Description,
		Duration:    i.Duration,
		Thumbnail:   i.Thumbnail,
		Uploader:    i.Uploader,
		UploadDate:  i.UploadDate,
		WebpageURL:  i.WebpageURL,
	}
	if rec.Uploader == "" {
		rec.Uploader = i.Channel
	}

	switch i.Availability {
	case "needs_auth", "premium_only", "subscriber_only", "private":
		playable := false
		rec.Playable = &playable
	}

	for _, f := range i.Formats {
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		rec.Formats = append(rec.Formats, RecordFormat{
			ID:       f.FormatID,
			Note:     f.FormatNote,
			Ext:      f.Ext,
			Height:   f.Height,
			Filesize: size,
			FPS:      f.FPS,
			VCodec:   f.VCodec,
			ACodec:   f.ACodec,
		})
	}
	return rec
}
