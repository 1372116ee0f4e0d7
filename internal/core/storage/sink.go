// Package storage owns the download directory and turns adapter payloads into
// complete files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/extractor"
	"github.com/guiyumin/vfetch/internal/core/media"
)

const (
	// MaxTitleLen bounds the sanitized title, before the suffix is added
	MaxTitleLen = 80

	partSuffix     = ".part"
	createAttempts = 5
	copyBufferSize = 256 * 1024
)

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	underscores = regexp.MustCompile(`_+`)
)

// SanitizeTitle reduces a title to [A-Za-z0-9_-], collapses runs of '_',
// trims '_' at both ends and caps the length at MaxTitleLen.
func SanitizeTitle(title string) string {
	s := unsafeChars.ReplaceAllString(title, "_")
	s = underscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > MaxTitleLen {
		s = strings.TrimRight(s[:MaxTitleLen], "_")
	}
	return s
}

// Sink writes payloads into a flat download directory
type Sink struct {
	dir    string
	logger zerolog.Logger
	now    func() time.Time
}

// NewSink prepares dir, creating it if needed
func NewSink(dir string, logger zerolog.Logger) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("download directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve download dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	return &Sink{
		dir:    abs,
		logger: logger.With().Str("component", "sink").Logger(),
		now:    time.Now,
	}, nil
}

// Dir returns the absolute download directory
func (s *Sink) Dir() string {
	return s.dir
}

// Persist streams the payload into a new file named after info. The payload
// is always released. On any failure nothing is left in the directory.
func (s *Sink) Persist(ctx context.Context, payload *extractor.Payload, info *media.Info) (*media.Result, error) {
	const op = "sink.Persist"
	defer payload.Release()

	src, err := payload.Open()
	if err != nil {
		return nil, errs.E(errs.KindPersistFailed, op, err)
	}
	defer src.Close()

	base := SanitizeTitle(info.Title)
	if base == "" {
		base = string(info.Platform)
	}

	ext := normalizeExt(payload.Ext)
	if ext == "" && payload.Path != "" {
		ext = DetectExt(payload.Path)
	}
	if ext == "" {
		ext = "mp4"
	}

	f, name, err := s.create(base, ext)
	if err != nil {
		return nil, errs.E(errs.KindPersistFailed, op, err)
	}
	part := f.Name()
	final := filepath.Join(s.dir, name)

	log := s.logger.With().Str("file", name).Logger()

	if err := s.write(ctx, f, src); err != nil {
		s.discard(log, part)
		return nil, s.failure(ctx, op, err)
	}
	if err := os.Rename(part, final); err != nil {
		s.discard(log, part)
		return nil, errs.E(errs.KindPersistFailed, op, fmt.Errorf("finalize: %w", err))
	}

	st, err := os.Stat(final)
	if err != nil {
		s.discard(log, final)
		return nil, errs.E(errs.KindPersistFailed, op, fmt.Errorf("stat: %w", err))
	}
	if st.Size() == 0 {
		s.discard(log, final)
		return nil, errs.Errorf(errs.KindPersistFailed, op, "backend produced an empty file")
	}

	log.Info().Int64("size", st.Size()).Msg("file persisted")
	return &media.Result{
		Filename:      name,
		FilesizeBytes: st.Size(),
		DownloadPath:  "/downloads/" + name,
		SourceInfo:    info,
	}, nil
}

// create opens a fresh .part file, regenerating the suffix on collisions
func (s *Sink) create(base, ext string) (*os.File, string, error) {
	for range createAttempts {
		name := s.filename(base, ext)
		f, err := os.OpenFile(filepath.Join(s.dir, name+partSuffix), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		// The final name must be free too
		if _, err := os.Lstat(filepath.Join(s.dir, name)); err == nil {
			f.Close()
			os.Remove(f.Name())
			continue
		}
		return f, name, nil
	}
	return nil, "", fmt.Errorf("could not allocate a unique filename for %q", base)
}

func (s *Sink) filename(base, ext string) string {
	stamp := s.now().UTC().Format("20060102T150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s-%s.%s", base, stamp, suffix, ext)
}

// write copies src into f, honoring ctx, and syncs before closing
func (s *Sink) write(ctx context.Context, f *os.File, src io.Reader) error {
	buf := make([]byte, copyBufferSize)
	_, err := io.CopyBuffer(f, &ctxReader{ctx: ctx, r: src}, buf)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Sink) failure(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errs.E(errs.KindTimeout, op, ctx.Err())
	case errors.Is(ctx.Err(), context.Canceled):
		return errs.E(errs.KindCanceled, op, ctx.Err())
	}
	return errs.E(errs.KindPersistFailed, op, err)
}

// discard removes a file best-effort; failures are only logged
func (s *Sink) discard(log zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove partial file")
	}
}

// Path resolves a served filename to its location. Only plain, complete
// files directly inside the directory are reachable.
func (s *Sink) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		strings.HasPrefix(name, ".") || strings.HasSuffix(name, partSuffix) {
		return "", fs.ErrNotExist
	}
	path := filepath.Join(s.dir, name)
	st, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	if !st.Mode().IsRegular() {
		return "", fs.ErrNotExist
	}
	return path, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" || unsafeChars.MatchString(ext) {
		return ""
	}
	return ext
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
