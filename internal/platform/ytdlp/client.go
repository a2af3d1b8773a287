// Package ytdlp downloads media with the yt-dlp command line tool. A Client
// produces video, audio or subtitle files in its save directory and can run
// as an executor target that fills the local file of a download task.
package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/phrazzld/offload/internal/executor"
	"github.com/phrazzld/offload/internal/redact"
	"github.com/phrazzld/offload/internal/task"
)

// Mode selects what is downloaded
type Mode string

// Download modes
const (
	ModeVideo     Mode = "video"
	ModeAudio     Mode = "audio"
	ModeSubtitles Mode = "subtitles"
)

// Defaults
const (
	DefaultBinary      = "yt-dlp"
	DefaultFragments   = 4
	DefaultConcurrency = 20
	DefaultAudioFormat = "mp3"
	DefaultSubLangs    = "ru"
)

// Common errors
var (
	ErrNoURL       = errors.New("media URL is required")
	ErrNoSaveDir   = errors.New("save directory is required")
	ErrUnknownMode = errors.New("unknown download mode")
	ErrNoOutput    = errors.New("yt-dlp produced no file")
)

// Request is the payload of a download task
type Request struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Mode     Mode   `json:"mode"`
	Quality  string `json:"quality,omitempty"`
	SubLangs string `json:"sub_langs,omitempty"`
}

// Output is stored as the output of a finished download task
type Output struct {
	Path  string `json:"path"`
	Mode  Mode   `json:"mode"`
	Bytes int64  `json:"bytes"`
}

// Config holds the downloader settings
type Config struct {
	Binary      string
	SaveDir     string
	Fragments   int
	CookiesPath string
	ProxyURL    string
}

// runner executes the binary and returns its stdout lines
type runner func(ctx context.Context, binary string, args []string) ([]string, error)

// Client wraps the yt-dlp binary
type Client struct {
	cfg    Config
	logger *slog.Logger
	run    runner
}

// New creates a Client. Missing settings fall back to the defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Fragments <= 0 {
		cfg.Fragments = DefaultFragments
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger.With("component", "ytdlp"),
	}
	c.run = c.runCommand
	return c
}

// Available reports whether the binary can be found on PATH
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.cfg.Binary)
	return err == nil
}

// PrepareTitle normalizes a title into a file name stem made of lowercase
// letters, digits and single underscores
func PrepareTitle(title string) string {
	var b strings.Builder
	fill := true
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			fill = true
		case fill:
			b.WriteByte('_')
			fill = false
		}
	}
	return strings.Trim(b.String(), "_")
}

// stem returns the output file name without extension
func stem(req Request) string {
	if title := PrepareTitle(req.Title); title != "" {
		return title
	}
	return "%(title).200B_[%(id)s]"
}

// Args builds the yt-dlp command line for req
func (c *Client) Args(req Request) ([]string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, ErrNoURL
	}
	if strings.TrimSpace(c.cfg.SaveDir) == "" {
		return nil, ErrNoSaveDir
	}

	args := []string{
		"--no-playlist",
		"--newline",
		"--restrict-filenames",
		"-P", c.cfg.SaveDir,
		"-o", stem(req) + ".%(ext)s",
	}

	switch req.Mode {
	case ModeVideo, "":
		args = append(args,
			"-N", fmt.Sprintf("%d", c.cfg.Fragments),
			"-f", selectFormat(req.Quality),
			"--merge-output-format", "mp4",
			"--print", "after_move:filepath",
		)
	case ModeAudio:
		args = append(args,
			"-N", fmt.Sprintf("%d", c.cfg.Fragments),
			"-f", "bestaudio[ext=m4a]/bestaudio/best",
			"-x", "--audio-format", DefaultAudioFormat,
			"--audio-quality", "192K",
			"--print", "after_move:filepath",
		)
	case ModeSubtitles:
		args = append(args,
			"--skip-download",
			"--write-subs",
			"--write-auto-subs",
			"--sub-langs", normalizeSubLangs(req.SubLangs),
			"--convert-subs", "vtt",
		)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}

	if c.cfg.CookiesPath != "" {
		cookies, err := resolveCookiesPath(c.cfg.CookiesPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--cookies", cookies)
	}
	if proxy := strings.TrimSpace(c.cfg.ProxyURL); proxy != "" {
		args = append(args, "--proxy", proxy)
	}

	return append(args, req.URL), nil
}

// Download fetches the media described by req and returns the path of the
// produced file
func (c *Client) Download(ctx context.Context, req Request) (string, error) {
	args, err := c.Args(req)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.cfg.SaveDir, 0o755); err != nil {
		return "", fmt.Errorf("create save directory: %w", err)
	}

	c.logger.InfoContext(ctx, "starting download", "mode", req.Mode, "url", req.URL)

	lines, err := c.run(ctx, c.cfg.Binary, args)
	if err != nil {
		return "", err
	}

	if req.Mode == ModeSubtitles {
		return findSubtitles(c.cfg.SaveDir, stem(req))
	}
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if _, err := os.Stat(line); err == nil {
			return line, nil
		}
	}
	return "", ErrNoOutput
}

// Process is the executor target: it downloads the task's request and hands
// the produced file to the task
func (c *Client) Process(ctx context.Context, t *task.Task) *task.Task {
	logger := c.logger.With("task_id", t.ID)

	var req Request
	if err := t.DecodePayload(&req); err != nil {
		logger.Error("invalid download request", "error", err)
		t.Fail(task.Localized(task.MsgDownloadFailed))
		return t
	}

	path, err := c.Download(ctx, req)
	if err != nil {
		logger.Error("download failed", "mode", req.Mode, "error", redact.Error(err))
		t.Fail(task.Localized(task.MsgDownloadFailed))
		return t
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error("downloaded file disappeared", "error", redact.Error(err))
		t.Fail(task.Localized(task.MsgDownloadFailed))
		return t
	}

	t.LocalPath = path
	t.FileSize = info.Size()
	mode := req.Mode
	if mode == "" {
		mode = ModeVideo
	}
	if err := t.SetOutput(Output{Path: path, Mode: mode, Bytes: info.Size()}); err != nil {
		logger.Warn("failed to record download output", "error", err)
	}
	t.Succeed()

	logger.Info("download finished", "bytes", info.Size())
	return t
}

// Target returns an async executor target running at most concurrency
// downloads at once. A non-positive concurrency uses DefaultConcurrency.
func Target(c *Client, concurrency int) executor.Target {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return executor.AsyncTarget(c.Process).WithConcurrency(concurrency)
}

func selectFormat(rawQuality string) string {
	switch strings.ToLower(strings.TrimSpace(rawQuality)) {
	case "1080p", "1080", "hd":
		return "bv*[height<=1080][ext=mp4][fps<=30]+ba[ext=m4a]/b[height<=1080]/worst"
	case "", "720p", "720", "sd":
		return "bv*[height<=720][ext=mp4][fps<=30]+ba[ext=m4a]/b[height<=720]/worst"
	case "best":
		return "bv*+ba/b"
	default:
		return "bv*[height<=720][ext=mp4][fps<=30]+ba[ext=m4a]/b[height<=720]/worst"
	}
}

func normalizeSubLangs(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "":
		return DefaultSubLangs + ".*," + DefaultSubLangs + ",-live_chat"
	case "all":
		return "all,-live_chat"
	default:
		return v
	}
}

// findSubtitles returns the first subtitle file written for stem. Templated
// stems match any vtt file in dir.
func findSubtitles(dir, stem string) (string, error) {
	pattern := stem + ".*.vtt"
	if strings.Contains(stem, "%(") {
		pattern = "*.vtt"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoOutput
	}
	return matches[0], nil
}

func (c *Client) runCommand(ctx context.Context, binary string, args []string) ([]string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		stdout []string
		errBuf strings.Builder
	)

	read := func(r io.Reader, isErr bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			if isErr {
				appendLimited(&errBuf, line)
			} else {
				stdout = append(stdout, line)
			}
			mu.Unlock()
			c.logger.Debug("yt-dlp output", "line", line)
		}
	}

	wg.Add(2)
	go read(stdoutPipe, false)
	go read(stderrPipe, true)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(errBuf.String()))
	}
	return stdout, nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(b *strings.Builder, line string) {
	const maxKeep = 8192
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	if remain := maxKeep - b.Len(); len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

func resolveCookiesPath(path string) (string, error) {
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	return abs, nil
}
