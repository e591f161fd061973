package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// YTDLPSource imports a video from a web page using the yt-dlp CLI tool.
type YTDLPSource struct {
	Binary  string
	Args    []string
	Run     CommandRunner
	Timeout time.Duration
	TempDir string
}

// NewYTDLPSource constructs a Source that shells out to yt-dlp.
func NewYTDLPSource(binary string, timeout time.Duration) *YTDLPSource {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &YTDLPSource{
		Binary:  binary,
		Args:    []string{"--dump-single-json", "--no-simulate", "--no-warnings", "--no-playlist"},
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// Open downloads the page's video into a temporary directory. The page title
// and description become the asset's upload defaults.
func (p *YTDLPSource) Open(ctx context.Context, pageURL string) (*Asset, error) {
	if p == nil {
		return nil, fmt.Errorf("yt-dlp: %w", ErrSourceUnavailable)
	}
	if p.Run == nil {
		p.Run = defaultCommandRunner
	}

	dir, err := os.MkdirTemp(p.TempDir, "toptop-ytdlp-*")
	if err != nil {
		return nil, fmt.Errorf("yt-dlp temp dir: %w", err)
	}
	cleanup := func() error { return os.RemoveAll(dir) }

	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	args := append([]string{}, p.Args...)
	args = append(args, "-P", dir, pageURL)

	out, err := p.Run(execCtx, p.Binary, args...)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("yt-dlp fetch: %w", err)
	}

	var payload struct {
		Title              string `json:"title"`
		Description        string `json:"description"`
		RequestedDownloads []struct {
			Filepath string `json:"filepath"`
		} `json:"requested_downloads"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("parse yt-dlp response: %w", err)
	}

	var file string
	for _, d := range payload.RequestedDownloads {
		if strings.TrimSpace(d.Filepath) != "" {
			file = d.Filepath
			break
		}
	}
	if file == "" {
		_ = cleanup()
		return nil, errors.New("yt-dlp did not produce a video file")
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}

	asset, err := openFile(file, cleanup)
	if err != nil {
		return nil, err
	}
	if payload.Title != "" {
		asset.Title = payload.Title
	}
	asset.Description = payload.Description
	return asset, nil
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}
