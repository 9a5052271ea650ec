package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/viddl/viddl/internal/jobs"
	"github.com/viddl/viddl/pkg/file"
	"github.com/viddl/viddl/pkg/log"
)

const probeTimeout = 2 * time.Minute

var downloadProgressRe = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)

// YtDlp runs the yt-dlp binary to fetch a video or audio track from a
// supported platform URL.
type YtDlp struct {
	binary string
	outDir string
}

func NewYtDlp(binary, outDir string) *YtDlp {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{binary: binary, outDir: outDir}
}

func (d *YtDlp) Run(ctx context.Context, job *jobs.Job, progress func(int)) (jobs.RunResult, error) {
	if err := os.MkdirAll(d.outDir, 0755); err != nil {
		return jobs.RunResult{}, fmt.Errorf("create output directory: %w", err)
	}

	// Title probe is best effort; a download must not fail because metadata
	// could not be fetched.
	title, err := d.ProbeTitle(ctx, job.Input)
	if err != nil {
		log.Warn("Title probe failed for %s: %v", job.Input, err)
	}
	progress(0)

	format := job.Options.Format
	outputPath := filepath.Join(d.outDir, job.ID+"."+format)
	tmpPath := outputPath + ".tmp"
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, d.binary, d.downloadArgs(job.Input, format, tmpPath)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return jobs.RunResult{}, fmt.Errorf("attach to yt-dlp output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return jobs.RunResult{}, fmt.Errorf("start yt-dlp: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if p, ok := ParseDownloadProgress(scanner.Text()); ok {
			progress(p)
		}
	}

	if err := cmd.Wait(); err != nil {
		return jobs.RunResult{}, fmt.Errorf("yt-dlp failed: %w: %s", err, tail(stderr.String(), 400))
	}
	if !file.Exists(tmpPath) {
		// Audio extraction post-processing rewrites the output extension.
		if alt := file.ReplaceExt(tmpPath, format); alt != tmpPath && file.Exists(alt) {
			tmpPath = alt
		} else {
			return jobs.RunResult{}, fmt.Errorf("yt-dlp produced no output file")
		}
	}
	// Rename into place so readers never observe a partial file.
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return jobs.RunResult{}, fmt.Errorf("finalize download: %w", err)
	}

	progress(100)
	return jobs.RunResult{OutputPath: outputPath, Title: title}, nil
}

func (d *YtDlp) downloadArgs(url, format, outPath string) []string {
	args := []string{
		"--newline",
		"--no-warnings",
		"--no-playlist",
		"--no-part",
		"-o", outPath,
	}
	switch format {
	case "mp3":
		args = append(args, "-f", "bestaudio/best", "--extract-audio", "--audio-format", "mp3")
	case "webm":
		args = append(args, "-f", "best[ext=webm]/best")
	default:
		args = append(args, "-f", "best[ext=mp4]/best")
	}
	return append(args, url)
}

// ProbeTitle fetches the video title without downloading anything.
func (d *YtDlp) ProbeTitle(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.binary,
		"--dump-single-json", "--no-warnings", "--no-playlist", url)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp probe failed: %w: %s", err, tail(stderr.String(), 200))
	}

	var meta struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(out.Bytes(), &meta); err != nil {
		return "", fmt.Errorf("parse yt-dlp metadata: %w", err)
	}
	return meta.Title, nil
}

// ParseDownloadProgress extracts the percentage from a yt-dlp status line
// like "[download]  42.3% of 10.00MiB at 1.00MiB/s".
func ParseDownloadProgress(line string) (int, bool) {
	m := downloadProgressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
