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
	"strconv"
	"strings"

	"github.com/viddl/viddl/internal/jobs"
	"github.com/viddl/viddl/pkg/file"
)

// FFmpeg runs the ffmpeg binary for the processing kinds that transform an
// already-local input file: compress, convert, trim, extract_audio and
// watermark.
type FFmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
	outDir     string
}

func NewFFmpeg(ffmpegCmd, ffprobeCmd, outDir string) *FFmpeg {
	if ffmpegCmd == "" {
		ffmpegCmd = "ffmpeg"
	}
	if ffprobeCmd == "" {
		ffprobeCmd = "ffprobe"
	}
	return &FFmpeg{ffmpegCmd: ffmpegCmd, ffprobeCmd: ffprobeCmd, outDir: outDir}
}

func (ff *FFmpeg) Run(ctx context.Context, job *jobs.Job, progress func(int)) (jobs.RunResult, error) {
	if !file.Exists(job.Input) {
		return jobs.RunResult{}, fmt.Errorf("input file does not exist: %s", job.Input)
	}
	if err := os.MkdirAll(ff.outDir, 0755); err != nil {
		return jobs.RunResult{}, fmt.Errorf("create output directory: %w", err)
	}

	outputPath := filepath.Join(ff.outDir, job.ID+OutputExt(job))
	tmpPath := filepath.Join(ff.outDir, job.ID+".tmp"+OutputExt(job))
	defer os.Remove(tmpPath)

	opArgs, err := OperationArgs(job)
	if err != nil {
		return jobs.RunResult{}, err
	}

	// Total output duration drives the progress percentage.
	total, err := ff.probeDurationSeconds(ctx, job.Input)
	if err != nil {
		total = 0
	}
	if job.Kind == jobs.KindTrim {
		start, _ := jobs.ParseTimestamp(job.Options.StartTime)
		end, _ := jobs.ParseTimestamp(job.Options.EndTime)
		total = float64(end - start)
	}

	args := []string{"-y", "-i", job.Input}
	args = append(args, opArgs...)
	args = append(args, "-progress", "pipe:1", "-nostats", "-loglevel", "error", tmpPath)

	cmd := exec.CommandContext(ctx, ff.ffmpegCmd, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return jobs.RunResult{}, fmt.Errorf("attach to ffmpeg output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return jobs.RunResult{}, fmt.Errorf("start ffmpeg: %w", err)
	}

	progress(0)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if p, ok := ParseEncodeProgress(scanner.Text(), total); ok {
			progress(p)
		}
	}

	if err := cmd.Wait(); err != nil {
		return jobs.RunResult{}, fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), 400))
	}
	if !file.Exists(tmpPath) {
		return jobs.RunResult{}, fmt.Errorf("ffmpeg produced no output file")
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return jobs.RunResult{}, fmt.Errorf("finalize output: %w", err)
	}

	progress(100)
	return jobs.RunResult{OutputPath: outputPath}, nil
}

// OutputExt picks the output container extension for a processing job.
func OutputExt(job *jobs.Job) string {
	switch job.Kind {
	case jobs.KindConvert, jobs.KindExtractAudio:
		return "." + job.Options.Format
	default:
		ext := filepath.Ext(job.Input)
		if ext == "" {
			ext = ".mp4"
		}
		return ext
	}
}

// OperationArgs builds the kind-specific part of the ffmpeg command line.
func OperationArgs(job *jobs.Job) ([]string, error) {
	switch job.Kind {
	case jobs.KindCompress:
		return []string{"-vcodec", "libx264", "-crf", strconv.Itoa(crfForQuality(job.Options.Quality)), "-preset", "medium"}, nil
	case jobs.KindConvert:
		return []string{}, nil
	case jobs.KindTrim:
		return []string{"-ss", job.Options.StartTime, "-to", job.Options.EndTime, "-c", "copy"}, nil
	case jobs.KindExtractAudio:
		codec, ok := audioCodecs[job.Options.Format]
		if !ok {
			return nil, fmt.Errorf("unsupported audio format %q", job.Options.Format)
		}
		return []string{"-vn", "-acodec", codec}, nil
	case jobs.KindWatermark:
		return []string{"-vf", drawtextFilter(job.Options.WatermarkText, job.Options.WatermarkPosition)}, nil
	default:
		return nil, fmt.Errorf("ffmpeg cannot run kind %q", job.Kind)
	}
}

var audioCodecs = map[string]string{
	"mp3": "libmp3lame",
	"wav": "pcm_s16le",
	"m4a": "aac",
}

func crfForQuality(quality string) int {
	switch quality {
	case "highest":
		return 18
	case "medium":
		return 28
	case "low":
		return 32
	default:
		return 23
	}
}

var drawtextPositions = map[string]string{
	"top-left":     "x=10:y=10",
	"top-right":    "x=w-tw-10:y=10",
	"bottom-left":  "x=10:y=h-th-10",
	"bottom-right": "x=w-tw-10:y=h-th-10",
}

func drawtextFilter(text, position string) string {
	pos, ok := drawtextPositions[position]
	if !ok {
		pos = drawtextPositions["bottom-right"]
	}
	return fmt.Sprintf(
		"drawtext=text='%s':fontsize=24:fontcolor=white:box=1:boxcolor=black@0.5:%s",
		escapeDrawtext(text), pos)
}

// escapeDrawtext neutralizes the characters drawtext treats specially.
func escapeDrawtext(text string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return replacer.Replace(text)
}

// ParseEncodeProgress converts an ffmpeg "-progress pipe:1" key=value line
// into a percentage against the expected total duration.
func ParseEncodeProgress(line string, totalSeconds float64) (int, bool) {
	if totalSeconds <= 0 {
		return 0, false
	}
	value, ok := strings.CutPrefix(line, "out_time_us=")
	if !ok {
		// out_time_ms is historically microseconds as well.
		value, ok = strings.CutPrefix(line, "out_time_ms=")
		if !ok {
			return 0, false
		}
	}
	us, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	p := int(float64(us) / 1e6 / totalSeconds * 100)
	if p > 100 {
		p = 100
	}
	return p, true
}

func (ff *FFmpeg) probeDurationSeconds(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, ff.ffprobeCmd,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probeResult struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probeResult); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}

	seconds, err := strconv.ParseFloat(probeResult.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probeResult.Format.Duration, err)
	}
	return seconds, nil
}
