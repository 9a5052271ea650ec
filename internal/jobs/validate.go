package jobs

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidSpec is the base of every synchronous validation failure. Specs
// that fail validation are rejected before they enter the queue.
var ErrInvalidSpec = errors.New("invalid job spec")

var downloadFormats = map[string]bool{
	"mp4": true, "webm": true, "mp3": true,
}

var convertFormats = map[string]bool{
	"mp4": true, "webm": true, "mkv": true, "avi": true, "mov": true,
}

var audioFormats = map[string]bool{
	"mp3": true, "wav": true, "m4a": true,
}

var qualities = map[string]bool{
	"highest": true, "high": true, "medium": true, "low": true,
}

var watermarkPositions = map[string]bool{
	"top-left": true, "top-right": true, "bottom-left": true, "bottom-right": true,
}

// DetectPlatform classifies a source URL by hosting platform.
func DetectPlatform(rawURL string) string {
	switch {
	case strings.Contains(rawURL, "youtube.com"), strings.Contains(rawURL, "youtu.be"):
		return "youtube"
	case strings.Contains(rawURL, "facebook.com"), strings.Contains(rawURL, "fb.watch"):
		return "facebook"
	case strings.Contains(rawURL, "instagram.com"):
		return "instagram"
	default:
		return ""
	}
}

// ValidateSpec checks a submission against its kind. It fills in derived
// fields (platform, default format) on the returned copy.
func ValidateSpec(spec NewJob) (NewJob, error) {
	if spec.Input == "" {
		return spec, fmt.Errorf("%w: input is required", ErrInvalidSpec)
	}

	switch spec.Kind {
	case KindDownload:
		return validateDownload(spec)
	case KindCompress:
		return validateCompress(spec)
	case KindConvert:
		return validateConvert(spec)
	case KindTrim:
		return validateTrim(spec)
	case KindExtractAudio:
		return validateExtractAudio(spec)
	case KindWatermark:
		return validateWatermark(spec)
	default:
		return spec, fmt.Errorf("%w: unsupported kind %q", ErrInvalidSpec, spec.Kind)
	}
}

func validateDownload(spec NewJob) (NewJob, error) {
	if _, err := url.ParseRequestURI(spec.Input); err != nil {
		return spec, fmt.Errorf("%w: invalid URL format", ErrInvalidSpec)
	}
	platform := DetectPlatform(spec.Input)
	if platform == "" {
		return spec, fmt.Errorf("%w: unsupported platform, only YouTube, Facebook and Instagram URLs are supported", ErrInvalidSpec)
	}
	spec.Platform = platform

	if spec.Options.Format == "" {
		spec.Options.Format = "mp4"
	}
	if !downloadFormats[spec.Options.Format] {
		return spec, fmt.Errorf("%w: unsupported download format %q", ErrInvalidSpec, spec.Options.Format)
	}
	if err := validateQuality(&spec.Options); err != nil {
		return spec, err
	}
	return spec, nil
}

func validateCompress(spec NewJob) (NewJob, error) {
	if err := validateQuality(&spec.Options); err != nil {
		return spec, err
	}
	return spec, nil
}

func validateConvert(spec NewJob) (NewJob, error) {
	if spec.Options.Format == "" {
		return spec, fmt.Errorf("%w: target format is required", ErrInvalidSpec)
	}
	if !convertFormats[spec.Options.Format] {
		return spec, fmt.Errorf("%w: unsupported target format %q", ErrInvalidSpec, spec.Options.Format)
	}
	return spec, nil
}

func validateTrim(spec NewJob) (NewJob, error) {
	start, err := ParseTimestamp(spec.Options.StartTime)
	if err != nil {
		return spec, fmt.Errorf("%w: invalid start time: %v", ErrInvalidSpec, err)
	}
	end, err := ParseTimestamp(spec.Options.EndTime)
	if err != nil {
		return spec, fmt.Errorf("%w: invalid end time: %v", ErrInvalidSpec, err)
	}
	if end <= start {
		return spec, fmt.Errorf("%w: end time must be after start time", ErrInvalidSpec)
	}
	return spec, nil
}

func validateExtractAudio(spec NewJob) (NewJob, error) {
	if spec.Options.Format == "" {
		spec.Options.Format = "mp3"
	}
	if !audioFormats[spec.Options.Format] {
		return spec, fmt.Errorf("%w: unsupported audio format %q", ErrInvalidSpec, spec.Options.Format)
	}
	return spec, nil
}

func validateWatermark(spec NewJob) (NewJob, error) {
	if strings.TrimSpace(spec.Options.WatermarkText) == "" {
		return spec, fmt.Errorf("%w: watermark text is required", ErrInvalidSpec)
	}
	if spec.Options.WatermarkPosition == "" {
		spec.Options.WatermarkPosition = "bottom-right"
	}
	if !watermarkPositions[spec.Options.WatermarkPosition] {
		return spec, fmt.Errorf("%w: unsupported watermark position %q", ErrInvalidSpec, spec.Options.WatermarkPosition)
	}
	return spec, nil
}

func validateQuality(opts *Options) error {
	if opts.Quality == "" {
		opts.Quality = "high"
	}
	if !qualities[opts.Quality] {
		return fmt.Errorf("%w: unsupported quality %q", ErrInvalidSpec, opts.Quality)
	}
	return nil
}

// ParseTimestamp converts an HH:MM:SS timestamp into total seconds.
func ParseTimestamp(ts string) (int, error) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected HH:MM:SS, got %q", ts)
	}
	total := 0
	for _, part := range parts {
		if len(part) == 0 || len(part) > 2 {
			return 0, fmt.Errorf("expected HH:MM:SS, got %q", ts)
		}
		n := 0
		for _, c := range part {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("expected HH:MM:SS, got %q", ts)
			}
			n = n*10 + int(c-'0')
		}
		total = total*60 + n
	}
	return total, nil
}
