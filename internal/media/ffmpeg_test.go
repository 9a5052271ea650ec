package media

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viddl/viddl/internal/jobs"
)

func TestOperationArgs_Compress(t *testing.T) {
	args, err := OperationArgs(&jobs.Job{
		Kind:    jobs.KindCompress,
		Input:   "/data/uploads/in.mp4",
		Options: jobs.Options{Quality: "low"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"-vcodec", "libx264", "-crf", "32", "-preset", "medium"}, args)
}

func TestOperationArgs_Trim(t *testing.T) {
	args, err := OperationArgs(&jobs.Job{
		Kind:    jobs.KindTrim,
		Input:   "/data/uploads/in.mp4",
		Options: jobs.Options{StartTime: "00:00:10", EndTime: "00:01:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"-ss", "00:00:10", "-to", "00:01:00", "-c", "copy"}, args)
}

func TestOperationArgs_ExtractAudio(t *testing.T) {
	args, err := OperationArgs(&jobs.Job{
		Kind:    jobs.KindExtractAudio,
		Input:   "/data/uploads/in.mp4",
		Options: jobs.Options{Format: "wav"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"-vn", "-acodec", "pcm_s16le"}, args)

	_, err = OperationArgs(&jobs.Job{
		Kind:    jobs.KindExtractAudio,
		Options: jobs.Options{Format: "flac"},
	})
	require.Error(t, err)
}

func TestOperationArgs_Watermark(t *testing.T) {
	args, err := OperationArgs(&jobs.Job{
		Kind:    jobs.KindWatermark,
		Input:   "/data/uploads/in.mp4",
		Options: jobs.Options{WatermarkText: "viddl", WatermarkPosition: "top-left"},
	})
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, "-vf", args[0])
	assert.Contains(t, args[1], "drawtext=text='viddl'")
	assert.Contains(t, args[1], "x=10:y=10")
}

func TestOperationArgs_RejectsDownloadKind(t *testing.T) {
	_, err := OperationArgs(&jobs.Job{Kind: jobs.KindDownload})
	require.Error(t, err)
}

func TestOutputExt(t *testing.T) {
	assert.Equal(t, ".webm", OutputExt(&jobs.Job{
		Kind:    jobs.KindConvert,
		Input:   "/in.mp4",
		Options: jobs.Options{Format: "webm"},
	}))
	assert.Equal(t, ".mp3", OutputExt(&jobs.Job{
		Kind:    jobs.KindExtractAudio,
		Input:   "/in.mp4",
		Options: jobs.Options{Format: "mp3"},
	}))
	assert.Equal(t, ".mov", OutputExt(&jobs.Job{
		Kind:  jobs.KindCompress,
		Input: "/in.mov",
	}))
	assert.Equal(t, ".mp4", OutputExt(&jobs.Job{
		Kind:  jobs.KindWatermark,
		Input: "/noext",
	}))
}

func TestEscapeDrawtext(t *testing.T) {
	got := escapeDrawtext(`it's 100%: fine\ok`)
	assert.Equal(t, `it\'s 100\%\: fine\\ok`, got)
}

func TestParseEncodeProgress(t *testing.T) {
	p, ok := ParseEncodeProgress("out_time_us=30000000", 60)
	require.True(t, ok)
	assert.Equal(t, 50, p)

	p, ok = ParseEncodeProgress("out_time_ms=60000000", 60)
	require.True(t, ok)
	assert.Equal(t, 100, p)

	// Values past the expected duration clamp at 100.
	p, ok = ParseEncodeProgress("out_time_us=90000000", 60)
	require.True(t, ok)
	assert.Equal(t, 100, p)

	_, ok = ParseEncodeProgress("frame=120", 60)
	assert.False(t, ok)
	_, ok = ParseEncodeProgress("out_time_us=30000000", 0)
	assert.False(t, ok)
	_, ok = ParseEncodeProgress("out_time_us=bogus", 60)
	assert.False(t, ok)
}

func TestRegistry_DispatchesByKind(t *testing.T) {
	registry := NewRegistry()
	registry.Register(jobs.KindDownload, stubKindRunner{result: "download"})
	registry.Register(jobs.KindTrim, stubKindRunner{result: "trim"})

	res, err := registry.Run(context.Background(), &jobs.Job{Kind: jobs.KindTrim}, func(int) {})
	require.NoError(t, err)
	assert.Equal(t, "trim", res.OutputPath)

	_, err = registry.Run(context.Background(), &jobs.Job{Kind: jobs.KindWatermark}, func(int) {})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no runner registered"))
}

type stubKindRunner struct{ result string }

func (r stubKindRunner) Run(_ context.Context, _ *jobs.Job, _ func(int)) (jobs.RunResult, error) {
	return jobs.RunResult{OutputPath: r.result}, nil
}
