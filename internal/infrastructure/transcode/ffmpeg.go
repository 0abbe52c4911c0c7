// Package transcode drives the external ffmpeg binary for container
// conversion and speed transforms.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/gabriel-vasile/mimetype"
)

// FFmpeg runs the ffmpeg binary at the configured path.
type FFmpeg struct {
	binary string
}

// NewFFmpeg builds the transcoder. binary may be a bare name resolved via PATH.
func NewFFmpeg(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary}
}

// SniffExtension returns the file extension for a raw audio blob, used to
// name the temp input file so ffmpeg picks the right demuxer.
func SniffExtension(blob []byte) string {
	ext := mimetype.Detect(blob).Extension()
	if ext == "" {
		return ".ogg"
	}
	return ext
}

// Transcode converts inPath to the container implied by outPath's extension.
func (f *FFmpeg) Transcode(ctx context.Context, inPath, outPath string) error {
	return f.run(ctx, "-y", "-i", inPath, outPath)
}

// AdjustSpeed writes a speed-changed copy of inPath. Multipliers above 1.0
// use the tempo filter, which preserves pitch. Below 1.0 the stream is
// resampled instead, shifting pitch down; pitch-preserving slow-down is out
// of scope and the trade-off is accepted.
func (f *FFmpeg) AdjustSpeed(ctx context.Context, inPath, outPath string, speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("invalid speed multiplier %v", speed)
	}

	var filter string
	if speed >= 1.0 {
		filter = fmt.Sprintf("atempo=%.2f", speed)
	} else {
		filter = fmt.Sprintf("asetrate=48000*%.2f,aresample=48000", speed)
	}

	return f.run(ctx, "-y", "-i", inPath, "-filter:a", filter, outPath)
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg %v: %w: %s", args, err, lastLine(stderr.Bytes()))
	}
	return nil
}

func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}
