package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

const probeTimeout = 30 * time.Second

// commandFunc builds an external command. Tests swap it for a fake.
type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// VideoMetadata is a point-in-time description of a media file
type VideoMetadata struct {
	Duration    float64 // seconds
	SizeMB      float64
	Width       int
	Height      int
	Codec       string
	BitrateMbps float64
}

// Prober reads container and stream information with ffprobe
type Prober struct {
	path    string
	command commandFunc
}

// NewProber creates a Prober using the ffprobe binary at path
func NewProber(path string) *Prober {
	return &Prober{path: path, command: exec.CommandContext}
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Probe returns the metadata of the file at path, or an error wrapping
// ErrNotAVideo when it cannot be parsed as a video. Missing optional
// fields are reported as zero.
func (p *Prober) Probe(ctx context.Context, path string) (VideoMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return VideoMetadata{}, fmt.Errorf("%w: %v", ErrNotAVideo, err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := p.command(ctx, p.path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return VideoMetadata{}, fmt.Errorf("%w: ffprobe %s: %v", ErrNotAVideo, path, err)
	}

	var result probeOutput
	if err := json.Unmarshal(output, &result); err != nil {
		return VideoMetadata{}, fmt.Errorf("%w: parse ffprobe output: %v", ErrNotAVideo, err)
	}

	meta := VideoMetadata{
		SizeMB: bytesToMB(info.Size()),
		Codec:  "unknown",
	}
	found := false
	for _, stream := range result.Streams {
		if stream.CodecType != "video" {
			continue
		}
		found = true
		meta.Width = stream.Width
		meta.Height = stream.Height
		if stream.CodecName != "" {
			meta.Codec = stream.CodecName
		}
		break
	}
	if !found {
		return VideoMetadata{}, fmt.Errorf("%w: %s has no video stream", ErrNotAVideo, path)
	}

	meta.Duration = parseFloatOrZero(result.Format.Duration)
	meta.BitrateMbps = parseFloatOrZero(result.Format.BitRate) / 1_000_000

	return meta, nil
}

// parseFloatOrZero handles ffprobe's "N/A" and missing values
func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func bytesToMB(n int64) float64 {
	return float64(n) / (1024 * 1024)
}

// fileSizeMB reads the current size of path from disk
func fileSizeMB(path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return bytesToMB(info.Size()), nil
}
