package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityCRF(t *testing.T) {
	tests := []struct {
		quality Quality
		crf     int
		ok      bool
	}{
		{QualityHigh, 23, true},
		{QualityMedium, 28, true},
		{QualityLow, 33, true},
		{"HIGH", 23, true},
		{"ultra", 0, false},
		{"", 0, false},
	}

	for _, tc := range tests {
		crf, ok := QualityCRF(tc.quality)
		assert.Equal(t, tc.ok, ok, "quality %q", tc.quality)
		assert.Equal(t, tc.crf, crf, "quality %q", tc.quality)
	}
}

func TestLadderSteps(t *testing.T) {
	assert.Equal(t, []int{23, 26, 29, 32, 35, 38}, DefaultLadder().Steps())
	assert.Equal(t, []int{30}, Ladder{Start: 30, End: 30, Step: 1}.Steps())
	assert.Nil(t, Ladder{Start: 30, End: 20, Step: 3}.Steps())
	assert.Nil(t, Ladder{Start: 20, End: 30, Step: 0}.Steps())
}

func TestGetResolution(t *testing.T) {
	r, ok := GetResolution("4k")
	require.True(t, ok)
	assert.Equal(t, 3840, r.Width)
	assert.Equal(t, 2160, r.Height)

	r, ok = GetResolution("720p")
	require.True(t, ok)
	assert.Equal(t, "3M", r.MaxRate)

	_, ok = GetResolution("8K")
	assert.False(t, ok)

	assert.Len(t, AvailableResolutions(), 6)
}

func TestContainerCodecs(t *testing.T) {
	tests := []struct {
		container Container
		video     string
		audio     string
	}{
		{ContainerMP4, "libx264", "aac"},
		{ContainerMKV, "libx264", "aac"},
		{ContainerMOV, "libx264", "aac"},
		{ContainerAVI, "libx264", "libmp3lame"},
		{ContainerWebM, "libvpx-vp9", "libopus"},
	}

	for _, tc := range tests {
		t.Run(string(tc.container), func(t *testing.T) {
			assert.True(t, IsContainer(tc.container))
			assert.Equal(t, tc.video, tc.container.VideoCodec())
			assert.Equal(t, tc.audio, tc.container.AudioCodec())
		})
	}
	assert.False(t, IsContainer("flv"))
}

func TestGetAudioProfile(t *testing.T) {
	p, ok := GetAudioProfile("", ContainerWebM)
	require.True(t, ok)
	assert.Equal(t, AudioProfile{Name: AudioMedium, Codec: "libopus", Bitrate: "128k"}, p)

	p, ok = GetAudioProfile("High", ContainerMP4)
	require.True(t, ok)
	assert.Equal(t, "192k", p.Bitrate)

	_, ok = GetAudioProfile("lossless", ContainerMP4)
	assert.False(t, ok)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLadder(), cfg.Ladder)
	assert.Equal(t, QualityMedium, cfg.Defaults.Quality)
	assert.Equal(t, 10*time.Second, cfg.CancelTimeout)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
ffmpeg_path: /opt/ffmpeg/bin/ffmpeg
ladder:
  start: 20
  end: 30
  step: 5
cancel_timeout: 3s
defaults:
  quality: high
  container: webm
  audio: low
`)
	require.NoError(t, os.WriteFile(path, data, 0644))
	t.Setenv("VIDCOMPRESS_FFPROBE", "/usr/local/bin/ffprobe")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "/usr/local/bin/ffprobe", cfg.FFprobePath)
	assert.Equal(t, []int{20, 25, 30}, cfg.Ladder.Steps())
	assert.Equal(t, 3*time.Second, cfg.CancelTimeout)
	assert.Equal(t, QualityHigh, cfg.Defaults.Quality)
	assert.Equal(t, ContainerWebM, cfg.Defaults.Container)
}

func TestLoad_InvalidLadder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ladder: {start: 40, end: 20, step: 3}\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLogFilePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	cfg.LogFile = "run.log"
	assert.Equal(t, filepath.Join("/data", "run.log"), cfg.LogFilePath())

	cfg.LogFile = "/var/log/vc.log"
	assert.Equal(t, "/var/log/vc.log", cfg.LogFilePath())

	cfg.LogFile = ""
	assert.Equal(t, "", cfg.LogFilePath())
}
