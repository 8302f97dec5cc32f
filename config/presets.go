package config

import "strings"

// Quality represents a named fixed-quality level
type Quality string

const (
	QualityHigh   Quality = "high"   // CRF 23, largest files
	QualityMedium Quality = "medium" // CRF 28
	QualityLow    Quality = "low"    // CRF 33, smallest files
)

var qualityCRF = map[Quality]int{
	QualityHigh:   23,
	QualityMedium: 28,
	QualityLow:    33,
}

// AvailableQualities returns all quality levels, best first
func AvailableQualities() []Quality {
	return []Quality{QualityHigh, QualityMedium, QualityLow}
}

// QualityCRF maps a quality level to its CRF. Lower CRF means higher fidelity.
func QualityCRF(q Quality) (int, bool) {
	crf, ok := qualityCRF[Quality(strings.ToLower(string(q)))]
	return crf, ok
}

// Resolution is a target frame size with an optional bitrate ceiling
type Resolution struct {
	Name   string
	Width  int
	Height int
	// MaxRate is passed to -maxrate alongside the CRF ("" = unbounded)
	MaxRate string
}

var resolutions = []Resolution{
	{Name: "4K", Width: 3840, Height: 2160, MaxRate: "20M"},
	{Name: "1440p", Width: 2560, Height: 1440, MaxRate: "12M"},
	{Name: "1080p", Width: 1920, Height: 1080, MaxRate: "6M"},
	{Name: "720p", Width: 1280, Height: 720, MaxRate: "3M"},
	{Name: "480p", Width: 854, Height: 480, MaxRate: "1500k"},
	{Name: "360p", Width: 640, Height: 360, MaxRate: "800k"},
}

// AvailableResolutions returns the resolution presets, largest first
func AvailableResolutions() []Resolution {
	out := make([]Resolution, len(resolutions))
	copy(out, resolutions)
	return out
}

// GetResolution looks up a preset by name ("4k" and "4K" both match)
func GetResolution(name string) (Resolution, bool) {
	for _, r := range resolutions {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Resolution{}, false
}

// Container is an output file format
type Container string

const (
	ContainerMP4  Container = "mp4"
	ContainerAVI  Container = "avi"
	ContainerMKV  Container = "mkv"
	ContainerMOV  Container = "mov"
	ContainerWebM Container = "webm"
)

// AvailableContainers returns all supported output containers
func AvailableContainers() []Container {
	return []Container{ContainerMP4, ContainerAVI, ContainerMKV, ContainerMOV, ContainerWebM}
}

// IsContainer reports whether c is a supported output container
func IsContainer(c Container) bool {
	for _, known := range AvailableContainers() {
		if known == c {
			return true
		}
	}
	return false
}

// VideoCodec returns the ffmpeg video encoder for the container
func (c Container) VideoCodec() string {
	if c == ContainerWebM {
		return "libvpx-vp9"
	}
	return "libx264"
}

// AudioCodec returns the ffmpeg audio encoder for the container
func (c Container) AudioCodec() string {
	switch c {
	case ContainerWebM:
		return "libopus"
	case ContainerAVI:
		return "libmp3lame"
	default:
		return "aac"
	}
}

// Audio profile names
const (
	AudioHigh   = "high"
	AudioMedium = "medium"
	AudioLow    = "low"
)

var audioBitrates = map[string]string{
	AudioHigh:   "192k",
	AudioMedium: "128k",
	AudioLow:    "64k",
}

// AudioProfile is the audio codec and bitrate for one encode
type AudioProfile struct {
	Name    string
	Codec   string
	Bitrate string
}

// AvailableAudioProfiles returns the audio profile names, best first
func AvailableAudioProfiles() []string {
	return []string{AudioHigh, AudioMedium, AudioLow}
}

// GetAudioProfile resolves a profile name for a container. Empty means medium.
func GetAudioProfile(name string, c Container) (AudioProfile, bool) {
	if name == "" {
		name = AudioMedium
	}
	name = strings.ToLower(name)
	bitrate, ok := audioBitrates[name]
	if !ok {
		return AudioProfile{}, false
	}
	return AudioProfile{Name: name, Codec: c.AudioCodec(), Bitrate: bitrate}, true
}

// PresetDescription returns a one-line summary of a quality level
func PresetDescription(q Quality) string {
	switch q {
	case QualityHigh:
		return "High quality (CRF 23) - Near source fidelity, larger files"
	case QualityLow:
		return "Low quality (CRF 33) - Smallest files, visible quality loss"
	default:
		return "Medium quality (CRF 28) - Good quality/size balance"
	}
}
