package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Ladder describes the CRF values tried by the target-size search.
// Values run from Start up to and including End, Step apart.
type Ladder struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
	Step  int `yaml:"step"`
}

// Steps expands the ladder into its CRF values, coarsest fidelity last.
func (l Ladder) Steps() []int {
	if l.Step <= 0 || l.End < l.Start {
		return nil
	}
	steps := make([]int, 0, (l.End-l.Start)/l.Step+1)
	for crf := l.Start; crf <= l.End; crf += l.Step {
		steps = append(steps, crf)
	}
	return steps
}

// DefaultLadder matches the 23..40 range in steps of 3.
func DefaultLadder() Ladder {
	return Ladder{Start: 23, End: 40, Step: 3}
}

// Config holds the settings shared by the CLI and the encoder
type Config struct {
	// FFmpegPath and FFprobePath are looked up in PATH when not absolute
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	// DataDir holds the history database and the log file
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	// LogFile is relative to DataDir unless absolute. Empty logs to stderr.
	LogFile string `yaml:"log_file"`
	// MetricsAddr enables the /metrics listener when set (e.g. ":9090")
	MetricsAddr string `yaml:"metrics_addr"`

	Ladder Ladder `yaml:"ladder"`
	// CancelTimeout bounds how long Cancel waits for ffmpeg to exit
	CancelTimeout time.Duration `yaml:"cancel_timeout"`

	Defaults struct {
		Quality   Quality   `yaml:"quality"`
		Container Container `yaml:"container"`
		Audio     string    `yaml:"audio"`
	} `yaml:"defaults"`
}

// DefaultConfig returns the built-in settings used when no file is present
func DefaultConfig() Config {
	cfg := Config{
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		DataDir:       defaultDataDir(),
		LogLevel:      "info",
		LogFile:       "video-compressor.log",
		Ladder:        DefaultLadder(),
		CancelTimeout: 10 * time.Second,
	}
	cfg.Defaults.Quality = QualityMedium
	cfg.Defaults.Container = ContainerMP4
	cfg.Defaults.Audio = AudioMedium
	return cfg
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "video-compressor")
	}
	return ".video-compressor"
}

// Load reads the YAML file at path on top of DefaultConfig, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	// .env is optional
	_ = godotenv.Load()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"VIDCOMPRESS_FFMPEG":       &cfg.FFmpegPath,
		"VIDCOMPRESS_FFPROBE":      &cfg.FFprobePath,
		"VIDCOMPRESS_DATA_DIR":     &cfg.DataDir,
		"VIDCOMPRESS_LOG_LEVEL":    &cfg.LogLevel,
		"VIDCOMPRESS_METRICS_ADDR": &cfg.MetricsAddr,
	}
	for key, dst := range overrides {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
}

// Validate checks the values a YAML file could have broken
func (c Config) Validate() error {
	if len(c.Ladder.Steps()) == 0 {
		return fmt.Errorf("invalid ladder %d..%d step %d", c.Ladder.Start, c.Ladder.End, c.Ladder.Step)
	}
	if c.CancelTimeout <= 0 {
		return fmt.Errorf("cancel_timeout must be positive")
	}
	if _, ok := QualityCRF(c.Defaults.Quality); !ok {
		return fmt.Errorf("unknown default quality %q", c.Defaults.Quality)
	}
	if !IsContainer(c.Defaults.Container) {
		return fmt.Errorf("unknown default container %q", c.Defaults.Container)
	}
	if _, ok := GetAudioProfile(c.Defaults.Audio, c.Defaults.Container); !ok {
		return fmt.Errorf("unknown default audio profile %q", c.Defaults.Audio)
	}
	return nil
}

// LogFilePath resolves LogFile against DataDir
func (c Config) LogFilePath() string {
	if c.LogFile == "" || filepath.IsAbs(c.LogFile) {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, c.LogFile)
}
