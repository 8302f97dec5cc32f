package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"video-compressor/config"
	"video-compressor/metrics"
)

// StrategyKind selects how the CRF is chosen
type StrategyKind int

const (
	StrategyQuality StrategyKind = iota
	StrategyTargetSize
)

func (k StrategyKind) String() string {
	if k == StrategyTargetSize {
		return "target_size"
	}
	return "quality"
}

// Strategy is either a fixed quality level or a size ceiling. Build it
// with FixedQuality or TargetSize.
type Strategy struct {
	Kind     StrategyKind
	Quality  config.Quality
	TargetMB float64
}

// FixedQuality encodes once at the CRF mapped from q
func FixedQuality(q config.Quality) Strategy {
	return Strategy{Kind: StrategyQuality, Quality: q}
}

// TargetSize searches the CRF ladder for an output no larger than mb
func TargetSize(mb float64) Strategy {
	return Strategy{Kind: StrategyTargetSize, TargetMB: mb}
}

// Request describes one compression
type Request struct {
	Input    string
	Output   string
	Strategy Strategy
	// Container defaults to the configured default when empty
	Container config.Container
	// Resolution is a preset name such as "720p"; empty keeps the source size
	Resolution string
	// Audio is an audio profile name; empty means medium
	Audio string
}

// run tracks one Compress call so Cancel can reach it
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Compressor drives ffmpeg for one compression at a time. Snapshot,
// Logs and Cancel are safe to call from any goroutine.
type Compressor struct {
	cfg     config.Config
	logger  hclog.Logger
	prober  *Prober
	command commandFunc

	state *telemetry

	mu       sync.Mutex
	current  *run
	active   *attempt
	attempts int
}

// New creates a Compressor. A nil logger discards output.
func New(cfg config.Config, logger hclog.Logger) *Compressor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Compressor{
		cfg:     cfg,
		logger:  logger.Named("encoder"),
		prober:  NewProber(cfg.FFprobePath),
		command: exec.CommandContext,
		state:   newTelemetry(),
	}
}

// Probe returns metadata for path. See Prober.Probe.
func (c *Compressor) Probe(ctx context.Context, path string) (VideoMetadata, error) {
	return c.prober.Probe(ctx, path)
}

// Snapshot returns the latest progress state
func (c *Compressor) Snapshot() Snapshot {
	return c.state.load()
}

// Error returns the message of the last failed compression, or ""
func (c *Compressor) Error() string {
	return c.state.load().Error
}

// Logs returns the most recent non-progress lines written by ffmpeg
func (c *Compressor) Logs() []string {
	return c.state.copyLogs()
}

// Compress validates req and runs the selected strategy. It blocks until
// ffmpeg is done. On failure the returned error and Snapshot().Error
// describe the cause; on success a file exists at req.Output.
func (c *Compressor) Compress(ctx context.Context, req Request) error {
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		cancel()
		return ErrBusy
	}
	c.current = r
	c.attempts = 0
	c.mu.Unlock()

	metrics.Active.Inc()
	defer func() {
		metrics.Active.Dec()
		cancel()
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		close(r.done)
	}()

	c.state.resetLogs()
	c.state.update(func(s *Snapshot) {
		*s = Snapshot{Processing: true, StartedAt: time.Now()}
	})

	logger := c.logger.With("input", req.Input, "output", req.Output, "strategy", req.Strategy.Kind.String())
	logger.Info("compression requested")

	err := c.compress(runCtx, req)
	c.finish(err)

	result := "success"
	switch {
	case err == nil:
		logger.Info("compression succeeded")
	case errors.Is(err, ErrCancelled):
		result = "cancelled"
		logger.Info("compression cancelled")
	default:
		result = "failed"
		logger.Error("compression failed", "error", err)
	}
	metrics.CompressionsTotal.WithLabelValues(req.Strategy.Kind.String(), result).Inc()

	return err
}

func (c *Compressor) compress(ctx context.Context, req Request) error {
	params, err := c.validate(req)
	if err != nil {
		return err
	}

	if req.Strategy.Kind == StrategyTargetSize {
		return c.searchTargetSize(ctx, req.Input, req.Output, req.Strategy.TargetMB, params)
	}

	res, err := c.invoke(ctx, req.Input, req.Output, params)
	if err != nil {
		return err
	}
	return res.err()
}

// err converts an attempt result into the facade's error taxonomy
func (r attemptResult) err() error {
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeCancelled:
		return ErrCancelled
	default:
		if r.LastLine != "" {
			return fmt.Errorf("%w: ffmpeg exited with status %d: %s", ErrEncodeFailed, r.ExitCode, r.LastLine)
		}
		return fmt.Errorf("%w: ffmpeg exited with status %d", ErrEncodeFailed, r.ExitCode)
	}
}

// validate checks req in a fixed order and resolves it into Params
func (c *Compressor) validate(req Request) (Params, error) {
	var params Params

	if req.Resolution != "" {
		res, ok := config.GetResolution(req.Resolution)
		if !ok {
			return params, fmt.Errorf("%w: unsupported resolution preset %q", ErrValidation, req.Resolution)
		}
		params.Resolution = &res
	}

	if info, err := os.Stat(req.Input); err != nil || info.IsDir() {
		return params, fmt.Errorf("%w: input file not found: %s", ErrValidation, req.Input)
	}

	switch req.Strategy.Kind {
	case StrategyQuality:
		crf, ok := config.QualityCRF(req.Strategy.Quality)
		if !ok {
			return params, fmt.Errorf("%w: unknown quality preset %q", ErrValidation, req.Strategy.Quality)
		}
		params.CRF = crf
	case StrategyTargetSize:
		if req.Strategy.TargetMB <= 0 {
			return params, fmt.Errorf("%w: target size must be greater than 0 MB, got %g", ErrValidation, req.Strategy.TargetMB)
		}
	default:
		return params, fmt.Errorf("%w: unknown strategy %d", ErrValidation, req.Strategy.Kind)
	}

	container := config.Container(strings.ToLower(string(req.Container)))
	if container == "" {
		container = c.cfg.Defaults.Container
	}
	if !config.IsContainer(container) {
		return params, fmt.Errorf("%w: unsupported output container %q", ErrValidation, req.Container)
	}
	params.Container = container

	audio, ok := config.GetAudioProfile(req.Audio, container)
	if !ok {
		return params, fmt.Errorf("%w: unknown audio profile %q", ErrValidation, req.Audio)
	}
	params.Audio = audio

	if req.Output == "" {
		return params, fmt.Errorf("%w: output path is required", ErrValidation)
	}
	// Failed outputs get deleted, which must never hit the source
	if sameFile(req.Input, req.Output) {
		return params, fmt.Errorf("%w: output %s would overwrite the input", ErrValidation, req.Output)
	}

	return params, nil
}

// sameFile reports whether a and b name the same file, either by path or,
// when both exist, by identity (hard links, symlinks).
func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, err := os.Stat(a)
	if err != nil {
		return false
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}

// finish publishes the settled state of a compression
func (c *Compressor) finish(err error) {
	c.state.update(func(s *Snapshot) {
		s.Processing = false
		s.ETAAvailable = false
		s.ETA = 0
		if !s.StartedAt.IsZero() {
			s.Elapsed = time.Since(s.StartedAt)
		}
		switch {
		case err == nil:
			s.Progress = 100
			s.Error = ""
		case errors.Is(err, ErrCancelled):
			s.Progress = 0
			s.Error = ErrCancelled.Error()
		default:
			s.Error = err.Error()
			if s.Error == "" {
				s.Error = genericFailure
			}
		}
	})
}

// beginAttempt registers a as the active attempt unless the run was
// cancelled. It returns the attempt's number within the run.
func (c *Compressor) beginAttempt(ctx context.Context, a *attempt) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return 0, false
	}
	c.active = a
	c.attempts++
	n := c.attempts

	c.state.update(func(s *Snapshot) {
		s.Progress = 0
		s.CurrentLine = ""
		s.Speed = 0
		s.ETA = 0
		s.ETAAvailable = false
		s.Attempt = n
		s.AttemptID = a.id
		s.CRF = a.crf
	})
	return n, true
}

func (c *Compressor) endAttempt(a *attempt) {
	c.mu.Lock()
	if c.active == a {
		c.active = nil
	}
	c.mu.Unlock()
}

// Cancel stops the running compression, if any, and waits for ffmpeg to
// exit and its partial output to be removed. Calling it with nothing
// running, or more than once, is harmless.
func (c *Compressor) Cancel() {
	c.mu.Lock()
	r := c.current
	a := c.active
	c.mu.Unlock()

	if r == nil {
		return
	}

	if a != nil {
		c.logger.Info("cancelling encode", "attempt_id", a.id, "crf", a.crf)
	} else {
		c.logger.Info("cancelling compression")
	}
	r.cancel()

	select {
	case <-r.done:
	case <-time.After(c.cfg.CancelTimeout + time.Second):
		c.logger.Warn("compression did not stop in time", "timeout", c.cfg.CancelTimeout)
	}
}
