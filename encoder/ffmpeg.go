package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"video-compressor/config"
	"video-compressor/metrics"
)

// Params are the encoder settings for one attempt
type Params struct {
	CRF        int
	Container  config.Container
	Resolution *config.Resolution // nil keeps the source size
	Audio      config.AudioProfile
}

// Outcome is how an attempt ended
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type attemptResult struct {
	Outcome  Outcome
	ExitCode int
	LastLine string
}

// attempt is one ffmpeg process. It lives only for the duration of invoke.
type attempt struct {
	id       string
	crf      int
	start    time.Time
	duration float64
}

// buildArgs constructs the ffmpeg command line
func buildArgs(input, output string, p Params) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y", // replace a stale output
		"-i", input,
	}

	if p.Resolution != nil {
		// Fit inside the preset keeping the aspect ratio. yuv420p needs even dimensions.
		args = append(args, "-vf", fmt.Sprintf(
			"scale=%d:%d:force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2",
			p.Resolution.Width, p.Resolution.Height,
		))
	}

	codec := p.Container.VideoCodec()
	args = append(args, "-c:v", codec, "-crf", strconv.Itoa(p.CRF))
	if codec == "libvpx-vp9" {
		// Constant quality mode for VP9
		args = append(args, "-b:v", "0")
	} else {
		args = append(args, "-preset", "medium", "-pix_fmt", "yuv420p")
	}

	if p.Resolution != nil && p.Resolution.MaxRate != "" {
		args = append(args, "-maxrate", p.Resolution.MaxRate, "-bufsize", doubleRate(p.Resolution.MaxRate))
	}

	audioCodec := p.Audio.Codec
	if audioCodec == "" {
		audioCodec = p.Container.AudioCodec()
	}
	args = append(args, "-c:a", audioCodec)
	if p.Audio.Bitrate != "" {
		args = append(args, "-b:a", p.Audio.Bitrate)
	}

	if p.Container == config.ContainerMP4 || p.Container == config.ContainerMOV {
		args = append(args, "-movflags", "+faststart")
	}

	args = append(args, output)
	return args
}

// doubleRate turns "6M" into "12M" for -bufsize
func doubleRate(rate string) string {
	num := strings.TrimRight(rate, "kKmMgG")
	suffix := rate[len(num):]
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return rate
	}
	return strconv.FormatFloat(v*2, 'f', -1, 64) + suffix
}

// invoke runs one ffmpeg attempt and blocks until it exits. Encoder
// failure and cancellation are reported in the result; only faults that
// prevent running ffmpeg at all are returned as errors.
func (c *Compressor) invoke(ctx context.Context, input, output string, p Params) (attemptResult, error) {
	meta, err := c.prober.Probe(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{Outcome: OutcomeCancelled}, nil
		}
		return attemptResult{Outcome: OutcomeFailed}, fmt.Errorf("%w: %v", ErrProbe, err)
	}
	if meta.Duration <= 0 {
		return attemptResult{Outcome: OutcomeFailed}, fmt.Errorf("%w: %s has no duration", ErrProbe, input)
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := &attempt{
		id:       uuid.NewString(),
		crf:      p.CRF,
		start:    time.Now(),
		duration: meta.Duration,
	}
	n, ok := c.beginAttempt(actx, a)
	if !ok {
		return attemptResult{Outcome: OutcomeCancelled}, nil
	}
	defer c.endAttempt(a)

	args := buildArgs(input, output, p)
	cmd := c.command(actx, c.cfg.FFmpegPath, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	// Escalates to kill if ffmpeg ignores SIGTERM
	cmd.WaitDelay = c.cfg.CancelTimeout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return attemptResult{Outcome: OutcomeFailed}, fmt.Errorf("stderr pipe: %w", err)
	}

	logger := c.logger.With("attempt_id", a.id, "attempt", n, "crf", p.CRF)
	logger.Info("starting encode", "input", input, "output", output)
	logger.Debug("ffmpeg command", "args", strings.Join(args, " "))
	c.state.addLog(fmt.Sprintf("Attempt %d: CRF %d -> %s", n, p.CRF, output))

	if err := cmd.Start(); err != nil {
		if actx.Err() != nil {
			logger.Info("encode cancelled before start")
			metrics.AttemptsTotal.WithLabelValues(OutcomeCancelled.String()).Inc()
			return attemptResult{Outcome: OutcomeCancelled}, nil
		}
		return attemptResult{Outcome: OutcomeFailed}, fmt.Errorf("start ffmpeg: %w", err)
	}

	// Closing the pipe unblocks the reader as soon as cancellation starts
	stopClose := context.AfterFunc(actx, func() { stderr.Close() })

	monitorErr := make(chan error, 1)
	go func() {
		monitorErr <- c.state.monitor(stderr, a.start, a.duration)
	}()

	readErr := <-monitorErr
	stopClose()
	waitErr := cmd.Wait()
	elapsed := time.Since(a.start)
	metrics.AttemptDuration.Observe(elapsed.Seconds())

	result := attemptResult{LastLine: c.state.load().CurrentLine}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case waitErr != nil && actx.Err() != nil:
		result.Outcome = OutcomeCancelled
		if err := removeWithRetry(output); err != nil {
			logger.Warn("could not remove partial output", "output", output, "error", err)
		}
		logger.Info("encode cancelled", "elapsed", elapsed)

	case waitErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return attemptResult{Outcome: OutcomeFailed}, fmt.Errorf("wait ffmpeg: %w", waitErr)
		}
		result.Outcome = OutcomeFailed
		logger.Error("encode failed", "exit_code", result.ExitCode, "last_line", result.LastLine)
		c.state.addLog(fmt.Sprintf("Encoding error: %v", waitErr))

	default:
		if readErr != nil {
			logger.Warn("progress reader error", "error", readErr)
		}
		result.Outcome = OutcomeSuccess
		c.state.update(func(s *Snapshot) {
			s.Progress = 100
			s.ETA = 0
			s.ETAAvailable = false
		})
		logger.Info("encode completed", "elapsed", elapsed)
	}

	metrics.AttemptsTotal.WithLabelValues(result.Outcome.String()).Inc()
	return result, nil
}

// removeWithRetry deletes path, giving ffmpeg a moment to release its
// handle. A missing file counts as removed.
func removeWithRetry(path string) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return err
}
