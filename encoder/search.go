package encoder

import (
	"context"
	"fmt"

	"video-compressor/metrics"
)

// searchTargetSize walks the CRF ladder from finest to coarsest and keeps
// the first output whose size on disk is at most ceilingMB. Every output
// that is too large, or whose encode failed, is deleted before the next
// step. When the ladder runs out no output remains.
func (c *Compressor) searchTargetSize(ctx context.Context, input, output string, ceilingMB float64, params Params) error {
	steps := c.cfg.Ladder.Steps()
	logger := c.logger.With("output", output, "ceiling_mb", ceilingMB)

	tried := 0
	defer func() { metrics.SearchSteps.Observe(float64(tried)) }()

	for _, crf := range steps {
		params.CRF = crf
		tried++

		res, err := c.invoke(ctx, input, output, params)
		if err != nil {
			if rmErr := removeWithRetry(output); rmErr != nil {
				logger.Warn("could not remove output", "error", rmErr)
			}
			return err
		}

		switch res.Outcome {
		case OutcomeCancelled:
			return ErrCancelled
		case OutcomeFailed:
			logger.Warn("ladder step failed, trying next", "crf", crf, "exit_code", res.ExitCode)
			if err := removeWithRetry(output); err != nil {
				return fmt.Errorf("remove failed output: %w", err)
			}
			continue
		}

		sizeMB, err := fileSizeMB(output)
		if err != nil {
			return fmt.Errorf("stat output: %w", err)
		}
		if sizeMB <= ceilingMB {
			logger.Info("target size reached", "crf", crf, "size_mb", sizeMB, "steps", tried)
			c.state.addLog(fmt.Sprintf("CRF %d: %.2f MB fits under %.2f MB", crf, sizeMB, ceilingMB))
			return nil
		}

		logger.Info("output too large, trying coarser CRF", "crf", crf, "size_mb", sizeMB)
		c.state.addLog(fmt.Sprintf("CRF %d: %.2f MB exceeds %.2f MB", crf, sizeMB, ceilingMB))
		if err := removeWithRetry(output); err != nil {
			return fmt.Errorf("remove oversized output: %w", err)
		}
	}

	first, last := 0, 0
	if len(steps) > 0 {
		first, last = steps[0], steps[len(steps)-1]
	}
	return fmt.Errorf("%w: no CRF between %d and %d produced a file under %.2f MB", ErrSearchExhausted, first, last, ceilingMB)
}
