package encoder

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable copy of the compressor's progress state
type Snapshot struct {
	// Progress is 0-99 while an attempt runs and 100 once it exits cleanly
	Progress    int
	Processing  bool
	CurrentLine string // last line ffmpeg wrote to stderr
	Error       string

	Speed        float64 // encoded seconds per wall-clock second
	ETA          time.Duration
	ETAAvailable bool
	Elapsed      time.Duration // since Compress was called

	// Target-size searches run several attempts
	Attempt   int
	AttemptID string
	CRF       int

	StartedAt time.Time
}

var (
	outTimeRe = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	speedRe   = regexp.MustCompile(`speed=\s*(\d+(?:\.\d+)?)x`)
)

// parseEncodedTime extracts the time=HH:MM:SS.ff field in seconds
func parseEncodedTime(line string) (float64, bool) {
	m := outTimeRe.FindStringSubmatch(line)
	if len(m) < 4 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(m[1])
	mins, err2 := strconv.Atoi(m[2])
	secs, err3 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(hours*3600+mins*60) + secs, true
}

// parseSpeed extracts the speed=N.NNx multiplier. "speed=N/A" does not match.
func parseSpeed(line string) (float64, bool) {
	m := speedRe.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0, false
	}
	speed, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return speed, true
}

// computeProgress maps encoded time onto 0-99. 100 is reserved for a clean exit.
func computeProgress(encoded, duration float64) int {
	if duration <= 0 || encoded <= 0 {
		return 0
	}
	ratio := encoded / duration
	switch {
	case math.IsNaN(ratio):
		return 0
	case ratio >= 1:
		return 99
	}
	return min(int(math.Floor(100*ratio)), 99)
}

// estimateRemaining extrapolates the time left from the elapsed wall clock
func estimateRemaining(elapsed time.Duration, progress int) (time.Duration, bool) {
	if progress <= 0 || progress >= 100 || elapsed <= 0 {
		return 0, false
	}
	return time.Duration(float64(elapsed) / float64(progress) * float64(100-progress)), true
}

// scanLines splits on \n and on \r, which ffmpeg uses to redraw its stats line
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func isStatsLine(line string) bool {
	return strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size=") || outTimeRe.MatchString(line)
}

const maxLogs = 100

// telemetry publishes Snapshots. Writers are serialized by mu; readers
// load the current pointer without locking.
type telemetry struct {
	mu   sync.Mutex
	cur  atomic.Pointer[Snapshot]
	logs []string
}

func newTelemetry() *telemetry {
	t := &telemetry{}
	t.cur.Store(&Snapshot{})
	return t
}

func (t *telemetry) load() Snapshot {
	s := *t.cur.Load()
	if s.Processing && !s.StartedAt.IsZero() {
		s.Elapsed = time.Since(s.StartedAt)
	}
	return s
}

// update copies the current snapshot, applies fn and publishes the result
func (t *telemetry) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := *t.cur.Load()
	fn(&next)
	t.cur.Store(&next)
}

func (t *telemetry) addLog(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs = append(t.logs, line)
	if len(t.logs) > maxLogs {
		t.logs = t.logs[len(t.logs)-maxLogs:]
	}
}

func (t *telemetry) copyLogs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	logs := make([]string, len(t.logs))
	copy(logs, t.logs)
	return logs
}

func (t *telemetry) resetLogs() {
	t.mu.Lock()
	t.logs = nil
	t.mu.Unlock()
}

// observe applies one diagnostic line to the snapshot. Lines that match
// neither pattern only replace CurrentLine.
func (t *telemetry) observe(line string, attemptStart time.Time, duration float64, now time.Time) {
	speed, speedOK := parseSpeed(line)
	encoded, timeOK := parseEncodedTime(line)

	t.update(func(s *Snapshot) {
		s.CurrentLine = line
		if speedOK {
			s.Speed = speed
		}
		if !timeOK {
			return
		}
		// Monotonic within an attempt
		if pct := computeProgress(encoded, duration); pct > s.Progress {
			s.Progress = pct
		}
		if eta, ok := estimateRemaining(now.Sub(attemptStart), s.Progress); ok {
			s.ETA = eta
			s.ETAAvailable = true
		}
	})

	if !isStatsLine(line) {
		t.addLog(line)
	}
}

// monitor drains ffmpeg's stderr until EOF or until the stream is closed
// by a cancellation. It only touches the telemetry, never the process.
func (t *telemetry) monitor(r io.Reader, attemptStart time.Time, duration float64) error {
	scanner := bufio.NewScanner(r)
	const maxScannerBuffer = 1024 * 1024
	scanner.Buffer(make([]byte, 0, 64*1024), maxScannerBuffer)
	scanner.Split(scanLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		t.observe(line, attemptStart, duration, time.Now())
	}
	return scanner.Err()
}
