package encoder

import (
	"bufio"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatClock(sec float64) string {
	h := int(sec) / 3600
	m := (int(sec) % 3600) / 60
	s := sec - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, s)
}

func TestParseEncodedTime(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"frame=  120 fps= 60 q=28.0 size=  512kB time=00:00:04.00 bitrate=1048.6kbits/s speed=2.01x", 4, true},
		{"size=    1024kB time=01:02:03.50 bitrate= 123.4kbits/s", 3723.5, true},
		{"time=00:10:00", 600, true},
		{"time= 00:00:01.25", 1.25, true},
		{"time=N/A bitrate=N/A", 0, false},
		{"time=-577014:32:22.77", 0, false},
		{"Stream #0:0: Video: h264", 0, false},
		{"", 0, false},
	}

	for _, tc := range tests {
		got, ok := parseEncodedTime(tc.line)
		assert.Equal(t, tc.ok, ok, "line %q", tc.line)
		assert.InDelta(t, tc.want, got, 0.001, "line %q", tc.line)
	}
}

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"speed=1x", 1, true},
		{"speed=1.5x", 1.5, true},
		{"speed=  0.25x", 0.25, true},
		{"frame=1 time=00:00:01.00 bitrate=N/A speed=12.3x    ", 12.3, true},
		{"speed=N/A", 0, false},
		{"speed=", 0, false},
		{"no speed here", 0, false},
	}

	for _, tc := range tests {
		got, ok := parseSpeed(tc.line)
		assert.Equal(t, tc.ok, ok, "line %q", tc.line)
		assert.InDelta(t, tc.want, got, 0.001, "line %q", tc.line)
	}
}

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		encoded, duration float64
		want              int
	}{
		{0, 10, 0},
		{5, 10, 50},
		{9.99, 10, 99},
		{10, 10, 99},
		{25, 10, 99},
		{1, 0, 0},
		{-1, 10, 0},
		{3.33, 10, 33},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, computeProgress(tc.encoded, tc.duration), "%v/%v", tc.encoded, tc.duration)
	}
}

// Progress stays within [0, 99] for any encoded time and positive duration
func TestComputeProgressBounds_Property(t *testing.T) {
	f := func(encoded, duration float64) bool {
		if math.IsNaN(encoded) || math.IsNaN(duration) || math.IsInf(encoded, 0) || math.IsInf(duration, 0) {
			return true
		}
		p := computeProgress(encoded, duration)
		return p >= 0 && p <= 99
	}
	require.NoError(t, quick.Check(f, &quick.Config{MaxCount: 1000}))
}

func TestEstimateRemaining(t *testing.T) {
	eta, ok := estimateRemaining(10*time.Second, 25)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, eta)

	eta, ok = estimateRemaining(90*time.Second, 90)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, eta)

	_, ok = estimateRemaining(10*time.Second, 0)
	assert.False(t, ok)
	_, ok = estimateRemaining(0, 50)
	assert.False(t, ok)
	_, ok = estimateRemaining(10*time.Second, 100)
	assert.False(t, ok)
}

func TestScanLines(t *testing.T) {
	input := "header\nframe=1 time=00:00:01.00\rframe=2 time=00:00:02.00\r\nlast"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanLines)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"header", "frame=1 time=00:00:01.00", "frame=2 time=00:00:02.00", "", "last"}, lines)
}

func TestObserve_UpdatesSnapshot(t *testing.T) {
	tel := newTelemetry()
	start := time.Now()

	tel.observe("frame=  240 fps=48 q=28.0 size=1024kB time=00:00:05.00 bitrate=1677.7kbits/s speed=2.50x", start, 10, start.Add(4*time.Second))
	s := tel.load()
	assert.Equal(t, 50, s.Progress)
	assert.InDelta(t, 2.5, s.Speed, 0.001)
	assert.True(t, s.ETAAvailable)
	assert.Equal(t, 4*time.Second, s.ETA)
	assert.Contains(t, s.CurrentLine, "time=00:00:05.00")

	// Unparseable lines only replace the current line
	tel.observe("[libx264 @ 0x55d] frame I:1 Avg QP:20.00 size: 12345", start, 10, start.Add(5*time.Second))
	s = tel.load()
	assert.Equal(t, 50, s.Progress)
	assert.InDelta(t, 2.5, s.Speed, 0.001)
	assert.Equal(t, "[libx264 @ 0x55d] frame I:1 Avg QP:20.00 size: 12345", s.CurrentLine)

	// Stats lines are not kept in the log ring
	assert.Equal(t, []string{"[libx264 @ 0x55d] frame I:1 Avg QP:20.00 size: 12345"}, tel.copyLogs())
}

func TestObserve_ProgressNeverDecreases(t *testing.T) {
	tel := newTelemetry()
	start := time.Now()

	tel.observe("time=00:00:06.00 speed=1x", start, 10, start.Add(time.Second))
	tel.observe("time=00:00:03.00 speed=1x", start, 10, start.Add(2*time.Second))
	assert.Equal(t, 60, tel.load().Progress)
}

// Within one attempt progress is non-decreasing and capped at 99
func TestObserveMonotonic_Property(t *testing.T) {
	f := func(times []uint16) bool {
		tel := newTelemetry()
		start := time.Now().Add(-time.Minute)
		prev := 0
		for _, ts := range times {
			line := fmt.Sprintf("frame=1 time=%s bitrate=N/A speed=1.0x", formatClock(float64(ts%700)))
			tel.observe(line, start, 600, time.Now())
			p := tel.load().Progress
			if p < prev || p > 99 {
				return false
			}
			prev = p
		}
		return true
	}
	require.NoError(t, quick.Check(f, &quick.Config{MaxCount: 200}))
}

func TestMonitor_ReadsCarriageReturnStream(t *testing.T) {
	tel := newTelemetry()
	stream := strings.Join([]string{
		"Input #0, matroska,webm, from 'in.mkv':",
		"  Duration: 00:00:20.00, start: 0.000000, bitrate: 3000 kb/s",
	}, "\n") + "\n" +
		"frame=  100 fps=50 q=28.0 size=  256kB time=00:00:05.00 bitrate= 419.4kbits/s speed=2.5x\r" +
		"frame=  200 fps=50 q=28.0 size=  512kB time=00:00:10.00 bitrate= 419.4kbits/s speed=2.5x\r" +
		"frame=  300 fps=50 q=28.0 size=  768kB time=00:00:15.00 bitrate= 419.4kbits/s speed=3.0x\r\n" +
		"video:900kB audio:100kB\n"

	require.NoError(t, tel.monitor(strings.NewReader(stream), time.Now(), 20))

	s := tel.load()
	assert.Equal(t, 75, s.Progress)
	assert.InDelta(t, 3.0, s.Speed, 0.001)
	assert.Equal(t, "video:900kB audio:100kB", s.CurrentLine)
	assert.Equal(t, []string{
		"Input #0, matroska,webm, from 'in.mkv':",
		"Duration: 00:00:20.00, start: 0.000000, bitrate: 3000 kb/s",
		"video:900kB audio:100kB",
	}, tel.copyLogs())
}

func TestTelemetry_LogRingIsBounded(t *testing.T) {
	tel := newTelemetry()
	for i := 0; i < maxLogs+25; i++ {
		tel.addLog(fmt.Sprintf("line %d", i))
	}
	logs := tel.copyLogs()
	require.Len(t, logs, maxLogs)
	assert.Equal(t, "line 25", logs[0])
	assert.Equal(t, fmt.Sprintf("line %d", maxLogs+24), logs[len(logs)-1])
}

func TestTelemetry_ConcurrentReaders(t *testing.T) {
	tel := newTelemetry()
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			tel.observe(fmt.Sprintf("time=%s speed=1x", formatClock(float64(i)/10)), start, 50, time.Now())
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := 0
			for i := 0; i < 500; i++ {
				p := tel.load().Progress
				if p < prev {
					t.Errorf("progress went backwards: %d -> %d", prev, p)
					return
				}
				prev = p
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 99, tel.load().Progress)
}
