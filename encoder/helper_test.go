package encoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"video-compressor/config"
)

// The fake ffmpeg writes (50-crf) * fakeSizeUnit bytes, so sizes shrink as CRF grows:
// 23 -> 1.69 MB, 26 -> 1.5, 29 -> 1.31, 32 -> 1.13, 35 -> 0.94, 38 -> 0.75
const fakeSizeUnit = 64 * 1024

func fakeOutputSize(crf int) int64 {
	return int64(50-crf) * fakeSizeUnit
}

const fakeProbeJSON = `{
  "streams": [
    {"codec_type": "audio", "codec_name": "aac"},
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080}
  ],
  "format": {"duration": "10.000000", "bit_rate": "2500000"}
}`

// fakeRunner re-executes the test binary as ffmpeg or ffprobe
type fakeRunner struct {
	mu          sync.Mutex
	scenario    string
	probeCalls  int
	ffmpegCalls int
	crfs        []int
	lastArgs    []string
}

func (f *fakeRunner) setScenario(s string) {
	f.mu.Lock()
	f.scenario = s
	f.mu.Unlock()
}

func (f *fakeRunner) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	tool := filepath.Base(name)

	f.mu.Lock()
	scenario := f.scenario
	switch tool {
	case "ffprobe":
		f.probeCalls++
	case "ffmpeg":
		f.ffmpegCalls++
		f.crfs = append(f.crfs, flagInt(args, "-crf"))
		f.lastArgs = append([]string(nil), args...)
	}
	f.mu.Unlock()

	cs := append([]string{"-test.run=^TestHelperProcess$", "--", tool}, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FAKE_SCENARIO="+scenario)
	return cmd
}

func (f *fakeRunner) calls() (probe, ffmpeg int, crfs []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCalls, f.ffmpegCalls, append([]int(nil), f.crfs...)
}

func flagInt(args []string, name string) int {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			v, _ := strconv.Atoi(args[i+1])
			return v
		}
	}
	return -1
}

func newTestCompressor(t *testing.T, scenario string) (*Compressor, *fakeRunner) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CancelTimeout = 5 * time.Second

	c := New(cfg, hclog.NewNullLogger())
	f := &fakeRunner{scenario: scenario}
	c.command = f.command
	c.prober.command = f.command
	return c, f
}

// writeInput creates a stand-in source file; the fake ffprobe ignores its content
func writeInput(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "source.mov")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0644))
	return path
}

// TestHelperProcess is not a real test. It is the fake ffmpeg/ffprobe.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) == 0 {
		os.Exit(2)
	}
	os.Exit(fakeTool(os.Getenv("FAKE_SCENARIO"), args[0], args[1:]))
}

func fakeTool(scenario, tool string, args []string) int {
	switch tool {
	case "ffprobe":
		return fakeProbe(scenario)
	case "ffmpeg":
		return fakeEncode(scenario, args)
	}
	fmt.Fprintf(os.Stderr, "unknown tool %q\n", tool)
	return 127
}

func fakeProbe(scenario string) int {
	switch scenario {
	case "notvideo":
		fmt.Fprintln(os.Stderr, "Invalid data found when processing input")
		return 1
	case "audioonly":
		fmt.Print(`{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"10.0"}}`)
		return 0
	case "noduration":
		fmt.Print(`{"streams":[{"codec_type":"video","width":640,"height":360}],"format":{"duration":"N/A"}}`)
		return 0
	}
	fmt.Print(fakeProbeJSON)
	return 0
}

func fakeEncode(scenario string, args []string) int {
	crf := flagInt(args, "-crf")
	output := args[len(args)-1]

	fail := scenario == "fail" || (scenario == "failfirst" && crf == 23)
	if fail {
		fmt.Fprint(os.Stderr, "Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'source.mov':\n")
		fmt.Fprint(os.Stderr, "Conversion failed!\n")
		return 1
	}

	if scenario == "slow" {
		if err := os.WriteFile(output, []byte("partial"), 0644); err != nil {
			return 1
		}
		for i := 0; i < 600; i++ {
			fmt.Fprintf(os.Stderr, "frame=%4d fps=25 q=28.0 size=%6dkB time=00:00:00.%02d bitrate=N/A speed=0.10x\r", i, i, i%100)
			time.Sleep(50 * time.Millisecond)
		}
		return 0
	}

	for i := 1; i <= 4; i++ {
		fmt.Fprintf(os.Stderr, "frame=%4d fps= 50 q=28.0 size=%6dkB time=00:00:0%d.50 bitrate= 400.0kbits/s speed=2.00x\r", i*60, i*64, i*2)
	}
	fmt.Fprint(os.Stderr, "\nvideo:500kB audio:100kB subtitle:0kB\n")

	if err := os.WriteFile(output, make([]byte, fakeOutputSize(crf)), 0644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
