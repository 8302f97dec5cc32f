package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-hclog"

	"video-compressor/config"
	"video-compressor/encoder"
	"video-compressor/history"
	"video-compressor/metrics"
	"video-compressor/tui"
)

func main() {
	os.Exit(run())
}

func run() int {
	output := flag.String("o", "", "Output file (default: compressed_<name>.<container> next to the input)")
	quality := flag.String("quality", "", "Quality level: high, medium, low")
	targetSize := flag.Float64("target-size", 0, "Target output size in MB (searches CRF values instead of a fixed quality)")
	container := flag.String("container", "", "Output container: mp4, avi, mkv, mov, webm")
	resolution := flag.String("resolution", "", "Resize to a preset: 4K, 1440p, 1080p, 720p, 480p, 360p")
	audio := flag.String("audio", "", "Audio profile: high, medium, low")
	configPath := flag.String("config", "", "Path to config.yaml (default: <data dir>/config.yaml)")
	plain := flag.Bool("plain", false, "Print progress lines instead of the interactive UI")
	probeOnly := flag.Bool("probe", false, "Print the input's metadata and exit")
	historyN := flag.Int("history", 0, "Print the last N compressions and exit")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	listPresets := flag.Bool("list-presets", false, "List quality, resolution, container and audio presets and exit")

	flag.Usage = func() {
		fmt.Println("Usage: video-compressor [options] <input-file>")
		fmt.Println()
		fmt.Println("Compresses a video with ffmpeg, at a fixed quality or under a target size.")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  video-compressor movie.mov                          # medium quality, mp4")
		fmt.Println("  video-compressor -quality=low -resolution=720p a.mkv")
		fmt.Println("  video-compressor -target-size=25 -container=webm clip.mp4")
	}

	flag.Parse()

	if *listPresets {
		printPresets(os.Stdout)
		return 0
	}

	path := *configPath
	if path == "" {
		path = filepath.Join(config.DefaultConfig().DataDir, "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	if *historyN > 0 {
		if err := printHistory(os.Stdout, cfg, *historyN); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return 1
	}
	inputFile := args[0]

	// The UI owns the terminal, so logs go to a file unless -plain
	var logOut io.Writer = os.Stderr
	if !*plain && !*probeOnly && cfg.LogFilePath() != "" {
		f, err := openLogFile(cfg.LogFilePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "video-compressor",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: logOut,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp := encoder.New(cfg, logger)

	if *probeOnly {
		meta, err := comp.Probe(ctx, inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		printMetadata(os.Stdout, inputFile, meta)
		return 0
	}

	req, err := buildRequest(cfg, inputFile, *output, *quality, *targetSize, *container, *resolution, *audio)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		return 1
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics listener stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	// Best effort; the compressor reports unreadable sources itself
	before, beforeErr := comp.Probe(ctx, inputFile)

	started := time.Now()
	if *plain {
		err = runPlain(ctx, comp, req)
	} else {
		err = runTUI(comp, req)
	}
	finished := time.Now()

	if errors.Is(err, encoder.ErrEncodeFailed) {
		// A failed fixed-quality encode can leave a truncated file behind
		if rmErr := os.Remove(req.Output); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("could not remove failed output", "output", req.Output, "error", rmErr)
		}
	}

	var after encoder.VideoMetadata
	if err == nil {
		after, _ = comp.Probe(context.Background(), req.Output)
	}

	recordJob(logger, cfg, req, comp.Snapshot(), err, before, after, started, finished)

	switch {
	case err == nil:
		if *plain && beforeErr == nil {
			printComparison(os.Stdout, before, after)
		}
		fmt.Printf("Saved %s\n", req.Output)
		return 0
	case errors.Is(err, encoder.ErrCancelled):
		fmt.Fprintln(os.Stderr, "Compression cancelled")
		return 130
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", comp.Error())
		return 1
	}
}

// errStrategyConflict is a usage error: a run has exactly one strategy
var errStrategyConflict = errors.New("-quality and -target-size cannot be combined")

// buildRequest fills unset options from the config defaults
func buildRequest(cfg config.Config, input, output, quality string, targetMB float64, container, resolution, audio string) (encoder.Request, error) {
	if quality != "" && targetMB != 0 {
		return encoder.Request{}, errStrategyConflict
	}

	c := config.Container(strings.ToLower(container))
	if c == "" {
		c = cfg.Defaults.Container
	}
	if audio == "" {
		audio = cfg.Defaults.Audio
	}
	if output == "" {
		output = defaultOutputPath(input, c)
	}

	strategy := encoder.FixedQuality(cfg.Defaults.Quality)
	switch {
	case targetMB != 0:
		strategy = encoder.TargetSize(targetMB)
	case quality != "":
		strategy = encoder.FixedQuality(config.Quality(strings.ToLower(quality)))
	}

	return encoder.Request{
		Input:      input,
		Output:     output,
		Strategy:   strategy,
		Container:  c,
		Resolution: resolution,
		Audio:      audio,
	}, nil
}

// defaultOutputPath places compressed_<base>.<container> next to the input
func defaultOutputPath(input string, c config.Container) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(filepath.Dir(input), "compressed_"+base+"."+string(c))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func runTUI(comp *encoder.Compressor, req encoder.Request) error {
	model := tui.NewModel(comp, req)
	p := tea.NewProgram(model, tea.WithAltScreen())

	final, err := p.Run()
	if err != nil {
		// The UI died; make sure ffmpeg does not outlive it
		comp.Cancel()
		return err
	}
	m, ok := final.(tui.Model)
	if !ok {
		return nil
	}
	if m.State == tui.StateIdle || m.State == tui.StateCompressing || m.State == tui.StateCancelling {
		comp.Cancel()
		return encoder.ErrCancelled
	}
	return m.Err
}

// runPlain prints one status line per second until Compress returns.
// Interrupting the process cancels the compression through ctx.
func runPlain(ctx context.Context, comp *encoder.Compressor, req encoder.Request) error {
	done := make(chan error, 1)
	go func() {
		done <- comp.Compress(ctx, req)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			fmt.Fprintln(os.Stderr)
			return err
		case <-ticker.C:
			s := comp.Snapshot()
			if !s.Processing {
				continue
			}
			eta := "--"
			if s.ETAAvailable {
				eta = s.ETA.Round(time.Second).String()
			}
			fmt.Fprintf(os.Stderr, "\rattempt %d  crf %d  %3d%%  speed %.2fx  eta %-8s", s.Attempt, s.CRF, s.Progress, s.Speed, eta)
		}
	}
}

func recordJob(logger hclog.Logger, cfg config.Config, req encoder.Request, snap encoder.Snapshot, err error,
	before, after encoder.VideoMetadata, started, finished time.Time) {
	store, openErr := history.Open(cfg.DataDir)
	if openErr != nil {
		logger.Warn("history unavailable", "error", openErr)
		return
	}
	defer store.Close()

	job := history.Job{
		Input:      req.Input,
		Output:     req.Output,
		Strategy:   req.Strategy.Kind.String(),
		Quality:    string(req.Strategy.Quality),
		TargetMB:   req.Strategy.TargetMB,
		Container:  string(req.Container),
		Resolution: req.Resolution,
		Success:    err == nil,
		Attempts:   snap.Attempt,
		InputMB:    before.SizeMB,
		OutputMB:   after.SizeMB,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err != nil {
		job.Error = snap.Error
		if job.Error == "" {
			job.Error = err.Error()
		}
	} else {
		job.FinalCRF = snap.CRF
	}

	if _, err := store.Record(context.Background(), job); err != nil {
		logger.Warn("could not record job", "error", err)
	}
}

func printHistory(w io.Writer, cfg config.Config, n int) error {
	store, err := history.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.Recent(context.Background(), n)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No compressions recorded yet.")
		return nil
	}

	for _, j := range jobs {
		status := "ok"
		if !j.Success {
			status = "FAILED"
		}
		setting := "quality " + j.Quality
		if j.Strategy == encoder.StrategyTargetSize.String() {
			setting = fmt.Sprintf("target %.1f MB", j.TargetMB)
		}
		fmt.Fprintf(w, "%s  %-6s  %s -> %s\n", j.FinishedAt.Format("2006-01-02 15:04"), status, j.Input, j.Output)
		fmt.Fprintf(w, "    %s, %s, %d attempt(s)", setting, j.Container, j.Attempts)
		if j.Success {
			fmt.Fprintf(w, ", crf %d, %.2f MB -> %.2f MB", j.FinalCRF, j.InputMB, j.OutputMB)
		}
		fmt.Fprintf(w, ", took %s\n", j.Duration().Round(time.Second))
		if j.Error != "" {
			fmt.Fprintf(w, "    %s\n", j.Error)
		}
	}
	return nil
}

func printPresets(w io.Writer) {
	fmt.Fprintln(w, "Quality levels:")
	for _, q := range config.AvailableQualities() {
		crf, _ := config.QualityCRF(q)
		fmt.Fprintf(w, "  %-8s CRF %d  %s\n", q, crf, config.PresetDescription(q))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Resolutions:")
	for _, r := range config.AvailableResolutions() {
		fmt.Fprintf(w, "  %-8s %dx%d, max %s\n", r.Name, r.Width, r.Height, r.MaxRate)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Containers:")
	for _, c := range config.AvailableContainers() {
		fmt.Fprintf(w, "  %-8s video %s, audio %s\n", c, c.VideoCodec(), c.AudioCodec())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Audio profiles:")
	for _, name := range config.AvailableAudioProfiles() {
		p, _ := config.GetAudioProfile(name, config.ContainerMP4)
		fmt.Fprintf(w, "  %-8s %s\n", name, p.Bitrate)
	}
}

func printMetadata(w io.Writer, path string, meta encoder.VideoMetadata) {
	fmt.Fprintf(w, "File:       %s\n", path)
	fmt.Fprintf(w, "Size:       %.2f MB\n", meta.SizeMB)
	fmt.Fprintf(w, "Duration:   %s\n", time.Duration(meta.Duration*float64(time.Second)).Round(time.Millisecond))
	fmt.Fprintf(w, "Resolution: %dx%d\n", meta.Width, meta.Height)
	fmt.Fprintf(w, "Codec:      %s\n", meta.Codec)
	fmt.Fprintf(w, "Bitrate:    %.2f Mbps\n", meta.BitrateMbps)
}

func printComparison(w io.Writer, before, after encoder.VideoMetadata) {
	fmt.Fprintf(w, "%-12s %12s %12s\n", "", "Original", "Compressed")
	fmt.Fprintf(w, "%-12s %12s %12s\n", "Size", fmt.Sprintf("%.2f MB", before.SizeMB), fmt.Sprintf("%.2f MB", after.SizeMB))
	fmt.Fprintf(w, "%-12s %12s %12s\n", "Resolution",
		fmt.Sprintf("%dx%d", before.Width, before.Height), fmt.Sprintf("%dx%d", after.Width, after.Height))
	fmt.Fprintf(w, "%-12s %12s %12s\n", "Codec", before.Codec, after.Codec)
	fmt.Fprintf(w, "%-12s %12s %12s\n", "Bitrate",
		fmt.Sprintf("%.2f Mbps", before.BitrateMbps), fmt.Sprintf("%.2f Mbps", after.BitrateMbps))
	if before.SizeMB > 0 {
		fmt.Fprintf(w, "Reduction:   %.1f%%\n", (1-after.SizeMB/before.SizeMB)*100)
	}
}
