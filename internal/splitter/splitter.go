// Package splitter turns an uploaded audiobook into fixed-duration
// audio segments via ffprobe/ffmpeg. Output is speech-optimized for
// low bandwidth: 16 kHz mono, mp3 at 48k by default.
package splitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Segment describes one extracted chunk file with its absolute offsets
// into the source audio.
type Segment struct {
	Filename string
	Path     string
	Start    float64
	End      float64
}

// Config controls segmentation.
type Config struct {
	OutputDir    string
	ChunkSeconds int    // duration of each segment
	Format       string // "mp3", "opus" or "wav"
	Bitrate      string // for compressed formats, e.g. "48k"
	Concurrency  int    // parallel ffmpeg invocations
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Splitter extracts segments from an audiobook file.
type Splitter struct {
	ffmpegPath  string
	ffprobePath string
	cfg         Config
	runner      commandRunner
	log         *zap.Logger
}

// New builds a splitter with defaults filled in.
func New(cfg Config, log *zap.Logger) *Splitter {
	if cfg.ChunkSeconds <= 0 {
		cfg.ChunkSeconds = 1200
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "48k"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Splitter{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		cfg:         cfg,
		runner:      execRunner{},
		log:         log,
	}
}

// Split probes the input duration and extracts all segments, at most
// cfg.Concurrency at a time. Segment filenames embed the job id and a
// zero-padded index so they sort naturally.
func (s *Splitter) Split(ctx context.Context, inputPath, jobID string) ([]Segment, error) {
	duration, err := s.probeDuration(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return nil, err
	}

	segments := planSegments(duration, float64(s.cfg.ChunkSeconds))
	for i := range segments {
		segments[i].Filename = fmt.Sprintf("%s_chunk_%04d.%s", jobID, i, s.cfg.Format)
		segments[i].Path = filepath.Join(s.cfg.OutputDir, segments[i].Filename)
	}

	sem := make(chan struct{}, s.cfg.Concurrency)
	errCh := make(chan error, len(segments))
	var wg sync.WaitGroup
	for _, seg := range segments {
		wg.Add(1)
		go func(seg Segment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			errCh <- s.extract(ctx, inputPath, seg)
		}(seg)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}

	s.log.Info("audiobook split",
		zap.String("job", jobID),
		zap.Float64("duration", duration),
		zap.Int("segments", len(segments)))
	return segments, nil
}

func (s *Splitter) probeDuration(ctx context.Context, inputPath string) (float64, error) {
	res, err := s.runner.Run(ctx, s.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		inputPath)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w (%s)", inputPath, err, res.Stderr)
	}

	var info struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	duration, err := strconv.ParseFloat(info.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("invalid duration %q for %s", info.Format.Duration, inputPath)
	}
	return duration, nil
}

func (s *Splitter) extract(ctx context.Context, inputPath string, seg Segment) error {
	args := buildExtractArgs(inputPath, seg, s.cfg.Format, s.cfg.Bitrate)
	res, err := s.runner.Run(ctx, s.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg extract %s: %w (%s)", seg.Filename, err, res.Stderr)
	}
	return nil
}

// planSegments divides the duration into fixed-size spans; the final
// span absorbs the remainder.
func planSegments(duration, chunkSeconds float64) []Segment {
	n := int(math.Ceil(duration / chunkSeconds))
	if n < 1 {
		n = 1
	}
	out := make([]Segment, n)
	for i := 0; i < n; i++ {
		start := float64(i) * chunkSeconds
		end := math.Min(start+chunkSeconds, duration)
		out[i] = Segment{Start: start, End: end}
	}
	return out
}

// buildExtractArgs seeks before the input for fast extraction and
// downmixes to 16 kHz mono, the rate speech models expect.
func buildExtractArgs(inputPath string, seg Segment, format, bitrate string) []string {
	args := []string{
		"-y",
		"-ss", formatSeconds(seg.Start),
		"-i", inputPath,
		"-t", formatSeconds(seg.End - seg.Start),
		"-ar", "16000",
		"-ac", "1",
	}
	switch format {
	case "mp3":
		args = append(args, "-c:a", "libmp3lame", "-b:a", bitrate)
	case "opus":
		args = append(args, "-c:a", "libopus", "-b:a", bitrate)
	default: // wav
		args = append(args, "-c:a", "pcm_s16le")
	}
	return append(args, seg.Path)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
