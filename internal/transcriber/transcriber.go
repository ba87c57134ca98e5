// Package transcriber runs whisper.cpp over one audio chunk and parses
// its JSON output into timestamped segments.
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/scribeflow/api/internal/model"
)

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

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

// Transcriber invokes whisper.cpp with JSON output enabled.
type Transcriber struct {
	whisperPath string
	modelPath   string
	language    string
	runner      commandRunner
	readFile    func(name string) ([]byte, error)
}

// New builds a transcriber. language may be empty or "auto" for
// autodetection.
func New(whisperPath, modelPath, language string) *Transcriber {
	if whisperPath == "" {
		whisperPath = "whisper.cpp"
	}
	return &Transcriber{
		whisperPath: whisperPath,
		modelPath:   modelPath,
		language:    language,
		runner:      execRunner{},
		readFile:    os.ReadFile,
	}
}

// Transcribe runs the model over audioPath and returns the chunk
// transcript with timestamps relative to the chunk start.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (*model.ChunkTranscript, error) {
	outBase := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	args := buildArgs(t.modelPath, audioPath, outBase, t.language)

	res, err := t.runner.Run(ctx, t.whisperPath, args...)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp failed (exit %d): %w", res.ExitCode, err)
	}

	jsonPath := outBase + ".json"
	data, err := t.readFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp output missing: %w", err)
	}
	defer os.Remove(jsonPath)

	return parseOutput(data)
}

// whisperOutput mirrors the whisper.cpp -oj schema; offsets are
// milliseconds from chunk start.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseOutput(data []byte) (*model.ChunkTranscript, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper.cpp json: %w", err)
	}

	ct := &model.ChunkTranscript{Language: out.Result.Language}
	for _, seg := range out.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		ct.Segments = append(ct.Segments, model.Segment{
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  text,
		})
	}
	if n := len(ct.Segments); n > 0 {
		ct.Duration = ct.Segments[n-1].End
	}
	return ct, nil
}

func buildArgs(modelPath, audioPath, outBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}
	if lang := strings.TrimSpace(language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}
	return args
}
