package splitter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakeRunner records invocations and serves canned output per binary.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	probeOut string
	fail     bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.fail {
		return commandResult{ExitCode: 1, Stderr: "boom"}, fmt.Errorf("exit status 1")
	}
	if strings.Contains(name, "ffprobe") {
		return commandResult{Stdout: f.probeOut}, nil
	}
	return commandResult{}, nil
}

func TestPlanSegments(t *testing.T) {
	tests := []struct {
		duration float64
		chunk    float64
		want     int
		lastEnd  float64
	}{
		{3600, 1200, 3, 3600},
		{3601, 1200, 4, 3601},
		{100, 1200, 1, 100},
		{1200, 1200, 1, 1200},
	}
	for _, tt := range tests {
		segs := planSegments(tt.duration, tt.chunk)
		if len(segs) != tt.want {
			t.Errorf("planSegments(%v, %v) = %d segments, want %d", tt.duration, tt.chunk, len(segs), tt.want)
			continue
		}
		if segs[0].Start != 0 {
			t.Errorf("first segment starts at %v", segs[0].Start)
		}
		last := segs[len(segs)-1]
		if last.End != tt.lastEnd {
			t.Errorf("last segment ends at %v, want %v", last.End, tt.lastEnd)
		}
		for i := 1; i < len(segs); i++ {
			if segs[i].Start != segs[i-1].End {
				t.Errorf("gap between segment %d and %d", i-1, i)
			}
		}
	}
}

func TestBuildExtractArgs(t *testing.T) {
	seg := Segment{Start: 1200, End: 2400, Path: "/chunks/j1_chunk_0001.mp3"}
	args := strings.Join(buildExtractArgs("/in/book.m4b", seg, "mp3", "48k"), " ")

	for _, want := range []string{
		"-ss 1200", "-t 1200", "-ar 16000", "-ac 1",
		"-c:a libmp3lame", "-b:a 48k", "/chunks/j1_chunk_0001.mp3",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}

	wav := strings.Join(buildExtractArgs("/in/book.m4b", seg, "wav", ""), " ")
	if !strings.Contains(wav, "pcm_s16le") {
		t.Errorf("wav args missing pcm codec: %s", wav)
	}
}

func TestSplit(t *testing.T) {
	runner := &fakeRunner{probeOut: `{"format":{"duration":"2500.50"}}`}
	s := New(Config{OutputDir: t.TempDir(), ChunkSeconds: 1200}, zap.NewNop())
	s.runner = runner

	segs, err := s.Split(context.Background(), "/in/book.m4b", "j1")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	if segs[0].Filename != "j1_chunk_0000.mp3" {
		t.Errorf("filename = %q", segs[0].Filename)
	}
	if segs[2].End != 2500.5 {
		t.Errorf("last end = %v, want 2500.5", segs[2].End)
	}

	// One probe plus one extract per segment.
	runner.mu.Lock()
	calls := len(runner.calls)
	runner.mu.Unlock()
	if calls != 4 {
		t.Errorf("runner invoked %d times, want 4", calls)
	}
}

func TestSplitProbeFailure(t *testing.T) {
	runner := &fakeRunner{fail: true}
	s := New(Config{OutputDir: t.TempDir()}, zap.NewNop())
	s.runner = runner

	if _, err := s.Split(context.Background(), "/in/book.m4b", "j1"); err == nil {
		t.Fatal("expected error from failed probe")
	}
}

func TestProbeInvalidDuration(t *testing.T) {
	runner := &fakeRunner{probeOut: `{"format":{}}`}
	s := New(Config{OutputDir: t.TempDir()}, zap.NewNop())
	s.runner = runner

	if _, err := s.probeDuration(context.Background(), "/in/book.m4b"); err == nil {
		t.Fatal("expected error for missing duration")
	}
}
