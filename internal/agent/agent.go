// Package agent implements the worker-side client: register with the
// master, poll for chunk leases, fetch audio, transcribe, and submit
// results.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scribeflow/api/internal/model"
)

const (
	heartbeatInterval = 30 * time.Second
	idleSleep         = 5 * time.Second
)

// Engine produces a transcript for one audio file.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (*model.ChunkTranscript, error)
}

// Agent is one worker process. It holds a single lease at a time: the
// master tracks liveness per chunk, so an agent that dies mid-task
// simply lets the lease expire.
type Agent struct {
	masterURL string
	workerID  string
	engine    Engine
	client    *http.Client
	workDir   string
	log       *zap.Logger
}

// New builds an agent talking to masterURL. A fresh worker id is
// generated per process so restarts never collide with a stale lease.
func New(masterURL string, engine Engine, workDir string, log *zap.Logger) *Agent {
	return &Agent{
		masterURL: masterURL,
		workerID:  "worker-" + uuid.New().String()[:6],
		engine:    engine,
		client:    &http.Client{Timeout: 5 * time.Minute},
		workDir:   workDir,
		log:       log,
	}
}

// WorkerID returns the generated worker identity.
func (a *Agent) WorkerID() string { return a.workerID }

// Run registers, starts the heartbeat, and polls for work until ctx is
// cancelled. Transient master errors are logged and retried; the loop
// only exits on cancellation.
func (a *Agent) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.workDir, 0o755); err != nil {
		return fmt.Errorf("work dir: %w", err)
	}

	if err := a.register(ctx); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.log.Info("registered with master",
		zap.String("worker", a.workerID),
		zap.String("master", a.masterURL))

	go a.heartbeatLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task, err := a.poll(ctx)
		if err != nil {
			a.log.Warn("poll failed", zap.Error(err))
			a.sleep(ctx, idleSleep)
			continue
		}
		if task == nil {
			a.sleep(ctx, idleSleep)
			continue
		}

		if err := a.process(ctx, task); err != nil {
			// The lease will expire and the chunk gets reassigned, so a
			// failed attempt needs no explicit release.
			a.log.Error("chunk failed",
				zap.String("job", task.JobID),
				zap.Int("index", task.Index),
				zap.Error(err))
		}
	}
}

func (a *Agent) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	var out map[string]any
	return a.post(ctx, "/api/workers/register", model.RegisterWorkerRequest{
		WorkerID: a.workerID,
		Hostname: hostname,
	}, &out)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var out map[string]any
			if err := a.post(ctx, "/api/workers/"+a.workerID+"/heartbeat", nil, &out); err != nil {
				a.log.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (a *Agent) poll(ctx context.Context) (*model.TaskDescriptor, error) {
	var resp model.PollResponse
	if err := a.get(ctx, "/api/tasks/next?workerId="+a.workerID, &resp); err != nil {
		return nil, err
	}
	return resp.Task, nil
}

// process runs one lease end to end: ack, download, transcribe, submit.
func (a *Agent) process(ctx context.Context, task *model.TaskDescriptor) error {
	a.log.Info("chunk received",
		zap.String("job", task.JobID),
		zap.Int("index", task.Index),
		zap.Int("attempt", task.Attempt))

	var verdict model.SubmitVerdict
	err := a.post(ctx, "/api/tasks/ack", model.AckRequest{
		JobID:    task.JobID,
		Index:    task.Index,
		WorkerID: a.workerID,
	}, &verdict)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if !verdict.Accepted {
		a.log.Warn("ack rejected, abandoning chunk", zap.String("reason", verdict.Reason))
		return nil
	}

	audioPath, err := a.download(ctx, task.SourceRef)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer os.Remove(audioPath)

	start := time.Now()
	transcript, err := a.engine.Transcribe(ctx, audioPath)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	processingSec := time.Since(start).Seconds()

	err = a.post(ctx, "/api/tasks/complete", model.CompleteRequest{
		JobID:         task.JobID,
		Index:         task.Index,
		WorkerID:      a.workerID,
		Transcript:    *transcript,
		ProcessingSec: processingSec,
	}, &verdict)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if !verdict.Accepted {
		a.log.Warn("submission rejected",
			zap.String("job", task.JobID),
			zap.Int("index", task.Index),
			zap.String("reason", verdict.Reason))
		return nil
	}

	a.log.Info("chunk submitted",
		zap.String("job", task.JobID),
		zap.Int("index", task.Index),
		zap.Float64("processingSec", processingSec))
	return nil
}

// download fetches the chunk audio into the work directory.
func (a *Agent) download(ctx context.Context, sourceRef string) (string, error) {
	name := filepath.Base(sourceRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.masterURL+"/api/chunks/"+name, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chunk download: status %d", resp.StatusCode)
	}

	path := filepath.Join(a.workDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	return path, f.Close()
}

func (a *Agent) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.masterURL+path, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *Agent) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.masterURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *Agent) do(req *http.Request, out any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// sleep waits for d plus a little jitter so idle workers do not poll in
// lockstep.
func (a *Agent) sleep(ctx context.Context, d time.Duration) {
	jitter := time.Duration(rand.Int63n(int64(d / 2)))
	t := time.NewTimer(d + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
