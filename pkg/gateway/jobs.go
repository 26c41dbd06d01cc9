package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// jobTimeout is the CLI invocation's hard wall-clock timeout.
const jobTimeout = 10 * time.Minute

// JobTransport runs a job's prompt against the external LLM CLI.
type JobTransport interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// CLIJobTransport shells out to the claude CLI with temp-file stdin and
// stdout,
// mirroring job_runner.py's _run_claude.
type CLIJobTransport struct {
	BinaryPath string
	Model      string
}

func (t CLIJobTransport) Run(ctx context.Context, prompt string) (string, error) {
	binary := t.BinaryPath
	if binary == "" {
		binary = "claude"
	}
	model := t.Model
	if model == "" {
		model = "opus"
	}

	tmp, err := os.CreateTemp("", "avt-job-input-*.md")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(prompt); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	stdin, err := os.Open(tmp.Name())
	if err != nil {
		return "", err
	}
	defer stdin.Close()

	outFile, err := os.CreateTemp("", "avt-job-output-*.md")
	if err != nil {
		return "", err
	}
	defer os.Remove(outFile.Name())
	defer outFile.Close()

	cmd := exec.CommandContext(ctx, binary, "--print", "--model", model)
	cmd.Stdin = stdin
	cmd.Stdout = outFile

	if err := cmd.Run(); err != nil {
		return "", err
	}
	out, err := os.ReadFile(outFile.Name())
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// JobRunner is a single-concurrency FIFO job queue for one project. Jobs
// are persisted as individual JSON files under dir so a gateway restart
// can recover and mark interrupted jobs failed.
type JobRunner struct {
	dir       string
	transport JobTransport
	onUpdate  func(Job)

	mu     sync.Mutex
	jobs   map[string]*Job
	queue  chan string
	wg     sync.WaitGroup
	closed bool
}

// NewJobRunner builds a JobRunner rooted at dir, recovering any
// persisted jobs (marking anything found `running` as `failed`, per the
// gateway-restart contract).
func NewJobRunner(dir string, transport JobTransport, onUpdate func(Job)) (*JobRunner, error) {
	r := &JobRunner{
		dir:       dir,
		transport: transport,
		onUpdate:  onUpdate,
		jobs:      map[string]*Job{},
		queue:     make(chan string, 256),
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := r.loadPersisted(); err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go r.worker()

	return r, nil
}

func (r *JobRunner) loadPersisted() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			continue
		}
		if job.Status == JobStatusRunning {
			job.Status = JobStatusFailed
			job.Error = "gateway restarted while job was running"
			now := time.Now().UTC()
			job.FinishedAt = &now
			r.persist(&job)
		}
		r.jobs[job.ID] = &job
		if job.Status == JobStatusQueued {
			r.queue <- job.ID
		}
	}
	return nil
}

// Submit enqueues a new job and returns immediately.
func (r *JobRunner) Submit(projectID, kind, prompt string) *Job {
	r.mu.Lock()
	job := &Job{
		ID:          uuid.NewString()[:8],
		ProjectID:   projectID,
		Kind:        kind,
		Prompt:      prompt,
		Status:      JobStatusQueued,
		SubmittedAt: time.Now().UTC(),
	}
	r.jobs[job.ID] = job
	r.mu.Unlock()

	r.persist(job)
	r.queue <- job.ID
	return job
}

// Get returns the job with the given id, or nil if unknown.
func (r *JobRunner) Get(id string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

// List returns all known jobs, most recently submitted first.
func (r *JobRunner) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.After(out[k].SubmittedAt) })
	return out
}

// Cancel cancels a queued or running job. A running job's status is set
// to cancelled but its subprocess is not killed — a documented
// limitation shared with the reference implementation.
func (r *JobRunner) Cancel(id string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || (job.Status != JobStatusQueued && job.Status != JobStatusRunning) {
		r.mu.Unlock()
		return false
	}
	job.Status = JobStatusCancelled
	now := time.Now().UTC()
	job.FinishedAt = &now
	snapshot := *job
	r.mu.Unlock()

	r.persist(&snapshot)
	if r.onUpdate != nil {
		r.onUpdate(snapshot)
	}
	return true
}

// worker is the single background goroutine draining the FIFO queue.
func (r *JobRunner) worker() {
	defer r.wg.Done()
	for id := range r.queue {
		r.runJob(id)
	}
}

func (r *JobRunner) runJob(id string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || job.Status == JobStatusCancelled {
		r.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	snapshot := *job
	r.mu.Unlock()

	r.persist(&snapshot)
	if r.onUpdate != nil {
		r.onUpdate(snapshot)
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	output, err := r.transport.Run(ctx, job.Prompt)

	r.mu.Lock()
	job, ok = r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if job.Status == JobStatusCancelled {
		r.mu.Unlock()
		return
	}
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
		slog.Warn("gateway: job failed", "job_id", id, "error", err)
	} else {
		job.Status = JobStatusCompleted
		job.Result = output
	}
	finished := time.Now().UTC()
	job.FinishedAt = &finished
	snapshot = *job
	r.mu.Unlock()

	r.persist(&snapshot)
	if r.onUpdate != nil {
		r.onUpdate(snapshot)
	}
}

func (r *JobRunner) persist(job *Job) {
	raw, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(r.dir, job.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return
	}
}

// Close stops accepting new jobs and waits for the worker to drain
// already-queued work currently in flight.
func (r *JobRunner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.queue)
	r.wg.Wait()
}
