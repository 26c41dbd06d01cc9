package audit

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// maxEventsFileSize is the events.jsonl rotation threshold (10MB, matching
// the reference implementation).
const maxEventsFileSize = 10 * 1024 * 1024

// Processor reads newly appended events since the last checkpoint,
// ingests them into Stats, runs the Detector, records any anomalies, and
// spawns escalation for warning/critical ones. It self-serializes with a
// file lock so that a settle-check firing while a prior processor run is
// still active is a no-op, not a race.
type Processor struct {
	eventsPath     string
	checkpointPath string
	lockPath       string

	stats           *Stats
	detector        *Detector
	recommendations *Recommendations
	escalator       *Escalator
	directives      []Directive

	// spawnEscalation runs the escalation chain for an escalatable batch
	// of anomalies. Defaults to a tracked goroutine (see Supervisor in
	// pkg/pipeline for the same isolation idiom); overridable in tests.
	spawnEscalation func(anomalies []Anomaly)

	runCount int
	mu       sync.Mutex
}

// NewProcessor wires a Processor against auditDir (holding events.jsonl,
// checkpoint.json, .processor-lock) and the given statistics/detector/
// recommendations/escalator. escalator may be nil, in which case
// escalatable anomalies are recorded but never escalated.
func NewProcessor(auditDir string, stats *Stats, detector *Detector, recommendations *Recommendations,
	escalator *Escalator, directives []Directive) *Processor {

	p := &Processor{
		eventsPath:      filepath.Join(auditDir, "events.jsonl"),
		checkpointPath:  filepath.Join(auditDir, "checkpoint.json"),
		lockPath:        filepath.Join(auditDir, ".processor-lock"),
		stats:           stats,
		detector:        detector,
		recommendations: recommendations,
		escalator:       escalator,
		directives:      directives,
	}
	p.spawnEscalation = p.runEscalationInBackground
	return p
}

// ProcessResult summarizes one processor run, for logging/tests.
type ProcessResult struct {
	Skipped        bool
	EventsRead     int
	AnomaliesFound int
	Pruned         int64
}

// Run executes one processor pass: acquire lock, read new events, ingest,
// detect, record, maybe escalate, maybe prune, rotate, checkpoint,
// release lock. A failure to acquire the lock is not an error — it means
// another processor run is already in flight — and Run returns
// {Skipped: true}.
func (p *Processor) Run(ctx context.Context) (ProcessResult, error) {
	if err := os.MkdirAll(filepath.Dir(p.lockPath), 0o755); err != nil {
		return ProcessResult{}, fmt.Errorf("create audit directory: %w", err)
	}

	fl := flock.New(p.lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return ProcessResult{}, fmt.Errorf("acquire processor lock: %w", err)
	}
	if !locked {
		return ProcessResult{Skipped: true}, nil
	}
	defer fl.Unlock() //nolint:errcheck

	checkpoint := p.loadCheckpoint()

	events, newOffset, err := p.readNewEvents(checkpoint.ByteOffset)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("read new events: %w", err)
	}
	if len(events) == 0 {
		return ProcessResult{Skipped: true}, nil
	}

	batch, err := p.stats.IngestEvents(ctx, events)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("ingest events: %w", err)
	}

	if err := p.stats.UpdateMetricWindow(ctx, "events_per_hour", float64(len(events)), 1); err != nil {
		slog.Warn("audit processor: failed to update events_per_hour window", "error", err)
	}

	anomalies, err := p.detector.Check(ctx, batch, p.stats)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("check anomalies: %w", err)
	}

	var escalatable []Anomaly
	for _, a := range anomalies {
		if err := p.stats.RecordAnomaly(ctx, a); err != nil {
			slog.Warn("audit processor: failed to record anomaly", "type", a.Type, "error", err)
		}
		if p.recommendations != nil {
			if _, err := p.recommendations.CreateFromAnomaly(ctx, a.Type, "detector", "", ""); err != nil {
				slog.Warn("audit processor: failed to create recommendation from anomaly", "type", a.Type, "error", err)
			}
		}
		if a.Severity.EscalatableSeverity() {
			escalatable = append(escalatable, a)
		}
	}

	if len(escalatable) > 0 && p.escalator != nil && p.spawnEscalation != nil {
		p.spawnEscalation(escalatable)
	}

	var pruned int64
	p.mu.Lock()
	p.runCount++
	shouldPrune := checkpoint.EventCount%100 < int64(len(events))
	p.mu.Unlock()
	if shouldPrune {
		pruned, err = p.stats.PruneOldData(ctx, 30)
		if err != nil {
			slog.Warn("audit processor: prune failed", "error", err)
			pruned = 0
		}
	}

	if err := p.rotateEventsIfNeeded(); err != nil {
		slog.Warn("audit processor: rotation failed", "error", err)
	}

	p.saveCheckpoint(Checkpoint{
		ByteOffset:      newOffset,
		EventCount:      checkpoint.EventCount + int64(len(events)),
		LastProcessedTS: float64(time.Now().UTC().Unix()),
	})

	return ProcessResult{EventsRead: len(events), AnomaliesFound: len(anomalies), Pruned: pruned}, nil
}

func (p *Processor) loadCheckpoint() Checkpoint {
	raw, err := os.ReadFile(p.checkpointPath)
	if err != nil {
		return Checkpoint{}
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}
	}
	return cp
}

func (p *Processor) saveCheckpoint(cp Checkpoint) {
	raw, err := json.Marshal(cp)
	if err != nil {
		slog.Warn("audit processor: failed to marshal checkpoint", "error", err)
		return
	}
	tmp := p.checkpointPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		slog.Warn("audit processor: failed to write checkpoint temp file", "error", err)
		os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, p.checkpointPath); err != nil {
		slog.Warn("audit processor: failed to rename checkpoint into place", "error", err)
		os.Remove(tmp)
	}
}

// readNewEvents reads events.jsonl from byteOffset to EOF, skipping
// corrupt lines. If byteOffset is beyond the current file size (the file
// was rotated/truncated underneath us) it resets to 0 rather than erroring.
func (p *Processor) readNewEvents(byteOffset int64) ([]Event, int64, error) {
	f, err := os.Open(p.eventsPath)
	if os.IsNotExist(err) {
		return nil, byteOffset, nil
	}
	if err != nil {
		return nil, byteOffset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, byteOffset, err
	}
	if byteOffset > info.Size() {
		byteOffset = 0
	}

	if _, err := f.Seek(byteOffset, io.SeekStart); err != nil {
		return nil, byteOffset, err
	}

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var consumed int64 = byteOffset
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(trimmed, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, byteOffset, err
	}

	return events, consumed, nil
}

func (p *Processor) rotateEventsIfNeeded() error {
	info, err := os.Stat(p.eventsPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= maxEventsFileSize {
		return nil
	}

	rotatedPath := p.eventsPath + "." + time.Now().UTC().Format("20060102150405") + ".jsonl.gz"

	in, err := os.Open(p.eventsPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(rotatedPath)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := os.Truncate(p.eventsPath, 0); err != nil {
		return err
	}
	slog.Info("audit processor: rotated events.jsonl", "rotated_to", filepath.Base(rotatedPath), "bytes", info.Size())
	return nil
}

// runEscalationInBackground runs the Haiku->Sonnet->Opus chain as a
// tracked goroutine, mirroring pkg/pipeline.Supervisor's panic-isolated
// background-job idiom rather than the reference implementation's
// detached-subprocess spawn.
func (p *Processor) runEscalationInBackground(anomalies []Anomaly) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("audit processor: escalation goroutine panicked", "panic", r)
			}
		}()

		ctx := context.Background()
		haiku, err := p.escalator.RunTier1Haiku(ctx, anomalies, p.directives, nil, nil)
		if err != nil || haiku == nil {
			if err != nil {
				slog.Warn("audit processor: tier 1 escalation error", "error", err)
			}
			return
		}
		p.recordTierRecommendations(ctx, haiku.Parsed, "haiku")
		if !shouldEscalateFromHaiku(haiku.Parsed) {
			return
		}

		sonnet, err := p.escalator.RunTier2Sonnet(ctx, haiku.Parsed, anomalies, p.directives, nil, nil, nil)
		if err != nil || sonnet == nil {
			if err != nil {
				slog.Warn("audit processor: tier 2 escalation error", "error", err)
			}
			return
		}
		p.recordTierRecommendations(ctx, sonnet.Parsed, "sonnet")
		if !shouldEscalateFromSonnet(sonnet.Parsed) {
			return
		}

		opus, err := p.escalator.RunTier3Opus(ctx, sonnet.Parsed, anomalies, p.directives, nil, nil, nil, nil)
		if err != nil || opus == nil {
			if err != nil {
				slog.Warn("audit processor: tier 3 escalation error", "error", err)
			}
			return
		}
		p.recordTierRecommendations(ctx, opus.Parsed, "opus")
	}()
}

// recordTierRecommendations walks a parsed tier response's
// "recommendations" array and persists each entry via
// Recommendations.UpdateFromEscalation.
func (p *Processor) recordTierRecommendations(ctx context.Context, parsed map[string]interface{}, tier string) {
	if p.recommendations == nil || parsed == nil {
		return
	}
	raw, ok := parsed["recommendations"].([]interface{})
	if !ok {
		return
	}
	for _, item := range raw {
		rec, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		anomalyType, _ := rec["anomaly_type"].(string)
		suggestion, _ := rec["suggestion"].(string)
		category, _ := rec["category"].(string)
		confidence, _ := rec["confidence"].(string)
		if anomalyType == "" {
			continue
		}
		if _, err := p.recommendations.UpdateFromEscalation(ctx, anomalyType, tier, suggestion, category, confidence); err != nil {
			slog.Warn("audit processor: failed to persist tier recommendation", "tier", tier, "anomaly_type", anomalyType, "error", err)
		}
	}
}
