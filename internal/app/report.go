package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State is a dataset pipeline's position in its per-run state machine.
type State string

const (
	StatePending     State = "pending"
	StateDiscovering State = "discovering"
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateAssembled   State = "assembled"
	StateFailed      State = "failed"
)

// Status summarizes a dataset's run outcome: ok (snapshot written, no
// errors), partial (snapshot written despite some failed documents), or
// failed (no snapshot written; the prior day's snapshot is untouched).
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// DatasetResult is one dataset's terminal record in the run report.
type DatasetResult struct {
	Tag          string   `json:"tag"`
	Status       Status   `json:"status"`
	State        State    `json:"state"`
	Records      int      `json:"records"`
	SnapshotPath string   `json:"snapshotPath,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// RunReport is the only state shared across dataset pipelines. It is
// append-only and synchronized; nothing reads it until every pipeline has
// reached a terminal state.
type RunReport struct {
	RunDate     string `json:"runDate"`
	GeneratedAt time.Time

	mu    sync.Mutex
	byTag map[string]*DatasetResult
}

func NewRunReport(runDate time.Time, tags []string) *RunReport {
	r := &RunReport{
		RunDate: runDate.Format("2006-01-02"),
		byTag:   make(map[string]*DatasetResult, len(tags)),
	}
	for _, tag := range tags {
		r.byTag[tag] = &DatasetResult{Tag: tag, State: StatePending}
	}
	return r
}

// SetState advances a dataset's state. Terminal states are never
// overwritten.
func (r *RunReport) SetState(tag string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.byTag[tag]
	if d == nil || d.State == StateAssembled || d.State == StateFailed {
		return
	}
	d.State = s
}

// AddError records a non-fatal, per-document error for a dataset.
func (r *RunReport) AddError(tag string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d := r.byTag[tag]; d != nil && err != nil {
		d.Errors = append(d.Errors, err.Error())
	}
}

// Fail moves a dataset to its failed terminal state.
func (r *RunReport) Fail(tag string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.byTag[tag]
	if d == nil || d.State == StateAssembled || d.State == StateFailed {
		return
	}
	if err != nil {
		d.Errors = append(d.Errors, err.Error())
	}
	d.State = StateFailed
	d.Status = StatusFailed
}

// Assembled moves a dataset to its assembled terminal state. The status is
// partial when any per-document errors were recorded along the way.
func (r *RunReport) Assembled(tag, path string, records int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.byTag[tag]
	if d == nil || d.State == StateFailed {
		return
	}
	d.State = StateAssembled
	d.SnapshotPath = path
	d.Records = records
	if len(d.Errors) > 0 {
		d.Status = StatusPartial
	} else {
		d.Status = StatusOK
	}
}

// Results returns the per-dataset outcomes sorted by tag.
func (r *RunReport) Results() []DatasetResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DatasetResult, 0, len(r.byTag))
	for _, d := range r.byTag {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// AllAssembled reports whether every dataset reached its assembled state.
func (r *RunReport) AllAssembled() bool {
	for _, d := range r.Results() {
		if d.State != StateAssembled {
			return false
		}
	}
	return true
}

// WriteJSON persists the report as a sidecar next to the snapshots.
func (r *RunReport) WriteJSON(dir string) (string, error) {
	type reportJSON struct {
		RunDate     string          `json:"runDate"`
		GeneratedAt time.Time       `json:"generatedAt"`
		Datasets    []DatasetResult `json:"datasets"`
	}
	out := reportJSON{RunDate: r.RunDate, GeneratedAt: r.GeneratedAt, Datasets: r.Results()}
	if out.GeneratedAt.IsZero() {
		out.GeneratedAt = time.Now().UTC()
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run report: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("run_report_%s.json", r.RunDate))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write run report: %w", err)
	}
	return path, nil
}

// Log emits one summary line per dataset.
func (r *RunReport) Log() {
	for _, d := range r.Results() {
		ev := log.Info()
		if d.Status == StatusFailed {
			ev = log.Error()
		} else if d.Status == StatusPartial {
			ev = log.Warn()
		}
		ev.Str("dataset", d.Tag).
			Str("status", string(d.Status)).
			Int("records", d.Records).
			Int("errors", len(d.Errors)).
			Str("snapshot", d.SnapshotPath).
			Msg("dataset outcome")
	}
}
