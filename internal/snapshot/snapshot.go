package snapshot

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/civicdata/healthsnap/internal/schema"
)

// Snapshot is the immutable, date-keyed output table for one dataset tag
// from one run. For a given (tag, run date) there is exactly one snapshot;
// re-running extraction for the same inputs produces byte-identical output.
type Snapshot struct {
	Tag     string
	RunDate time.Time
	Records []schema.ExtractedRecord
}

// Assemble merges the run's extracted records for one dataset into a
// snapshot, deduplicating by the dataset's natural key. When two records
// share a key with differing values, the later-discovered one wins and the
// conflict is logged, never silently dropped. Record order follows
// discovery order so output diffs stay deterministic.
func Assemble(spec *schema.DatasetSpec, runDate time.Time, records []schema.ExtractedRecord) Snapshot {
	snap := Snapshot{Tag: spec.Tag, RunDate: runDate}
	if len(spec.NaturalKey) == 0 {
		snap.Records = records
		return snap
	}
	index := make(map[string]int)
	for _, rec := range records {
		key := naturalKey(spec, rec)
		at, dup := index[key]
		if !dup {
			index[key] = len(snap.Records)
			snap.Records = append(snap.Records, rec)
			continue
		}
		if !sameValues(spec, snap.Records[at], rec) {
			log.Warn().
				Str("dataset", spec.Tag).
				Str("key", key).
				Str("kept", rec.Ref.URL).
				Msg("duplicate natural key with differing values; later record wins")
		}
		snap.Records[at] = rec
	}
	return snap
}

func naturalKey(spec *schema.DatasetSpec, rec schema.ExtractedRecord) string {
	parts := make([]string, 0, len(spec.NaturalKey))
	for _, name := range spec.NaturalKey {
		parts = append(parts, rec.Fields[name].String())
	}
	return strings.Join(parts, "\x1f")
}

func sameValues(spec *schema.DatasetSpec, a, b schema.ExtractedRecord) bool {
	for i := range spec.Fields {
		name := spec.Fields[i].Name
		if !a.Fields[name].Equal(b.Fields[name]) {
			return false
		}
	}
	return true
}

// Writer persists snapshots as one flat CSV per (tag, run date).
type Writer struct {
	Dir string
}

// Path returns the snapshot file path for a tag and run date. The name
// embeds both so downstream loads key on the date partition and re-runs
// overwrite in place.
func (w *Writer) Path(tag string, runDate time.Time) string {
	return filepath.Join(w.Dir, fmt.Sprintf("%s_%s.csv", tag, runDate.Format("2006-01-02")))
}

// Write encodes the snapshot and replaces the output file atomically: the
// CSV is staged as a temp file in the same directory and renamed over the
// target, so a crash mid-write never leaves a half-written artifact and a
// failed run never corrupts the prior snapshot.
func (w *Writer) Write(snap Snapshot, spec *schema.DatasetSpec) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir output dir: %w", err)
	}
	data, err := encodeCSV(snap, spec)
	if err != nil {
		return "", err
	}

	target := w.Path(snap.Tag, snap.RunDate)
	tmp, err := os.CreateTemp(w.Dir, "."+snap.Tag+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("stage snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("replace snapshot: %w", err)
	}
	return target, nil
}

// encodeCSV renders the canonical columns in configured field order.
// Rendering goes through Value.String so identical inputs always produce
// byte-identical files.
func encodeCSV(snap Snapshot, spec *schema.DatasetSpec) ([]byte, error) {
	var b strings.Builder
	cw := csv.NewWriter(&b)

	header := make([]string, len(spec.Fields))
	for i := range spec.Fields {
		header[i] = spec.Fields[i].Name
	}
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	row := make([]string, len(spec.Fields))
	for _, rec := range snap.Records {
		for i := range spec.Fields {
			row[i] = rec.Fields[spec.Fields[i].Name].String()
		}
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("encode row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return []byte(b.String()), nil
}
