package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/civicdata/healthsnap/internal/schema"
)

func countySpec(t *testing.T) *schema.DatasetSpec {
	t.Helper()
	spec := &schema.DatasetSpec{
		Tag:         "county_cases",
		LinkPattern: "(?i)county",
		NaturalKey:  []string{"report_date", "county"},
		Fields: []schema.FieldSpec{
			{Name: "report_date", Kind: schema.KindDate},
			{Name: "county", Kind: schema.KindString},
			{Name: "cases", Kind: schema.KindInt},
		},
	}
	if err := spec.Compile(); err != nil {
		t.Fatalf("compile spec: %v", err)
	}
	return spec
}

func record(t *testing.T, date, county string, cases int64, url string) schema.ExtractedRecord {
	t.Helper()
	d, err := schema.ParseValue(schema.KindDate, date)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return schema.ExtractedRecord{
		Tag: "county_cases",
		Fields: map[string]schema.Value{
			"report_date": d,
			"county":      {Kind: schema.KindString, Str: county},
			"cases":       {Kind: schema.KindInt, Int: cases},
		},
		Ref: schema.DocumentRef{URL: url, Tag: "county_cases"},
	}
}

var runDate = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func TestAssemble_DeduplicatesLaterWins(t *testing.T) {
	spec := countySpec(t)
	recs := []schema.ExtractedRecord{
		record(t, "2024-01-01", "Suffolk", 120, "http://example.gov/a"),
		record(t, "2024-01-01", "Norfolk", 87, "http://example.gov/a"),
		record(t, "2024-01-01", "Suffolk", 125, "http://example.gov/b"),
	}
	snap := Assemble(spec, runDate, recs)
	if len(snap.Records) != 2 {
		t.Fatalf("expected 2 records after dedupe, got %d", len(snap.Records))
	}
	// Later-discovered record wins, at the first occurrence's position.
	if got := snap.Records[0].Fields["cases"].Int; got != 125 {
		t.Fatalf("expected later value 125, got %d", got)
	}
	if snap.Records[1].Fields["county"].Str != "Norfolk" {
		t.Fatalf("ordering not preserved: %v", snap.Records)
	}
}

func TestAssemble_IdenticalDuplicateCollapses(t *testing.T) {
	spec := countySpec(t)
	recs := []schema.ExtractedRecord{
		record(t, "2024-01-01", "Suffolk", 120, "http://example.gov/a"),
		record(t, "2024-01-01", "Suffolk", 120, "http://example.gov/a"),
	}
	snap := Assemble(spec, runDate, recs)
	if len(snap.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snap.Records))
	}
}

func TestWrite_IdempotentByteIdentical(t *testing.T) {
	spec := countySpec(t)
	w := &Writer{Dir: t.TempDir()}
	snap := Assemble(spec, runDate, []schema.ExtractedRecord{
		record(t, "2024-01-01", "Suffolk", 120, "http://example.gov/a"),
		record(t, "2024-01-01", "Norfolk", 87, "http://example.gov/a"),
	})

	p1, err := w.Write(snap, spec)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	b1, err := os.ReadFile(p1)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}

	p2, err := w.Write(snap, spec)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("paths differ: %s vs %s", p1, p2)
	}
	b2, err := os.ReadFile(p2)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("re-run output not byte-identical:\n%q\n%q", b1, b2)
	}

	want := "report_date,county,cases\n2024-01-01,Suffolk,120\n2024-01-01,Norfolk,87\n"
	if string(b1) != want {
		t.Fatalf("unexpected csv:\n%q\nwant:\n%q", b1, want)
	}
	if filepath.Base(p1) != "county_cases_2024-01-02.csv" {
		t.Fatalf("unexpected file name: %s", p1)
	}
}

func TestWrite_CrashMidStagingLeavesPriorSnapshotIntact(t *testing.T) {
	spec := countySpec(t)
	dir := t.TempDir()
	w := &Writer{Dir: dir}

	prior := Assemble(spec, runDate, []schema.ExtractedRecord{
		record(t, "2024-01-01", "Suffolk", 120, "http://example.gov/a"),
	})
	path, err := w.Write(prior, spec)
	if err != nil {
		t.Fatalf("seed write: %v", err)
	}
	before, _ := os.ReadFile(path)

	// Simulate a crash mid-write: a staged temp file with partial content
	// that never reached the rename step.
	tmp, err := os.CreateTemp(dir, ".county_cases-*.tmp")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := tmp.WriteString("report_date,cou"); err != nil {
		t.Fatalf("partial write: %v", err)
	}
	_ = tmp.Close()

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("prior snapshot unreadable: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("prior snapshot was modified by an interrupted write")
	}

	// The next run replaces the snapshot cleanly despite the leftover.
	next := Assemble(spec, runDate, []schema.ExtractedRecord{
		record(t, "2024-01-01", "Suffolk", 125, "http://example.gov/b"),
	})
	if _, err := w.Write(next, spec); err != nil {
		t.Fatalf("recovery write: %v", err)
	}
	got, _ := os.ReadFile(path)
	if !strings.Contains(string(got), "125") {
		t.Fatalf("recovery write did not land: %q", got)
	}
}

func TestWrite_NoTempLeftovers(t *testing.T) {
	spec := countySpec(t)
	dir := t.TempDir()
	w := &Writer{Dir: dir}
	snap := Assemble(spec, runDate, []schema.ExtractedRecord{
		record(t, "2024-01-01", "Suffolk", 120, "http://example.gov/a"),
	})
	if _, err := w.Write(snap, spec); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}
