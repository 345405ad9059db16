package journal

import (
	"os"
	"path/filepath"
	"testing"
)

type testRecord struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	records := []testRecord{
		{ID: "act_0001", Status: "pending"},
		{ID: "act_0002", Status: "pending"},
		{ID: "act_0001", Status: "processing"},
	}
	for _, r := range records {
		if err := j.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var replayed []testRecord
	if err := Replay(path, func(r testRecord) { replayed = append(replayed, r) }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replayed) != 3 {
		t.Fatalf("replayed %d records, want 3", len(replayed))
	}
	if replayed[2].ID != "act_0001" || replayed[2].Status != "processing" {
		t.Fatalf("last record = %+v", replayed[2])
	}
}

func TestReplayMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.log")
	calls := 0
	if err := Replay(path, func(testRecord) { calls++ }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if calls != 0 {
		t.Fatalf("apply called %d times for missing file", calls)
	}
}

func TestReplaySkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.log")
	content := "{\"id\":\"act_0001\",\"status\":\"pending\"}\n\n{\"id\":\"act_0002\",\"status\":\"pending\"}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	var ids []string
	if err := Replay(path, func(r testRecord) { ids = append(ids, r.ID) }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("replayed %d records, want 2", len(ids))
	}
}

func TestReplaySurfacesCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.log")
	if err := os.WriteFile(path, []byte("{not json}\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := Replay(path, func(testRecord) {}); err == nil {
		t.Fatal("expected replay error for malformed line")
	}
}

func TestAppendAfterReopenPreservesPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.log")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.Append(testRecord{ID: "act_0001", Status: "pending"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	t.Cleanup(func() { _ = j2.Close() })
	if err := j2.Append(testRecord{ID: "act_0002", Status: "pending"}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}

	var ids []string
	if err := Replay(path, func(r testRecord) { ids = append(ids, r.ID) }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(ids) != 2 || ids[0] != "act_0001" || ids[1] != "act_0002" {
		t.Fatalf("ids = %v", ids)
	}
}
