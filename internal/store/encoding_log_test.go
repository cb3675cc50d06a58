package store

import (
	"context"
	"testing"
)

func TestEncodingLogForFile_EmptyWhenNoEvents(t *testing.T) {
	s := openTestStore(t)
	lib := createTestLibrary(t, s, "/media/movies")
	size := int64(100)
	f, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size})
	if err != nil {
		t.Fatalf("insert file: %v", err)
	}
	entries, err := s.EncodingLogForFile(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("log for file: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries for a freshly discovered file, got %+v", entries)
	}
}

func TestAppendEncodingLog_ReturnsOldestFirst(t *testing.T) {
	s := openTestStore(t)
	lib := createTestLibrary(t, s, "/media/movies")
	size := int64(100)
	f, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size})
	if err != nil {
		t.Fatalf("insert file: %v", err)
	}

	if err := s.AppendEncodingLog(context.Background(), f.ID, "queued", "discovered by scan"); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := s.AppendEncodingLog(context.Background(), f.ID, "encode_started", ""); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := s.AppendEncodingLog(context.Background(), f.ID, "encode_finished", "saved 40%"); err != nil {
		t.Fatalf("append 3: %v", err)
	}

	entries, err := s.EncodingLogForFile(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("log for file: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Event != "queued" || entries[1].Event != "encode_started" || entries[2].Event != "encode_finished" {
		t.Fatalf("expected oldest-first ordering, got %+v", entries)
	}
	if entries[2].Details != "saved 40%" {
		t.Fatalf("expected details preserved, got %q", entries[2].Details)
	}
}

func TestEncodingLogForFile_ScopedToItsOwnFile(t *testing.T) {
	s := openTestStore(t)
	lib := createTestLibrary(t, s, "/media/movies")
	size := int64(100)
	a, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size})
	if err != nil {
		t.Fatalf("insert a: %v", err)
	}
	b, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: lib.ID, FilePath: "/media/movies/b.mkv", FileName: "b.mkv", OriginalSize: &size})
	if err != nil {
		t.Fatalf("insert b: %v", err)
	}

	if err := s.AppendEncodingLog(context.Background(), a.ID, "queued", ""); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if err := s.AppendEncodingLog(context.Background(), b.ID, "queued", ""); err != nil {
		t.Fatalf("append b: %v", err)
	}

	entries, err := s.EncodingLogForFile(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("log for a: %v", err)
	}
	if len(entries) != 1 || entries[0].FileID != a.ID {
		t.Fatalf("expected only a's single log entry, got %+v", entries)
	}
}
