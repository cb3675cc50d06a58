package store

import (
	"context"
	"testing"

	"github.com/theodorecharles/compressor/internal/apperr"
)

func TestCreateLibrary_DuplicatePathIsConflict(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateLibrary(context.Background(), "lib", "/media/movies", true, false); err != nil {
		t.Fatalf("create library: %v", err)
	}
	_, err := s.CreateLibrary(context.Background(), "lib2", "/media/movies", true, false)
	if !isConflict(err) {
		t.Fatalf("expected conflict for duplicate path, got %v", err)
	}
}

func TestListLibraries_OrderedByName(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CreateLibrary(context.Background(), "zeta", "/media/z", true, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateLibrary(context.Background(), "alpha", "/media/a", true, false); err != nil {
		t.Fatalf("create: %v", err)
	}

	libs, err := s.ListLibraries(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(libs) != 2 || libs[0].Name != "alpha" || libs[1].Name != "zeta" {
		t.Fatalf("expected alphabetical order, got %+v", libs)
	}
}

func TestUpdateLibrary_DisablingDropsQueuedFiles(t *testing.T) {
	s := openTestStore(t)
	lib, err := s.CreateLibrary(context.Background(), "lib", "/media/movies", true, false)
	if err != nil {
		t.Fatalf("create library: %v", err)
	}

	size := int64(100)
	f, err := s.UpsertFile(context.Background(), UpsertFileParams{
		LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size,
	})
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}
	if f.Status != StatusQueued {
		t.Fatalf("expected new file to be queued, got %v", f.Status)
	}

	if _, err := s.UpdateLibrary(context.Background(), lib.ID, lib.Name, false, lib.WatchEnabled); err != nil {
		t.Fatalf("disable library: %v", err)
	}

	_, err = s.GetFile(context.Background(), f.ID)
	if !isNotFound(err) {
		t.Fatalf("expected the queued file to be dropped when its library is disabled, got %v", err)
	}
}

func TestUpdateLibrary_DisablingPreservesNonQueuedFiles(t *testing.T) {
	s := openTestStore(t)
	lib, err := s.CreateLibrary(context.Background(), "lib", "/media/movies", true, false)
	if err != nil {
		t.Fatalf("create library: %v", err)
	}

	size := int64(100)
	f, err := s.UpsertFile(context.Background(), UpsertFileParams{
		LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size,
	})
	if err != nil {
		t.Fatalf("upsert file: %v", err)
	}
	if _, err := s.TransitionStatus(context.Background(), f.ID, StatusEncoding, FileTransitionFields{}); err != nil {
		t.Fatalf("transition to encoding: %v", err)
	}

	if _, err := s.UpdateLibrary(context.Background(), lib.ID, lib.Name, false, lib.WatchEnabled); err != nil {
		t.Fatalf("disable library: %v", err)
	}

	got, err := s.GetFile(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("expected in-flight file to survive disabling its library: %v", err)
	}
	if got.Status != StatusEncoding {
		t.Fatalf("expected status unchanged, got %v", got.Status)
	}
}

func TestDeleteLibrary_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.DeleteLibrary(context.Background(), 9999)
	if !isNotFound(err) {
		t.Fatalf("expected not found deleting a nonexistent library, got %v", err)
	}
}

func isConflict(err error) bool { return apperr.Is(err, apperr.Conflict) }
func isNotFound(err error) bool { return apperr.Is(err, apperr.NotFound) }
