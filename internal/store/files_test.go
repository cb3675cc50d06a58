package store

import (
	"context"
	"testing"

	"github.com/theodorecharles/compressor/internal/apperr"
)

func createTestLibrary(t *testing.T, s *Store, path string) Library {
	t.Helper()
	lib, err := s.CreateLibrary(context.Background(), "lib", path, true, false)
	if err != nil {
		t.Fatalf("create library: %v", err)
	}
	return *lib
}

func TestUpsertFile_InsertThenUpdatePreservesIDAndCreatedAt(t *testing.T) {
	s := openTestStore(t)
	lib := createTestLibrary(t, s, "/media/movies")

	size1 := int64(100)
	f1, err := s.UpsertFile(context.Background(), UpsertFileParams{
		LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size1,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if f1.Status != StatusQueued {
		t.Fatalf("expected default status queued, got %v", f1.Status)
	}

	size2 := int64(200)
	f2, err := s.UpsertFile(context.Background(), UpsertFileParams{
		LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size2,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if f2.ID != f1.ID {
		t.Fatalf("expected upsert by path to reuse the same id, got %d and %d", f1.ID, f2.ID)
	}
	if f2.OriginalSize == nil || *f2.OriginalSize != 200 {
		t.Fatalf("expected original_size updated to 200, got %+v", f2.OriginalSize)
	}
	if !f2.CreatedAt.Equal(f1.CreatedAt) {
		t.Fatalf("expected created_at preserved across update, got %v and %v", f1.CreatedAt, f2.CreatedAt)
	}
}

func TestUpsertFile_StatusNilLeavesExistingStatusUntouched(t *testing.T) {
	s := openTestStore(t)
	lib := createTestLibrary(t, s, "/media/movies")

	size := int64(100)
	f, err := s.UpsertFile(context.Background(), UpsertFileParams{
		LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.TransitionStatus(context.Background(), f.ID, StatusEncoding, FileTransitionFields{}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	updated, err := s.UpsertFile(context.Background(), UpsertFileParams{
		LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size,
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if updated.Status != StatusEncoding {
		t.Fatalf("expected status untouched by re-discovery, got %v", updated.Status)
	}
}

func TestGetFileByPath_NilWhenAbsent(t *testing.T) {
	s := openTestStore(t)
	f, err := s.GetFileByPath(context.Background(), "/does/not/exist.mkv")
	if err != nil {
		t.Fatalf("expected no error for an absent path, got %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil file for an absent path, got %+v", f)
	}
}

func TestListFiles_FiltersByLibraryAndStatus(t *testing.T) {
	s := openTestStore(t)
	lib1 := createTestLibrary(t, s, "/media/one")
	lib2, err := s.CreateLibrary(context.Background(), "lib2", "/media/two", true, false)
	if err != nil {
		t.Fatalf("create second library: %v", err)
	}

	size := int64(100)
	a, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: lib1.ID, FilePath: "/media/one/a.mkv", FileName: "a.mkv", OriginalSize: &size})
	if err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if _, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: lib2.ID, FilePath: "/media/two/b.mkv", FileName: "b.mkv", OriginalSize: &size}); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if _, err := s.TransitionStatus(context.Background(), a.ID, StatusEncoding, FileTransitionFields{}); err != nil {
		t.Fatalf("transition a: %v", err)
	}

	lib1ID := lib1.ID
	byLib, err := s.ListFiles(context.Background(), &lib1ID, nil)
	if err != nil {
		t.Fatalf("list by library: %v", err)
	}
	if len(byLib) != 1 || byLib[0].FilePath != "/media/one/a.mkv" {
		t.Fatalf("expected only lib1's file, got %+v", byLib)
	}

	queued := StatusQueued
	byStatus, err := s.ListFiles(context.Background(), nil, &queued)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].FilePath != "/media/two/b.mkv" {
		t.Fatalf("expected only the still-queued file, got %+v", byStatus)
	}
}

func TestTransitionStatus_RejectsInvalidTransition(t *testing.T) {
	s := openTestStore(t)
	lib := createTestLibrary(t, s, "/media/movies")
	size := int64(100)
	f, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = s.TransitionStatus(context.Background(), f.ID, StatusFinished, FileTransitionFields{})
	if !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error for queued->finished, got %v", err)
	}

	got, getErr := s.GetFile(context.Background(), f.ID)
	if getErr != nil {
		t.Fatalf("get file: %v", getErr)
	}
	if got.Status != StatusQueued {
		t.Fatalf("expected status unchanged after rejected transition, got %v", got.Status)
	}
}

func TestTransitionStatus_AppliesValidTransitionAndFields(t *testing.T) {
	s := openTestStore(t)
	lib := createTestLibrary(t, s, "/media/movies")
	size := int64(100)
	f, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: lib.ID, FilePath: "/media/movies/a.mkv", FileName: "a.mkv", OriginalSize: &size})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	errMsg := "ffmpeg exited with status 1"
	updated, err := s.TransitionStatus(context.Background(), f.ID, StatusEncoding, FileTransitionFields{})
	if err != nil {
		t.Fatalf("transition to encoding: %v", err)
	}
	if updated.Status != StatusEncoding {
		t.Fatalf("expected encoding, got %v", updated.Status)
	}

	final, err := s.TransitionStatus(context.Background(), f.ID, StatusErrored, FileTransitionFields{ErrorMessage: &errMsg})
	if err != nil {
		t.Fatalf("transition to errored: %v", err)
	}
	if final.Status != StatusErrored {
		t.Fatalf("expected errored, got %v", final.Status)
	}
	if final.ErrorMessage == nil || *final.ErrorMessage != errMsg {
		t.Fatalf("expected error message set, got %+v", final.ErrorMessage)
	}
}

func TestPickQueued_AlphabeticalAcrossLibraries(t *testing.T) {
	s := openTestStore(t)
	libA, err := s.CreateLibrary(context.Background(), "alpha", "/media/a", true, false)
	if err != nil {
		t.Fatalf("create lib a: %v", err)
	}
	libB, err := s.CreateLibrary(context.Background(), "beta", "/media/b", true, false)
	if err != nil {
		t.Fatalf("create lib b: %v", err)
	}

	size := int64(100)
	if _, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: libB.ID, FilePath: "/media/b/z.mkv", FileName: "z.mkv", OriginalSize: &size}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: libA.ID, FilePath: "/media/a/z.mkv", FileName: "z.mkv", OriginalSize: &size}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	picked, err := s.PickQueued(context.Background(), SortAlphabetical, PriorityAlphaAsc)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked == nil || picked.LibraryID != libA.ID {
		t.Fatalf("expected a file from the alphabetically-first library, got %+v", picked)
	}
}

func TestPickQueued_RoundRobinAlternatesLibraries(t *testing.T) {
	s := openTestStore(t)
	libA, err := s.CreateLibrary(context.Background(), "alpha", "/media/a", true, false)
	if err != nil {
		t.Fatalf("create lib a: %v", err)
	}
	libB, err := s.CreateLibrary(context.Background(), "beta", "/media/b", true, false)
	if err != nil {
		t.Fatalf("create lib b: %v", err)
	}

	size := int64(100)
	if _, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: libA.ID, FilePath: "/media/a/1.mkv", FileName: "1.mkv", OriginalSize: &size}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.UpsertFile(context.Background(), UpsertFileParams{LibraryID: libB.ID, FilePath: "/media/b/1.mkv", FileName: "1.mkv", OriginalSize: &size}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := s.PickQueued(context.Background(), SortAlphabetical, PriorityRoundRobin)
	if err != nil {
		t.Fatalf("pick 1: %v", err)
	}
	if first == nil {
		t.Fatal("expected a file on the first pick")
	}
	second, err := s.PickQueued(context.Background(), SortAlphabetical, PriorityRoundRobin)
	if err != nil {
		t.Fatalf("pick 2: %v", err)
	}
	if second == nil {
		t.Fatal("expected a file on the second pick")
	}
	if first.LibraryID == second.LibraryID {
		t.Fatalf("expected round robin to alternate libraries, got %d then %d", first.LibraryID, second.LibraryID)
	}
}

func TestPickQueued_NilWhenQueueEmpty(t *testing.T) {
	s := openTestStore(t)
	f, err := s.PickQueued(context.Background(), SortAlphabetical, PriorityAlphaAsc)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil from an empty queue, got %+v", f)
	}
}
