/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/radiocommons/queue-radio/internal/extractor"
	"github.com/radiocommons/queue-radio/internal/models"
	"github.com/radiocommons/queue-radio/internal/store"
)

type failingResolver struct{}

func (failingResolver) Resolve(ctx context.Context, externalURL string) (string, error) {
	return "", context.DeadlineExceeded
}

type workingResolver struct{}

func (workingResolver) Resolve(ctx context.Context, externalURL string) (string, error) {
	return "https://stream.example/" + externalURL, nil
}

// newStreamTestHandlers wires StreamHandlers against a fresh in-memory db,
// returning the db too so tests can seed songs directly (SongStore has no
// exported write methods beyond Reserve/Restore/MarkBroadcast).
func newStreamTestHandlers(t *testing.T, resolver extractor.Resolver, libraryRoot string) (*StreamHandlers, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Song{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	songs := store.NewSongStore(db)

	cache := extractor.NewStreamURLCache("127.0.0.1:1", "", 0, time.Minute, zerolog.Nop())
	extractorSvc := extractor.New(resolver, cache, time.Second, time.Second)

	return NewStreamHandlers(songs, extractorSvc, libraryRoot, zerolog.Nop()), db
}

func withSongIDParam(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("songId", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestStreamRedirect_ResolvedURLRedirectsDirectly(t *testing.T) {
	t.Parallel()

	h, db := newStreamTestHandlers(t, workingResolver{}, t.TempDir())
	song := &models.Song{ID: "s1", ExternalURL: "video123", AddedAt: time.Now()}
	if err := db.Create(song).Error; err != nil {
		t.Fatalf("create song: %v", err)
	}

	req := withSongIDParam(httptest.NewRequest(http.MethodGet, "/stream/s1", nil), "s1")
	rr := httptest.NewRecorder()

	h.redirect(rr, req)
	if rr.Code != http.StatusFound {
		t.Fatalf("got %d, want %d body=%s", rr.Code, http.StatusFound, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != "https://stream.example/video123" {
		t.Fatalf("got redirect %q, want the resolved stream URL", got)
	}
}

func TestStreamRedirect_ExtractorFailureFallsBackToLibraryFile(t *testing.T) {
	t.Parallel()

	libraryRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(libraryRoot, "offline-track.mp3"), []byte("data"), 0o644); err != nil {
		t.Fatalf("seed library file: %v", err)
	}

	h, db := newStreamTestHandlers(t, failingResolver{}, libraryRoot)
	song := &models.Song{ID: "s1", ExternalURL: "video123", AddedAt: time.Now()}
	if err := db.Create(song).Error; err != nil {
		t.Fatalf("create song: %v", err)
	}

	req := withSongIDParam(httptest.NewRequest(http.MethodGet, "/stream/s1", nil), "s1")
	rr := httptest.NewRecorder()

	h.redirect(rr, req)
	if rr.Code != http.StatusFound {
		t.Fatalf("got %d, want %d body=%s", rr.Code, http.StatusFound, rr.Body.String())
	}
	location := rr.Header().Get("Location")
	if location != "/stream-offline/offline-track.mp3" {
		t.Fatalf("got redirect %q, want the library fallback file", location)
	}
}

func TestStreamRedirect_ExtractorFailureWithEmptyLibraryReturnsBadGateway(t *testing.T) {
	t.Parallel()

	h, db := newStreamTestHandlers(t, failingResolver{}, t.TempDir())
	song := &models.Song{ID: "s1", ExternalURL: "video123", AddedAt: time.Now()}
	if err := db.Create(song).Error; err != nil {
		t.Fatalf("create song: %v", err)
	}

	req := withSongIDParam(httptest.NewRequest(http.MethodGet, "/stream/s1", nil), "s1")
	rr := httptest.NewRecorder()

	h.redirect(rr, req)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("got %d, want %d body=%s", rr.Code, http.StatusBadGateway, rr.Body.String())
	}
}

func TestStreamRedirect_UnknownSongReturnsNotFound(t *testing.T) {
	t.Parallel()

	h, _ := newStreamTestHandlers(t, workingResolver{}, t.TempDir())

	req := withSongIDParam(httptest.NewRequest(http.MethodGet, "/stream/missing", nil), "missing")
	rr := httptest.NewRecorder()

	h.redirect(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want %d body=%s", rr.Code, http.StatusNotFound, rr.Body.String())
	}
}

func TestStreamOffline_RejectsPathTraversal(t *testing.T) {
	t.Parallel()

	h, _ := newStreamTestHandlers(t, workingResolver{}, t.TempDir())

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("filename", "../../etc/passwd")
	req := httptest.NewRequest(http.MethodGet, "/stream-offline/..%2F..%2Fetc%2Fpasswd", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()

	h.offline(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d for a traversal attempt", rr.Code, http.StatusBadRequest)
	}
}

func TestStreamOffline_ServesFileWithinLibraryRoot(t *testing.T) {
	t.Parallel()

	libraryRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(libraryRoot, "track.mp3"), []byte("audio-bytes"), 0o644); err != nil {
		t.Fatalf("seed library file: %v", err)
	}
	h, _ := newStreamTestHandlers(t, workingResolver{}, libraryRoot)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("filename", "track.mp3")
	req := httptest.NewRequest(http.MethodGet, "/stream-offline/track.mp3", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()

	h.offline(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if rr.Body.String() != "audio-bytes" {
		t.Fatalf("got body %q, want the seeded file contents", rr.Body.String())
	}
}
