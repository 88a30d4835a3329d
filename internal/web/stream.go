/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package web

import (
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/radiocommons/queue-radio/internal/extractor"
	"github.com/radiocommons/queue-radio/internal/store"
)

// StreamHandlers serves the two audio delivery routes: a redirect to a
// song's resolved external stream URL, and byte-range serving of local
// library fallback files.
type StreamHandlers struct {
	songs       *store.SongStore
	extractor   *extractor.Service
	libraryRoot string
	logger      zerolog.Logger
}

// NewStreamHandlers constructs StreamHandlers. libraryRoot is the local
// music library directory offline fallback files are served from.
func NewStreamHandlers(songs *store.SongStore, extractorSvc *extractor.Service, libraryRoot string, logger zerolog.Logger) *StreamHandlers {
	return &StreamHandlers{songs: songs, extractor: extractorSvc, libraryRoot: libraryRoot, logger: logger.With().Str("component", "web.stream").Logger()}
}

// Mount registers the stream routes onto r.
func (h *StreamHandlers) Mount(r chi.Router) {
	r.Get("/stream/{songId}", h.redirect)
	r.Get("/stream-offline/{filename}", h.offline)
}

func (h *StreamHandlers) redirect(w http.ResponseWriter, r *http.Request) {
	song, err := h.songs.ByID(r.Context(), chi.URLParam(r, "songId"))
	if err == store.ErrNotFound {
		writeError(w, http.StatusNotFound, "song not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch song")
		return
	}

	streamURL, err := h.extractor.ResolveStreamURL(r.Context(), song.ExternalURL)
	if err != nil {
		h.logger.Warn().Err(err).Str("song_id", song.ID).Msg("stream resolution failed, falling back to local library")
		offlineFile, pickErr := h.pickOfflineFile()
		if pickErr != nil {
			writeError(w, http.StatusBadGateway, "stream resolution failed and no offline fallback is available")
			return
		}
		http.Redirect(w, r, "/stream-offline/"+offlineFile, http.StatusFound)
		return
	}

	http.Redirect(w, r, streamURL, http.StatusFound)
}

// pickOfflineFile returns the name of a random file directly under
// libraryRoot, used when the external extractor fails and a listener
// needs something audible to fall back to.
func (h *StreamHandlers) pickOfflineFile() (string, error) {
	entries, err := os.ReadDir(h.libraryRoot)
	if err != nil {
		return "", err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("library %s contains no files", h.libraryRoot)
	}
	return files[rand.Intn(len(files))], nil
}

// offline serves a file from the local library by name, rejecting any
// path that would escape libraryRoot (traversal via "..", an absolute
// path, or a symlink resolving outside the root).
func (h *StreamHandlers) offline(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || strings.Contains(filename, "..") || filepath.IsAbs(filename) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	fullPath := filepath.Join(h.libraryRoot, filepath.Clean("/"+filename))
	if !strings.HasPrefix(fullPath, filepath.Clean(h.libraryRoot)+string(filepath.Separator)) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	resolved, err := filepath.EvalSymlinks(fullPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	root, err := filepath.EvalSymlinks(h.libraryRoot)
	if err != nil || !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	http.ServeFile(w, r, fullPath)
}
