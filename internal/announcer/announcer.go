/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package announcer synthesizes the spoken "DJ" introduction that
// accompanies a dedicated song: a templated script, optionally rendered to
// audio by an external TTS provider and cached on disk by content hash.
package announcer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/radiocommons/queue-radio/internal/telemetry"
)

// ScriptGenerator turns a song's dedication into a spoken-style script.
// The core treats this as an opaque external collaborator (a template
// engine or small LLM call), never vendored.
type ScriptGenerator interface {
	Generate(ctx context.Context, title, artist, dedication string) (string, error)
}

// TTS renders a script to speech audio, returning a path to the rendered
// file. Implementations are free to call out to any external provider.
type TTS interface {
	Synthesize(ctx context.Context, script string) (audioPath string, err error)
}

// Announcement is what prepareScheduledSong attaches to a PreparedSlot.
// AudioPath is empty when TTS rendering failed or was skipped; listeners
// fall back to client-side speech synthesis of Text in that case.
type Announcement struct {
	Text      string
	AudioPath string
}

// Service generates and caches announcements on disk, keyed by
// MD5(script text + song id) as the core-owned cache directory layout
// requires.
type Service struct {
	scripts ScriptGenerator
	tts     TTS
	cacheDir string
	logger  zerolog.Logger
}

// New constructs a Service. tts may be nil, in which case announcements
// are always text-only.
func New(scripts ScriptGenerator, tts TTS, cacheDir string, logger zerolog.Logger) *Service {
	return &Service{
		scripts:  scripts,
		tts:      tts,
		cacheDir: cacheDir,
		logger:   logger.With().Str("component", "announcer").Logger(),
	}
}

// Prepare generates a script for the song and, if a TTS provider is
// configured, renders and caches its audio. Failures at either step are
// logged and degrade to a partial or empty Announcement rather than
// propagating — per the pre-fetch pipeline's "text-only on TTS failure"
// fallback.
func (s *Service) Prepare(ctx context.Context, songID, title, artist, dedication string) Announcement {
	ctx, span := telemetry.StartSpan(ctx, "announcer", "Prepare")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"song_id": songID})

	script, err := s.scripts.Generate(ctx, title, artist, dedication)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Warn().Err(err).Str("song_id", songID).Msg("script generation failed, skipping announcement")
		return Announcement{}
	}

	ann := Announcement{Text: script}
	if s.tts == nil {
		return ann
	}

	cachedPath := s.cachePath(songID, script)
	if _, err := os.Stat(cachedPath); err == nil {
		ann.AudioPath = cachedPath
		return ann
	}

	audioPath, err := s.tts.Synthesize(ctx, script)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Warn().Err(err).Str("song_id", songID).Msg("tts synthesis failed, falling back to text-only announcement")
		return ann
	}

	if err := s.cacheAudio(audioPath, cachedPath); err != nil {
		s.logger.Warn().Err(err).Str("song_id", songID).Msg("failed to cache announcement audio, using render path directly")
		ann.AudioPath = audioPath
		return ann
	}

	ann.AudioPath = cachedPath
	return ann
}

func (s *Service) cachePath(songID, script string) string {
	sum := md5.Sum([]byte(script + songID))
	return filepath.Join(s.cacheDir, hex.EncodeToString(sum[:])+".audio")
}

func (s *Service) cacheAudio(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir cache dir: %w", err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read rendered audio: %w", err)
	}
	return os.WriteFile(dst, data, 0o644)
}
