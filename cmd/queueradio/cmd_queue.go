/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/radiocommons/queue-radio/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and repair the vote queue",
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <song-id>",
	Short: "Clear a song's played flag so it re-enters the vote queue",
	Long: `Clears played/played_at on a song, returning it to the unplayed queue.

Intended for operator recovery: a song reserved by pre-fetch that never
aired because the process crashed before the reservation could be
restored stays marked played=true, played_at=null forever. This command
repairs that state by hand.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueueRequeue,
}

var queueListCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently broadcast songs",
	RunE:  runQueueRecent,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	queueCmd.AddCommand(queueListCmd)
}

func runQueueRequeue(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	songs := store.NewSongStore(database)
	songID := args[0]

	if _, err := songs.ByID(context.Background(), songID); err != nil {
		return fmt.Errorf("look up song: %w", err)
	}

	if err := songs.Restore(context.Background(), songID); err != nil {
		return fmt.Errorf("requeue song: %w", err)
	}

	fmt.Printf("song %s returned to the unplayed queue\n", songID)
	return nil
}

func runQueueRecent(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	songs, err := store.NewSongStore(database).RecentlyPlayed(context.Background(), 20)
	if err != nil {
		return fmt.Errorf("list recently played: %w", err)
	}

	if len(songs) == 0 {
		fmt.Println("no broadcast history yet")
		return nil
	}

	for _, song := range songs {
		playedAt := "-"
		if song.PlayedAt != nil {
			playedAt = song.PlayedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%s  %-30s  %-20s  played_at=%s\n", song.ID, song.Title, song.Artist, playedAt)
	}

	return nil
}
