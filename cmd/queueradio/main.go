/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/radiocommons/queue-radio/internal/config"
	"github.com/radiocommons/queue-radio/internal/db"
	"github.com/radiocommons/queue-radio/internal/logging"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "queueradio",
	Short: "Queue Radio - listener-queue driven shared radio station",
	Long:  "Queue Radio runs the playback orchestration subsystem of a shared radio station: scheduled programming slots, listener-queue pre-fetch, and live admin control over what airs.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration; called by every subcommand that needs it.
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

// initDatabase opens a database connection using the loaded config.
func initDatabase() (*gorm.DB, error) {
	return db.Connect(cfg)
}
