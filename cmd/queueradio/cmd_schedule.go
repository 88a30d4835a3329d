/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/radiocommons/queue-radio/internal/store"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect programming schedules",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active schedules and their next/last run times",
	RunE:  runScheduleList,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	schedules, err := store.NewScheduleStore(database).Active(context.Background())
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	if len(schedules) == 0 {
		fmt.Println("no active schedules")
		return nil
	}

	for _, sched := range schedules {
		fmt.Printf("%s  %-20s  %-20s  songs=%d volume=%d  last_run=%s  next_run=%s\n",
			sched.ID, sched.Name, sched.CronExpr, sched.SongCount, sched.Volume,
			formatTime(sched.LastRun), formatTime(sched.NextRun))
	}

	fmt.Println()
	fmt.Println("The scheduler picks up create/update/delete through the admin API")
	fmt.Println("automatically; this command is read-only.")

	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
