/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cron parses the five-field (minute hour day-of-month month
// day-of-week) cron dialect used by schedules and computes firing times
// against it. There is no third-party cron dependency anywhere in the
// example corpus this module was built against, so this is a small,
// dependency-free, heavily tested parser rather than a borrowed grammar.
package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidField = errors.New("cron: invalid field")
	ErrWrongFields  = errors.New("cron: expected five space-separated fields")
)

type field struct {
	min, max int
	bits     uint64
	wildcard bool
}

// Expr is a parsed five-field cron expression, evaluated against a fixed
// IANA location independent of the process's own locale.
type Expr struct {
	raw              string
	minute           field
	hour             field
	dom              field
	month            field
	dow              field
	loc              *time.Location
}

// MinuteIsWildcard reports whether the expression fires every minute, in
// which case the scheduler must not register a pre-fetch job for it.
func (e *Expr) MinuteIsWildcard() bool {
	return e.minute.wildcard
}

// String returns the original expression text.
func (e *Expr) String() string {
	return e.raw
}

// Parse parses a five-field cron expression evaluated in loc.
func Parse(expr string, loc *time.Location) (*Expr, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: %q", ErrWrongFields, expr)
	}
	if loc == nil {
		loc = time.Local
	}

	minute, err := parseField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("minute: %w", err)
	}
	hour, err := parseField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("hour: %w", err)
	}
	dom, err := parseField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("day-of-month: %w", err)
	}
	month, err := parseField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("month: %w", err)
	}
	dow, err := parseField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("day-of-week: %w", err)
	}

	return &Expr{
		raw:    expr,
		minute: minute,
		hour:   hour,
		dom:    dom,
		month:  month,
		dow:    dow,
		loc:    loc,
	}, nil
}

// parseField parses one comma-separated field of `*`, `a`, `a-b`, `*/n`
// or `a-b/n`, each term ORed into the field's bitmask.
func parseField(raw string, min, max int) (field, error) {
	f := field{min: min, max: max}
	if raw == "*" {
		f.wildcard = true
	}

	for _, term := range strings.Split(raw, ",") {
		lo, hi, step, err := parseTerm(term, min, max)
		if err != nil {
			return field{}, err
		}
		for v := lo; v <= hi; v += step {
			f.bits |= 1 << uint(v)
		}
	}
	if f.bits == 0 {
		return field{}, fmt.Errorf("%w: %q produced no values", ErrInvalidField, raw)
	}
	return f, nil
}

func parseTerm(term string, min, max int) (lo, hi, step int, err error) {
	step = 1
	body := term
	if idx := strings.IndexByte(term, '/'); idx >= 0 {
		body = term[:idx]
		step, err = strconv.Atoi(term[idx+1:])
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("%w: bad step in %q", ErrInvalidField, term)
		}
	}

	switch {
	case body == "*":
		lo, hi = min, max
	case strings.Contains(body, "-"):
		parts := strings.SplitN(body, "-", 2)
		lo, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidField, term)
		}
		hi, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidField, term)
		}
	default:
		lo, err = strconv.Atoi(body)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidField, term)
		}
		hi = lo
	}

	if lo < min || hi > max || lo > hi {
		return 0, 0, 0, fmt.Errorf("%w: %q out of range [%d,%d]", ErrInvalidField, term, min, max)
	}
	return lo, hi, step, nil
}

func (f field) has(v int) bool {
	return f.bits&(1<<uint(v)) != 0
}

// maxSearchYears bounds the brute-force minute scan so an unsatisfiable
// expression (e.g. Feb 30) fails fast instead of looping forever.
const maxSearchYears = 5

// Next returns the first firing strictly after `from`, in the expression's
// configured location, truncated to minute resolution.
func (e *Expr) Next(from time.Time) (time.Time, error) {
	t := from.In(e.loc).Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(maxSearchYears, 0, 0)

	for t.Before(limit) {
		if e.month.has(int(t.Month())) && e.matchesDayFields(t) && e.hour.has(t.Hour()) && e.minute.has(t.Minute()) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("cron: no firing found for %q within %d years", e.raw, maxSearchYears)
}

// matchesDayFields applies the standard cron OR-of-restricted-fields rule:
// when both day-of-month and day-of-week are restricted (non-wildcard),
// a day matches if it satisfies *either* field.
func (e *Expr) matchesDayFields(t time.Time) bool {
	domMatch := e.dom.has(t.Day())
	dowMatch := e.dow.has(int(t.Weekday()))

	if e.dom.wildcard && e.dow.wildcard {
		return true
	}
	if e.dom.wildcard {
		return dowMatch
	}
	if e.dow.wildcard {
		return domMatch
	}
	return domMatch || dowMatch
}

// PrefetchLeadTime is how far before a main firing the pre-fetch job runs.
const PrefetchLeadTime = 5 * time.Minute

// NextPrefetch returns the next pre-fetch firing, i.e. PrefetchLeadTime
// before the next main firing, borrowing across hour/day boundaries as
// needed since subtracting five minutes is not itself expressible as a
// cron field transformation in general.
func (e *Expr) NextPrefetch(from time.Time) (time.Time, error) {
	main, err := e.Next(from)
	if err != nil {
		return time.Time{}, err
	}
	return main.Add(-PrefetchLeadTime), nil
}
