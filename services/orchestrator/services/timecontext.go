// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// =============================================================================
// Time context
// =============================================================================

const (
	timeContextOpen  = "<Time Context>"
	timeContextClose = "</Time Context>"
)

// StripTimeContext removes any existing time-context block so repeated
// turns never accumulate more than one.
func StripTimeContext(s string) string {
	for {
		start := strings.Index(s, timeContextOpen)
		if start < 0 {
			return strings.TrimRight(s, "\n ")
		}
		end := strings.Index(s[start:], timeContextClose)
		if end < 0 {
			return strings.TrimRight(s[:start], "\n ")
		}
		s = s[:start] + s[start+end+len(timeContextClose):]
	}
}

// RenderTimeContext formats the current moment in the user's zone.
// Unknown or empty zones fall back to UTC.
func RenderTimeContext(now time.Time, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		if timezone != "" {
			slog.Warn("Unknown timezone, falling back to UTC", "timezone", timezone)
		}
		loc = time.UTC
	}
	t := now.In(loc)

	var b strings.Builder
	b.WriteString(timeContextOpen + "\n")
	fmt.Fprintf(&b, "Current date: %s\n", t.Format("January 2, 2006"))
	fmt.Fprintf(&b, "Current time: %s\n", t.Format("3:04 PM"))
	fmt.Fprintf(&b, "Day of week: %s\n", t.Weekday())
	fmt.Fprintf(&b, "Timezone: %s\n", loc.String())
	fmt.Fprintf(&b, "Season: %s\n", seasonFor(t))
	if h := holidayFor(t); h != "" {
		fmt.Fprintf(&b, "Holiday: %s\n", h)
	}
	b.WriteString(timeContextClose)
	return b.String()
}

// AppendTimeContext strips any prior block and appends a fresh one.
func AppendTimeContext(systemMessage string, now time.Time, timezone string) string {
	base := StripTimeContext(systemMessage)
	if base == "" {
		return RenderTimeContext(now, timezone)
	}
	return base + "\n\n" + RenderTimeContext(now, timezone)
}

// seasonFor uses northern-hemisphere meteorological seasons.
func seasonFor(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "Winter"
	case time.March, time.April, time.May:
		return "Spring"
	case time.June, time.July, time.August:
		return "Summer"
	default:
		return "Autumn"
	}
}

func holidayFor(t time.Time) string {
	switch {
	case t.Month() == time.December && t.Day() >= 24 && t.Day() <= 26:
		return "Christmas"
	case t.Month() == time.January && t.Day() == 1:
		return "New Year's Day"
	case t.Month() == time.July && t.Day() == 4:
		return "US Independence Day"
	}
	return ""
}
