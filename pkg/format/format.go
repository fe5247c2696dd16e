// Package format provides human-readable formatting helpers for API
// responses and lineup output.
package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Bytes formats a byte count into human-readable form.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	sizes := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), sizes[exp])
}

var printer = message.NewPrinter(language.English)

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// asciiFold decomposes characters and strips combining marks, turning
// "Télé Québec" into "Tele Quebec".
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// ChannelName normalises a channel display name for lineup output:
// diacritics fold to their base characters and runs of whitespace
// collapse to single spaces.
func ChannelName(s string) string {
	folded, _, err := transform.String(asciiFold, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(folded), " ")
}

// CronDescription returns a human-readable description of a 6-field
// cron expression (seconds minutes hours day-of-month month
// day-of-week). Expressions it cannot describe are returned unchanged.
// Example: CronDescription("0 0 2 * * *") => "Daily at 2AM"
func CronDescription(expr string) string {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) < 6 {
		return expr
	}
	if len(fields) > 6 {
		fields = fields[:6]
	}

	sec, min, hour, dom, _, dow := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]

	if min == "*" && hour == "*" && dom == "*" && dow == "*" {
		return "Every minute"
	}

	// Every minute within specific hours.
	if min == "*" && hour != "*" && !strings.Contains(hour, "/") {
		if strings.Contains(hour, ",") {
			return fmt.Sprintf("Every minute at %s", hourListPhrase(hour))
		}
		if before, after, found := strings.Cut(hour, "-"); found {
			return fmt.Sprintf("Every minute from %s to %s", hourPhrase(before), hourPhrase(after))
		}
		return fmt.Sprintf("Every minute during %s hour", hourPhrase(hour))
	}

	if _, interval, ok := parseStep(sec); ok {
		return fmt.Sprintf("Every %d seconds", interval)
	}

	if _, interval, ok := parseStep(min); ok {
		if hour != "*" && !strings.Contains(hour, "/") {
			if strings.Contains(hour, ",") {
				return fmt.Sprintf("Every %d minutes at %s", interval, hourListPhrase(hour))
			}
			if _, err := strconv.Atoi(hour); err == nil {
				return fmt.Sprintf("Every %d minutes during %s hour", interval, hourPhrase(hour))
			}
		}
		return fmt.Sprintf("Every %d minutes", interval)
	}

	if start, interval, ok := parseStep(hour); ok {
		startHour := 0
		if start >= 0 {
			startHour = start
		}
		minVal, _ := strconv.Atoi(min)
		from := ""
		if startHour != 0 || minVal != 0 {
			from = fmt.Sprintf(" from %02d:%02d", startHour, minVal)
		}

		switch interval {
		case 1:
			return "Every hour" + from
		case 12:
			return "Twice daily" + from
		default:
			return fmt.Sprintf("Every %d hours%s", interval, from)
		}
	}

	// Every hour at a specific minute.
	if hour == "*" {
		if m, err := strconv.Atoi(min); err == nil {
			if m == 0 {
				return "Every hour"
			}
			return fmt.Sprintf("Every hour at :%02d", m)
		}
	}

	// Several fixed hours at a specific minute.
	if strings.Contains(hour, ",") {
		if m, err := strconv.Atoi(min); err == nil {
			if m == 0 {
				return fmt.Sprintf("Daily at %s", hourListPhrase(hour))
			}
			return fmt.Sprintf("Daily at :%02d past %s", m, hourListPhrase(hour))
		}
	}

	h, hErr := strconv.Atoi(hour)
	m, mErr := strconv.Atoi(min)
	if hErr != nil || mErr != nil {
		return strings.Join(fields, " ")
	}
	timeStr := clockPhrase(h, m)

	// Day-of-week schedules.
	if dow != "*" && dom == "*" {
		if strings.Contains(dow, ",") {
			days := strings.Split(dow, ",")
			names := make([]string, len(days))
			for i, d := range days {
				names[i] = shortDayName(d)
			}
			return fmt.Sprintf("%s at %s", strings.Join(names, ", "), timeStr)
		}
		if before, after, found := strings.Cut(dow, "-"); found {
			return fmt.Sprintf("%s-%s at %s", shortDayName(before), shortDayName(after), timeStr)
		}
		return fmt.Sprintf("%ss at %s", fullDayName(dow), timeStr)
	}

	// Day-of-month schedules.
	if dom != "*" {
		if _, interval, ok := parseStep(dom); ok {
			return fmt.Sprintf("Every %d days at %s", interval, timeStr)
		}
		if d, err := strconv.Atoi(dom); err == nil {
			return fmt.Sprintf("%s of each month at %s", ordinal(d), timeStr)
		}
	}

	return fmt.Sprintf("Daily at %s", timeStr)
}

// parseStep splits a cron step expression such as "3/6" or "*/15".
// start is -1 when the prefix is "*".
func parseStep(field string) (start, interval int, ok bool) {
	prefix, step, found := strings.Cut(field, "/")
	if !found {
		return 0, 0, false
	}
	interval, err := strconv.Atoi(step)
	if err != nil {
		return 0, 0, false
	}
	start = -1
	if prefix != "*" {
		if s, err := strconv.Atoi(prefix); err == nil {
			start = s
		}
	}
	return start, interval, true
}

func hourPhrase(h string) string {
	hour, err := strconv.Atoi(h)
	if err != nil {
		return h
	}
	switch {
	case hour == 0:
		return "12AM"
	case hour == 12:
		return "12PM"
	case hour > 12:
		return fmt.Sprintf("%dPM", hour-12)
	default:
		return fmt.Sprintf("%dAM", hour)
	}
}

func hourListPhrase(field string) string {
	hours := strings.Split(field, ",")
	phrases := make([]string, len(hours))
	for i, h := range hours {
		phrases[i] = hourPhrase(h)
	}
	switch len(phrases) {
	case 1:
		return phrases[0]
	case 2:
		return fmt.Sprintf("%s and %s", phrases[0], phrases[1])
	default:
		last := phrases[len(phrases)-1]
		return fmt.Sprintf("%s, and %s", strings.Join(phrases[:len(phrases)-1], ", "), last)
	}
}

func clockPhrase(hour, minute int) string {
	if hour == 0 && minute == 0 {
		return "midnight"
	}
	if hour == 12 && minute == 0 {
		return "noon"
	}

	period := "AM"
	hour12 := hour
	if hour >= 12 {
		period = "PM"
		if hour > 12 {
			hour12 = hour - 12
		}
	}
	if hour == 0 {
		hour12 = 12
	}

	if minute == 0 {
		return fmt.Sprintf("%d%s", hour12, period)
	}
	return fmt.Sprintf("%d:%02d%s", hour12, minute, period)
}

var dayNames = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
var shortDayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func fullDayName(day string) string {
	if d, err := strconv.Atoi(day); err == nil && d >= 0 && d < 7 {
		return dayNames[d]
	}
	return day
}

func shortDayName(day string) string {
	if d, err := strconv.Atoi(day); err == nil && d >= 0 && d < 7 {
		return shortDayNames[d]
	}
	return day
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 10 {
	case 1:
		if n%100 != 11 {
			suffix = "st"
		}
	case 2:
		if n%100 != 12 {
			suffix = "nd"
		}
	case 3:
		if n%100 != 13 {
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}

// RelativeTime formats a time against now, e.g. "5 minutes ago" or
// "in 2 hours".
func RelativeTime(t time.Time) string {
	d := time.Since(t)
	past := d >= 0
	if !past {
		d = -d
	}

	var phrase string
	switch {
	case d < time.Minute:
		if past {
			return "just now"
		}
		return "in a moment"
	case d < time.Hour:
		phrase = plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		phrase = plural(int(d.Hours()), "hour")
	default:
		phrase = plural(int(d.Hours()/24), "day")
	}

	if past {
		return phrase + " ago"
	}
	return "in " + phrase
}

// RelativeTimeShort is the compact form of RelativeTime: "5m ago".
func RelativeTimeShort(t time.Time) string {
	d := time.Since(t)
	if d < 0 {
		return "soon"
	}

	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
