package naver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Listing rows carry their publication time in one of two shapes: a
// site-locale timestamp like "Thu Feb 18 22:46:16 KST 2010", or a
// digit-separated form like "10.02.18" with an optional time part.
var (
	zoneAbbrev = regexp.MustCompile(`[A-Z]{3} (\d{4})$`)
	nonDigits  = regexp.MustCompile(`\D+`)
)

const localeLayout = "Mon Jan 2 15:04:05 2006"

var seoulOnce = sync.OnceValue(func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
})

// parseServiceDate parses a listing row timestamp. Locale-form timestamps
// are interpreted in the service's time zone; digit forms are UTC with
// two-digit years mapped into the 2000s.
func parseServiceDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if zoneAbbrev.MatchString(s) {
		cleaned := zoneAbbrev.ReplaceAllString(s, "$1")
		t, err := time.ParseInLocation(localeLayout, cleaned, seoulOnce())
		if err != nil {
			return time.Time{}, fmt.Errorf("parse locale timestamp %q: %w", raw, err)
		}
		return t, nil
	}

	parts := nonDigits.Split(s, -1)
	fields := make([]int, 0, 6)
	for _, p := range parts {
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp component %q: %w", p, err)
		}
		fields = append(fields, n)
	}
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("no digits in timestamp %q", raw)
	}
	for len(fields) < 6 {
		fields = append(fields, 0)
	}
	fields = fields[:6]
	if fields[0] < 100 {
		fields[0] += 2000
	}
	if fields[1] < 1 || fields[1] > 12 {
		return time.Time{}, fmt.Errorf("month out of range in timestamp %q", raw)
	}
	if fields[2] < 1 || fields[2] > 31 {
		return time.Time{}, fmt.Errorf("day out of range in timestamp %q", raw)
	}
	return time.Date(fields[0], time.Month(fields[1]), fields[2],
		fields[3], fields[4], fields[5], 0, time.UTC), nil
}
