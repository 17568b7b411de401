// Package retention decides how long an uploaded file is kept and when its
// blob and metadata become eligible for deletion.
package retention

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"lapse/internal/server/database"
)

const Day = 24 * time.Hour

var ErrInvalidRetention = errors.New("invalid retention period")

var (
	// DefaultPeriods mirrors the choices offered by the upload form.
	DefaultPeriods = []time.Duration{1 * Day, 7 * Day, 14 * Day}

	DefaultGrace = 1 * Day
)

// Policy holds the configured set of retention periods and the grace window
// metadata is kept for after its blob expires.
type Policy struct {
	periods []time.Duration
	grace   time.Duration
}

// NewPolicy validates and builds a Policy. Duplicate periods are collapsed.
func NewPolicy(periods []time.Duration, grace time.Duration) (*Policy, error) {
	if len(periods) == 0 {
		return nil, errors.New("at least one retention period is required")
	}
	if grace < 0 {
		return nil, fmt.Errorf("grace period must not be negative, got %s", grace)
	}

	sorted := slices.Clone(periods)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	if sorted[0] <= 0 {
		return nil, fmt.Errorf("retention periods must be positive, got %s", sorted[0])
	}

	return &Policy{periods: sorted, grace: grace}, nil
}

// Periods returns the allowed retention periods in ascending order.
func (p *Policy) Periods() []time.Duration {
	return slices.Clone(p.periods)
}

func (p *Policy) Grace() time.Duration {
	return p.grace
}

// Validate reports ErrInvalidRetention unless d is one of the configured periods.
func (p *Policy) Validate(d time.Duration) error {
	if !slices.Contains(p.periods, d) {
		return fmt.Errorf("%w: %s is not one of %s", ErrInvalidRetention, Format(d), p.describe())
	}
	return nil
}

// DeleteDate returns uploadDate + d after validating d.
func (p *Policy) DeleteDate(uploadDate time.Time, d time.Duration) (time.Time, error) {
	if err := p.Validate(d); err != nil {
		return time.Time{}, err
	}
	return uploadDate.Add(d), nil
}

// BlobExpired reports whether the record's blob may be deleted at now.
func (p *Policy) BlobExpired(rec *database.FileRecord, now time.Time) bool {
	return !now.Before(rec.DeleteDate)
}

// MetadataExpired reports whether the record itself may be deleted at now,
// i.e. the delete date has passed by at least the grace period.
func (p *Policy) MetadataExpired(rec *database.FileRecord, now time.Time) bool {
	return !now.Before(rec.DeleteDate.Add(p.grace))
}

func (p *Policy) describe() string {
	names := make([]string, len(p.periods))
	for i, d := range p.periods {
		names[i] = Format(d)
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// Parse reads a retention period. It accepts Go durations ("36h"), day and
// week shorthands ("7d", "2w") and the long forms "1 day" / "14 days".
func Parse(s string) (time.Duration, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidRetention)
	}

	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}

	num, unit := splitNumber(raw)
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRetention, s)
	}

	var unitLen time.Duration
	switch strings.TrimSpace(unit) {
	case "d", "day", "days":
		unitLen = Day
	case "w", "week", "weeks":
		unitLen = 7 * Day
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRetention, s)
	}
	if int64(n) > math.MaxInt64/int64(unitLen) {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidRetention, s)
	}
	return time.Duration(n) * unitLen, nil
}

// Format renders whole days as "7d" and anything else as a Go duration.
func Format(d time.Duration) string {
	if d > 0 && d%Day == 0 {
		return strconv.FormatInt(int64(d/Day), 10) + "d"
	}
	return d.String()
}

func splitNumber(s string) (string, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}
