// Package idalloc computes the next human-readable job card identifier
// (PREFIX-NNNNN) by reconciling the durable store's recent identifiers with
// the identifiers the device already holds.
package idalloc

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"jobcard-backend/internal/async"
	"jobcard-backend/internal/errs"
	"jobcard-backend/internal/logging"
)

const (
	DefaultWindow  = 100
	DefaultTimeout = 5 * time.Second
	suffixDigits   = 5
)

// Source lists the most recently created identifiers that start with prefix+"-",
// newest first, at most limit of them.
type Source interface {
	RecentJobCardIDs(ctx context.Context, prefix string, limit int) ([]string, error)
}

type Allocator struct {
	source  Source
	prefix  string
	pattern *regexp.Regexp
	window  int
	timeout time.Duration
}

type Option func(*Allocator)

// WithWindow bounds the remote query to the n most recent identifiers.
func WithWindow(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.window = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(a *Allocator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New creates an allocator. source may be nil, in which case only the local
// identifiers are considered.
func New(source Source, prefix string, opts ...Option) *Allocator {
	a := &Allocator{
		source:  source,
		prefix:  prefix,
		pattern: regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-(\d+)$`),
		window:  DefaultWindow,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) Prefix() string { return a.prefix }

// Window is how many recent remote identifiers Next considers.
func (a *Allocator) Window() int { return a.window }

// Next returns the identifier following the highest suffix seen in existing
// and in the durable store's recent window. It never fails: when the remote
// query errors or times out only existing is used.
func (a *Allocator) Next(ctx context.Context, existing []string) string {
	highest := a.Max(existing)

	remote, err := a.recent(ctx)
	if err != nil {
		logging.Warn(ctx, "recent id query failed, allocating from local ids",
			slog.String("component", "idalloc"),
			slog.String("prefix", a.prefix),
			slog.Any("err", errs.Loggable(err)))
	}
	if m := a.Max(remote); m > highest {
		highest = m
	}

	return a.Format(highest + 1)
}

// Max returns the highest numeric suffix among ids carrying this allocator's
// prefix. Malformed and foreign ids are skipped; the result is 0 when none match.
func (a *Allocator) Max(ids []string) int {
	highest := 0
	for _, id := range ids {
		if n, ok := a.Parse(id); ok && n > highest {
			highest = n
		}
	}
	return highest
}

func (a *Allocator) Parse(id string) (int, bool) {
	m := a.pattern.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (a *Allocator) Format(n int) string {
	return fmt.Sprintf("%s-%0*d", a.prefix, suffixDigits, n)
}

// recent races the remote query against the timeout; a losing query is abandoned.
func (a *Allocator) recent(ctx context.Context) ([]string, error) {
	if a.source == nil {
		return nil, nil
	}
	ids, err := async.Race(ctx, a.timeout, func(ctx context.Context) ([]string, error) {
		return a.source.RecentJobCardIDs(ctx, a.prefix, a.window)
	})
	if err != nil {
		return nil, errs.Wrap(err, "recent id query")
	}
	return ids, nil
}
