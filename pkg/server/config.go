// Package server wires the lower-level components (pkg/kv, pkg/concurrency,
// pkg/replication, pkg/scheduler, pkg/resources) into a running Database
// handle that hands out pkg/sql.Session values, the way pkg/server/server.go
// assembles a *Server from its collaborator subsystems in the teacher.
package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lealone-go/sessioncore/pkg/sql"
)

// Config carries the tunables a Database is built from. Defaults are
// applied by New before any Option runs, mirroring the teacher's
// base.Config pattern of a plain field struct with a SetDefaults step
// rather than an external config library — no config source (files,
// flags, env) is specified for this core, so a hand-built struct is the
// grounded choice (see DESIGN.md).
type Config struct {
	QueryCacheSize   int
	MaxQueryTimeoutMS int
	LockSweepInterval time.Duration
	HandlerCount      int
	SchedulerPoll     time.Duration
	Registerer        prometheus.Registerer
	ParserFactory     func(*sql.Session) sql.Parser
}

func defaultConfig() Config {
	return Config{
		QueryCacheSize:    256,
		MaxQueryTimeoutMS: 0,
		LockSweepInterval: 250 * time.Millisecond,
		HandlerCount:      4,
		SchedulerPoll:     5 * time.Millisecond,
	}
}

// Option configures a Database at construction time, following the
// apply(*Config)-interface shape of the teacher's pkg/util/quotapool.Option.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// WithQueryCacheSize bounds the number of cached prepared plans per session.
func WithQueryCacheSize(n int) Option {
	return optionFunc(func(c *Config) { c.QueryCacheSize = n })
}

// WithMaxQueryTimeoutMS caps the QUERY_TIMEOUT a session may request
// (spec §6.2); 0 means unbounded.
func WithMaxQueryTimeoutMS(ms int) Option {
	return optionFunc(func(c *Config) { c.MaxQueryTimeoutMS = ms })
}

// WithLockSweepInterval sets how often the LockManager's background
// sweeper checks for expired lock waiters (spec §4.3).
func WithLockSweepInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.LockSweepInterval = d })
}

// WithHandlerCount sets the number of scheduler handler goroutines
// (spec §4.5).
func WithHandlerCount(n int) Option {
	return optionFunc(func(c *Config) { c.HandlerCount = n })
}

// WithSchedulerPollInterval sets the scheduler's per-handler poll tick.
func WithSchedulerPollInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.SchedulerPoll = d })
}

// WithMetricsRegisterer sets the prometheus registry the scheduler and
// lock manager register their counters/gauges against. Nil (the
// default) skips registration, which is what unit tests want.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return optionFunc(func(c *Config) { c.Registerer = r })
}

// WithParserFactory supplies the SQL parser/planner collaborator a real
// deployment plugs in; the parser and query planner are explicitly out
// of scope for this core (spec §1 Non-goals).
func WithParserFactory(f func(*sql.Session) sql.Parser) Option {
	return optionFunc(func(c *Config) { c.ParserFactory = f })
}
