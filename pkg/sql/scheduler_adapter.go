package sql

import "github.com/lealone-go/sessioncore/pkg/scheduler"

// Session implements scheduler.Dispatchable; asserted at compile time so
// a signature drift in either package is caught immediately.
var _ scheduler.Dispatchable = (*Session)(nil)
