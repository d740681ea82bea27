package kv

import "github.com/lealone-go/sessioncore/pkg/util/errcode"

// IsolationLevel is one of the four SQL isolation levels named in spec §3.
type IsolationLevel int

// Isolation levels, matching spec §3's enumeration order.
const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// String renders the isolation level the way settings are reported back
// to the client (spec §6.2).
func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "READ_UNCOMMITTED"
	case ReadCommitted:
		return "READ_COMMITTED"
	case RepeatableRead:
		return "REPEATABLE_READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "UNKNOWN"
	}
}

// ParseIsolationLevel parses the TRANSACTION_ISOLATION_LEVEL session
// setting (spec §6.2), returning errcode.InvalidValue on an unknown name.
func ParseIsolationLevel(name string) (IsolationLevel, error) {
	switch name {
	case "READ_UNCOMMITTED":
		return ReadUncommitted, nil
	case "READ_COMMITTED":
		return ReadCommitted, nil
	case "REPEATABLE_READ":
		return RepeatableRead, nil
	case "SERIALIZABLE":
		return Serializable, nil
	default:
		return 0, errcode.Newf(errcode.InvalidValue, "invalid value for transaction isolation level: %q", name)
	}
}
