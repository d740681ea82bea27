package sql

import (
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
)

// ConnectionInfo is the parsed form of the embedded URL grammar from
// spec §6.1:
//
//	<url>   ::= "lealone:" ("tcp://" host ":" port | "mem:" | "embed:") "/" dbname ("?" kv ("&" kv)*)?
//	kv      ::= key "=" value
type ConnectionInfo struct {
	URL      string
	Scheme   string // "tcp", "mem", or "embed"
	HostPort string // only set for "tcp"
	DBName   string
	Params   map[string]string
}

// ParseConnectionInfo parses a session URL per spec §6.1.
func ParseConnectionInfo(raw string) (*ConnectionInfo, error) {
	const prefix = "lealone:"
	if !strings.HasPrefix(raw, prefix) {
		return nil, errors.Newf("invalid session url %q: missing %q prefix", raw, prefix)
	}
	rest := raw[len(prefix):]

	info := &ConnectionInfo{URL: raw, Params: make(map[string]string)}
	switch {
	case strings.HasPrefix(rest, "tcp://"):
		info.Scheme = "tcp"
		rest = rest[len("tcp://"):]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return nil, errors.Newf("invalid session url %q: missing dbname", raw)
		}
		info.HostPort = rest[:slash]
		rest = rest[slash:]
	case strings.HasPrefix(rest, "mem:"):
		info.Scheme = "mem"
		rest = rest[len("mem:"):]
	case strings.HasPrefix(rest, "embed:"):
		info.Scheme = "embed"
		rest = rest[len("embed:"):]
	default:
		return nil, errors.Newf("invalid session url %q: unrecognized scheme", raw)
	}

	if !strings.HasPrefix(rest, "/") {
		return nil, errors.Newf("invalid session url %q: expected '/' before dbname", raw)
	}
	rest = rest[1:]

	dbname := rest
	var query string
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		dbname = rest[:q]
		query = rest[q+1:]
	}
	info.DBName = dbname

	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid session url %q: malformed query", raw)
		}
		for k, v := range values {
			if len(v) > 0 {
				info.Params[k] = v[0]
			}
		}
	}
	return info, nil
}
