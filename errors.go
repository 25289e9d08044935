package recursor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRecursionLimitExceeded is returned when the zone walk does not
// converge within MaxDepth levels. It fails the triggering resolve
// call only.
var ErrRecursionLimitExceeded = errors.New("recursor: recursion limit exceeded")

// ErrNoReachableNameServer matches a PoolError via errors.Is.
var ErrNoReachableNameServer = errors.New("recursor: no reachable nameserver")

// PoolError reports that every candidate in a pool's dispatch attempt
// failed. It carries the per-candidate errors in attempt order.
type PoolError struct {
	Zone     string
	Attempts []error
}

func (e *PoolError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "recursor: no reachable nameserver for %q", e.Zone)
	for _, err := range e.Attempts {
		sb.WriteString("; ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

func (e *PoolError) Unwrap() []error { return e.Attempts }

func (e *PoolError) Is(target error) bool { return target == ErrNoReachableNameServer }

// DelegationError reports a failure to resolve the address of a
// delegated nameserver, including the cross-referencing case when even
// the parent-zone fallback produced nothing usable.
type DelegationError struct {
	Zone string
	Host string // empty when no NS owner yielded an address at all
	Err  error
}

func (e *DelegationError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("recursor: cannot resolve nameserver %q for zone %q: %v", e.Host, e.Zone, e.Err)
	}
	return fmt.Sprintf("recursor: no usable nameserver address for zone %q", e.Zone)
}

func (e *DelegationError) Unwrap() error { return e.Err }
