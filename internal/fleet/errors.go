package fleet

import (
	"errors"
	"fmt"
)

// HostError attaches the failing host to an operation error.
type HostError struct {
	Host string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host %s: %v", e.Host, e.Err)
}

func (e *HostError) Unwrap() error {
	return e.Err
}

// FailedHosts lists the hosts named by the *HostError values inside err,
// which may be a single HostError or an errors.Join of them.
func FailedHosts(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var hosts []string
		for _, e := range joined.Unwrap() {
			hosts = append(hosts, FailedHosts(e)...)
		}
		return hosts
	}
	var he *HostError
	if errors.As(err, &he) {
		return []string{he.Host}
	}
	return nil
}
