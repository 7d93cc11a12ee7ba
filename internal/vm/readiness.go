package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/vmtools/vmt/internal/domain"
)

// TimeoutError reports that a booting domain never obtained a DHCP
// lease within the configured window.
type TimeoutError struct {
	Domain  string
	Timeout time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("no IP address for domain %s after %s: %v", e.Domain, e.Timeout, e.LastErr)
	}
	return fmt.Sprintf("no IP address for domain %s after %s", e.Domain, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// waitForAddress polls the domain's DHCP leases until an IPv4 address
// appears. At least one poll happens regardless of timeout; lease
// query failures are retried, with the last one attached to the
// eventual timeout error.
func (o *Orchestrator) waitForAddress(ctx context.Context, name string) (string, error) {
	deadline := time.Now().Add(o.cfg.AddressTimeout)
	var lastErr error

	for {
		leases, err := o.domains.Leases(name)
		if err != nil {
			lastErr = err
		} else {
			for _, lease := range leases {
				if lease.IPv4 {
					return lease.Address, nil
				}
			}
		}

		if time.Now().After(deadline) {
			return "", &TimeoutError{
				Domain:  domain.Name(name),
				Timeout: o.cfg.AddressTimeout,
				LastErr: lastErr,
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
}
