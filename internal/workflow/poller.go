package workflow

import (
	"time"
)

// Poller repeatedly invokes a probe at a fixed interval until the probe
// reports success or the deadline passes. Probing is strictly sequential:
// one probe, then a sleep, then the next probe. This is the only blocking
// primitive in the lifecycle code.
type Poller struct {
	// Interval is the sleep between probe attempts.
	Interval time.Duration

	// Deadline bounds the total wait. Zero means no limit; only use
	// that for internal consumption where the caller bounds the wait
	// some other way.
	Deadline time.Duration

	// Transient reports whether a probe error should be treated as
	// "not ready yet" rather than fatal. A nil Transient treats every
	// probe error as fatal.
	Transient func(error) bool
}

// Wait polls until the probe returns true, the deadline passes, or the
// probe fails with a non-transient error.
//
// It returns (true, nil) as soon as the probe succeeds, (false, nil)
// once the deadline passes without success, and (false, err) when the
// probe fails fatally.
func (p Poller) Wait(probe func() (bool, error)) (bool, error) {
	var expire time.Time
	if p.Deadline > 0 {
		expire = time.Now().Add(p.Deadline)
	}

	for {
		ok, err := probe()
		if err != nil {
			if p.Transient == nil || !p.Transient(err) {
				return false, err
			}
			// Transient failure counts as "not ready yet".
		} else if ok {
			return true, nil
		}

		if !expire.IsZero() && !time.Now().Before(expire) {
			return false, nil
		}

		time.Sleep(p.Interval)
	}
}
