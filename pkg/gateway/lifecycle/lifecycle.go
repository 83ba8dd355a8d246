package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is shared by the health handlers and the live endpoint. Once
// draining, readiness fails and new live sessions are refused.
type Lifecycle struct {
	draining atomic.Bool
	started  atomic.Int64
}

func New() *Lifecycle {
	l := &Lifecycle{}
	l.started.Store(time.Now().UnixNano())
	return l
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Uptime is zero for a nil or zero-value Lifecycle.
func (l *Lifecycle) Uptime() time.Duration {
	if l == nil {
		return 0
	}
	start := l.started.Load()
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}
