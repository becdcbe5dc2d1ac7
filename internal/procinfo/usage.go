package procinfo

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a resource snapshot of one process.
type Usage struct {
	PID        int     `json:"pid"`
	Name       string  `json:"name,omitempty"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

// Snapshot reads CPU, memory and thread counts for pid. CPUPercent is the
// average since the process started. A missing process yields
// ErrProcessGone; other fields that cannot be read are left zero.
func Snapshot(ctx context.Context, pid int) (Usage, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // PIDs fit in int32
	if err != nil {
		return Usage{}, fmt.Errorf("%w: %d: %w", ErrProcessGone, pid, err)
	}

	u := Usage{PID: pid}
	u.Name, _ = p.NameWithContext(ctx)             //nolint:errcheck // Optional
	u.CPUPercent, _ = p.CPUPercentWithContext(ctx) //nolint:errcheck // Optional
	u.Threads, _ = p.NumThreadsWithContext(ctx)    //nolint:errcheck // Optional
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		u.RSSBytes = mem.RSS
	}
	return u, nil
}
