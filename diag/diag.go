// Package diag backs the D_STAT and D_PROF character devices (component
// M, the statistics device and profiling device): it turns a
// snapshot of the buddy allocator, slab pool, and scheduler's per-thread
// accounting into a real pprof profile, readable by `go tool pprof`
// instead of an ad hoc string dump.
package diag

import (
	"bytes"
	"strconv"
	"time"

	"github.com/google/pprof/profile"

	"raspbit/mem"
	"raspbit/proc"
)

// valueUnit is the single sample value every line in the snapshot
// carries: a page, slot or nanosecond count, labeled by kind (and by
// class_size or pid where one applies) so a reader
// of the resulting profile can filter by either.
var valueUnit = &profile.ValueType{Type: "usage", Unit: "count"}

/// StatSnapshot builds a pprof Profile summarizing the allocator and
/// scheduler state at the instant it's called: one sample per buddy
/// free-page count, two per slab size class (pages held and slots in
/// use), and two per live thread (accumulated user and system
/// nanoseconds).
func StatSnapshot(buddy *mem.Buddy_t, pool *mem.Pool_t, sched *proc.Sched_t) *profile.Profile {
	p := &profile.Profile{
		SampleType:    []*profile.ValueType{valueUnit},
		TimeNanos:     0, // stamped by ProfSnapshot; stays 0 here for deterministic tests
		DurationNanos: 0,
	}

	p.Sample = append(p.Sample, &profile.Sample{
		Value: []int64{int64(buddy.FreePages_count())},
		Label: map[string][]string{"kind": {"buddy_free_pages"}},
	})

	for _, cs := range pool.Stats() {
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{int64(cs.Pages)},
			Label: map[string][]string{
				"kind":      {"slab_pages"},
				"class_size": {strconv.Itoa(cs.Size)},
			},
		})
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{int64(cs.InUse)},
			Label: map[string][]string{
				"kind":      {"slab_inuse"},
				"class_size": {strconv.Itoa(cs.Size)},
			},
		})
	}

	for _, th := range sched.Threads() {
		if th.State == proc.IDLE {
			continue
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{th.Accnt.Userns},
			Label: map[string][]string{"kind": {"user_ns"}, "pid": {strconv.Itoa(th.Pid)}},
		})
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{th.Accnt.Sysns},
			Label: map[string][]string{"kind": {"sys_ns"}, "pid": {strconv.Itoa(th.Pid)}},
		})
	}

	return p
}

/// ProfSnapshot wraps StatSnapshot with a real wall-clock timestamp and
/// duration, matching what a genuine CPU profile capture window reports
/// (D_PROF's contract: "a profile of the last sampling interval" rather
/// than D_STAT's instantaneous counters).
func ProfSnapshot(buddy *mem.Buddy_t, pool *mem.Pool_t, sched *proc.Sched_t, window time.Duration) *profile.Profile {
	p := StatSnapshot(buddy, pool, sched)
	p.TimeNanos = time.Now().UnixNano()
	p.DurationNanos = window.Nanoseconds()
	return p
}

/// Encode serializes p in the standard gzip-compressed pprof wire
/// format, the bytes D_STAT/D_PROF's Read hands back to a caller —
/// the same bytes `go tool pprof` accepts directly.
func Encode(p *profile.Profile) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

