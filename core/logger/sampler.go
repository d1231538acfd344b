package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// ratioSampler lets through keep out of every window records, e.g. 1 of 50.
// A zero window disables sampling.
type ratioSampler struct {
	// packed keep<<32 | window so Set is a single store
	ratio atomic.Uint64
	seq   atomic.Uint64
}

func newRatioSampler(keep, window int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(keep, window)
	return s
}

// Set replaces the ratio; non-positive values disable sampling.
func (s *ratioSampler) Set(keep, window int) {
	if keep <= 0 || window <= 0 {
		s.ratio.Store(0)
		return
	}
	keep = min(keep, window)
	s.ratio.Store(uint64(keep)<<32 | uint64(uint32(window)))
	s.seq.Store(0)
}

// Allow reports whether the next record passes.
func (s *ratioSampler) Allow() bool {
	r := s.ratio.Load()
	if r == 0 {
		return true
	}
	keep, window := r>>32, r&0xffffffff
	return (s.seq.Add(1)-1)%window < keep
}

// parseRatioSpec accepts "k/n" or "n" (meaning 1/n). Anything else disables sampling.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if num, den, ok := strings.Cut(spec, "/"); ok {
		k, err1 := strconv.Atoi(strings.TrimSpace(num))
		n, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return k, n
	}
	n, err := strconv.Atoi(spec)
	if err != nil || n <= 0 {
		return 0, 0
	}
	return 1, n
}
