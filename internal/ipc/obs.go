package ipc

import "math"

const (
	posInfReplacement = 1e6
	negInfReplacement = -1e6
)

// Sanitize replaces non-finite entries in place and reports whether any
// were found.
func Sanitize(obs []float32) bool {
	dirty := false
	for i, v := range obs {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			obs[i] = 0
		case math.IsInf(f, 1):
			obs[i] = posInfReplacement
		case math.IsInf(f, -1):
			obs[i] = negInfReplacement
		default:
			continue
		}
		dirty = true
	}
	return dirty
}
