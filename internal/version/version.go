// Package version compares flow definition versions. Registry versions are
// usually plain integers ("3") but may be semantic versions ("1.4.0").
package version

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare returns -1 if a < b, 0 if a == b, 1 if a > b. Both sides are
// parsed as semantic versions when possible (so "4" equals "4.0.0");
// otherwise dot-separated numeric parts are compared and, failing that, the
// raw strings.
func Compare(a, b string) int {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return 0
	}
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	pa, okA := numericParts(a)
	pb, okB := numericParts(b)
	if okA && okB {
		return compareParts(pa, pb)
	}
	return strings.Compare(a, b)
}

// Equal reports whether a and b name the same version.
func Equal(a, b string) bool {
	return Compare(a, b) == 0
}

// Direction describes what replacing existing with incoming does.
type Direction string

const (
	DirectionUpgrade   Direction = "upgrade"
	DirectionDowngrade Direction = "downgrade"
	DirectionSame      Direction = "same"
	DirectionUnknown   Direction = "unknown"
)

// DirectionOf classifies the move from existing to incoming. An empty side
// cannot be ordered.
func DirectionOf(existing, incoming string) Direction {
	if existing == "" || incoming == "" {
		return DirectionUnknown
	}
	switch Compare(incoming, existing) {
	case 1:
		return DirectionUpgrade
	case -1:
		return DirectionDowngrade
	default:
		return DirectionSame
	}
}

// AtLeast returns true if v >= min. Empty values always satisfy.
func AtLeast(v, min string) bool {
	if v == "" || min == "" {
		return true
	}
	return Compare(v, min) >= 0
}

func numericParts(v string) ([]int, bool) {
	parts := strings.Split(v, ".")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		result = append(result, n)
	}
	return result, true
}

func compareParts(a, b []int) int {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	for i := 0; i < maxLen; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}
