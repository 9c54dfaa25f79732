// Package health classifies processing unit status snapshots and runs
// sequential health sweeps across the flows of a managed instance.
package health

import (
	"strconv"

	"github.com/rflorenc/flowdeck/internal/models"
)

// Classify derives the health state of one flow side. Rules, in order:
//
//   - not deployed: unhealthy
//   - no snapshot fetched: unknown
//   - no bulletins and stopped, disabled, invalid and queued all zero: healthy
//   - any bulletin or any stopped component: unhealthy
//   - anything else (disabled, invalid or queued only): warning
//
// Counters the instance did not report are treated as not signalling, so a
// fetched snapshot that reports nothing at all is healthy, not unknown.
func Classify(snapshot *models.StatusSnapshot, deployed bool) models.HealthState {
	if !deployed {
		return models.HealthUnhealthy
	}
	if snapshot == nil {
		return models.HealthUnknown
	}

	bulletins := len(snapshot.Bulletins)
	if bulletins == 0 &&
		!snapshot.Stopped.Positive() &&
		!snapshot.Disabled.Positive() &&
		!snapshot.Invalid.Positive() &&
		!snapshot.Queued.Positive() {
		return models.HealthHealthy
	}
	if bulletins > 0 || snapshot.Stopped.Positive() {
		return models.HealthUnhealthy
	}
	return models.HealthWarning
}

// Reasons lists the signals behind a non-healthy classification, for display.
func Reasons(snapshot *models.StatusSnapshot, deployed bool) []string {
	if !deployed {
		return []string{"not deployed"}
	}
	if snapshot == nil {
		return []string{"no status fetched"}
	}
	if !snapshot.HasEvidence() {
		return []string{"no counters reported"}
	}
	var reasons []string
	if n := len(snapshot.Bulletins); n > 0 {
		reasons = append(reasons, plural(int64(n), "bulletin"))
	}
	for _, c := range []struct {
		count models.Count
		label string
	}{
		{snapshot.Stopped, "stopped"},
		{snapshot.Invalid, "invalid"},
		{snapshot.Disabled, "disabled"},
		{snapshot.Queued, "queued"},
	} {
		if c.count.Positive() {
			reasons = append(reasons, strconv.FormatInt(c.count.OrZero(), 10)+" "+c.label)
		}
	}
	return reasons
}

func plural(n int64, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.FormatInt(n, 10) + " " + noun + "s"
}
