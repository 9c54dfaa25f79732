package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rflorenc/flowdeck/internal/models"
)

func zeroSnapshot() *models.StatusSnapshot {
	return &models.StatusSnapshot{
		Running:   models.CountOf(4),
		Stopped:   models.CountOf(0),
		Invalid:   models.CountOf(0),
		Disabled:  models.CountOf(0),
		Queued:    models.CountOf(0),
		Bulletins: []models.Bulletin{},
	}
}

func TestClassify(t *testing.T) {
	bulletin := []models.Bulletin{{Source: "PutSFTP", Message: "connection refused"}}

	tests := []struct {
		name     string
		snap     func() *models.StatusSnapshot
		deployed bool
		want     models.HealthState
	}{
		{"not deployed", zeroSnapshot, false, models.HealthUnhealthy},
		{"not deployed nil snapshot", func() *models.StatusSnapshot { return nil }, false, models.HealthUnhealthy},
		{"never fetched", func() *models.StatusSnapshot { return nil }, true, models.HealthUnknown},
		{"all zero", zeroSnapshot, true, models.HealthHealthy},
		{"disabled only", func() *models.StatusSnapshot {
			s := zeroSnapshot()
			s.Disabled = models.CountOf(1)
			return s
		}, true, models.HealthWarning},
		{"invalid only", func() *models.StatusSnapshot {
			s := zeroSnapshot()
			s.Invalid = models.CountOf(2)
			return s
		}, true, models.HealthWarning},
		{"queued only", func() *models.StatusSnapshot {
			s := zeroSnapshot()
			s.Queued = models.CountOf(150)
			return s
		}, true, models.HealthWarning},
		{"stopped", func() *models.StatusSnapshot {
			s := zeroSnapshot()
			s.Stopped = models.CountOf(1)
			return s
		}, true, models.HealthUnhealthy},
		{"bulletin dominates queue and disabled", func() *models.StatusSnapshot {
			s := zeroSnapshot()
			s.Bulletins = bulletin
			s.Queued = models.CountOf(1000)
			s.Disabled = models.CountOf(3)
			return s
		}, true, models.HealthUnhealthy},
		{"absent counters do not signal", func() *models.StatusSnapshot {
			return &models.StatusSnapshot{Running: models.CountOf(2)}
		}, true, models.HealthHealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.snap(), tc.deployed))
		})
	}
}

func TestClassify_DisabledOnlyIsWarning(t *testing.T) {
	snap := &models.StatusSnapshot{
		Stopped:   models.CountOf(0),
		Invalid:   models.CountOf(0),
		Disabled:  models.CountOf(1),
		Bulletins: nil,
		Queued:    models.CountOf(0),
	}
	assert.Equal(t, models.HealthWarning, Classify(snap, true))
}

func TestClassify_Pure(t *testing.T) {
	snap := zeroSnapshot()
	snap.Invalid = models.CountOf(1)
	first := Classify(snap, true)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(snap, true))
	}
	assert.Equal(t, models.CountOf(1), snap.Invalid)
}

func TestReasons(t *testing.T) {
	snap := zeroSnapshot()
	snap.Bulletins = []models.Bulletin{{Source: "a"}, {Source: "b"}}
	snap.Stopped = models.CountOf(1)
	snap.Queued = models.CountOf(12)

	assert.Equal(t, []string{"2 bulletins", "1 stopped", "12 queued"}, Reasons(snap, true))
	assert.Equal(t, []string{"not deployed"}, Reasons(nil, false))
	assert.Equal(t, []string{"no status fetched"}, Reasons(nil, true))
	assert.Nil(t, Reasons(zeroSnapshot(), true))
}
