package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/rflorenc/flowdeck/internal/models"
)

// Outcome records how an entry's state was reached, so an unresolved
// hierarchy value, a missing unit and a failed fetch stay distinguishable
// even though all three classify as not deployed.
type Outcome string

const (
	OutcomeResolved      Outcome = "resolved"
	OutcomeUnresolved    Outcome = "unresolved"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeFetchFailed   Outcome = "fetch_failed"
	OutcomeOtherInstance Outcome = "other_instance"
)

// Key identifies one entry of a sweep result.
type Key struct {
	FlowID string
	Side   models.Side
}

// String returns "flowID/side".
func (k Key) String() string {
	return k.FlowID + "/" + string(k.Side)
}

// MarshalText lets Key be used as a JSON object key.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "flowID/side".
func (k *Key) UnmarshalText(b []byte) error {
	s := string(b)
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return fmt.Errorf("invalid sweep key %q", s)
	}
	side, err := models.ParseSide(s[i+1:])
	if err != nil {
		return err
	}
	k.FlowID, k.Side = s[:i], side
	return nil
}

// Entry is the health of one flow side.
type Entry struct {
	FlowID     string                 `json:"flow_id"`
	FlowName   string                 `json:"flow_name"`
	Side       models.Side            `json:"side"`
	InstanceID string                 `json:"instance_id,omitempty"`
	Path       string                 `json:"path,omitempty"`
	UnitID     string                 `json:"unit_id,omitempty"`
	Outcome    Outcome                `json:"outcome"`
	State      models.HealthState     `json:"state"`
	Snapshot   *models.StatusSnapshot `json:"snapshot,omitempty"`
	Reasons    []string               `json:"reasons,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Deployed reports whether a processing unit was found and its status read.
func (e Entry) Deployed() bool {
	return e.Outcome == OutcomeResolved
}

// Result is the status map produced by one sweep.
type Result struct {
	InstanceID string        `json:"instance_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Entries    map[Key]Entry `json:"entries"`

	order []Key
}

func newResult(instanceID string, start time.Time) *Result {
	return &Result{
		InstanceID: instanceID,
		StartedAt:  start,
		Entries:    make(map[Key]Entry),
	}
}

func (r *Result) add(e Entry) {
	k := Key{FlowID: e.FlowID, Side: e.Side}
	if _, dup := r.Entries[k]; !dup {
		r.order = append(r.order, k)
	}
	r.Entries[k] = e
}

// Get returns the entry for a flow side.
func (r *Result) Get(flowID string, side models.Side) (Entry, bool) {
	e, ok := r.Entries[Key{FlowID: flowID, Side: side}]
	return e, ok
}

// Ordered returns the entries in the order they were checked.
func (r *Result) Ordered() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.Entries[k])
	}
	return out
}

func (r *Result) stateCounts() map[string]int {
	counts := map[string]int{
		string(models.HealthHealthy):   0,
		string(models.HealthWarning):   0,
		string(models.HealthUnhealthy): 0,
		string(models.HealthUnknown):   0,
	}
	for _, e := range r.Entries {
		counts[string(e.State)]++
	}
	return counts
}

// severity orders states for aggregation: unhealthy dominates warning,
// warning dominates unknown, unknown dominates healthy.
var severity = map[models.HealthState]int{
	models.HealthHealthy:   0,
	models.HealthUnknown:   1,
	models.HealthWarning:   2,
	models.HealthUnhealthy: 3,
}

// FlowStates folds each flow's two sides into the worse of the two states.
func (r *Result) FlowStates() map[string]models.HealthState {
	out := make(map[string]models.HealthState)
	for k, e := range r.Entries {
		cur, ok := out[k.FlowID]
		if !ok || severity[e.State] > severity[cur] {
			out[k.FlowID] = e.State
		}
	}
	return out
}
