package models

import (
	"encoding/json"
	"strconv"
)

// HealthState is the derived health of one flow side.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthWarning   HealthState = "warning"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// Count is a counter that may be absent from a status payload. Absent and
// zero are different: absent means the instance did not report the field.
type Count struct {
	value   int64
	present bool
}

// CountOf returns a present count.
func CountOf(n int64) Count {
	return Count{value: n, present: true}
}

// Present reports whether the field was reported.
func (c Count) Present() bool { return c.present }

// Value returns the count and whether it was reported.
func (c Count) Value() (int64, bool) { return c.value, c.present }

// OrZero returns the count, or 0 when absent.
func (c Count) OrZero() int64 {
	if !c.present {
		return 0
	}
	return c.value
}

// Positive reports whether the count was reported and is greater than zero.
func (c Count) Positive() bool {
	return c.present && c.value > 0
}

// MarshalJSON writes null for an absent count.
func (c Count) MarshalJSON() ([]byte, error) {
	if !c.present {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(c.value, 10)), nil
}

// UnmarshalJSON treats null as absent.
func (c *Count) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Count{}
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = CountOf(n)
	return nil
}

// Bulletin is one message posted by a component inside a processing unit.
type Bulletin struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// StatusSnapshot is the raw status of one processing unit as reported by
// its instance. It is fetched on demand and never stored.
type StatusSnapshot struct {
	Running  Count `json:"running"`
	Stopped  Count `json:"stopped"`
	Invalid  Count `json:"invalid"`
	Disabled Count `json:"disabled"`

	Bulletins []Bulletin `json:"bulletins"`

	Queued       Count `json:"queued"`
	QueuedBytes  Count `json:"queued_bytes"`
	BytesIn      Count `json:"bytes_in"`
	BytesOut     Count `json:"bytes_out"`
	FlowFilesIn  Count `json:"flow_files_in"`
	FlowFilesOut Count `json:"flow_files_out"`
}

// HasEvidence reports whether the snapshot carries anything to classify on.
func (s *StatusSnapshot) HasEvidence() bool {
	if s == nil {
		return false
	}
	if len(s.Bulletins) > 0 {
		return true
	}
	for _, c := range []Count{s.Running, s.Stopped, s.Invalid, s.Disabled, s.Queued} {
		if c.Present() {
			return true
		}
	}
	return false
}

// ProcessingUnit is one entry of an instance's topology listing: the
// instance-local object implementing one side of a flow.
type ProcessingUnit struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// DeploymentPaths is the per-instance base path for each side.
type DeploymentPaths struct {
	SourcePath string `json:"source_path" yaml:"source_path"`
	DestPath   string `json:"dest_path" yaml:"dest_path"`
}

// For returns the base path for side.
func (p DeploymentPaths) For(side Side) string {
	if side == SideDestination {
		return p.DestPath
	}
	return p.SourcePath
}

// DeploymentSettings maps instance IDs to their base paths.
type DeploymentSettings struct {
	Paths map[string]DeploymentPaths `json:"paths"`
}

// BasePath returns the base path configured for an instance and side.
func (s *DeploymentSettings) BasePath(instanceID string, side Side) (string, bool) {
	if s == nil || s.Paths == nil {
		return "", false
	}
	p, ok := s.Paths[instanceID]
	if !ok {
		return "", false
	}
	base := p.For(side)
	return base, base != ""
}

// FlowRef identifies the flow definition version being pushed.
type FlowRef struct {
	Name       string `json:"name"`
	RegistryID string `json:"registry_id,omitempty"`
	BucketID   string `json:"bucket_id,omitempty"`
	FlowID     string `json:"flow_id"`
	Version    string `json:"version"`

	// ParameterContextID binds the new unit to the side's connection
	// parameters. Empty leaves the unit unbound.
	ParameterContextID string `json:"parameter_context_id,omitempty"`
}
