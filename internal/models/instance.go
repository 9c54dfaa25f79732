package models

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ManagedInstance represents one flow-processing instance that flows are
// deployed to. It is keyed by a single value of the topmost hierarchy
// attribute.
type ManagedInstance struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	HierarchyAttribute string     `json:"hierarchy_attribute"`
	HierarchyValue     string     `json:"hierarchy_value"`
	BaseURL            string     `json:"base_url"`
	UseTLS             bool       `json:"use_tls"`
	VerifyTLS          bool       `json:"verify_tls"`
	Username           string     `json:"username,omitempty"`
	Password           string     `json:"password,omitempty"`
	CACert             string     `json:"ca_cert,omitempty"`
	Version            string     `json:"version,omitempty"`
	PingStatus         string     `json:"ping_status"` // "ok", "unreachable", "unsupported", "unknown"
	PingError          string     `json:"ping_error,omitempty"`
	LastChecked        *time.Time `json:"last_checked,omitempty"`
}

// URL returns the base URL with the scheme forced to match UseTLS.
func (m *ManagedInstance) URL() string {
	u := strings.TrimSuffix(m.BaseURL, "/")
	u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	if m.UseTLS {
		return "https://" + u
	}
	return "http://" + u
}

// MaskedPassword returns a fixed mask when a password is set.
func (m *ManagedInstance) MaskedPassword() string {
	if m.Password == "" {
		return ""
	}
	return "••••••••"
}

// InstanceStore is an in-memory thread-safe catalog of managed instances.
type InstanceStore struct {
	mu    sync.RWMutex
	insts map[string]*ManagedInstance
}

// NewInstanceStore creates an empty instance store.
func NewInstanceStore() *InstanceStore {
	return &InstanceStore{insts: make(map[string]*ManagedInstance)}
}

// Create adds a new instance, assigning it a UUID unless an ID is already set.
func (s *InstanceStore) Create(m *ManagedInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.PingStatus == "" {
		m.PingStatus = "unknown"
	}
	s.insts[m.ID] = m
}

// Get returns an instance by ID, or nil if not found.
func (s *InstanceStore) Get(id string) *ManagedInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.insts[id]
}

// ListAll returns all instances sorted by name.
func (s *InstanceStore) ListAll() []*ManagedInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*ManagedInstance, 0, len(s.insts))
	for _, m := range s.insts {
		result = append(result, m)
	}
	sortInstances(result)
	return result
}

// FindInstance returns the instance registered for (attrName, value). An
// exact match is required. When more than one instance claims the pair the
// result is ambiguous and no instance is returned.
func (s *InstanceStore) FindInstance(attrName, value string) (*ManagedInstance, bool) {
	if attrName == "" || value == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *ManagedInstance
	for _, m := range s.insts {
		if m.HierarchyAttribute != attrName || m.HierarchyValue != value {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = m
	}
	return found, found != nil
}

// Update replaces an existing instance's settings.
func (s *InstanceStore) Update(m *ManagedInstance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.insts[m.ID]; !ok {
		return false
	}
	s.insts[m.ID] = m
	return true
}

// Delete removes an instance by ID.
func (s *InstanceStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.insts[id]; !ok {
		return false
	}
	delete(s.insts, id)
	return true
}

// SetPing records the result of a reachability check.
func (s *InstanceStore) SetPing(id, status, errMsg, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.insts[id]
	if !ok {
		return
	}
	now := time.Now()
	m.PingStatus = status
	m.PingError = errMsg
	if version != "" {
		m.Version = version
	}
	m.LastChecked = &now
}

func sortInstances(list []*ManagedInstance) {
	for i := 0; i < len(list); i++ {
		for j := i + 1; j < len(list); j++ {
			if list[j].Name < list[i].Name || (list[j].Name == list[i].Name && list[j].ID < list[i].ID) {
				list[i], list[j] = list[j], list[i]
			}
		}
	}
}
