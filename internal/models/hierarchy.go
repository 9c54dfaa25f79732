package models

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrDuplicateName      = errors.New("duplicate name")
	ErrEmptyName          = errors.New("empty name")
	ErrNonContiguousOrder = errors.New("non-contiguous order")
	ErrDuplicateOrder     = errors.New("duplicate order")
)

// HierarchyAttribute is one named level of the organization's topology
// (e.g. Region, Site, Environment).
type HierarchyAttribute struct {
	Name  string `json:"name" yaml:"name"`
	Label string `json:"label" yaml:"label"`
	Order int    `json:"order" yaml:"order"`
}

// ValidateHierarchy checks that attribute names are unique and non-empty and
// that orders form the sequence 0..n-1 once sorted.
func ValidateHierarchy(attrs []HierarchyAttribute) error {
	seen := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if a.Name == "" {
			return ErrEmptyName
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateName, a.Name)
		}
		seen[a.Name] = true
	}
	sorted := sortedCopy(attrs)
	for i, a := range sorted {
		if a.Order != i {
			return fmt.Errorf("%w: expected order %d, got %d (%s)", ErrNonContiguousOrder, i, a.Order, a.Name)
		}
	}
	return nil
}

// Hierarchy is the ordered attribute list. It is sorted once at construction
// and only hands out copies, so callers never re-sort or mutate it.
type Hierarchy struct {
	attrs []HierarchyAttribute
}

// NewHierarchy builds a Hierarchy. Gaps in the order sequence are tolerated;
// duplicate names or orders are rejected because they make the topmost
// attribute ambiguous.
func NewHierarchy(attrs []HierarchyAttribute) (*Hierarchy, error) {
	names := make(map[string]bool, len(attrs))
	orders := make(map[int]string, len(attrs))
	for _, a := range attrs {
		if a.Name == "" {
			return nil, ErrEmptyName
		}
		if names[a.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, a.Name)
		}
		if other, ok := orders[a.Order]; ok {
			return nil, fmt.Errorf("%w: %s and %s share order %d", ErrDuplicateOrder, other, a.Name, a.Order)
		}
		names[a.Name] = true
		orders[a.Order] = a.Name
	}
	return &Hierarchy{attrs: sortedCopy(attrs)}, nil
}

func sortedCopy(attrs []HierarchyAttribute) []HierarchyAttribute {
	out := make([]HierarchyAttribute, len(attrs))
	copy(out, attrs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Len returns the number of attributes.
func (h *Hierarchy) Len() int {
	if h == nil {
		return 0
	}
	return len(h.attrs)
}

// Attributes returns the attributes sorted by order.
func (h *Hierarchy) Attributes() []HierarchyAttribute {
	if h == nil {
		return nil
	}
	out := make([]HierarchyAttribute, len(h.attrs))
	copy(out, h.attrs)
	return out
}

// Top returns the topmost attribute, the one that selects the owning instance.
func (h *Hierarchy) Top() (HierarchyAttribute, bool) {
	if h.Len() == 0 {
		return HierarchyAttribute{}, false
	}
	return h.attrs[0], true
}

// Sub returns every attribute below the topmost one, in order. These are the
// attributes that contribute path segments.
func (h *Hierarchy) Sub() []HierarchyAttribute {
	if h.Len() < 2 {
		return nil
	}
	out := make([]HierarchyAttribute, len(h.attrs)-1)
	copy(out, h.attrs[1:])
	return out
}
