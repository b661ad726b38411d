package cache

import "github.com/0x5457/fn-index/internal/models"

// Set groups the buffers for each index kind.
type Set struct {
	Functions  *DualBuffer[string, []models.Function]
	LastAccess *DualBuffer[string, int64]
	Watermarks *DualBuffer[string, int64]
}

func NewSet(maxSize int) *Set {
	return &Set{
		Functions:  NewDualBuffer[string, []models.Function](maxSize),
		LastAccess: NewDualBuffer[string, int64](maxSize),
		Watermarks: NewDualBuffer[string, int64](maxSize),
	}
}

func (s *Set) Reset() {
	s.Functions.Reset()
	s.LastAccess.Reset()
	s.Watermarks.Reset()
}

// Dirty reports whether any buffer holds unflushed entries.
func (s *Set) Dirty() bool {
	return s.Functions.IsDirty() || s.LastAccess.IsDirty() || s.Watermarks.IsDirty()
}
