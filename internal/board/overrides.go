package board

import "sync"

type (
	// Override replaces the presentation attributes of a descriptor.
	Override struct {
		Color           uint32
		SamplingEnabled bool
	}

	// Overrides holds live overrides keyed by function id. Descriptors stay
	// immutable, readers consult this table instead.
	Overrides struct {
		mu        sync.RWMutex
		overrides map[uint32]Override
	}
)

func NewOverrides() *Overrides {
	return &Overrides{overrides: make(map[uint32]Override)}
}

func (o *Overrides) Set(id uint32, v Override) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overrides[id] = v
}

func (o *Overrides) Clear(id uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.overrides, id)
}

// Color returns the overridden color of d, or its decoded color.
func (o *Overrides) Color(d *FunctionDescriptor) uint32 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.overrides[d.ID]; ok {
		return v.Color
	}
	return d.Color
}

func (o *Overrides) SamplingEnabled(d *FunctionDescriptor) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.overrides[d.ID]; ok {
		return v.SamplingEnabled
	}
	return d.SamplingEnabled
}
