package fleet

import (
	"fmt"
	"sort"

	"github.com/proxy2vpn/proxy2vpn/internal/compose"
)

// ProfileAllocator tracks per-profile slot capacity in memory. It is
// rebuilt from the store's current services on every construction and never
// persisted, so the compose document stays the only source of truth.
type ProfileAllocator struct {
	order []string
	slots map[string]*profileSlot
}

type profileSlot struct {
	capacity  int
	remaining int
	services  map[string]bool
}

// NewAllocator returns an empty allocator; call Setup before use.
func NewAllocator() *ProfileAllocator {
	return &ProfileAllocator{slots: map[string]*profileSlot{}}
}

// Setup initializes remaining capacity to the declared slots minus the
// services already occupying each profile. A profile whose existing
// occupancy exceeds its declared capacity fails with ErrOverAllocated; that
// signals a capacity decrease conflicting with live state, which the
// operator must resolve by hand.
func (a *ProfileAllocator) Setup(capacities []Capacity, existing []compose.VPNService) error {
	a.order = a.order[:0]
	a.slots = make(map[string]*profileSlot, len(capacities))

	for _, c := range capacities {
		if c.Slots < 0 {
			return fmt.Errorf("profile %q declares %d slots", c.Profile, c.Slots)
		}
		if _, ok := a.slots[c.Profile]; ok {
			return fmt.Errorf("profile %q declared twice", c.Profile)
		}
		a.order = append(a.order, c.Profile)
		a.slots[c.Profile] = &profileSlot{
			capacity:  c.Slots,
			remaining: c.Slots,
			services:  map[string]bool{},
		}
	}

	for _, svc := range existing {
		slot, ok := a.slots[svc.Profile]
		if !ok {
			continue
		}
		slot.services[svc.Name] = true
		slot.remaining--
		if slot.remaining < 0 {
			return fmt.Errorf("profile %q has %d services but capacity %d: %w",
				svc.Profile, len(slot.services), slot.capacity, ErrOverAllocated)
		}
	}
	return nil
}

// NextAvailable returns the first profile, in declared order, with a free
// slot. The stable declaration-order tie-break keeps planning output
// reproducible.
func (a *ProfileAllocator) NextAvailable() (string, bool) {
	for _, name := range a.order {
		if a.slots[name].remaining > 0 {
			return name, true
		}
	}
	return "", false
}

// Allocate records service occupying one of profile's slots. Re-allocating
// the same pair is a no-op.
func (a *ProfileAllocator) Allocate(profile, service string) error {
	slot, ok := a.slots[profile]
	if !ok {
		return fmt.Errorf("unknown profile %q", profile)
	}
	if slot.services[service] {
		return nil
	}
	if slot.remaining <= 0 {
		return fmt.Errorf("profile %q: %w", profile, ErrCapacityExhausted)
	}
	slot.services[service] = true
	slot.remaining--
	return nil
}

// Release frees the slot occupied by service, if any.
func (a *ProfileAllocator) Release(profile, service string) {
	slot, ok := a.slots[profile]
	if !ok || !slot.services[service] {
		return
	}
	delete(slot.services, service)
	slot.remaining++
}

// Status reports capacity, remaining and occupying services for every known
// profile, in declared order.
func (a *ProfileAllocator) Status() []ProfileStatus {
	out := make([]ProfileStatus, 0, len(a.order))
	for _, name := range a.order {
		slot := a.slots[name]
		services := make([]string, 0, len(slot.services))
		for svc := range slot.services {
			services = append(services, svc)
		}
		sort.Strings(services)
		out = append(out, ProfileStatus{
			Profile:   name,
			Capacity:  slot.capacity,
			Remaining: slot.remaining,
			Services:  services,
		})
	}
	return out
}
