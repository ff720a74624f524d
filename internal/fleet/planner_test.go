package fleet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/proxy2vpn/proxy2vpn/internal/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCatalog serves fixed city lists and optional per-country failures.
type fakeCatalog struct {
	cities map[string][]string
	errs   map[string]error
}

func (f *fakeCatalog) ListCities(_ context.Context, _, country string) ([]string, error) {
	if err := f.errs[country]; err != nil {
		return nil, err
	}
	return f.cities[country], nil
}

func emptyStore(t *testing.T) *compose.Store {
	t.Helper()
	store, err := compose.Load(filepath.Join(t.TempDir(), "compose.yaml"), compose.Options{})
	require.NoError(t, err)
	return store
}

func TestPlanAssignsSlotsAndSequentialPorts(t *testing.T) {
	cat := &fakeCatalog{cities: map[string][]string{
		"A": {"City1"},
		"B": {"City2"},
	}}
	planner := NewPlanner(emptyStore(t), cat)

	plan, warnings, err := planner.Plan(context.Background(), FleetConfig{
		Provider:  "prov",
		Countries: []string{"A", "B"},
		Profiles:  []Capacity{{"acc1", 1}, {"acc2", 1}},
		PortStart: 30000,
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, plan.Services, 2)

	assert.Equal(t, ServicePlan{
		Name: "prov-a-city1", Profile: "acc1", Location: "City1",
		Country: "A", Port: 30000, Provider: "prov",
	}, plan.Services[0])
	assert.Equal(t, ServicePlan{
		Name: "prov-b-city2", Profile: "acc2", Location: "City2",
		Country: "B", Port: 30001, Provider: "prov",
	}, plan.Services[1])
}

func TestPlanTruncatesToTotalCapacity(t *testing.T) {
	cat := &fakeCatalog{cities: map[string][]string{
		"A": {"C1", "C2", "C3"},
		"B": {"C4"},
	}}
	planner := NewPlanner(emptyStore(t), cat)

	plan, warnings, err := planner.Plan(context.Background(), FleetConfig{
		Provider:  "prov",
		Countries: []string{"A", "B"},
		Profiles:  []Capacity{{"acc1", 2}},
	})
	require.NoError(t, err)
	require.Len(t, plan.Services, 2)

	// Country-major, catalog order: the first two cities of A.
	assert.Equal(t, "prov-a-c1", plan.Services[0].Name)
	assert.Equal(t, "prov-a-c2", plan.Services[1].Name)
	assert.NotEmpty(t, warnings)
}

func TestPlanSkipsFailingCountry(t *testing.T) {
	cat := &fakeCatalog{
		cities: map[string][]string{"B": {"City2"}},
		errs:   map[string]error{"A": errors.New("catalog down")},
	}
	planner := NewPlanner(emptyStore(t), cat)

	plan, warnings, err := planner.Plan(context.Background(), FleetConfig{
		Provider:  "prov",
		Countries: []string{"A", "B"},
		Profiles:  []Capacity{{"acc1", 2}},
		PortStart: 30000,
	})
	require.NoError(t, err)
	require.Len(t, plan.Services, 1)
	assert.Equal(t, "prov-b-city2", plan.Services[0].Name)
	// Ports stay sequential regardless of the skipped country.
	assert.Equal(t, 30000, plan.Services[0].Port)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "A")
}

func TestPlanStopsWhenSlotsExhausted(t *testing.T) {
	cat := &fakeCatalog{cities: map[string][]string{"A": {"C1", "C2"}}}
	planner := NewPlanner(emptyStore(t), cat)

	plan, _, err := planner.Plan(context.Background(), FleetConfig{
		Provider:  "prov",
		Countries: []string{"A"},
		Profiles:  []Capacity{{"acc1", 1}},
	})
	require.NoError(t, err)
	assert.Len(t, plan.Services, 1)
}

func TestPlanCountsExistingServicesAgainstCapacity(t *testing.T) {
	store := emptyStore(t)
	require.NoError(t, store.AddProfile(compose.Profile{Name: "acc1", Image: "img"}))
	require.NoError(t, store.AddService(compose.VPNService{Name: "old-svc", Port: 19000, Profile: "acc1"}))

	cat := &fakeCatalog{cities: map[string][]string{"A": {"C1", "C2"}}}
	planner := NewPlanner(store, cat)

	plan, _, err := planner.Plan(context.Background(), FleetConfig{
		Provider:  "prov",
		Countries: []string{"A"},
		Profiles:  []Capacity{{"acc1", 2}},
	})
	require.NoError(t, err)
	assert.Len(t, plan.Services, 1)
}

func TestPlanMaxPerProfileCapsCapacity(t *testing.T) {
	cat := &fakeCatalog{cities: map[string][]string{"A": {"C1", "C2", "C3"}}}
	planner := NewPlanner(emptyStore(t), cat)

	plan, _, err := planner.Plan(context.Background(), FleetConfig{
		Provider:      "prov",
		Countries:     []string{"A"},
		Profiles:      []Capacity{{"acc1", 5}},
		MaxPerProfile: 2,
	})
	require.NoError(t, err)
	assert.Len(t, plan.Services, 2)
}

func TestPlanOverAllocatedSurfaces(t *testing.T) {
	store := emptyStore(t)
	require.NoError(t, store.AddProfile(compose.Profile{Name: "acc1", Image: "img"}))
	require.NoError(t, store.AddService(compose.VPNService{Name: "s1", Port: 19000, Profile: "acc1"}))
	require.NoError(t, store.AddService(compose.VPNService{Name: "s2", Port: 19001, Profile: "acc1"}))

	cat := &fakeCatalog{cities: map[string][]string{"A": {"C1"}}}
	planner := NewPlanner(store, cat)

	_, _, err := planner.Plan(context.Background(), FleetConfig{
		Provider:  "prov",
		Countries: []string{"A"},
		Profiles:  []Capacity{{"acc1", 1}},
	})
	require.ErrorIs(t, err, ErrOverAllocated)
}

func TestPlanCustomTemplate(t *testing.T) {
	cat := &fakeCatalog{cities: map[string][]string{"New Zealand": {"Auckland"}}}
	planner := NewPlanner(emptyStore(t), cat)

	plan, _, err := planner.Plan(context.Background(), FleetConfig{
		Provider:       "prov",
		Countries:      []string{"New Zealand"},
		Profiles:       []Capacity{{"acc1", 1}},
		NamingTemplate: "vpn-{country}-{city}",
	})
	require.NoError(t, err)
	require.Len(t, plan.Services, 1)
	assert.Equal(t, "vpn-new-zealand-auckland", plan.Services[0].Name)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "prov-new-york", SanitizeName("Prov New York!!"))
	assert.Equal(t, "a-b_c", SanitizeName("--A   b_C--"))

	// Sanitization is idempotent.
	for _, name := range []string{"Prov New York!!", "ok-name", "weird???name"} {
		once := SanitizeName(name)
		assert.Equal(t, once, SanitizeName(once))
	}
}
