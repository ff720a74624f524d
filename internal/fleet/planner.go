package fleet

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/proxy2vpn/proxy2vpn/internal/compose"
)

// Catalog lists the cities a provider serves in a country. A failure for
// one country is not fatal to a plan; that country is skipped.
type Catalog interface {
	ListCities(ctx context.Context, provider, country string) ([]string, error)
}

// Planner turns a fleet request into an ordered, validated deployment plan.
// Planning is pure: it reads the store and the catalog but mutates neither.
type Planner struct {
	store   *compose.Store
	catalog Catalog
}

// NewPlanner returns a planner over the given store and location catalog.
func NewPlanner(store *compose.Store, catalog Catalog) *Planner {
	return &Planner{store: store, catalog: catalog}
}

// Plan walks the requested countries in declared order, assigns each city a
// profile slot and a sequential port, and returns the plan plus any
// operator-visible warnings (catalog failures, truncation, slot shortfall).
func (p *Planner) Plan(ctx context.Context, cfg FleetConfig) (*DeploymentPlan, []string, error) {
	if cfg.Provider == "" {
		return nil, nil, fmt.Errorf("fleet request has no provider")
	}
	if len(cfg.Profiles) == 0 {
		return nil, nil, fmt.Errorf("fleet request declares no profiles")
	}
	if cfg.PortStart == 0 {
		cfg.PortStart = DefaultPortStart
	}
	if cfg.NamingTemplate == "" {
		cfg.NamingTemplate = DefaultNamingTemplate
	}

	capacities := cfg.Profiles
	if cfg.MaxPerProfile > 0 {
		capacities = make([]Capacity, len(cfg.Profiles))
		for i, c := range cfg.Profiles {
			if c.Slots > cfg.MaxPerProfile {
				c.Slots = cfg.MaxPerProfile
			}
			capacities[i] = c
		}
	}

	var warnings []string

	type pair struct{ country, city string }
	var pairs []pair
	for _, country := range cfg.Countries {
		cities, err := p.catalog.ListCities(ctx, cfg.Provider, country)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("skipping %s: %v", country, err))
			continue
		}
		for _, city := range cities {
			pairs = append(pairs, pair{country: country, city: city})
		}
	}

	totalSlots := 0
	for _, c := range capacities {
		totalSlots += c.Slots
	}
	if len(pairs) > totalSlots {
		warnings = append(warnings, fmt.Sprintf(
			"%d cities but only %d profile slots; using first %d cities", len(pairs), totalSlots, totalSlots))
		pairs = pairs[:totalSlots]
	}

	allocator := NewAllocator()
	if err := allocator.Setup(capacities, p.store.ListServices()); err != nil {
		return nil, warnings, err
	}

	plan := &DeploymentPlan{Provider: cfg.Provider}
	port := cfg.PortStart
	for _, pr := range pairs {
		profile, ok := allocator.NextAvailable()
		if !ok {
			warnings = append(warnings, fmt.Sprintf(
				"no more profile slots available; planned %d of %d cities", len(plan.Services), len(pairs)))
			break
		}
		name := SanitizeName(renderName(cfg.NamingTemplate, cfg.Provider, pr.country, pr.city))
		plan.Services = append(plan.Services, ServicePlan{
			Name:     name,
			Profile:  profile,
			Location: pr.city,
			Country:  pr.country,
			Port:     port,
			Provider: cfg.Provider,
		})
		if err := allocator.Allocate(profile, name); err != nil {
			return nil, warnings, err
		}
		port++
	}
	return plan, warnings, nil
}

func renderName(template, provider, country, city string) string {
	return strings.NewReplacer(
		"{provider}", provider,
		"{country}", strings.ReplaceAll(strings.ToLower(country), " ", "-"),
		"{city}", strings.ReplaceAll(strings.ToLower(city), " ", "-"),
	).Replace(template)
}

var (
	invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	repeatedDashes   = regexp.MustCompile(`-+`)
)

// SanitizeName makes a name container-runtime compatible regardless of the
// catalog text it was rendered from. Sanitization is idempotent.
func SanitizeName(name string) string {
	sanitized := invalidNameChars.ReplaceAllString(name, "-")
	sanitized = repeatedDashes.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")
	return strings.ToLower(sanitized)
}
