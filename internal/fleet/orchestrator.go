package fleet

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/proxy2vpn/proxy2vpn/internal/compose"
)

// Runtime is the container runtime consumed by the orchestrator. Any error
// it returns is treated as a per-service failure, never fatal to the run.
type Runtime interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, svc compose.VPNService, profile compose.Profile) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

// DefaultMaxParallel caps simultaneous container starts when a deploy runs
// in parallel mode.
const DefaultMaxParallel = 5

// Orchestrator executes deployment plans against the store and the
// container runtime.
type Orchestrator struct {
	store       *compose.Store
	runtime     Runtime
	maxParallel int
	out         io.Writer
}

// OrchestratorOptions tunes a fleet orchestrator.
type OrchestratorOptions struct {
	// MaxParallel caps concurrent container starts; DefaultMaxParallel
	// when zero.
	MaxParallel int
	// Out receives progress output; os.Stdout when nil.
	Out io.Writer
}

// NewOrchestrator returns an orchestrator over the given store and runtime.
func NewOrchestrator(store *compose.Store, runtime Runtime, opts OrchestratorOptions) *Orchestrator {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Orchestrator{
		store:       store,
		runtime:     runtime,
		maxParallel: opts.MaxParallel,
		out:         opts.Out,
	}
}

// Deploy commits a plan to the store, then starts the backing containers.
//
// Store mutations run first, sequentially and in plan order. If any entry
// fails to commit, every service this call already added is unwound in
// reverse order, so the store never retains an orphaned partial fleet.
// Container starts only begin once the document reflects the full intended
// state; start failures are reported per service and never roll back the
// store, since retrying a start is a safe corrective action.
func (o *Orchestrator) Deploy(ctx context.Context, plan *DeploymentPlan, parallel bool) (*DeploymentResult, error) {
	result := &DeploymentResult{}

	var added []compose.VPNService
	started := map[string]bool{}

	for _, sp := range plan.Services {
		svc := serviceFromPlan(sp)
		if err := o.store.AddService(svc); err != nil {
			msg := fmt.Sprintf("failed to create service %s: %v", sp.Name, err)
			fmt.Fprintf(o.out, "❌ %s\n", msg)
			result.Errors = append(result.Errors, msg)
			result.Failed++
			continue
		}
		stored, err := o.store.GetService(svc.Name)
		if err != nil {
			return nil, err
		}
		added = append(added, stored)
		fmt.Fprintf(o.out, "✓ Created service: %s (port %d, control %d)\n", stored.Name, stored.Port, stored.ControlPort)
	}

	if result.Failed > 0 {
		o.rollback(ctx, added, started)
		fmt.Fprintf(o.out, "↩ Rolled back %d service(s)\n", len(added))
		return result, nil
	}
	result.Deployed = len(added)

	fmt.Fprintf(o.out, "🚀 Starting %d VPN service(s)...\n", len(added))
	if parallel {
		o.startParallel(ctx, added, started, result)
	} else {
		o.startSequential(ctx, added, started, result)
	}

	for _, svc := range added {
		if started[svc.Name] {
			result.Services = append(result.Services, svc.Name)
		}
	}
	return result, nil
}

// startSequential starts containers one at a time, in plan order.
func (o *Orchestrator) startSequential(ctx context.Context, services []compose.VPNService, started map[string]bool, result *DeploymentResult) {
	for _, svc := range services {
		if err := o.startOne(ctx, svc); err != nil {
			fmt.Fprintf(o.out, "❌ %v\n", err)
			result.Errors = append(result.Errors, err.Error())
			result.Failed++
			continue
		}
		started[svc.Name] = true
		fmt.Fprintf(o.out, "✅ Started %s\n", svc.Name)
	}
}

// startParallel fans starts out under a concurrency limiter. The store is
// never touched from here; by this point the document already reflects the
// final intended state.
func (o *Orchestrator) startParallel(ctx context.Context, services []compose.VPNService, started map[string]bool, result *DeploymentResult) {
	sem := make(chan struct{}, o.maxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, svc := range services {
		wg.Add(1)
		go func(svc compose.VPNService) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := o.startOne(ctx, svc)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fmt.Fprintf(o.out, "❌ %v\n", err)
				result.Errors = append(result.Errors, err.Error())
				result.Failed++
				return
			}
			started[svc.Name] = true
			fmt.Fprintf(o.out, "✅ Started %s\n", svc.Name)
		}(svc)
	}
	wg.Wait()
}

// startOne creates the container if absent, then starts it.
func (o *Orchestrator) startOne(ctx context.Context, svc compose.VPNService) error {
	exists, err := o.runtime.Exists(ctx, svc.Name)
	if err != nil {
		return &RuntimeError{Service: svc.Name, Op: "inspect", Err: err}
	}
	if !exists {
		profile, err := o.store.GetProfile(svc.Profile)
		if err != nil {
			return &RuntimeError{Service: svc.Name, Op: "create", Err: err}
		}
		if err := o.runtime.Create(ctx, svc, profile); err != nil {
			return &RuntimeError{Service: svc.Name, Op: "create", Err: err}
		}
	}
	if err := o.runtime.Start(ctx, svc.Name); err != nil {
		return &RuntimeError{Service: svc.Name, Op: "start", Err: err}
	}
	return nil
}

// StartService creates (if absent) and starts the container for one stored
// service.
func (o *Orchestrator) StartService(ctx context.Context, name string) error {
	svc, err := o.store.GetService(name)
	if err != nil {
		return err
	}
	if err := o.startOne(ctx, svc); err != nil {
		return err
	}
	fmt.Fprintf(o.out, "✅ Started %s\n", svc.Name)
	return nil
}

// rollback unwinds this call's own additions in reverse order. Containers
// are stopped and removed only for services that had one started.
func (o *Orchestrator) rollback(ctx context.Context, added []compose.VPNService, started map[string]bool) {
	for i := len(added) - 1; i >= 0; i-- {
		svc := added[i]
		if started[svc.Name] {
			if err := o.runtime.Stop(ctx, svc.Name); err != nil {
				fmt.Fprintf(o.out, "⚠ failed to stop %s during rollback: %v\n", svc.Name, err)
			}
			if err := o.runtime.Remove(ctx, svc.Name); err != nil {
				fmt.Fprintf(o.out, "⚠ failed to remove %s during rollback: %v\n", svc.Name, err)
			}
		}
		if err := o.store.RemoveService(svc.Name); err != nil {
			fmt.Fprintf(o.out, "⚠ failed to remove %s from store during rollback: %v\n", svc.Name, err)
		}
	}
}

// Status rebuilds allocator state from the live store and groups the fleet
// by profile, country and provider. Declared capacities are optional; when
// absent each profile reports its current occupancy as its capacity.
func (o *Orchestrator) Status(capacities []Capacity) (*FleetStatus, error) {
	services := o.store.ListServices()

	if len(capacities) == 0 {
		occupancy := map[string]int{}
		var order []string
		for _, p := range o.store.ListProfiles() {
			order = append(order, p.Name)
			occupancy[p.Name] = 0
		}
		for _, svc := range services {
			if _, ok := occupancy[svc.Profile]; !ok && svc.Profile != "" {
				order = append(order, svc.Profile)
			}
			occupancy[svc.Profile]++
		}
		for _, name := range order {
			capacities = append(capacities, Capacity{Profile: name, Slots: occupancy[name]})
		}
	}

	allocator := NewAllocator()
	if err := allocator.Setup(capacities, services); err != nil {
		return nil, err
	}

	status := &FleetStatus{
		TotalServices: len(services),
		Profiles:      allocator.Status(),
		ByCountry:     map[string][]string{},
		ByProvider:    map[string][]string{},
	}
	for _, svc := range services {
		country := svc.Country
		if country == "" {
			country = svc.Location
		}
		status.ByCountry[country] = append(status.ByCountry[country], svc.Name)
		status.ByProvider[svc.Provider] = append(status.ByProvider[svc.Provider], svc.Name)
	}
	return status, nil
}

// serviceFromPlan builds the persisted service entry for one plan entry,
// including the identification labels and the gluetun environment.
func serviceFromPlan(sp ServicePlan) compose.VPNService {
	return compose.VPNService{
		Name:     sp.Name,
		Port:     sp.Port,
		Provider: sp.Provider,
		Profile:  sp.Profile,
		Location: sp.Location,
		Country:  sp.Country,
		Environment: map[string]string{
			"VPN_SERVICE_PROVIDER": sp.Provider,
			"SERVER_CITIES":        sp.Location,
		},
		Labels: map[string]string{
			compose.LabelType:     compose.TypeValue,
			compose.LabelProvider: sp.Provider,
			compose.LabelProfile:  sp.Profile,
			compose.LabelLocation: sp.Location,
			compose.LabelCountry:  sp.Country,
		},
	}
}
