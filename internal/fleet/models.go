package fleet

// Capacity declares how many service slots one profile contributes. Order
// of declaration matters: the allocator hands out slots in declared order.
type Capacity struct {
	Profile string `json:"profile"`
	Slots   int    `json:"slots"`
}

// FleetConfig is a declarative fleet request: N exit locations across these
// countries, drawn from these credential pools.
type FleetConfig struct {
	Provider       string
	Countries      []string
	Profiles       []Capacity
	PortStart      int
	NamingTemplate string
	MaxPerProfile  int
}

// DefaultPortStart is used when a fleet request does not name one.
const DefaultPortStart = 20000

// DefaultNamingTemplate renders provider, country and city into a service
// name.
const DefaultNamingTemplate = "{provider}-{country}-{city}"

// ServicePlan is a proposed, unpersisted service. It becomes a VPNService
// only once the orchestrator commits it to the store.
type ServicePlan struct {
	Name     string `json:"name"`
	Profile  string `json:"profile"`
	Location string `json:"location"`
	Country  string `json:"country"`
	Port     int    `json:"port"`
	Provider string `json:"provider"`
}

// DeploymentPlan is an ordered list of proposed services. It is pure data:
// serializable and replayable, with no store or runtime state behind it.
type DeploymentPlan struct {
	Provider string        `json:"provider"`
	Services []ServicePlan `json:"services"`
}

// ServiceNames returns the planned names in plan order.
func (p *DeploymentPlan) ServiceNames() []string {
	names := make([]string, len(p.Services))
	for i, s := range p.Services {
		names[i] = s.Name
	}
	return names
}

// DeploymentResult summarizes one deploy call: tallies, the services whose
// containers are up, and one error string per failure in the order
// encountered.
type DeploymentResult struct {
	Deployed int
	Failed   int
	Services []string
	Errors   []string
}

// ProfileStatus reports one profile's occupancy for fleet status output.
type ProfileStatus struct {
	Profile   string
	Capacity  int
	Remaining int
	Services  []string
}

// FleetStatus is the operator-facing summary of the persisted fleet,
// rebuilt from the live store on every call.
type FleetStatus struct {
	TotalServices int
	Profiles      []ProfileStatus
	ByCountry     map[string][]string
	ByProvider    map[string][]string
}
