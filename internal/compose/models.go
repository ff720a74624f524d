package compose

// Profile is a reusable credential/runtime template referenced by services.
type Profile struct {
	Name    string
	EnvFile string
	Image   string
	CapAdd  []string
	Devices []string
}

// VPNService is one deployed exit node tracked in the compose document.
type VPNService struct {
	Name        string
	Port        int
	ControlPort int
	Provider    string
	Profile     string
	Location    string
	Country     string
	Environment map[string]string
	Labels      map[string]string
}

// Container ports gluetun exposes inside the container. The host side of
// both mappings is tracked per service in the compose document.
const (
	ProxyInternalPort   = 8888
	ControlInternalPort = 8000
)

// Clone returns a copy with no shared map state.
func (s VPNService) Clone() VPNService {
	out := s
	out.Environment = copyMap(s.Environment)
	out.Labels = copyMap(s.Labels)
	return out
}

// Clone returns a copy with no shared slice state.
func (p Profile) Clone() Profile {
	out := p
	out.CapAdd = append([]string(nil), p.CapAdd...)
	out.Devices = append([]string(nil), p.Devices...)
	return out
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
