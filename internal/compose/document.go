package compose

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// document mirrors the on-disk docker-compose dialect: a global x-config
// section, profiles under the x-profiles extension key and one compose
// service per VPN exit node.
type document struct {
	Config   map[string]string     `yaml:"x-config"`
	Profiles map[string]profileDef `yaml:"x-profiles"`
	Services map[string]serviceDef `yaml:"services"`
}

type profileDef struct {
	EnvFile string   `yaml:"env_file,omitempty"`
	Image   string   `yaml:"image"`
	CapAdd  []string `yaml:"cap_add,omitempty"`
	Devices []string `yaml:"devices,omitempty"`
}

type serviceDef struct {
	Image       string            `yaml:"image,omitempty"`
	Ports       []string          `yaml:"ports"`
	Environment []string          `yaml:"environment,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

// Well-known label keys used to identify and describe VPN containers.
const (
	LabelType        = "vpn.type"
	LabelPort        = "vpn.port"
	LabelControlPort = "vpn.control_port"
	LabelProvider    = "vpn.provider"
	LabelProfile     = "vpn.profile"
	LabelLocation    = "vpn.location"
	LabelCountry     = "vpn.country"

	// TypeValue marks a container as managed by this tool.
	TypeValue = "vpn"
)

func parseDocument(data []byte) (*document, error) {
	// Decode loosely first so a missing section is distinguishable from an
	// empty one and reported as a format problem.
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentFormat, err)
	}
	for _, section := range []string{"x-config", "x-profiles", "services"} {
		if _, ok := raw[section]; !ok {
			return nil, fmt.Errorf("%w: missing %q section", ErrDocumentFormat, section)
		}
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentFormat, err)
	}
	if doc.Config == nil {
		doc.Config = map[string]string{}
	}
	if doc.Profiles == nil {
		doc.Profiles = map[string]profileDef{}
	}
	if doc.Services == nil {
		doc.Services = map[string]serviceDef{}
	}
	return &doc, nil
}

func (d profileDef) toProfile(name string) Profile {
	return Profile{
		Name:    name,
		EnvFile: d.EnvFile,
		Image:   d.Image,
		CapAdd:  append([]string(nil), d.CapAdd...),
		Devices: append([]string(nil), d.Devices...),
	}
}

func profileToDef(p Profile) profileDef {
	return profileDef{
		EnvFile: p.EnvFile,
		Image:   p.Image,
		CapAdd:  append([]string(nil), p.CapAdd...),
		Devices: append([]string(nil), p.Devices...),
	}
}

func (d serviceDef) toService(name string) (VPNService, error) {
	svc := VPNService{
		Name:        name,
		Environment: map[string]string{},
		Labels:      copyMap(d.Labels),
	}
	if svc.Labels == nil {
		svc.Labels = map[string]string{}
	}
	for i, mapping := range d.Ports {
		port, err := hostPort(mapping)
		if err != nil {
			return VPNService{}, fmt.Errorf("%w: service %q: %v", ErrDocumentFormat, name, err)
		}
		switch i {
		case 0:
			svc.Port = port
		case 1:
			svc.ControlPort = port
		}
	}
	for _, item := range d.Environment {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		svc.Environment[k] = v
	}
	svc.Provider = firstNonEmpty(svc.Labels[LabelProvider], svc.Environment["VPN_SERVICE_PROVIDER"])
	svc.Profile = svc.Labels[LabelProfile]
	svc.Location = firstNonEmpty(svc.Labels[LabelLocation], svc.Environment["SERVER_CITIES"])
	svc.Country = svc.Labels[LabelCountry]
	return svc, nil
}

func serviceToDef(svc VPNService, image string) serviceDef {
	env := make([]string, 0, len(svc.Environment))
	for k, v := range svc.Environment {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	labels := copyMap(svc.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	labels[LabelType] = TypeValue
	labels[LabelPort] = strconv.Itoa(svc.Port)
	labels[LabelControlPort] = strconv.Itoa(svc.ControlPort)
	labels[LabelProvider] = svc.Provider
	labels[LabelProfile] = svc.Profile
	labels[LabelLocation] = svc.Location
	if svc.Country != "" {
		labels[LabelCountry] = svc.Country
	}

	return serviceDef{
		Image: image,
		Ports: []string{
			fmt.Sprintf("%d:%d/tcp", svc.Port, ProxyInternalPort),
			fmt.Sprintf("%d:%d/tcp", svc.ControlPort, ControlInternalPort),
		},
		Environment: env,
		Labels:      labels,
	}
}

// hostPort extracts the host side of a compose port mapping. Accepted forms
// are "host:container/proto", "ip:host:container" and a bare port.
func hostPort(mapping string) (int, error) {
	trimmed := mapping
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	parts := strings.Split(trimmed, ":")
	var host string
	switch len(parts) {
	case 1:
		host = parts[0]
	case 2:
		host = parts[0]
	case 3:
		host = parts[1]
	default:
		return 0, fmt.Errorf("bad port mapping %q", mapping)
	}
	port, err := strconv.Atoi(host)
	if err != nil {
		return 0, fmt.Errorf("bad port mapping %q", mapping)
	}
	return port, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
