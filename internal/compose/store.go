package compose

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Options tunes the reserved control-port range used when deriving control
// ports for new services.
type Options struct {
	ControlPortBase  int
	ControlPortRange int
}

const (
	defaultControlPortBase  = 31000
	defaultControlPortRange = 1000
)

// Store is the single source of truth for the fleet: the persisted compose
// document holding profiles and services. All mutations validate the
// document invariants and write atomically.
type Store struct {
	path     string
	opts     Options
	config   map[string]string
	profiles map[string]Profile
	services map[string]VPNService
}

// Load parses the compose document at path. A missing file yields an empty
// store; a structurally invalid one fails with ErrDocumentFormat.
func Load(path string, opts Options) (*Store, error) {
	if opts.ControlPortBase == 0 {
		opts.ControlPortBase = defaultControlPortBase
	}
	if opts.ControlPortRange == 0 {
		opts.ControlPortRange = defaultControlPortRange
	}
	s := &Store{
		path:     path,
		opts:     opts,
		config:   map[string]string{},
		profiles: map[string]Profile{},
		services: map[string]VPNService{},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read compose document: %w", err)
	}

	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	s.config = doc.Config
	for name, def := range doc.Profiles {
		s.profiles[name] = def.toProfile(name)
	}
	for name, def := range doc.Services {
		svc, err := def.toService(name)
		if err != nil {
			return nil, err
		}
		s.services[name] = svc
	}

	// A dangling profile reference fails the whole load rather than
	// silently dropping the service.
	for _, svc := range s.services {
		if svc.Profile == "" {
			continue
		}
		if _, ok := s.profiles[svc.Profile]; !ok {
			return nil, fmt.Errorf("service %q references profile %q: %w", svc.Name, svc.Profile, ErrNotFound)
		}
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateInitial scaffolds an empty compose document at path. It refuses to
// overwrite an existing file.
func CreateInitial(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("compose document %s: %w", path, ErrDuplicateName)
	}
	doc := document{
		Config:   map[string]string{"version": "1"},
		Profiles: map[string]profileDef{},
		Services: map[string]serviceDef{},
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode compose document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create compose directory: %w", err)
	}
	return writeAtomic(path, data)
}

// Path returns the location of the backing document.
func (s *Store) Path() string { return s.path }

// Config returns a copy of the global x-config section.
func (s *Store) Config() map[string]string { return copyMap(s.config) }

// SetConfig sets a global config key and persists the document.
func (s *Store) SetConfig(key, value string) error {
	prev, had := s.config[key]
	s.config[key] = value
	if err := s.save(); err != nil {
		if had {
			s.config[key] = prev
		} else {
			delete(s.config, key)
		}
		return err
	}
	return nil
}

// GetService returns the named service.
func (s *Store) GetService(name string) (VPNService, error) {
	svc, ok := s.services[name]
	if !ok {
		return VPNService{}, fmt.Errorf("service %q: %w", name, ErrNotFound)
	}
	return svc.Clone(), nil
}

// ListServices returns a snapshot of all services, sorted by name.
func (s *Store) ListServices() []VPNService {
	out := make([]VPNService, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddService inserts a service and persists the document. The service's
// control port is derived from its name when unset. Name, port and control
// port collisions fail with ErrDuplicateName and leave the document
// untouched.
func (s *Store) AddService(svc VPNService) error {
	if err := validName(svc.Name); err != nil {
		return err
	}
	if _, ok := s.services[svc.Name]; ok {
		return fmt.Errorf("service %q: %w", svc.Name, ErrDuplicateName)
	}
	if svc.Profile != "" {
		if _, ok := s.profiles[svc.Profile]; !ok {
			return fmt.Errorf("service %q references profile %q: %w", svc.Name, svc.Profile, ErrNotFound)
		}
	}
	if svc.ControlPort == 0 {
		port, err := s.DeriveControlPort(svc.Name)
		if err != nil {
			return err
		}
		svc.ControlPort = port
	}

	svc = svc.Clone()
	s.services[svc.Name] = svc
	if err := s.validate(); err != nil {
		delete(s.services, svc.Name)
		return err
	}
	if err := s.save(); err != nil {
		delete(s.services, svc.Name)
		return err
	}
	return nil
}

// RemoveService deletes a service and persists the document.
func (s *Store) RemoveService(name string) error {
	svc, ok := s.services[name]
	if !ok {
		return fmt.Errorf("service %q: %w", name, ErrNotFound)
	}
	delete(s.services, name)
	if err := s.save(); err != nil {
		s.services[name] = svc
		return err
	}
	return nil
}

// GetProfile returns the named profile.
func (s *Store) GetProfile(name string) (Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	return p.Clone(), nil
}

// ListProfiles returns a snapshot of all profiles, sorted by name.
func (s *Store) ListProfiles() []Profile {
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddProfile inserts a profile and persists the document.
func (s *Store) AddProfile(p Profile) error {
	if err := validName(p.Name); err != nil {
		return err
	}
	if _, ok := s.profiles[p.Name]; ok {
		return fmt.Errorf("profile %q: %w", p.Name, ErrDuplicateName)
	}
	p = p.Clone()
	s.profiles[p.Name] = p
	if err := s.save(); err != nil {
		delete(s.profiles, p.Name)
		return err
	}
	return nil
}

// RemoveProfile deletes a profile. It fails while any service still
// references it.
func (s *Store) RemoveProfile(name string) error {
	p, ok := s.profiles[name]
	if !ok {
		return fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	for _, svc := range s.services {
		if svc.Profile == name {
			return fmt.Errorf("profile %q is referenced by service %q: %w", name, svc.Name, ErrDuplicateName)
		}
	}
	delete(s.profiles, name)
	if err := s.save(); err != nil {
		s.profiles[name] = p
		return err
	}
	return nil
}

// DeriveControlPort maps a service name into the reserved control-port
// range. On collision with a port already present in the store it probes
// linearly through the range; the write-time uniqueness check remains the
// backstop.
func (s *Store) DeriveControlPort(name string) (int, error) {
	used := map[int]bool{}
	for _, svc := range s.services {
		used[svc.Port] = true
		used[svc.ControlPort] = true
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	offset := int(h.Sum32()) % s.opts.ControlPortRange
	if offset < 0 {
		offset += s.opts.ControlPortRange
	}
	for i := 0; i < s.opts.ControlPortRange; i++ {
		port := s.opts.ControlPortBase + (offset+i)%s.opts.ControlPortRange
		if !used[port] {
			return port, nil
		}
	}
	return 0, fmt.Errorf("control port range %d-%d exhausted: %w",
		s.opts.ControlPortBase, s.opts.ControlPortBase+s.opts.ControlPortRange-1, ErrDuplicateName)
}

// validate enforces the document invariants: globally unique proxy and
// control ports and no dangling profile references.
func (s *Store) validate() error {
	ports := map[int]string{}
	for _, svc := range s.services {
		if other, ok := ports[svc.Port]; ok {
			return fmt.Errorf("port %d used by both %q and %q: %w", svc.Port, other, svc.Name, ErrDuplicateName)
		}
		ports[svc.Port] = svc.Name
	}
	controlPorts := map[int]string{}
	for _, svc := range s.services {
		if other, ok := controlPorts[svc.ControlPort]; ok {
			return fmt.Errorf("control port %d used by both %q and %q: %w", svc.ControlPort, other, svc.Name, ErrDuplicateName)
		}
		controlPorts[svc.ControlPort] = svc.Name
		if other, ok := ports[svc.ControlPort]; ok {
			return fmt.Errorf("control port %d of %q collides with proxy port of %q: %w", svc.ControlPort, svc.Name, other, ErrDuplicateName)
		}
		if svc.Profile != "" {
			if _, ok := s.profiles[svc.Profile]; !ok {
				return fmt.Errorf("service %q references profile %q: %w", svc.Name, svc.Profile, ErrNotFound)
			}
		}
	}
	return nil
}

func (s *Store) save() error {
	doc := document{
		Config:   s.config,
		Profiles: make(map[string]profileDef, len(s.profiles)),
		Services: make(map[string]serviceDef, len(s.services)),
	}
	for name, p := range s.profiles {
		doc.Profiles[name] = profileToDef(p)
	}
	for name, svc := range s.services {
		image := ""
		if p, ok := s.profiles[svc.Profile]; ok {
			image = p.Image
		}
		doc.Services[name] = serviceToDef(svc, image)
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode compose document: %w", err)
	}
	return writeAtomic(s.path, data)
}

// writeAtomic writes to a temp file in the document's directory and renames
// it over the live document, so a crash mid-write cannot corrupt it.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".compose-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write compose document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write compose document: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write compose document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace compose document: %w", err)
	}
	return nil
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrDocumentFormat)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("name %q contains invalid character %q: %w", name, r, ErrDocumentFormat)
		}
	}
	return nil
}
