package compose

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compose.yaml")
	store, err := Load(path, Options{})
	require.NoError(t, err)
	return store
}

func testProfile(name string) Profile {
	return Profile{
		Name:    name,
		EnvFile: "profiles/" + name + ".env",
		Image:   "qmcgaw/gluetun:latest",
		CapAdd:  []string{"NET_ADMIN"},
		Devices: []string{"/dev/net/tun:/dev/net/tun"},
	}
}

func TestLoadMissingFileIsEmptyStore(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), Options{})
	require.NoError(t, err)
	assert.Empty(t, store.ListServices())
	assert.Empty(t, store.ListProfiles())
}

func TestCreateInitialAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compose.yaml")
	require.NoError(t, CreateInitial(path))

	store, err := Load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "1", store.Config()["version"])

	require.NoError(t, store.SetConfig("network", "custom_net"))
	reloaded, err := Load(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "custom_net", reloaded.Config()["network"])

	// Refuses to overwrite
	require.Error(t, CreateInitial(path))
}

func TestAddServiceRoundTrip(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.AddProfile(testProfile("acc1")))

	svc := VPNService{
		Name:     "prov-de-berlin",
		Port:     20000,
		Provider: "prov",
		Profile:  "acc1",
		Location: "Berlin",
		Country:  "Germany",
		Environment: map[string]string{
			"VPN_SERVICE_PROVIDER": "prov",
			"SERVER_CITIES":        "Berlin",
		},
	}
	require.NoError(t, store.AddService(svc))

	stored, err := store.GetService("prov-de-berlin")
	require.NoError(t, err)
	assert.NotZero(t, stored.ControlPort)

	reloaded, err := Load(store.Path(), Options{})
	require.NoError(t, err)
	got, err := reloaded.GetService("prov-de-berlin")
	require.NoError(t, err)

	assert.Equal(t, stored.Port, got.Port)
	assert.Equal(t, stored.ControlPort, got.ControlPort)
	assert.Equal(t, "acc1", got.Profile)
	assert.Equal(t, "prov", got.Provider)
	assert.Equal(t, "Berlin", got.Location)
	assert.Equal(t, "Germany", got.Country)
	assert.Equal(t, stored.Environment, got.Environment)
	assert.Equal(t, TypeValue, got.Labels[LabelType])

	prof, err := reloaded.GetProfile("acc1")
	require.NoError(t, err)
	assert.Equal(t, testProfile("acc1"), prof)
}

func TestAddServiceDuplicateNameLeavesDocumentUntouched(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.AddProfile(testProfile("acc1")))
	require.NoError(t, store.AddService(VPNService{Name: "svc-a", Port: 20000, Profile: "acc1"}))

	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	err = store.AddService(VPNService{Name: "svc-a", Port: 20001, Profile: "acc1"})
	require.ErrorIs(t, err, ErrDuplicateName)

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAddServiceDuplicatePortLeavesDocumentUntouched(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.AddProfile(testProfile("acc1")))
	require.NoError(t, store.AddService(VPNService{Name: "svc-a", Port: 20000, Profile: "acc1"}))

	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	err = store.AddService(VPNService{Name: "svc-b", Port: 20000, Profile: "acc1"})
	require.ErrorIs(t, err, ErrDuplicateName)
	_, err = store.GetService("svc-b")
	require.ErrorIs(t, err, ErrNotFound)

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAddServiceDuplicateControlPort(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.AddProfile(testProfile("acc1")))
	require.NoError(t, store.AddService(VPNService{Name: "svc-a", Port: 20000, ControlPort: 31500, Profile: "acc1"}))

	err := store.AddService(VPNService{Name: "svc-b", Port: 20001, ControlPort: 31500, Profile: "acc1"})
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestAddServiceUnknownProfile(t *testing.T) {
	store := testStore(t)
	err := store.AddService(VPNService{Name: "svc-a", Port: 20000, Profile: "ghost"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveService(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.AddProfile(testProfile("acc1")))
	require.NoError(t, store.AddService(VPNService{Name: "svc-a", Port: 20000, Profile: "acc1"}))

	require.NoError(t, store.RemoveService("svc-a"))
	require.ErrorIs(t, store.RemoveService("svc-a"), ErrNotFound)

	reloaded, err := Load(store.Path(), Options{})
	require.NoError(t, err)
	assert.Empty(t, reloaded.ListServices())
}

func TestRemoveProfileStillReferenced(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.AddProfile(testProfile("acc1")))
	require.NoError(t, store.AddService(VPNService{Name: "svc-a", Port: 20000, Profile: "acc1"}))

	require.Error(t, store.RemoveProfile("acc1"))

	require.NoError(t, store.RemoveService("svc-a"))
	require.NoError(t, store.RemoveProfile("acc1"))
}

func TestLoadMissingSectionFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compose.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services: {}\n"), 0644))

	_, err := Load(path, Options{})
	require.ErrorIs(t, err, ErrDocumentFormat)
}

func TestLoadUnparsableDocumentFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- not yaml"), 0644))

	_, err := Load(path, Options{})
	require.ErrorIs(t, err, ErrDocumentFormat)
}

func TestLoadDanglingProfileReferenceFails(t *testing.T) {
	doc := `x-config: {}
x-profiles: {}
services:
  svc-a:
    ports: ["20000:8888/tcp", "31000:8000/tcp"]
    labels:
      vpn.profile: ghost
`
	path := filepath.Join(t.TempDir(), "compose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	_, err := Load(path, Options{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadBadPortMappingFails(t *testing.T) {
	doc := `x-config: {}
x-profiles: {}
services:
  svc-a:
    ports: ["what:8888/tcp"]
`
	path := filepath.Join(t.TempDir(), "compose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	_, err := Load(path, Options{})
	require.ErrorIs(t, err, ErrDocumentFormat)
}

func TestListServicesReturnsSnapshots(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.AddProfile(testProfile("acc1")))
	require.NoError(t, store.AddService(VPNService{
		Name: "svc-a", Port: 20000, Profile: "acc1",
		Environment: map[string]string{"K": "v"},
	}))

	list := store.ListServices()
	require.Len(t, list, 1)
	list[0].Environment["K"] = "mutated"

	got, err := store.GetService("svc-a")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Environment["K"])
}

func TestDeriveControlPortDeterministic(t *testing.T) {
	store := testStore(t)

	a, err := store.DeriveControlPort("svc-a")
	require.NoError(t, err)
	b, err := store.DeriveControlPort("svc-a")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 31000)
	assert.Less(t, a, 32000)
}

func TestDeriveControlPortProbesOnCollision(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.AddProfile(testProfile("acc1")))

	want, err := store.DeriveControlPort("svc-b")
	require.NoError(t, err)

	// Occupy the derived port with another service; derivation must move
	// to the next free port instead of failing.
	require.NoError(t, store.AddService(VPNService{Name: "holder", Port: 20000, ControlPort: want, Profile: "acc1"}))

	got, err := store.DeriveControlPort("svc-b")
	require.NoError(t, err)
	assert.NotEqual(t, want, got)
}

func TestInvalidServiceNameRejected(t *testing.T) {
	store := testStore(t)
	err := store.AddService(VPNService{Name: "bad name!", Port: 20000})
	require.Error(t, err)
}
