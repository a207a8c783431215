package seed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apiwatch/apiwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	environments []storage.Environment
	tenants      []storage.Tenant
	endpoints    []storage.Endpoint
	loginLinks   map[int]int
	nextID       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{loginLinks: map[int]int{}}
}

func (f *fakeStore) UpsertEnvironment(name, baseURL, token string, isDefault bool) (*storage.Environment, error) {
	f.nextID++
	env := storage.Environment{ID: f.nextID, Name: name, BaseURL: baseURL, Token: token, IsDefault: isDefault}
	f.environments = append(f.environments, env)
	return &env, nil
}

func (f *fakeStore) UpsertTenant(name, siteURL, repoPath string) (*storage.Tenant, error) {
	f.nextID++
	t := storage.Tenant{ID: f.nextID, Name: name, SiteURL: siteURL, RepoPath: repoPath}
	f.tenants = append(f.tenants, t)
	return &t, nil
}

func (f *fakeStore) UpsertEndpoint(e *storage.Endpoint) (*storage.Endpoint, error) {
	f.nextID++
	copied := *e
	copied.ID = f.nextID
	f.endpoints = append(f.endpoints, copied)
	return &copied, nil
}

func (f *fakeStore) SetEndpointLogin(endpointID int, loginEndpointID *int) error {
	f.loginLinks[endpointID] = *loginEndpointID
	return nil
}

func (f *fakeStore) endpointByName(name string) *storage.Endpoint {
	for i := range f.endpoints {
		if f.endpoints[i].Name == name {
			return &f.endpoints[i]
		}
	}
	return nil
}

const definitionsYAML = `
environments:
  - name: staging
    base_url: https://staging.example.com
    token: shared-token
    default: true

tenants:
  - name: acme
    site_url: https://acme.example.com
    repo_path: deployments/acme

endpoints:
  - name: list-items
    method: get
    route: /api/items
    query:
      active: true
    login: acme-login
    tenant: acme

  - name: acme-login
    method: POST
    route: /api/login
    body:
      user: monitor
    is_login: true
    tenant: acme

  - name: disabled-probe
    method: GET
    route: /api/old
    active: false
    sequence: 99
`

func writeDefinitions(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_UpsertsAllDefinitionKinds(t *testing.T) {
	dir := t.TempDir()
	writeDefinitions(t, dir, "fleet.yaml", definitionsYAML)

	store := newFakeStore()
	require.NoError(t, NewLoader(dir, store).Load())

	require.Len(t, store.environments, 1)
	assert.True(t, store.environments[0].IsDefault)
	assert.Equal(t, "https://staging.example.com", store.environments[0].BaseURL)

	require.Len(t, store.tenants, 1)
	require.Len(t, store.endpoints, 3)

	list := store.endpointByName("list-items")
	require.NotNil(t, list)
	assert.Equal(t, "GET", list.Method)
	assert.JSONEq(t, `{"active": true}`, list.QueryTemplate)
	assert.True(t, list.Active)
	assert.Equal(t, 10, list.Sequence)
	require.NotNil(t, list.TenantID)
	assert.Equal(t, store.tenants[0].ID, *list.TenantID)

	login := store.endpointByName("acme-login")
	require.NotNil(t, login)
	assert.True(t, login.IsLogin)
	assert.JSONEq(t, `{"user": "monitor"}`, login.BodyTemplate)

	// Login link resolves even though the dependency is declared later
	assert.Equal(t, login.ID, store.loginLinks[list.ID])

	disabled := store.endpointByName("disabled-probe")
	require.NotNil(t, disabled)
	assert.False(t, disabled.Active)
	assert.Equal(t, 99, disabled.Sequence)
	assert.Empty(t, disabled.QueryTemplate)
}

func TestLoad_SkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeDefinitions(t, dir, "broken.yaml", "endpoints: [not: valid")
	writeDefinitions(t, dir, "good.yaml", `
environments:
  - name: prod
    base_url: https://prod.example.com
`)
	writeDefinitions(t, dir, "ignored.txt", "not yaml")

	store := newFakeStore()
	require.NoError(t, NewLoader(dir, store).Load())

	require.Len(t, store.environments, 1)
	assert.Equal(t, "prod", store.environments[0].Name)
}

func TestLoad_MissingDirectory(t *testing.T) {
	store := newFakeStore()
	err := NewLoader(filepath.Join(t.TempDir(), "nope"), store).Load()
	assert.Error(t, err)
}

func TestLoad_UnknownTenantFailsFile(t *testing.T) {
	dir := t.TempDir()
	writeDefinitions(t, dir, "bad-ref.yaml", `
endpoints:
  - name: orphan
    method: GET
    route: /x
    tenant: ghost
`)

	store := newFakeStore()
	// The file is skipped with a warning; Load itself still succeeds
	require.NoError(t, NewLoader(dir, store).Load())
	assert.Empty(t, store.endpoints)
}
