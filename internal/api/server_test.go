package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apiwatch/apiwatch/internal/modsync"
	"github.com/apiwatch/apiwatch/internal/runner"
	"github.com/apiwatch/apiwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPIStore struct {
	tenants     map[int]*storage.Tenant
	endpoints   map[int]*storage.Endpoint
	results     map[int]*storage.TestResult
	annotations map[int]string

	lastTenantID *int
	lastLimit    int
}

func newFakeAPIStore() *fakeAPIStore {
	return &fakeAPIStore{
		tenants:     map[int]*storage.Tenant{},
		endpoints:   map[int]*storage.Endpoint{},
		results:     map[int]*storage.TestResult{},
		annotations: map[int]string{},
	}
}

func (f *fakeAPIStore) AllTenants() ([]storage.Tenant, error) {
	var out []storage.Tenant
	for _, t := range f.tenants {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeAPIStore) GetTenant(id int) (*storage.Tenant, error) {
	return f.tenants[id], nil
}

func (f *fakeAPIStore) AllEndpoints() ([]storage.Endpoint, error) {
	var out []storage.Endpoint
	for _, ep := range f.endpoints {
		out = append(out, *ep)
	}
	return out, nil
}

func (f *fakeAPIStore) GetEndpoint(id int) (*storage.Endpoint, error) {
	return f.endpoints[id], nil
}

func (f *fakeAPIStore) AllEnvironments() ([]storage.Environment, error) {
	return []storage.Environment{{ID: 1, Name: "staging"}}, nil
}

func (f *fakeAPIStore) RecentResults(tenantID *int, limit int) ([]storage.TestResult, error) {
	f.lastTenantID = tenantID
	f.lastLimit = limit
	var out []storage.TestResult
	for _, res := range f.results {
		out = append(out, *res)
	}
	return out, nil
}

func (f *fakeAPIStore) GetTestResult(id int) (*storage.TestResult, error) {
	return f.results[id], nil
}

func (f *fakeAPIStore) AnnotateTestResult(id int, annotation string) error {
	f.annotations[id] = annotation
	return nil
}

func (f *fakeAPIStore) TenantNotes(tenantID, limit int) ([]storage.TenantNote, error) {
	return []storage.TenantNote{{ID: 1, TenantID: tenantID, Body: "note"}}, nil
}

func (f *fakeAPIStore) ModuleStatuses(tenantID int) ([]storage.ModuleStatus, error) {
	return nil, nil
}

type fakeRunner struct {
	endpointErr error
	tenantRuns  chan string
	sweeps      chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		tenantRuns: make(chan string, 8),
		sweeps:     make(chan struct{}, 8),
	}
}

func (f *fakeRunner) RunEndpoint(ep *storage.Endpoint, env *storage.Environment) (bool, error) {
	if f.endpointErr != nil {
		return false, f.endpointErr
	}
	return true, nil
}

func (f *fakeRunner) RunTenant(t *storage.Tenant) error {
	f.tenantRuns <- t.Name
	return nil
}

func (f *fakeRunner) RunAllEndpoints() {
	f.sweeps <- struct{}{}
}

type fakeScheduler struct {
	triggered int
}

func (f *fakeScheduler) RunNow() { f.triggered++ }

func (f *fakeScheduler) GetStats() map[string]interface{} {
	return map[string]interface{}{"check_interval": "15m0s"}
}

type fakeSyncer struct {
	shaErr error
}

func (f *fakeSyncer) SyncRepoModules(t *storage.Tenant) (*modsync.Summary, error) {
	return &modsync.Summary{New: 3, Updated: 1}, nil
}

func (f *fakeSyncer) RefreshSHAs(t *storage.Tenant) error { return f.shaErr }

func (f *fakeSyncer) CheckInstalledModules(t *storage.Tenant) error { return nil }

type fakeAdvisor struct {
	answer string
	err    error
}

func (f *fakeAdvisor) Explain(result *storage.TestResult) (string, error) {
	return f.answer, f.err
}

type fakeSeeder struct {
	loads int
}

func (f *fakeSeeder) Load() error {
	f.loads++
	return nil
}

type testHarness struct {
	store   *fakeAPIStore
	runner  *fakeRunner
	sched   *fakeScheduler
	syncer  *fakeSyncer
	advisor *fakeAdvisor
	seeder  *fakeSeeder
	server  *httptest.Server
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		store:   newFakeAPIStore(),
		runner:  newFakeRunner(),
		sched:   &fakeScheduler{},
		syncer:  &fakeSyncer{},
		advisor: &fakeAdvisor{answer: "Check the credentials."},
		seeder:  &fakeSeeder{},
	}
	srv := NewServer(Config{
		Store:     h.store,
		Runner:    h.runner,
		Scheduler: h.sched,
		Syncer:    h.syncer,
		Advisor:   h.advisor,
		Seeder:    h.seeder,
		Port:      0,
	})
	h.server = httptest.NewServer(srv.Router())
	t.Cleanup(h.server.Close)
	return h
}

func (h *testHarness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.server.URL + path)
	require.NoError(t, err)
	return resp
}

func (h *testHarness) post(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.server.URL+path, "application/json", nil)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestListTenants(t *testing.T) {
	h := newHarness(t)
	h.store.tenants[1] = &storage.Tenant{ID: 1, Name: "acme"}

	resp := h.get(t, "/api/tenants/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var tenants []storage.Tenant
	decodeBody(t, resp, &tenants)
	require.Len(t, tenants, 1)
	assert.Equal(t, "acme", tenants[0].Name)
}

func TestGetTenant_NotFound(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/api/tenants/42")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTenant_InvalidID(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/api/tenants/abc")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResultsFiltering(t *testing.T) {
	h := newHarness(t)
	h.store.results[1] = &storage.TestResult{ID: 1}

	resp := h.get(t, "/api/results?tenant_id=7&limit=500")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NotNil(t, h.store.lastTenantID)
	assert.Equal(t, 7, *h.store.lastTenantID)
	assert.Equal(t, 200, h.store.lastLimit) // capped

	resp = h.get(t, "/api/results")
	defer resp.Body.Close()
	assert.Nil(t, h.store.lastTenantID)
	assert.Equal(t, 50, h.store.lastLimit)

	resp = h.get(t, "/api/results?tenant_id=nope")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunAllTenants(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/run")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.NotEmpty(t, body["run_id"])
	assert.Equal(t, 1, h.sched.triggered)
}

func TestRunAllEndpoints(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/run/endpoints")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-h.runner.sweeps:
	case <-time.After(2 * time.Second):
		t.Fatal("endpoint sweep never started")
	}
}

func TestRunTenant(t *testing.T) {
	h := newHarness(t)
	h.store.tenants[3] = &storage.Tenant{ID: 3, Name: "globex"}

	resp := h.post(t, "/api/tenants/3/run")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case name := <-h.runner.tenantRuns:
		assert.Equal(t, "globex", name)
	case <-time.After(2 * time.Second):
		t.Fatal("tenant run never started")
	}
}

func TestRunEndpoint(t *testing.T) {
	h := newHarness(t)
	h.store.endpoints[5] = &storage.Endpoint{ID: 5, Name: "list-items"}

	resp := h.post(t, "/api/endpoints/5/run")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "list-items", body["endpoint"])
	assert.Equal(t, true, body["success"])
}

func TestRunEndpoint_NoDefaultEnvironment(t *testing.T) {
	h := newHarness(t)
	h.store.endpoints[5] = &storage.Endpoint{ID: 5, Name: "list-items"}
	h.runner.endpointErr = runner.ErrNoDefaultEnvironment

	resp := h.post(t, "/api/endpoints/5/run")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestExplainResult(t *testing.T) {
	h := newHarness(t)
	h.store.results[9] = &storage.TestResult{ID: 9, StatusCode: 500, Success: false, Response: "boom"}

	resp := h.post(t, "/api/results/9/explain")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "Check the credentials.", body["annotation"])
	assert.Equal(t, "Check the credentials.", h.store.annotations[9])
}

func TestExplainResult_SuccessRejected(t *testing.T) {
	h := newHarness(t)
	h.store.results[9] = &storage.TestResult{ID: 9, StatusCode: 200, Success: true}

	resp := h.post(t, "/api/results/9/explain")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, h.store.annotations)
}

func TestExplainResult_NotFound(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/results/9/explain")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModuleSync(t *testing.T) {
	h := newHarness(t)
	h.store.tenants[1] = &storage.Tenant{ID: 1, Name: "acme"}

	resp := h.post(t, "/api/tenants/1/modules/sync")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summary modsync.Summary
	decodeBody(t, resp, &summary)
	assert.Equal(t, 3, summary.New)
	assert.Equal(t, 1, summary.Updated)
}

func TestRefreshSHAs_Failure(t *testing.T) {
	h := newHarness(t)
	h.store.tenants[1] = &storage.Tenant{ID: 1, Name: "acme"}
	h.syncer.shaErr = assert.AnError

	resp := h.post(t, "/api/tenants/1/sha")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSeedReload(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/seed/reload")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, h.seeder.loads)
}

func TestStats(t *testing.T) {
	h := newHarness(t)

	resp := h.get(t, "/api/stats")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]interface{}
	decodeBody(t, resp, &stats)
	assert.Equal(t, "15m0s", stats["check_interval"])
}
