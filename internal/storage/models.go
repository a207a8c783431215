package storage

import "time"

// Tenant lifecycle states for a test run.
const (
	StateDraft   = "draft"
	StateRunning = "running"
	StateSuccess = "success"
	StateFailed  = "failed"
)

// Last-check statuses recorded on a tenant after a run.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Endpoint / result states.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Environment is a named deployment target tests run against.
type Environment struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"base_url"`
	Token     string    `json:"token,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tenant is a customer scope owning a login endpoint and aggregate metrics.
// The summary fields are overwritten in place by each run; history lives
// only in the test_results log.
type Tenant struct {
	ID             int        `json:"id"`
	Name           string     `json:"name"`
	SiteURL        string     `json:"site_url,omitempty"`
	RepoPath       string     `json:"repo_path,omitempty"`
	LastCheckAt    *time.Time `json:"last_check_at,omitempty"`
	LastStatus     string     `json:"last_status"`
	PassPercentage float64    `json:"pass_percentage"`
	State          string     `json:"state"`
	MasterSHA      string     `json:"master_sha,omitempty"`
	MasterSHAAt    *time.Time `json:"master_sha_at,omitempty"`
	DeployedSHA    string     `json:"deployed_sha,omitempty"`
	UpToDate       bool       `json:"up_to_date"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Endpoint is a stored definition of one HTTP call to make during testing.
// The header/body/query templates are stored as raw JSON text; invalid JSON
// degrades to an empty object at execution time rather than failing the call.
type Endpoint struct {
	ID              int        `json:"id"`
	Name            string     `json:"name"`
	Method          string     `json:"method"`
	Route           string     `json:"route"`
	HeaderTemplate  string     `json:"header_template,omitempty"`
	BodyTemplate    string     `json:"body_template,omitempty"`
	QueryTemplate   string     `json:"query_template,omitempty"`
	LoginEndpointID *int       `json:"login_endpoint_id,omitempty"`
	IsLogin         bool       `json:"is_login"`
	TenantID        *int       `json:"tenant_id,omitempty"`
	Active          bool       `json:"active"`
	Sequence        int        `json:"sequence"`
	LastResponse    string     `json:"last_response,omitempty"`
	LastState       string     `json:"last_state"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TestResult is one persisted record of a single call's outcome. Append-only;
// the annotation is the only field ever written after creation.
type TestResult struct {
	ID             int       `json:"id"`
	EndpointID     int       `json:"endpoint_id"`
	EnvironmentID  *int      `json:"environment_id,omitempty"`
	TenantID       *int      `json:"tenant_id,omitempty"`
	StatusCode     int       `json:"status_code"`
	Success        bool      `json:"success"`
	Response       string    `json:"response,omitempty"`
	State          string    `json:"state"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Annotation     *string   `json:"annotation,omitempty"`
	TestedAt       time.Time `json:"tested_at"`
}

// TenantNote is a human-readable message attached to a tenant, written
// whenever a run finishes or aborts so operators can see why without logs.
type TenantNote struct {
	ID        int       `json:"id"`
	TenantID  int       `json:"tenant_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ModuleStatus tracks one module of a tenant's deployment: the version
// published in the master repository vs the version the tenant reports
// as installed.
type ModuleStatus struct {
	ID               int        `json:"id"`
	TenantID         int        `json:"tenant_id"`
	Name             string     `json:"name"`
	Summary          string     `json:"summary,omitempty"`
	RepoVersion      string     `json:"repo_version,omitempty"`
	InstalledVersion string     `json:"installed_version,omitempty"`
	Installed        bool       `json:"installed"`
	UpToDate         bool       `json:"up_to_date"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
	LastCheckedAt    *time.Time `json:"last_checked_at,omitempty"`
}

// Snapshot is the current fleet state handed to the metrics exporter after
// each run cycle.
type Snapshot struct {
	Tenants   []Tenant   `json:"tenants"`
	Endpoints []Endpoint `json:"endpoints"`
	UpdatedAt time.Time  `json:"updated_at"`
}
