package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Storage provides database operations for the console
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new Storage instance
func NewStorage(connectionString string) (*Storage, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Storage{db: db}, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// --- Environments ---

// UpsertEnvironment inserts or updates an environment, keyed by name
func (s *Storage) UpsertEnvironment(name, baseURL, token string, isDefault bool) (*Environment, error) {
	query := `
		INSERT INTO environments (name, base_url, token, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (name)
		DO UPDATE SET base_url = EXCLUDED.base_url, token = EXCLUDED.token,
		              is_default = EXCLUDED.is_default, updated_at = EXCLUDED.updated_at
		RETURNING id, name, base_url, token, is_default, created_at, updated_at
	`

	var e Environment
	err := s.db.QueryRow(query, name, baseURL, token, isDefault, time.Now()).Scan(
		&e.ID, &e.Name, &e.BaseURL, &e.Token, &e.IsDefault, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert environment: %w", err)
	}

	return &e, nil
}

// DefaultEnvironment returns the first environment flagged as default, or nil
// when none exists. Multiple defaults are not rejected; the first match wins.
func (s *Storage) DefaultEnvironment() (*Environment, error) {
	query := `
		SELECT id, name, base_url, token, is_default, created_at, updated_at
		FROM environments
		WHERE is_default = TRUE
		ORDER BY id
		LIMIT 1
	`

	var e Environment
	err := s.db.QueryRow(query).Scan(
		&e.ID, &e.Name, &e.BaseURL, &e.Token, &e.IsDefault, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query default environment: %w", err)
	}

	return &e, nil
}

// AllEnvironments retrieves all environments
func (s *Storage) AllEnvironments() ([]Environment, error) {
	query := `
		SELECT id, name, base_url, token, is_default, created_at, updated_at
		FROM environments
		ORDER BY name
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query environments: %w", err)
	}
	defer rows.Close()

	var environments []Environment
	for rows.Next() {
		var e Environment
		if err := rows.Scan(&e.ID, &e.Name, &e.BaseURL, &e.Token, &e.IsDefault, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		environments = append(environments, e)
	}

	return environments, rows.Err()
}

// --- Tenants ---

// UpsertTenant inserts or updates a tenant, keyed by name
func (s *Storage) UpsertTenant(name, siteURL, repoPath string) (*Tenant, error) {
	query := `
		INSERT INTO tenants (name, site_url, repo_path, last_status, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (name)
		DO UPDATE SET site_url = EXCLUDED.site_url, repo_path = EXCLUDED.repo_path,
		              updated_at = EXCLUDED.updated_at
		RETURNING id, name, site_url, repo_path, last_check_at, last_status, pass_percentage,
		          state, master_sha, master_sha_at, deployed_sha, up_to_date, created_at, updated_at
	`

	var t Tenant
	err := s.db.QueryRow(query, name, siteURL, repoPath, StatusPending, StateDraft, time.Now()).Scan(
		&t.ID, &t.Name, &t.SiteURL, &t.RepoPath, &t.LastCheckAt, &t.LastStatus, &t.PassPercentage,
		&t.State, &t.MasterSHA, &t.MasterSHAAt, &t.DeployedSHA, &t.UpToDate, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tenant: %w", err)
	}

	return &t, nil
}

// GetTenant retrieves a tenant by ID, or nil if not found
func (s *Storage) GetTenant(id int) (*Tenant, error) {
	query := `
		SELECT id, name, site_url, repo_path, last_check_at, last_status, pass_percentage,
		       state, master_sha, master_sha_at, deployed_sha, up_to_date, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	var t Tenant
	err := s.db.QueryRow(query, id).Scan(
		&t.ID, &t.Name, &t.SiteURL, &t.RepoPath, &t.LastCheckAt, &t.LastStatus, &t.PassPercentage,
		&t.State, &t.MasterSHA, &t.MasterSHAAt, &t.DeployedSHA, &t.UpToDate, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &t, nil
}

// AllTenants retrieves all tenants
func (s *Storage) AllTenants() ([]Tenant, error) {
	query := `
		SELECT id, name, site_url, repo_path, last_check_at, last_status, pass_percentage,
		       state, master_sha, master_sha_at, deployed_sha, up_to_date, created_at, updated_at
		FROM tenants
		ORDER BY name
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(
			&t.ID, &t.Name, &t.SiteURL, &t.RepoPath, &t.LastCheckAt, &t.LastStatus, &t.PassPercentage,
			&t.State, &t.MasterSHA, &t.MasterSHAAt, &t.DeployedSHA, &t.UpToDate, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

// SetTenantState updates only the tenant's lifecycle state. The write is
// committed immediately so a long run is externally visible as "running"
// before its network calls start.
func (s *Storage) SetTenantState(id int, state string) error {
	query := `UPDATE tenants SET state = $2, updated_at = $3 WHERE id = $1`

	if _, err := s.db.Exec(query, id, state, time.Now()); err != nil {
		return fmt.Errorf("failed to set tenant state: %w", err)
	}

	return nil
}

// UpdateTenantRunSummary overwrites the tenant's run summary fields at the
// end of a run. Last-writer-wins; no history is kept here.
func (s *Storage) UpdateTenantRunSummary(id int, status string, passPercentage float64, state string, checkedAt time.Time) error {
	query := `
		UPDATE tenants
		SET last_status = $2, pass_percentage = $3, state = $4, last_check_at = $5, updated_at = $6
		WHERE id = $1
	`

	if _, err := s.db.Exec(query, id, status, passPercentage, state, checkedAt, time.Now()); err != nil {
		return fmt.Errorf("failed to update tenant run summary: %w", err)
	}

	return nil
}

// UpdateTenantSHAs records the latest master and deployed commit SHAs
func (s *Storage) UpdateTenantSHAs(id int, masterSHA, deployedSHA string, checkedAt time.Time) error {
	upToDate := masterSHA != "" && masterSHA == deployedSHA
	query := `
		UPDATE tenants
		SET master_sha = $2, master_sha_at = $3, deployed_sha = $4, up_to_date = $5, updated_at = $6
		WHERE id = $1
	`

	if _, err := s.db.Exec(query, id, masterSHA, checkedAt, deployedSHA, upToDate, time.Now()); err != nil {
		return fmt.Errorf("failed to update tenant SHAs: %w", err)
	}

	return nil
}

// CreateTenantNote appends a note to a tenant's message log
func (s *Storage) CreateTenantNote(tenantID int, body string) error {
	query := `INSERT INTO tenant_notes (tenant_id, body) VALUES ($1, $2)`

	if _, err := s.db.Exec(query, tenantID, body); err != nil {
		return fmt.Errorf("failed to create tenant note: %w", err)
	}

	return nil
}

// TenantNotes retrieves the most recent notes for a tenant
func (s *Storage) TenantNotes(tenantID, limit int) ([]TenantNote, error) {
	query := `
		SELECT id, tenant_id, body, created_at
		FROM tenant_notes
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant notes: %w", err)
	}
	defer rows.Close()

	var notes []TenantNote
	for rows.Next() {
		var n TenantNote
		if err := rows.Scan(&n.ID, &n.TenantID, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant note: %w", err)
		}
		notes = append(notes, n)
	}

	return notes, rows.Err()
}

// --- Endpoints ---

const endpointColumns = `id, name, method, route, header_template, body_template, query_template,
	login_endpoint_id, is_login, tenant_id, active, sequence, last_response, last_state,
	last_run_at, created_at, updated_at`

func scanEndpoint(row interface{ Scan(...any) error }) (*Endpoint, error) {
	var e Endpoint
	err := row.Scan(
		&e.ID, &e.Name, &e.Method, &e.Route, &e.HeaderTemplate, &e.BodyTemplate, &e.QueryTemplate,
		&e.LoginEndpointID, &e.IsLogin, &e.TenantID, &e.Active, &e.Sequence, &e.LastResponse,
		&e.LastState, &e.LastRunAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertEndpoint inserts or updates an endpoint definition, keyed by name
func (s *Storage) UpsertEndpoint(e *Endpoint) (*Endpoint, error) {
	query := `
		INSERT INTO endpoints (name, method, route, header_template, body_template, query_template,
		                       is_login, tenant_id, active, sequence, last_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (name)
		DO UPDATE SET method = EXCLUDED.method, route = EXCLUDED.route,
		              header_template = EXCLUDED.header_template, body_template = EXCLUDED.body_template,
		              query_template = EXCLUDED.query_template, is_login = EXCLUDED.is_login,
		              tenant_id = EXCLUDED.tenant_id, active = EXCLUDED.active,
		              sequence = EXCLUDED.sequence, updated_at = EXCLUDED.updated_at
		RETURNING ` + endpointColumns

	row := s.db.QueryRow(query,
		e.Name, e.Method, e.Route, e.HeaderTemplate, e.BodyTemplate, e.QueryTemplate,
		e.IsLogin, e.TenantID, e.Active, e.Sequence, StateDraft, time.Now(),
	)
	out, err := scanEndpoint(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert endpoint: %w", err)
	}

	return out, nil
}

// SetEndpointLogin links an endpoint to its login dependency
func (s *Storage) SetEndpointLogin(endpointID int, loginEndpointID *int) error {
	query := `UPDATE endpoints SET login_endpoint_id = $2, updated_at = $3 WHERE id = $1`

	if _, err := s.db.Exec(query, endpointID, loginEndpointID, time.Now()); err != nil {
		return fmt.Errorf("failed to set endpoint login dependency: %w", err)
	}

	return nil
}

// GetEndpoint retrieves an endpoint by ID, or nil if not found
func (s *Storage) GetEndpoint(id int) (*Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`

	e, err := scanEndpoint(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}

	return e, nil
}

// AllEndpoints retrieves every endpoint definition
func (s *Storage) AllEndpoints() ([]Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints ORDER BY sequence, name`
	return s.queryEndpoints(query)
}

// ActiveEndpoints retrieves every active endpoint, logins included
func (s *Storage) ActiveEndpoints() ([]Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE active = TRUE ORDER BY sequence, name`
	return s.queryEndpoints(query)
}

// ActiveTestEndpoints retrieves active endpoints that are not login calls.
// The set is global across tenants.
func (s *Storage) ActiveTestEndpoints() ([]Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE active = TRUE AND is_login = FALSE ORDER BY sequence, name`
	return s.queryEndpoints(query)
}

func (s *Storage) queryEndpoints(query string, args ...any) ([]Endpoint, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		endpoints = append(endpoints, *e)
	}

	return endpoints, rows.Err()
}

// LoginEndpoint returns the tenant's first active login endpoint, or nil
// when the tenant has none.
func (s *Storage) LoginEndpoint(tenantID int) (*Endpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE tenant_id = $1 AND is_login = TRUE AND active = TRUE
		ORDER BY sequence, id
		LIMIT 1
	`

	e, err := scanEndpoint(s.db.QueryRow(query, tenantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query login endpoint: %w", err)
	}

	return e, nil
}

// UpdateEndpointLastRun mirrors the latest outcome onto the endpoint's cache
// fields. The cache is display-only; no logic reads it back.
func (s *Storage) UpdateEndpointLastRun(id int, response, state string, runAt time.Time) error {
	query := `
		UPDATE endpoints
		SET last_response = $2, last_state = $3, last_run_at = $4, updated_at = $5
		WHERE id = $1
	`

	if _, err := s.db.Exec(query, id, response, state, runAt, time.Now()); err != nil {
		return fmt.Errorf("failed to update endpoint last run: %w", err)
	}

	return nil
}

// --- Test results ---

// CreateTestResult appends a new test result record
func (s *Storage) CreateTestResult(result *TestResult) error {
	query := `
		INSERT INTO test_results (
			endpoint_id, environment_id, tenant_id, status_code, success,
			response, state, response_time_ms, tested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := s.db.QueryRow(
		query,
		result.EndpointID,
		result.EnvironmentID,
		result.TenantID,
		result.StatusCode,
		result.Success,
		result.Response,
		result.State,
		result.ResponseTimeMs,
		result.TestedAt,
	).Scan(&result.ID)

	if err != nil {
		return fmt.Errorf("failed to create test result: %w", err)
	}

	return nil
}

// GetTestResult retrieves a test result by ID, or nil if not found
func (s *Storage) GetTestResult(id int) (*TestResult, error) {
	query := `
		SELECT id, endpoint_id, environment_id, tenant_id, status_code, success,
		       response, state, response_time_ms, annotation, tested_at
		FROM test_results
		WHERE id = $1
	`

	var r TestResult
	err := s.db.QueryRow(query, id).Scan(
		&r.ID, &r.EndpointID, &r.EnvironmentID, &r.TenantID, &r.StatusCode, &r.Success,
		&r.Response, &r.State, &r.ResponseTimeMs, &r.Annotation, &r.TestedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test result: %w", err)
	}

	return &r, nil
}

// RecentResults retrieves results most-recent-first, optionally filtered by tenant
func (s *Storage) RecentResults(tenantID *int, limit int) ([]TestResult, error) {
	query := `
		SELECT id, endpoint_id, environment_id, tenant_id, status_code, success,
		       response, state, response_time_ms, annotation, tested_at
		FROM test_results
		WHERE ($1::int IS NULL OR tenant_id = $1)
		ORDER BY tested_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query test results: %w", err)
	}
	defer rows.Close()

	var results []TestResult
	for rows.Next() {
		var r TestResult
		if err := rows.Scan(
			&r.ID, &r.EndpointID, &r.EnvironmentID, &r.TenantID, &r.StatusCode, &r.Success,
			&r.Response, &r.State, &r.ResponseTimeMs, &r.Annotation, &r.TestedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan test result: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// AnnotateTestResult sets the diagnostic annotation on an existing result,
// the only mutation test_results ever sees.
func (s *Storage) AnnotateTestResult(id int, annotation string) error {
	query := `UPDATE test_results SET annotation = $2 WHERE id = $1`

	if _, err := s.db.Exec(query, id, annotation); err != nil {
		return fmt.Errorf("failed to annotate test result: %w", err)
	}

	return nil
}

// --- Module statuses ---

// UpsertModuleRepoInfo records the repository side of a module's version state
func (s *Storage) UpsertModuleRepoInfo(tenantID int, name, repoVersion, summary string) (created bool, err error) {
	query := `
		INSERT INTO module_statuses (tenant_id, name, repo_version, summary, last_synced_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, name)
		DO UPDATE SET repo_version = EXCLUDED.repo_version, summary = EXCLUDED.summary,
		              last_synced_at = EXCLUDED.last_synced_at
		RETURNING (xmax = 0)
	`

	if err := s.db.QueryRow(query, tenantID, name, repoVersion, summary, time.Now()).Scan(&created); err != nil {
		return false, fmt.Errorf("failed to upsert module repo info: %w", err)
	}

	return created, nil
}

// UpdateModuleInstalledInfo records the tenant-reported side of a module's version state
func (s *Storage) UpdateModuleInstalledInfo(tenantID int, name string, installed bool, installedVersion string) error {
	query := `
		UPDATE module_statuses
		SET installed = $3, installed_version = $4,
		    up_to_date = ($3 AND repo_version <> '' AND repo_version = $4),
		    last_checked_at = $5
		WHERE tenant_id = $1 AND name = $2
	`

	if _, err := s.db.Exec(query, tenantID, name, installed, installedVersion, time.Now()); err != nil {
		return fmt.Errorf("failed to update module installed info: %w", err)
	}

	return nil
}

// ModuleStatuses retrieves all module statuses for a tenant
func (s *Storage) ModuleStatuses(tenantID int) ([]ModuleStatus, error) {
	query := `
		SELECT id, tenant_id, name, summary, repo_version, installed_version,
		       installed, up_to_date, last_synced_at, last_checked_at
		FROM module_statuses
		WHERE tenant_id = $1
		ORDER BY name
	`

	rows, err := s.db.Query(query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query module statuses: %w", err)
	}
	defer rows.Close()

	var statuses []ModuleStatus
	for rows.Next() {
		var m ModuleStatus
		if err := rows.Scan(
			&m.ID, &m.TenantID, &m.Name, &m.Summary, &m.RepoVersion, &m.InstalledVersion,
			&m.Installed, &m.UpToDate, &m.LastSyncedAt, &m.LastCheckedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan module status: %w", err)
		}
		statuses = append(statuses, m)
	}

	return statuses, rows.Err()
}

// --- Snapshot ---

// Snapshot returns the current tenants and endpoints for metrics export
func (s *Storage) Snapshot() (*Snapshot, error) {
	tenants, err := s.AllTenants()
	if err != nil {
		return nil, err
	}

	endpoints, err := s.AllEndpoints()
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Tenants:   tenants,
		Endpoints: endpoints,
		UpdatedAt: time.Now(),
	}, nil
}

// RunMigrations runs database migrations
func (s *Storage) RunMigrations() error {
	upSQL := `
-- Environments table
CREATE TABLE IF NOT EXISTS environments (
    id SERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL UNIQUE,
    base_url TEXT NOT NULL,
    token TEXT NOT NULL DEFAULT '',
    is_default BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

-- Tenants table
CREATE TABLE IF NOT EXISTS tenants (
    id SERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL UNIQUE,
    site_url TEXT NOT NULL DEFAULT '',
    repo_path TEXT NOT NULL DEFAULT '',
    last_check_at TIMESTAMP WITH TIME ZONE,
    last_status VARCHAR(50) NOT NULL DEFAULT 'pending',
    pass_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
    state VARCHAR(50) NOT NULL DEFAULT 'draft',
    master_sha VARCHAR(64) NOT NULL DEFAULT '',
    master_sha_at TIMESTAMP WITH TIME ZONE,
    deployed_sha VARCHAR(64) NOT NULL DEFAULT '',
    up_to_date BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

-- Endpoints table
CREATE TABLE IF NOT EXISTS endpoints (
    id SERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL UNIQUE,
    method VARCHAR(10) NOT NULL,
    route TEXT NOT NULL,
    header_template TEXT NOT NULL DEFAULT '',
    body_template TEXT NOT NULL DEFAULT '',
    query_template TEXT NOT NULL DEFAULT '',
    login_endpoint_id INTEGER REFERENCES endpoints(id) ON DELETE SET NULL,
    is_login BOOLEAN NOT NULL DEFAULT FALSE,
    tenant_id INTEGER REFERENCES tenants(id) ON DELETE SET NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    sequence INTEGER NOT NULL DEFAULT 10,
    last_response TEXT NOT NULL DEFAULT '',
    last_state VARCHAR(50) NOT NULL DEFAULT 'draft',
    last_run_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_endpoints_tenant_id ON endpoints(tenant_id);
CREATE INDEX IF NOT EXISTS idx_endpoints_active ON endpoints(active);

-- Test results table (append-only)
CREATE TABLE IF NOT EXISTS test_results (
    id SERIAL PRIMARY KEY,
    endpoint_id INTEGER NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
    environment_id INTEGER REFERENCES environments(id) ON DELETE SET NULL,
    tenant_id INTEGER REFERENCES tenants(id) ON DELETE SET NULL,
    status_code INTEGER NOT NULL DEFAULT 0,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    response TEXT NOT NULL DEFAULT '',
    state VARCHAR(50) NOT NULL DEFAULT 'failed',
    response_time_ms INTEGER NOT NULL DEFAULT 0,
    annotation TEXT,
    tested_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_test_results_endpoint_id ON test_results(endpoint_id);
CREATE INDEX IF NOT EXISTS idx_test_results_tenant_id ON test_results(tenant_id);
CREATE INDEX IF NOT EXISTS idx_test_results_tested_at ON test_results(tested_at DESC);

-- Tenant notes table
CREATE TABLE IF NOT EXISTS tenant_notes (
    id SERIAL PRIMARY KEY,
    tenant_id INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    body TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tenant_notes_tenant_id ON tenant_notes(tenant_id);

-- Module statuses table
CREATE TABLE IF NOT EXISTS module_statuses (
    id SERIAL PRIMARY KEY,
    tenant_id INTEGER NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    repo_version VARCHAR(64) NOT NULL DEFAULT '',
    installed_version VARCHAR(64) NOT NULL DEFAULT '',
    installed BOOLEAN NOT NULL DEFAULT FALSE,
    up_to_date BOOLEAN NOT NULL DEFAULT FALSE,
    last_synced_at TIMESTAMP WITH TIME ZONE,
    last_checked_at TIMESTAMP WITH TIME ZONE,
    UNIQUE (tenant_id, name)
);
	`

	_, err := s.db.Exec(upSQL)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
