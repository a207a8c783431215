package runner

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/apiwatch/apiwatch/internal/executor"
	"github.com/apiwatch/apiwatch/internal/storage"
	"github.com/google/uuid"
)

// Fatal configuration conditions. These propagate to direct callers; the
// bulk runners catch them per item and turn them into tenant notes.
var (
	ErrNoDefaultEnvironment = errors.New("no default environment configured")
	ErrNoLoginEndpoint      = errors.New("tenant has no active login endpoint")
)

// Store is the persistence surface the runner needs. *storage.Storage
// satisfies it; tests use an in-memory fake.
type Store interface {
	DefaultEnvironment() (*storage.Environment, error)
	GetEndpoint(id int) (*storage.Endpoint, error)
	ActiveEndpoints() ([]storage.Endpoint, error)
	ActiveTestEndpoints() ([]storage.Endpoint, error)
	LoginEndpoint(tenantID int) (*storage.Endpoint, error)
	AllTenants() ([]storage.Tenant, error)
	SetTenantState(id int, state string) error
	UpdateTenantRunSummary(id int, status string, passPercentage float64, state string, checkedAt time.Time) error
	UpdateEndpointLastRun(id int, response, state string, runAt time.Time) error
	CreateTestResult(result *storage.TestResult) error
	CreateTenantNote(tenantID int, body string) error
}

// Caller executes one endpoint call. *executor.Caller satisfies it.
type Caller interface {
	Execute(ep *storage.Endpoint, env *storage.Environment, overrideToken string) executor.Outcome
}

// Runner orchestrates endpoint test execution. All runs are strictly
// sequential: no call starts before the previous one completes.
type Runner struct {
	store  Store
	caller Caller
}

// New creates a Runner
func New(store Store, caller Caller) *Runner {
	return &Runner{store: store, caller: caller}
}

// RunEndpoint tests one endpoint and records the outcome. When env is nil
// the default environment is used. If the endpoint has a login dependency,
// that dependency is executed first and its token (when extractable) is
// passed along; a missing or unparseable token is logged and the call
// proceeds without one.
func (r *Runner) RunEndpoint(ep *storage.Endpoint, env *storage.Environment) (bool, error) {
	if env == nil {
		var err error
		env, err = r.store.DefaultEnvironment()
		if err != nil {
			return false, err
		}
		if env == nil {
			return false, ErrNoDefaultEnvironment
		}
	}

	// Login dependencies resolve exactly one hop; a login endpoint's own
	// dependency is never followed.
	var login *storage.Endpoint
	if ep.LoginEndpointID != nil {
		dep, err := r.store.GetEndpoint(*ep.LoginEndpointID)
		if err != nil {
			return false, err
		}
		login = dep
	}

	token := ""
	if login != nil {
		loginOutcome := r.caller.Execute(login, env, "")
		tok, err := executor.ExtractToken(loginOutcome.Body)
		if err != nil {
			log.Printf("Warning: could not extract token for endpoint %q: %v", ep.Name, err)
		} else {
			token = tok
		}
	}

	outcome := r.caller.Execute(ep, env, token)
	now := time.Now()

	// Tenant attribution: the endpoint's own tenant, else its login
	// dependency's tenant, else none.
	tenantID := ep.TenantID
	if tenantID == nil && login != nil {
		tenantID = login.TenantID
	}

	state := storage.ResultFailed
	if outcome.Success {
		state = storage.ResultOK
	}

	envID := env.ID
	result := &storage.TestResult{
		EndpointID:     ep.ID,
		EnvironmentID:  &envID,
		TenantID:       tenantID,
		StatusCode:     outcome.StatusCode,
		Success:        outcome.Success,
		Response:       outcome.Body,
		State:          state,
		ResponseTimeMs: int(outcome.Elapsed.Milliseconds()),
		TestedAt:       now,
	}
	if err := r.store.CreateTestResult(result); err != nil {
		return false, err
	}

	if err := r.store.UpdateEndpointLastRun(ep.ID, outcome.Body, state, now); err != nil {
		return false, err
	}

	return outcome.Success, nil
}

// RunTenant executes a full test pass for one tenant: login first, then
// every active non-login endpoint with the obtained token. The candidate
// set is global, not filtered by tenant: the run smoke-tests the whole
// endpoint catalog using this tenant's credentials.
//
// Missing prerequisites (login endpoint, default environment) abort the run
// with an error. A login call whose response yields no token terminates the
// run as failed without touching any other endpoint.
func (r *Runner) RunTenant(t *storage.Tenant) error {
	// Made durable before the slow network calls so operators can see the
	// run in flight.
	if err := r.store.SetTenantState(t.ID, storage.StateRunning); err != nil {
		return err
	}

	login, err := r.store.LoginEndpoint(t.ID)
	if err != nil {
		return err
	}
	if login == nil {
		return fmt.Errorf("tenant %q: %w", t.Name, ErrNoLoginEndpoint)
	}

	env, err := r.store.DefaultEnvironment()
	if err != nil {
		return err
	}
	if env == nil {
		return fmt.Errorf("tenant %q: %w", t.Name, ErrNoDefaultEnvironment)
	}

	loginOutcome := r.caller.Execute(login, env, "")
	if err := r.recordOutcome(login, env, t.ID, loginOutcome); err != nil {
		return err
	}

	token, err := executor.ExtractToken(loginOutcome.Body)
	if err != nil {
		now := time.Now()
		if uerr := r.store.UpdateTenantRunSummary(t.ID, storage.StatusFailed, 0, storage.StateFailed, now); uerr != nil {
			return uerr
		}
		r.note(t.ID, fmt.Sprintf("Login failed for tenant %q: %v", t.Name, err))
		log.Printf("Tenant %q run terminated: login produced no token: %v", t.Name, err)
		return nil
	}

	endpoints, err := r.store.ActiveTestEndpoints()
	if err != nil {
		return err
	}

	total := len(endpoints)
	passed := 0
	var failedNames []string

	for i := range endpoints {
		ep := &endpoints[i]
		outcome := r.caller.Execute(ep, env, token)
		if err := r.recordOutcome(ep, env, t.ID, outcome); err != nil {
			return err
		}
		if outcome.Success {
			passed++
		} else {
			failedNames = append(failedNames, ep.Name)
		}
	}

	percentage := 0.0
	if total > 0 {
		percentage = float64(passed) / float64(total) * 100
	}

	status := storage.StatusFailed
	state := storage.StateFailed
	if passed == total {
		status = storage.StatusSuccess
		state = storage.StateSuccess
	}

	now := time.Now()
	if err := r.store.UpdateTenantRunSummary(t.ID, status, percentage, state, now); err != nil {
		return err
	}

	summary := fmt.Sprintf("Test run for tenant %q: %d/%d endpoints passed (%.1f%%).", t.Name, passed, total, percentage)
	if len(failedNames) > 0 {
		summary += " Failed: " + strings.Join(failedNames, ", ")
	}
	r.note(t.ID, summary)
	log.Printf("%s", summary)

	return nil
}

// RunAllTenants runs every tenant in sequence. One tenant's failure is
// isolated: it is noted on that tenant and the batch continues.
func (r *Runner) RunAllTenants() {
	runID := uuid.New().String()[:8]
	log.Printf("Starting fleet test run %s", runID)

	tenants, err := r.store.AllTenants()
	if err != nil {
		log.Printf("Fleet run %s aborted, could not list tenants: %v", runID, err)
		return
	}

	for i := range tenants {
		t := &tenants[i]
		if err := r.RunTenant(t); err != nil {
			log.Printf("Fleet run %s: tenant %q failed: %v", runID, t.Name, err)
			r.note(t.ID, fmt.Sprintf("Automatic test run aborted: %v", err))
		}
	}

	log.Printf("Fleet test run %s completed (%d tenants)", runID, len(tenants))
}

// RunAllEndpoints runs every active endpoint (logins included) against the
// default environment, ignoring tenant grouping. An endpoint whose run
// errors before producing an outcome gets a synthetic zero-status result so
// the failure still shows up in the log.
func (r *Runner) RunAllEndpoints() {
	runID := uuid.New().String()[:8]
	log.Printf("Starting endpoint sweep %s", runID)

	env, err := r.store.DefaultEnvironment()
	if err != nil {
		log.Printf("Endpoint sweep %s aborted, could not resolve default environment: %v", runID, err)
		return
	}

	endpoints, err := r.store.ActiveEndpoints()
	if err != nil {
		log.Printf("Endpoint sweep %s aborted, could not list endpoints: %v", runID, err)
		return
	}

	for i := range endpoints {
		ep := &endpoints[i]
		if _, err := r.RunEndpoint(ep, env); err != nil {
			log.Printf("Endpoint sweep %s: endpoint %q failed: %v", runID, ep.Name, err)

			var envID *int
			if env != nil {
				id := env.ID
				envID = &id
			}
			synthetic := &storage.TestResult{
				EndpointID:    ep.ID,
				EnvironmentID: envID,
				TenantID:      ep.TenantID,
				StatusCode:    0,
				Success:       false,
				Response:      fmt.Sprintf("%T: %v", err, err),
				State:         storage.ResultFailed,
				TestedAt:      time.Now(),
			}
			if cerr := r.store.CreateTestResult(synthetic); cerr != nil {
				log.Printf("Endpoint sweep %s: could not record failure for %q: %v", runID, ep.Name, cerr)
			}
		}
	}

	log.Printf("Endpoint sweep %s completed (%d endpoints)", runID, len(endpoints))
}

func (r *Runner) recordOutcome(ep *storage.Endpoint, env *storage.Environment, tenantID int, outcome executor.Outcome) error {
	state := storage.ResultFailed
	if outcome.Success {
		state = storage.ResultOK
	}

	now := time.Now()
	envID := env.ID
	tid := tenantID
	if err := r.store.CreateTestResult(&storage.TestResult{
		EndpointID:     ep.ID,
		EnvironmentID:  &envID,
		TenantID:       &tid,
		StatusCode:     outcome.StatusCode,
		Success:        outcome.Success,
		Response:       outcome.Body,
		State:          state,
		ResponseTimeMs: int(outcome.Elapsed.Milliseconds()),
		TestedAt:       now,
	}); err != nil {
		return err
	}

	return r.store.UpdateEndpointLastRun(ep.ID, outcome.Body, state, now)
}

// note writes a tenant note, logging instead of failing when the write
// itself errors. Notes are best-effort operator messaging.
func (r *Runner) note(tenantID int, body string) {
	if err := r.store.CreateTenantNote(tenantID, body); err != nil {
		log.Printf("Warning: could not write note for tenant %d: %v", tenantID, err)
	}
}
