package seed

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/apiwatch/apiwatch/internal/storage"
	"gopkg.in/yaml.v3"
)

// Store is the persistence surface the loader writes definitions through
type Store interface {
	UpsertEnvironment(name, baseURL, token string, isDefault bool) (*storage.Environment, error)
	UpsertTenant(name, siteURL, repoPath string) (*storage.Tenant, error)
	UpsertEndpoint(e *storage.Endpoint) (*storage.Endpoint, error)
	SetEndpointLogin(endpointID int, loginEndpointID *int) error
}

// Loader syncs definition files from a directory into storage
type Loader struct {
	directory string
	store     Store
}

// NewLoader creates a Loader for the given definitions directory
func NewLoader(directory string, store Store) *Loader {
	return &Loader{directory: directory, store: store}
}

// File is one YAML definitions file
type File struct {
	Environments []EnvironmentDef `yaml:"environments"`
	Tenants      []TenantDef      `yaml:"tenants"`
	Endpoints    []EndpointDef    `yaml:"endpoints"`
}

// EnvironmentDef declares one target environment
type EnvironmentDef struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Default bool   `yaml:"default"`
}

// TenantDef declares one tenant
type TenantDef struct {
	Name     string `yaml:"name"`
	SiteURL  string `yaml:"site_url"`
	RepoPath string `yaml:"repo_path"`
}

// EndpointDef declares one endpoint. Headers, body, and query are freeform
// objects; they are stored as JSON text on the endpoint record.
type EndpointDef struct {
	Name     string         `yaml:"name"`
	Method   string         `yaml:"method"`
	Route    string         `yaml:"route"`
	Headers  map[string]any `yaml:"headers"`
	Body     map[string]any `yaml:"body"`
	Query    map[string]any `yaml:"query"`
	Login    string         `yaml:"login"`
	IsLogin  bool           `yaml:"is_login"`
	Tenant   string         `yaml:"tenant"`
	Active   *bool          `yaml:"active"`
	Sequence int            `yaml:"sequence"`
}

// Load scans the directory for YAML definition files and upserts their
// contents. A broken file is logged and skipped; the rest still load.
func (l *Loader) Load() error {
	if _, err := os.Stat(l.directory); os.IsNotExist(err) {
		return fmt.Errorf("definitions directory does not exist: %s", l.directory)
	}

	entries, err := os.ReadDir(l.directory)
	if err != nil {
		return fmt.Errorf("failed to read definitions directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(l.directory, entry.Name())
		if err := l.loadFile(path); err != nil {
			log.Printf("Warning: failed to load definitions file %s: %v", entry.Name(), err)
			continue
		}
		loaded++
	}

	log.Printf("Loaded %d definitions file(s) from %s", loaded, l.directory)
	return nil
}

func (l *Loader) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	for _, env := range file.Environments {
		if _, err := l.store.UpsertEnvironment(env.Name, env.BaseURL, env.Token, env.Default); err != nil {
			return err
		}
	}

	tenantIDs := map[string]int{}
	for _, t := range file.Tenants {
		tenant, err := l.store.UpsertTenant(t.Name, t.SiteURL, t.RepoPath)
		if err != nil {
			return err
		}
		tenantIDs[t.Name] = tenant.ID
	}

	// Endpoints first, login links second, so a dependency can be declared
	// later in the file than its dependents.
	endpointIDs := map[string]int{}
	for _, def := range file.Endpoints {
		ep, err := l.upsertEndpoint(def, tenantIDs)
		if err != nil {
			return err
		}
		endpointIDs[def.Name] = ep.ID
	}

	for _, def := range file.Endpoints {
		if def.Login == "" {
			continue
		}
		loginID, ok := endpointIDs[def.Login]
		if !ok {
			log.Printf("Warning: endpoint %q names unknown login endpoint %q; leaving unlinked", def.Name, def.Login)
			continue
		}
		if err := l.store.SetEndpointLogin(endpointIDs[def.Name], &loginID); err != nil {
			return err
		}
	}

	return nil
}

func (l *Loader) upsertEndpoint(def EndpointDef, tenantIDs map[string]int) (*storage.Endpoint, error) {
	active := true
	if def.Active != nil {
		active = *def.Active
	}

	sequence := def.Sequence
	if sequence == 0 {
		sequence = 10
	}

	var tenantID *int
	if def.Tenant != "" {
		id, ok := tenantIDs[def.Tenant]
		if !ok {
			return nil, fmt.Errorf("endpoint %q names unknown tenant %q", def.Name, def.Tenant)
		}
		tenantID = &id
	}

	ep := &storage.Endpoint{
		Name:           def.Name,
		Method:         strings.ToUpper(def.Method),
		Route:          def.Route,
		HeaderTemplate: toJSON(def.Headers),
		BodyTemplate:   toJSON(def.Body),
		QueryTemplate:  toJSON(def.Query),
		IsLogin:        def.IsLogin,
		TenantID:       tenantID,
		Active:         active,
		Sequence:       sequence,
	}

	return l.store.UpsertEndpoint(ep)
}

// toJSON renders a template object to the JSON text form endpoints store.
// Nil stays empty so the executor treats it as "no template".
func toJSON(m map[string]any) string {
	if m == nil {
		return ""
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(raw)
}
