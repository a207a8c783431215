// Package modsync compares module versions between the master code-hosting
// repository and what each tenant site reports as installed.
package modsync

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/apiwatch/apiwatch/internal/storage"
	"gopkg.in/yaml.v3"
)

// ErrNotConfigured indicates the hosting token, repo, or branch is missing.
var ErrNotConfigured = errors.New("code hosting credentials not configured (token, repo, branch)")

// DefaultAPIBase is the code-hosting REST API root
const DefaultAPIBase = "https://api.github.com"

// Store is the persistence surface the syncer writes through
type Store interface {
	UpsertModuleRepoInfo(tenantID int, name, repoVersion, summary string) (bool, error)
	UpdateModuleInstalledInfo(tenantID int, name string, installed bool, installedVersion string) error
	ModuleStatuses(tenantID int) ([]storage.ModuleStatus, error)
	UpdateTenantSHAs(id int, masterSHA, deployedSHA string, checkedAt time.Time) error
	CreateTenantNote(tenantID int, body string) error
}

// Config holds code-hosting access settings
type Config struct {
	APIBase   string // empty means DefaultAPIBase
	Token     string
	Repo      string // owner/name
	Branch    string
	SiteToken string // bearer token tenant sites expect
}

// Syncer fetches repository module metadata and tenant-reported state
type Syncer struct {
	cfg    Config
	store  Store
	client *http.Client
}

// New creates a Syncer
func New(cfg Config, store Store) *Syncer {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	return &Syncer{
		cfg:   cfg,
		store: store,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Summary counts the outcome of one repository sync
type Summary struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

type contentEntry struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type manifest struct {
	Version string `yaml:"version"`
	Summary string `yaml:"summary"`
}

// SyncRepoModules lists module directories in the master repository and
// records each module's published version and summary for the tenant. A
// directory without a readable manifest is counted as an error and skipped.
func (s *Syncer) SyncRepoModules(t *storage.Tenant) (*Summary, error) {
	if s.cfg.Token == "" || s.cfg.Repo == "" || s.cfg.Branch == "" {
		return nil, ErrNotConfigured
	}

	listURL := fmt.Sprintf("%s/repos/%s/contents?ref=%s", s.cfg.APIBase, s.cfg.Repo, s.cfg.Branch)
	var entries []contentEntry
	if err := s.getJSON(listURL, &entries); err != nil {
		return nil, fmt.Errorf("failed to list repository contents: %w", err)
	}

	summary := &Summary{}
	for _, entry := range entries {
		if entry.Type != "dir" {
			continue
		}

		m, err := s.fetchManifest(entry.Name)
		if err != nil {
			log.Printf("Warning: skipping module %s: %v", entry.Name, err)
			summary.Errors++
			continue
		}

		created, err := s.store.UpsertModuleRepoInfo(t.ID, entry.Name, m.Version, m.Summary)
		if err != nil {
			log.Printf("Warning: could not record module %s: %v", entry.Name, err)
			summary.Errors++
			continue
		}
		if created {
			summary.New++
		} else {
			summary.Updated++
		}
	}

	s.note(t.ID, fmt.Sprintf("Module sync from %s@%s: %d new, %d updated, %d errors.",
		s.cfg.Repo, s.cfg.Branch, summary.New, summary.Updated, summary.Errors))

	return summary, nil
}

func (s *Syncer) fetchManifest(moduleDir string) (*manifest, error) {
	url := fmt.Sprintf("%s/repos/%s/contents/%s/manifest.yaml?ref=%s", s.cfg.APIBase, s.cfg.Repo, moduleDir, s.cfg.Branch)

	var entry contentEntry
	if err := s.getJSON(url, &entry); err != nil {
		return nil, fmt.Errorf("no readable manifest: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(entry.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest content: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(decoded, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version == "" {
		m.Version = "unknown"
	}

	return &m, nil
}

// RefreshSHAs fetches the latest commit SHA on the master branch and the
// SHA the tenant site reports as deployed, and stores both. The tenant is
// flagged up to date only when they match.
func (s *Syncer) RefreshSHAs(t *storage.Tenant) error {
	if s.cfg.Token == "" || s.cfg.Repo == "" || s.cfg.Branch == "" {
		return ErrNotConfigured
	}
	if t.SiteURL == "" {
		return fmt.Errorf("tenant %q has no site URL configured", t.Name)
	}
	if t.RepoPath == "" {
		return fmt.Errorf("tenant %q has no repository path configured", t.Name)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	commitURL := fmt.Sprintf("%s/repos/%s/commits/%s", s.cfg.APIBase, s.cfg.Repo, s.cfg.Branch)
	if err := s.getJSON(commitURL, &commit); err != nil {
		return fmt.Errorf("failed to fetch master SHA: %w", err)
	}

	deployed, err := s.fetchDeployedSHA(t)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.store.UpdateTenantSHAs(t.ID, commit.SHA, deployed, now); err != nil {
		return err
	}

	state := "behind"
	if commit.SHA != "" && commit.SHA == deployed {
		state = "up to date"
	}
	s.note(t.ID, fmt.Sprintf("Commit check: master %s, deployed %s (%s).", shortSHA(commit.SHA), shortSHA(deployed), state))

	return nil
}

func (s *Syncer) fetchDeployedSHA(t *storage.Tenant) (string, error) {
	url := strings.TrimRight(t.SiteURL, "/") + "/apiwatch/github/sha"
	payload, _ := json.Marshal(map[string]string{
		"action":    "sha",
		"repo_path": t.RepoPath,
	})

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SiteToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not reach tenant site: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tenant site returned %d: %s", resp.StatusCode, string(raw))
	}

	var body struct {
		Result struct {
			SHA string `json:"sha"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("tenant site response is not valid JSON: %w", err)
	}
	if body.Result.SHA == "" {
		return "", errors.New("tenant site response contains no SHA")
	}

	return body.Result.SHA, nil
}

// CheckInstalledModules asks the tenant site which modules it has installed
// and reconciles that against the recorded repository versions.
func (s *Syncer) CheckInstalledModules(t *storage.Tenant) error {
	if t.SiteURL == "" {
		return fmt.Errorf("tenant %q has no site URL configured", t.Name)
	}

	url := strings.TrimRight(t.SiteURL, "/") + "/apiwatch/modules"
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SiteToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach tenant site: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tenant site returned %d: %s", resp.StatusCode, string(raw))
	}

	var reported []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reported); err != nil {
		return fmt.Errorf("tenant site response is not valid JSON: %w", err)
	}

	installedVersions := map[string]string{}
	for _, mod := range reported {
		installedVersions[mod.Name] = mod.Version
	}

	statuses, err := s.store.ModuleStatuses(t.ID)
	if err != nil {
		return err
	}

	installed, missing, current, stale := 0, 0, 0, 0
	for _, status := range statuses {
		version, ok := installedVersions[status.Name]
		if err := s.store.UpdateModuleInstalledInfo(t.ID, status.Name, ok, version); err != nil {
			log.Printf("Warning: could not update module %s for tenant %q: %v", status.Name, t.Name, err)
			continue
		}
		if !ok {
			missing++
			continue
		}
		installed++
		if status.RepoVersion != "" && status.RepoVersion == version {
			current++
		} else {
			stale++
		}
	}

	s.note(t.ID, fmt.Sprintf("Module check for %q: %d installed, %d missing, %d current, %d stale.",
		t.Name, installed, missing, current, stale))

	return nil
}

func (s *Syncer) getJSON(url string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+s.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hosting API returned %d: %s", resp.StatusCode, string(raw))
	}

	return json.Unmarshal(raw, out)
}

func (s *Syncer) note(tenantID int, body string) {
	if err := s.store.CreateTenantNote(tenantID, body); err != nil {
		log.Printf("Warning: could not write note for tenant %d: %v", tenantID, err)
	}
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	if sha == "" {
		return "(none)"
	}
	return sha
}
