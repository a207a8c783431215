package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apiwatch/apiwatch/internal/storage"
)

// callTimeout bounds every outbound test call. There is no retry; a slow
// target simply fails the call.
const callTimeout = 15 * time.Second

// Outcome is the normalized result of one executed call. A transport-level
// failure is reported as StatusCode 0 with the error text in Body; it is
// never surfaced as a Go error.
type Outcome struct {
	StatusCode int
	Success    bool
	Body       string
	Elapsed    time.Duration
}

// Caller builds and issues HTTP requests for endpoint definitions
type Caller struct {
	client *http.Client
}

// New creates a Caller with the standard call timeout
func New() *Caller {
	return &Caller{
		client: &http.Client{Timeout: callTimeout},
	}
}

// Execute issues one HTTP call for the endpoint against the environment.
// Token precedence: overrideToken beats the environment's token beats none.
// For POST/PUT the body template becomes the JSON request body; for
// GET/DELETE each query template value is re-serialized to its JSON text
// form before being placed in the query string. Downstream consumers of the
// recorded results rely on that encoding, so it stays even though it looks
// odd for plain strings.
func (c *Caller) Execute(ep *storage.Endpoint, env *storage.Environment, overrideToken string) Outcome {
	target := strings.TrimRight(env.BaseURL, "/") + "/" + strings.TrimLeft(ep.Route, "/")
	method := strings.ToUpper(ep.Method)

	headers := parseTemplate(ep.HeaderTemplate, "header", ep.Name)
	body := parseTemplate(ep.BodyTemplate, "body", ep.Name)
	query := parseTemplate(ep.QueryTemplate, "query", ep.Name)

	if overrideToken != "" {
		headers["Authorization"] = "Bearer " + overrideToken
	} else if env.Token != "" {
		headers["Authorization"] = "Bearer " + env.Token
	}

	normalizeFields(query, ep.Name)

	log.Printf("Calling %s %s (endpoint %q)", method, target, ep.Name)
	log.Printf("  headers: %v", headers)
	log.Printf("  body: %v", body)
	log.Printf("  query: %v", query)

	var reqBody io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		encoded, err := json.Marshal(body)
		if err != nil {
			return transportFailure(err, time.Duration(0))
		}
		reqBody = bytes.NewReader(encoded)
	}

	start := time.Now()

	req, err := http.NewRequest(method, target, reqBody)
	if err != nil {
		return transportFailure(err, time.Since(start))
	}

	for k, v := range headers {
		req.Header.Set(k, headerValue(v))
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if method == http.MethodGet || method == http.MethodDelete {
		values := url.Values{}
		for k, v := range query {
			encoded, err := json.Marshal(v)
			if err != nil {
				log.Printf("Warning: could not encode query value %q for endpoint %q: %v", k, ep.Name, err)
				continue
			}
			values.Set(k, string(encoded))
		}
		if len(values) > 0 {
			req.URL.RawQuery = values.Encode()
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("Call to %s failed: %v", target, err)
		return transportFailure(err, time.Since(start))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("Reading response from %s failed: %v", target, err)
		return transportFailure(err, time.Since(start))
	}

	return Outcome{
		StatusCode: resp.StatusCode,
		Success:    resp.StatusCode < 400,
		Body:       string(raw),
		Elapsed:    time.Since(start),
	}
}

// parseTemplate decodes a stored JSON object template. A parse failure is
// not fatal: the call proceeds with an empty object and a warning is logged.
func parseTemplate(raw, kind, endpointName string) map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		log.Printf("Warning: invalid %s template on endpoint %q, using empty object: %v", kind, endpointName, err)
		return map[string]any{}
	}
	return out
}

// normalizeFields guards against a known malformed query shape: a "fields"
// list that wraps another list. The nested list replaces the outer value so
// the target does not reject the request.
func normalizeFields(query map[string]any, endpointName string) {
	list, ok := query["fields"].([]any)
	if !ok {
		return
	}
	for _, item := range list {
		if nested, ok := item.([]any); ok {
			log.Printf("Warning: 'fields' on endpoint %q contains a nested list; flattening", endpointName)
			query["fields"] = nested
			return
		}
	}
}

func headerValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func transportFailure(err error, elapsed time.Duration) Outcome {
	return Outcome{
		StatusCode: 0,
		Success:    false,
		Body:       fmt.Sprintf("%T: %v", err, err),
		Elapsed:    elapsed,
	}
}
