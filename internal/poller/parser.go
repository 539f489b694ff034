package poller

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/depsdash/depsdash/internal/store"
)

// Dependency types accepted from health payloads. Unknown types map to
// "other".
var knownDependencyTypes = map[string]bool{
	"database": true,
	"api":      true,
	"queue":    true,
	"cache":    true,
	"storage":  true,
	"external": true,
	"other":    true,
}

// DependencyStatus is one parsed dependency observation, normalized from
// either accepted payload shape. CheckDetails and Error pass through as
// opaque JSON.
type DependencyStatus struct {
	Name         string
	Healthy      bool
	Description  string
	Impact       string
	Type         string
	HealthState  int
	HealthCode   int
	LatencyMS    int64
	CheckDetails string // opaque JSON
	Error        string // opaque JSON
	ErrorMessage string
	LastChecked  time.Time
}

// rawDependency is the wire shape of a single dependency item.
type rawDependency struct {
	Name         *string         `json:"name"`
	Healthy      *bool           `json:"healthy"`
	Description  string          `json:"description"`
	Impact       string          `json:"impact"`
	Type         string          `json:"type"`
	Health       *rawHealth      `json:"health"`
	HealthCode   *int            `json:"healthCode"`
	LatencyMS    *int64          `json:"latencyMs"`
	CheckDetails json.RawMessage `json:"checkDetails"`
	Error        json.RawMessage `json:"error"`
	ErrorMessage string          `json:"errorMessage"`
	LastChecked  string          `json:"lastChecked"`
}

// rawHealth is the nested health triple.
type rawHealth struct {
	State   *int   `json:"state"`
	Code    *int   `json:"code"`
	Latency *int64 `json:"latency"`
}

// schemaConfig is the optional per-service parser hint. RootPath points at
// the dependencies array inside the payload, dot-separated.
type schemaConfig struct {
	RootPath string `json:"root_path"`
}

// ParseDependencies converts a health endpoint body into dependency records.
// Two shapes are accepted: an array of dependency objects at the root (or at
// the schema_config root path), or an object carrying a "dependencies"
// array. Each item must carry a string name and boolean healthy.
//
// Parse errors name the offending index but never quote the payload.
func ParseDependencies(body []byte, schemaCfg string, now time.Time) ([]DependencyStatus, error) {
	items, err := extractItems(body, schemaCfg)
	if err != nil {
		return nil, err
	}

	statuses := make([]DependencyStatus, 0, len(items))
	for i, item := range items {
		var raw rawDependency
		if err := json.Unmarshal(item, &raw); err != nil {
			return nil, fmt.Errorf("dependency at index %d is not an object", i)
		}
		if raw.Name == nil || *raw.Name == "" {
			return nil, fmt.Errorf("dependency at index %d is missing required field \"name\"", i)
		}
		if raw.Healthy == nil {
			return nil, fmt.Errorf("dependency at index %d is missing required field \"healthy\"", i)
		}

		status := DependencyStatus{
			Name:         *raw.Name,
			Healthy:      *raw.Healthy,
			Description:  raw.Description,
			Impact:       raw.Impact,
			Type:         normalizeType(raw.Type),
			CheckDetails: string(raw.CheckDetails),
			Error:        string(raw.Error),
			ErrorMessage: raw.ErrorMessage,
			LastChecked:  now,
		}

		// JSON null is not a value worth persisting.
		if status.CheckDetails == "null" {
			status.CheckDetails = ""
		}
		if status.Error == "null" {
			status.Error = ""
		}

		applyHealthTriple(&status, &raw)

		if raw.LastChecked != "" {
			if ts, err := time.Parse(time.RFC3339, raw.LastChecked); err == nil {
				status.LastChecked = ts
			}
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// extractItems locates the dependencies array in the payload.
func extractItems(body []byte, schemaCfg string) ([]json.RawMessage, error) {
	payload := body

	if schemaCfg != "" {
		var cfg schemaConfig
		if err := json.Unmarshal([]byte(schemaCfg), &cfg); err == nil && cfg.RootPath != "" {
			nested, err := walkPath(body, cfg.RootPath)
			if err != nil {
				return nil, err
			}
			payload = nested
			var items []json.RawMessage
			if err := json.Unmarshal(payload, &items); err != nil {
				return nil, fmt.Errorf("expected an array at configured root path %q", cfg.RootPath)
			}
			return items, nil
		}
	}

	// Shape 1: array at the root.
	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err == nil {
		return items, nil
	}

	// Shape 2: object carrying a "dependencies" array.
	var wrapper struct {
		Dependencies []json.RawMessage `json:"dependencies"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil, fmt.Errorf("expected a dependency array or an object with a \"dependencies\" array")
	}
	if wrapper.Dependencies == nil {
		return nil, fmt.Errorf("expected a dependency array or an object with a \"dependencies\" array")
	}
	return wrapper.Dependencies, nil
}

// walkPath descends a dot-separated object path.
func walkPath(body []byte, path string) (json.RawMessage, error) {
	current := json.RawMessage(body)
	for _, key := range strings.Split(path, ".") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(current, &obj); err != nil {
			return nil, fmt.Errorf("root path %q does not match payload shape", path)
		}
		next, ok := obj[key]
		if !ok {
			return nil, fmt.Errorf("root path %q does not match payload shape", path)
		}
		current = next
	}
	return current, nil
}

// applyHealthTriple fills state/code/latency from the nested triple when
// present, otherwise from the flat fields with the state derived from
// healthy.
func applyHealthTriple(status *DependencyStatus, raw *rawDependency) {
	if raw.Health != nil {
		if raw.Health.State != nil {
			status.HealthState = *raw.Health.State
		} else if !status.Healthy {
			status.HealthState = store.HealthStateCritical
		}
		if raw.Health.Code != nil {
			status.HealthCode = *raw.Health.Code
		}
		if raw.Health.Latency != nil {
			status.LatencyMS = *raw.Health.Latency
		}
		return
	}

	if raw.HealthCode != nil {
		status.HealthCode = *raw.HealthCode
	}
	if raw.LatencyMS != nil {
		status.LatencyMS = *raw.LatencyMS
	}
	if status.Healthy {
		status.HealthState = store.HealthStateOK
	} else {
		status.HealthState = store.HealthStateCritical
	}
}

// normalizeType maps unknown dependency types to "other".
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if knownDependencyTypes[t] {
		return t
	}
	return "other"
}
