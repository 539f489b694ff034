package poller

import (
	"strings"
	"testing"
	"time"

	"github.com/depsdash/depsdash/internal/store"
)

func TestParseDependenciesRootArray(t *testing.T) {
	body := []byte(`[
		{"name": "postgres", "healthy": true, "type": "database", "latencyMs": 12},
		{"name": "redis", "healthy": false, "type": "cache", "errorMessage": "timeout"}
	]`)

	now := time.Now()
	statuses, err := ParseDependencies(body, "", now)
	if err != nil {
		t.Fatalf("ParseDependencies failed: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(statuses))
	}

	pg := statuses[0]
	if pg.Name != "postgres" || !pg.Healthy || pg.Type != "database" {
		t.Errorf("unexpected postgres status: %+v", pg)
	}
	if pg.LatencyMS != 12 {
		t.Errorf("expected latency 12, got %d", pg.LatencyMS)
	}
	if pg.HealthState != store.HealthStateOK {
		t.Errorf("expected OK state for healthy dep, got %d", pg.HealthState)
	}

	rd := statuses[1]
	if rd.Healthy || rd.HealthState != store.HealthStateCritical {
		t.Errorf("expected critical state for unhealthy dep, got %+v", rd)
	}
	if rd.ErrorMessage != "timeout" {
		t.Errorf("expected error message, got %q", rd.ErrorMessage)
	}
}

func TestParseDependenciesWrapperObject(t *testing.T) {
	body := []byte(`{"status": "ok", "dependencies": [
		{"name": "s3", "healthy": true, "type": "storage"}
	]}`)

	statuses, err := ParseDependencies(body, "", time.Now())
	if err != nil {
		t.Fatalf("ParseDependencies failed: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Name != "s3" {
		t.Fatalf("unexpected result: %+v", statuses)
	}
}

func TestParseDependenciesNestedHealthTriple(t *testing.T) {
	body := []byte(`[
		{"name": "kafka", "healthy": false, "type": "queue",
		 "health": {"state": 1, "code": 42, "latency": 250}}
	]`)

	statuses, err := ParseDependencies(body, "", time.Now())
	if err != nil {
		t.Fatalf("ParseDependencies failed: %v", err)
	}
	got := statuses[0]
	if got.HealthState != 1 || got.HealthCode != 42 || got.LatencyMS != 250 {
		t.Errorf("nested triple not applied: %+v", got)
	}
}

func TestParseDependenciesSchemaRootPath(t *testing.T) {
	body := []byte(`{"data": {"checks": [
		{"name": "ldap", "healthy": true, "type": "external"}
	]}}`)

	statuses, err := ParseDependencies(body, `{"root_path": "data.checks"}`, time.Now())
	if err != nil {
		t.Fatalf("ParseDependencies failed: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Name != "ldap" {
		t.Fatalf("unexpected result: %+v", statuses)
	}
}

func TestParseDependenciesSchemaRootPathMismatch(t *testing.T) {
	body := []byte(`{"other": []}`)
	_, err := ParseDependencies(body, `{"root_path": "data.checks"}`, time.Now())
	if err == nil {
		t.Fatal("expected error for unmatched root path")
	}
}

func TestParseDependenciesMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing name", `[{"healthy": true}]`, `missing required field "name"`},
		{"empty name", `[{"name": "", "healthy": true}]`, `missing required field "name"`},
		{"missing healthy", `[{"name": "db"}]`, `missing required field "healthy"`},
		{"non-object item", `[42]`, "not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDependencies([]byte(tt.body), "", time.Now())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
			if !strings.Contains(err.Error(), "index 0") {
				t.Errorf("error %q does not name the index", err.Error())
			}
		})
	}
}

func TestParseDependenciesErrorsNeverQuotePayload(t *testing.T) {
	secret := "super-secret-value"
	body := []byte(`{"` + secret + `": true}`)

	_, err := ParseDependencies(body, "", time.Now())
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), secret) {
		t.Errorf("parse error quoted payload content: %q", err.Error())
	}
}

func TestParseDependenciesNullJSONCleared(t *testing.T) {
	body := []byte(`[{"name": "db", "healthy": true, "checkDetails": null, "error": null}]`)

	statuses, err := ParseDependencies(body, "", time.Now())
	if err != nil {
		t.Fatalf("ParseDependencies failed: %v", err)
	}
	if statuses[0].CheckDetails != "" || statuses[0].Error != "" {
		t.Errorf("expected null JSON cleared, got %+v", statuses[0])
	}
}

func TestParseDependenciesLastChecked(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	body := []byte(`[
		{"name": "a", "healthy": true, "lastChecked": "2026-08-24T10:30:00Z"},
		{"name": "b", "healthy": true, "lastChecked": "not-a-time"},
		{"name": "c", "healthy": true}
	]`)
	statuses, err := ParseDependencies(body, "", now)
	if err != nil {
		t.Fatalf("ParseDependencies failed: %v", err)
	}

	if !statuses[0].LastChecked.Equal(time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("expected parsed timestamp, got %v", statuses[0].LastChecked)
	}
	if !statuses[1].LastChecked.Equal(now) {
		t.Errorf("expected fallback to now for bad timestamp, got %v", statuses[1].LastChecked)
	}
	if !statuses[2].LastChecked.Equal(now) {
		t.Errorf("expected fallback to now when absent, got %v", statuses[2].LastChecked)
	}
}

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"database", "database"},
		{"DATABASE", "database"},
		{" cache ", "cache"},
		{"grpc", "other"},
		{"", "other"},
	}
	for _, tt := range tests {
		if got := normalizeType(tt.in); got != tt.want {
			t.Errorf("normalizeType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
