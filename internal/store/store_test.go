package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetService(t *testing.T) {
	s := setupTestStore(t)

	svc := &Service{
		Name:           "payments",
		HealthEndpoint: "http://payments.example.com/health",
		IsActive:       true,
	}
	if err := s.CreateService(svc); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}
	if svc.ID == "" {
		t.Fatal("expected generated ID")
	}
	if svc.PollIntervalMS != 30_000 {
		t.Errorf("expected default poll interval 30000, got %d", svc.PollIntervalMS)
	}

	got, err := s.GetService(svc.ID)
	if err != nil {
		t.Fatalf("GetService failed: %v", err)
	}
	if got.Name != "payments" {
		t.Errorf("expected name payments, got %q", got.Name)
	}
	if got.LastPollSuccess != nil {
		t.Error("expected nil LastPollSuccess before first poll")
	}
}

func TestGetServiceNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetService("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidatePollInterval(t *testing.T) {
	tests := []struct {
		ms      int64
		wantErr bool
	}{
		{4_999, true},
		{5_000, false},
		{30_000, false},
		{3_600_000, false},
		{3_600_001, true},
		{-1, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.ms), func(t *testing.T) {
			err := ValidatePollInterval(tt.ms)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePollInterval(%d) error = %v, wantErr %v", tt.ms, err, tt.wantErr)
			}
		})
	}
}

func TestCreateServiceRejectsBadInterval(t *testing.T) {
	s := setupTestStore(t)

	err := s.CreateService(&Service{
		Name:           "too-fast",
		HealthEndpoint: "http://example.com/health",
		PollIntervalMS: 1_000,
	})
	if err == nil {
		t.Fatal("expected error for interval below minimum")
	}
}

func TestListActivePollable(t *testing.T) {
	s := setupTestStore(t)

	services := []*Service{
		{Name: "active", HealthEndpoint: "http://a.example.com/health", IsActive: true},
		{Name: "inactive", HealthEndpoint: "http://b.example.com/health", IsActive: false},
		{Name: "external", HealthEndpoint: "http://c.example.com/health", IsActive: true, IsExternal: true},
		{Name: "no-endpoint", HealthEndpoint: "", IsActive: true},
	}
	for _, svc := range services {
		if err := s.CreateService(svc); err != nil {
			t.Fatalf("CreateService(%s) failed: %v", svc.Name, err)
		}
	}

	pollable, err := s.ListActivePollable()
	if err != nil {
		t.Fatalf("ListActivePollable failed: %v", err)
	}
	if len(pollable) != 1 {
		t.Fatalf("expected 1 pollable service, got %d", len(pollable))
	}
	if pollable[0].Name != "active" {
		t.Errorf("expected service active, got %q", pollable[0].Name)
	}
}

func TestUpdatePollResult(t *testing.T) {
	s := setupTestStore(t)

	svc := &Service{Name: "api", HealthEndpoint: "http://api.example.com/health", IsActive: true}
	if err := s.CreateService(svc); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}

	if err := s.UpdatePollResult(svc.ID, false, "Connection refused"); err != nil {
		t.Fatalf("UpdatePollResult failed: %v", err)
	}
	got, err := s.GetService(svc.ID)
	if err != nil {
		t.Fatalf("GetService failed: %v", err)
	}
	if got.LastPollSuccess == nil || *got.LastPollSuccess {
		t.Error("expected LastPollSuccess false")
	}
	if got.LastPollError != "Connection refused" {
		t.Errorf("expected error message, got %q", got.LastPollError)
	}

	if err := s.UpdatePollResult(svc.ID, true, ""); err != nil {
		t.Fatalf("UpdatePollResult failed: %v", err)
	}
	got, _ = s.GetService(svc.ID)
	if got.LastPollSuccess == nil || !*got.LastPollSuccess {
		t.Error("expected LastPollSuccess true")
	}
	if got.LastPollError != "" {
		t.Errorf("expected cleared error, got %q", got.LastPollError)
	}
}

func TestDeleteServiceCascades(t *testing.T) {
	s := setupTestStore(t)

	svc := &Service{Name: "doomed", HealthEndpoint: "http://d.example.com/health", IsActive: true}
	if err := s.CreateService(svc); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}

	dep := &Dependency{ServiceID: svc.ID, Name: "postgres", Type: "database"}
	if err := s.InsertDependencyTx(s.db, dep); err != nil {
		t.Fatalf("InsertDependencyTx failed: %v", err)
	}

	if err := s.DeleteService(svc.ID); err != nil {
		t.Fatalf("DeleteService failed: %v", err)
	}

	_, err := s.GetDependency(svc.ID, "postgres")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected dependency to cascade, got %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := setupTestStore(t)

	svc := &Service{Name: "txsvc", HealthEndpoint: "http://tx.example.com/health", IsActive: true}
	if err := s.CreateService(svc); err != nil {
		t.Fatalf("CreateService failed: %v", err)
	}

	wantErr := errors.New("boom")
	err := s.WithTx(func(tx *sql.Tx) error {
		dep := &Dependency{ServiceID: svc.ID, Name: "redis", Type: "cache"}
		if err := s.InsertDependencyTx(tx, dep); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}

	_, err = s.GetDependency(svc.ID, "redis")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected rollback, got %v", err)
	}
}
