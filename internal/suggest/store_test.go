package suggest

import "testing"

func setupStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndList(t *testing.T) {
	s := setupStore(t)

	low := &Suggestion{DependencyID: "dep-1", Name: "redsi", SuggestedCanonical: "redis", Score: 0.8}
	high := &Suggestion{DependencyID: "dep-2", Name: "postgres-main", SuggestedCanonical: "postgres", Score: 0.9}
	for _, sg := range []*Suggestion{low, high} {
		if err := s.Save(sg); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if sg.ID == "" {
			t.Error("Save must assign an ID")
		}
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(got))
	}
	if got[0].Score != 0.9 {
		t.Errorf("expected best score first, got %v", got[0].Score)
	}
}

func TestSaveIgnoresDuplicatePair(t *testing.T) {
	s := setupStore(t)

	for i := 0; i < 2; i++ {
		err := s.Save(&Suggestion{DependencyID: "dep-1", Name: "postgres-main", SuggestedCanonical: "postgres", Score: 0.9})
		if err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}

	got, _ := s.List()
	if len(got) != 1 {
		t.Errorf("expected duplicate pair ignored, got %d rows", len(got))
	}
}

func TestDeleteForDependency(t *testing.T) {
	s := setupStore(t)

	_ = s.Save(&Suggestion{DependencyID: "dep-1", Name: "postgres-main", SuggestedCanonical: "postgres", Score: 0.9})
	_ = s.Save(&Suggestion{DependencyID: "dep-2", Name: "redsi", SuggestedCanonical: "redis", Score: 0.8})

	if err := s.DeleteForDependency("dep-1"); err != nil {
		t.Fatalf("DeleteForDependency failed: %v", err)
	}
	got, _ := s.List()
	if len(got) != 1 || got[0].DependencyID != "dep-2" {
		t.Errorf("expected only dep-2 to survive, got %+v", got)
	}
}
