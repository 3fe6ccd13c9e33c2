package store

import (
	"context"
	"testing"
)

func TestSearch_Basic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	invoke := testMethod(rake, "Rake::Task", "invoke")
	execute := testMethod(rake, "Rake::Task", "execute")
	helper := testMethod(nil, "Object", "invoke_later")
	unsigned := testMethod(rake, "Rake::Application", "run")
	s.PutSignature(ctx, invoke, testContract(invoke, "Array"))
	s.PutSignature(ctx, execute, testContract(execute, "NilClass"))
	s.PutSignature(ctx, helper, testContract(helper, "TrueClass"))
	s.PutSignature(ctx, unsigned, testContract(unsigned, "NilClass"))
	s.DeleteSignature(ctx, unsigned)

	// By method name, across gems
	results, err := s.Search(ctx, SearchParams{Query: "invoke"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// Gem filter
	results, err = s.Search(ctx, SearchParams{Query: "invoke", Gem: "rake"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].Method.Equal(invoke) {
		t.Fatalf("expected only %s, got %v", invoke, results)
	}
	if results[0].UpdatedAt == "" {
		t.Error("expected updated_at")
	}

	// By class and qualified name
	results, err = s.Search(ctx, SearchParams{Query: "Task#exec"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Method.Name != "execute" {
		t.Fatalf("expected execute, got %v", results)
	}

	// Methods without a signature are not listed
	results, err = s.Search(ctx, SearchParams{Query: "Application"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 results, got %d", len(results))
	}
}

func TestSearch_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		m := testMethod(rake, "Rake::Task", name)
		s.PutSignature(ctx, m, testContract(m, "NilClass"))
	}
	results, err := s.Search(ctx, SearchParams{Query: "Rake", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}
