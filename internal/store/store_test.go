package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConfigDocument_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadConfigDocument(ctx)
	if err != nil {
		t.Fatalf("LoadConfigDocument: %v", err)
	}
	if found {
		t.Fatal("fresh store should have no config document")
	}

	doc := []byte(`{"provider":"openai","model":"gpt-4o"}`)
	if err := s.SaveConfigDocument(ctx, doc); err != nil {
		t.Fatalf("SaveConfigDocument: %v", err)
	}

	got, found, err := s.LoadConfigDocument(ctx)
	if err != nil {
		t.Fatalf("LoadConfigDocument: %v", err)
	}
	if !found {
		t.Fatal("document not found after save")
	}
	if string(got) != string(doc) {
		t.Errorf("document = %s, want %s", got, doc)
	}
}

func TestConfigDocument_UpsertSingleton(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveConfigDocument(ctx, []byte(`{"provider":"openai"}`)); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	if err := s.SaveConfigDocument(ctx, []byte(`{"provider":"deepseek"}`)); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	got, _, err := s.LoadConfigDocument(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != `{"provider":"deepseek"}` {
		t.Errorf("document = %s, want the second save", got)
	}
}

func TestUsage_InsertAndAggregate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []*UsageRecord{
		{ID: uuid.NewString(), Provider: "openai", Model: "gpt-4o", Feature: "generate",
			PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: uuid.NewString(), Provider: "deepseek", Model: "deepseek-chat", Feature: "chat",
			PromptTokens: 30, CompletionTokens: 20, TotalTokens: 50, Estimated: true, CreatedAt: now},
	}
	for _, r := range records {
		if err := s.InsertUsage(ctx, r); err != nil {
			t.Fatalf("InsertUsage: %v", err)
		}
	}

	total, err := s.TotalTokensSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("TotalTokensSince: %v", err)
	}
	if total != 200 {
		t.Errorf("24h total = %d, want 200", total)
	}

	total, err = s.TotalTokensSince(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("TotalTokensSince: %v", err)
	}
	if total != 50 {
		t.Errorf("1h total = %d, want 50", total)
	}

	recent, err := s.RecentUsage(ctx, 10)
	if err != nil {
		t.Fatalf("RecentUsage: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("RecentUsage len = %d", len(recent))
	}
	if recent[0].Provider != "deepseek" {
		t.Errorf("newest record provider = %q, want deepseek", recent[0].Provider)
	}
	if !recent[0].Estimated {
		t.Error("estimated flag lost in round trip")
	}
}
