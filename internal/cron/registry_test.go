package cron

import (
	"context"
	"testing"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrder(t *testing.T) {
	registry, err := NewRegistry(namedJob("outbox-retention"), namedJob("pending-payment-expiry"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	names := registry.Names()
	if len(names) != 2 || names[0] != "outbox-retention" || names[1] != "pending-payment-expiry" {
		t.Fatalf("unexpected order %v", names)
	}

	jobs := registry.Jobs()
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("Jobs exposed internal slice")
	}
}

func TestRegistryRejectsDuplicatesAndBlanks(t *testing.T) {
	if _, err := NewRegistry(namedJob("a"), namedJob("a")); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if _, err := NewRegistry(namedJob("  ")); err == nil {
		t.Fatal("expected blank name error")
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("expected nil job error")
	}
}
