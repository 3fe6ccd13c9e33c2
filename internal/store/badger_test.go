package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rcliao/callsig/internal/model"
	"github.com/rcliao/callsig/internal/packet"
)

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("create badger store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)
	m := testMethod(rake, "Rake::Task", "invoke")

	if got, err := s.Signature(ctx, m); err != nil || got != nil {
		t.Fatalf("expected nil, nil for unknown method, got %v, %v", got, err)
	}
	if err := s.PutSignature(ctx, m, testContract(m, "Array", "String")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Signature(ctx, m)
	if err != nil || got == nil || !accepts(got, "Array", "String") {
		t.Fatalf("stored contract not returned: %v", err)
	}
	if err := s.DeleteSignature(ctx, m); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := s.Signature(ctx, m); got != nil {
		t.Error("expected signature to be gone")
	}
}

func TestBadgerListings(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)
	ms := []model.MethodInfo{
		testMethod(rake, "Rake::Task", "invoke"),
		testMethod(rake, "Rake::Task", "execute"),
		testMethod(rake, "Rake::FileList", "each"),
		testMethod(&model.GemInfo{Name: "rake", Version: "10.0.0"}, "Rake::Task", "invoke"),
		testMethod(nil, "Object", "helper"),
	}
	for _, m := range ms {
		if err := s.PutSignature(ctx, m, testContract(m, "NilClass")); err != nil {
			t.Fatalf("put %s: %v", m, err)
		}
	}

	gems, _ := s.RegisteredGems(ctx)
	if len(gems) != 3 || !gems[0].IsZero() {
		t.Fatalf("unexpected gems %v", gems)
	}
	classes, _ := s.RegisteredClasses(ctx, *rake)
	if len(classes) != 2 || classes[0].FQN != "Rake::FileList" {
		t.Errorf("unexpected classes %v", classes)
	}
	methods, _ := s.RegisteredMethods(ctx, model.ClassInfo{Gem: rake, FQN: "Rake::Task"})
	if len(methods) != 2 {
		t.Errorf("expected 2 methods, got %v", methods)
	}
	for _, m := range methods {
		if m.Class.Gem == nil || *m.Class.Gem != *rake {
			t.Errorf("method %s lost its gem", m)
		}
	}
	closest, _ := s.ClosestRegisteredGem(ctx, model.GemInfo{Name: "rake", Version: "10.5"})
	if closest == nil || closest.Version != "10.0.0" {
		t.Errorf("expected closest 10.0.0, got %v", closest)
	}
}

func TestBadgerReadPacketAndForm(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)
	a := testMethod(rake, "Rake::Task", "invoke")
	b := testMethod(nil, "Object", "helper")

	if err := s.ReadPacket(ctx, mustPacket(t,
		packet.Entry{Method: a, Contract: testContract(a, "Array", "String")},
		packet.Entry{Method: b, Contract: testContract(b, "NilClass")},
	)); err != nil {
		t.Fatalf("read packet: %v", err)
	}
	if err := s.ReadPacket(ctx, mustPacket(t, packet.Entry{Method: a, Contract: testContract(a, "Hash", "Symbol")})); err != nil {
		t.Fatalf("read packet: %v", err)
	}
	got, _ := s.Signature(ctx, a)
	if !accepts(got, "Array", "String") || !accepts(got, "Hash", "Symbol") {
		t.Error("expected merged contract")
	}

	packets, err := s.FormPackets(ctx, nil)
	if err != nil {
		t.Fatalf("form packets: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(packets))
	}
	filtered, _ := s.FormPackets(ctx, &ExportFilter{Include: true, Gems: []model.GemInfo{{}}})
	if len(filtered) != 1 || filtered[0].Len() != 1 {
		t.Fatalf("expected only the local packet, got %d", len(filtered))
	}
}

func TestBadgerPersists(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "received")
	m := testMethod(rake, "Rake::Task", "invoke")

	s, err := NewBadgerStore(BadgerConfig{Path: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.PutSignature(ctx, m, testContract(m, "NilClass"))
	s.Close()

	s, err = NewBadgerStore(BadgerConfig{Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, _ := s.Signature(ctx, m)
	if got == nil || !accepts(got, "NilClass") {
		t.Error("expected signature to survive reopen")
	}
}
