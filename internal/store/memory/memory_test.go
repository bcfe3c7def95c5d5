package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
)

func TestGetSetRemove(t *testing.T) {
	m := New()
	ctx := context.Background()
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected missing")
	}
	buf := []byte("abc")
	_ = m.Set(ctx, "k", buf)
	buf[0] = 'X'
	v, ok, _ := m.Get(ctx, "k")
	if !ok || string(v) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", v)
	}
	v[0] = 'Y'
	if again, _, _ := m.Get(ctx, "k"); string(again) != "abc" {
		t.Fatalf("returned value aliased store: %q", again)
	}
	_ = m.Remove(ctx, "k")
	if m.Len() != 0 {
		t.Fatalf("expected empty medium")
	}
}

func TestUpdateAppliesAtomically(t *testing.T) {
	m := New()
	ctx := context.Background()
	_ = m.Set(ctx, "old", []byte("1"))
	err := m.Update(ctx, func(tx app.Txn) error {
		_ = tx.Set(ctx, "new", []byte("2"))
		_ = tx.Remove(ctx, "old")
		if _, ok, _ := tx.Get(ctx, "old"); ok {
			t.Fatalf("removal not visible inside txn")
		}
		if v, ok, _ := tx.Get(ctx, "new"); !ok || string(v) != "2" {
			t.Fatalf("write not visible inside txn")
		}
		if _, ok := m.data["new"]; ok {
			t.Fatalf("write leaked before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	keys, _ := m.ListKeys(ctx)
	if len(keys) != 1 || keys[0] != "new" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestUpdateDiscardsOnError(t *testing.T) {
	m := New()
	ctx := context.Background()
	_ = m.Set(ctx, "keep", []byte("1"))
	boom := errors.New("boom")
	err := m.Update(ctx, func(tx app.Txn) error {
		_ = tx.Set(ctx, "x", []byte("2"))
		_ = tx.Remove(ctx, "keep")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok, _ := m.Get(ctx, "x"); ok {
		t.Fatalf("write should be discarded")
	}
	if _, ok, _ := m.Get(ctx, "keep"); !ok {
		t.Fatalf("removal should be discarded")
	}
}

func TestEmptyValueIsPresent(t *testing.T) {
	m := New()
	ctx := context.Background()
	_ = m.Update(ctx, func(tx app.Txn) error { return tx.Set(ctx, "e", nil) })
	if _, ok, _ := m.Get(ctx, "e"); !ok {
		t.Fatalf("empty value should be stored, not treated as removal")
	}
}
