package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func TestPutGetCopies(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	c := New(time.Minute, clk)
	buf := []byte("hello")
	c.Put("a1", buf)
	buf[0] = 'J'

	got, ok := c.Get("a1")
	if !ok || string(got) != "hello" {
		t.Fatalf("Get = %q ok=%v, want hello", got, ok)
	}
	got[0] = 'Y'
	if again, _ := c.Get("a1"); string(again) != "hello" {
		t.Fatalf("cache aliased returned slice: %q", again)
	}
}

func TestExpiry(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New(30*time.Minute, clk)
	c.Put("a", []byte("x"))

	clk.t = clk.t.Add(30*time.Minute - time.Nanosecond)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("entry should still be fresh just before ttl")
	}
	clk.t = clk.t.Add(time.Nanosecond)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("entry should expire at ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be dropped, len=%d", c.Len())
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New(0, nil)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Delete("a")
	c.Delete("missing")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should be deleted")
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len after clear = %d", c.Len())
	}
}

func TestPutReplacesAndRefreshes(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	c := New(time.Minute, clk)
	c.Put("a", []byte("old"))
	clk.t = clk.t.Add(50 * time.Second)
	c.Put("a", []byte("new"))
	clk.t = clk.t.Add(50 * time.Second)
	got, ok := c.Get("a")
	if !ok || string(got) != "new" {
		t.Fatalf("Get = %q ok=%v", got, ok)
	}
}
