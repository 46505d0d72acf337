package cache

import (
	"path/filepath"
	"testing"
)

func TestCache_PutThenGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "compiles.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get("abc"); err != nil || ok {
		t.Fatalf("expected miss before put, got ok=%v err=%v", ok, err)
	}

	if err := c.Put("abc", []byte(`{"name":"x"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := c.Get("abc")
	if err != nil || !ok {
		t.Fatalf("expected hit after put, got ok=%v err=%v", ok, err)
	}
	if string(got) != `{"name":"x"}` {
		t.Errorf("unexpected cached bytes: %s", got)
	}

	n, err := c.Size()
	if err != nil || n != 1 {
		t.Errorf("expected size 1, got %d err=%v", n, err)
	}
}

func TestCache_PutOverwritesPriorEntry(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "compiles.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	_ = c.Put("abc", []byte("first"))
	_ = c.Put("abc", []byte("second"))

	got, ok, _ := c.Get("abc")
	if !ok || string(got) != "second" {
		t.Errorf("expected overwritten value %q, got %q (ok=%v)", "second", got, ok)
	}
}
