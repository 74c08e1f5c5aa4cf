package ident

import "testing"

func TestNewIsUnique(t *testing.T) {
	assertDistinct(t, New)
}

func TestWeakIsUnique(t *testing.T) {
	assertDistinct(t, weak)
}

func assertDistinct(t *testing.T, generate func() string) {
	t.Helper()
	seen := make(map[string]struct{})
	for i := 0; i < 16; i++ {
		id := generate()
		if id == `` {
			t.Fatalf(`generated an empty identifier`)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf(`generated %q twice`, id)
		}
		seen[id] = struct{}{}
	}
}
