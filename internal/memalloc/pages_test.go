// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package memalloc

import "testing"

func TestNewPages(t *testing.T) {
	for _, n := range [...]int{1, 63, 64, 65, 128, 1000} {
		p := newPages(n)
		if x := p.Len(); x != n {
			t.Fatalf("newPages(%d).Len:\nhave %d\nwant %d", n, x, n)
		}
		if x := p.Rem(); x != n {
			t.Fatalf("newPages(%d).Rem:\nhave %d\nwant %d", n, x, n)
		}
		if !p.Empty() {
			t.Fatalf("newPages(%d).Empty:\nhave false\nwant true", n)
		}
		for i := range n {
			if p.IsSet(i) {
				t.Fatalf("newPages(%d).IsSet(%d):\nhave true\nwant false", n, i)
			}
		}
		// The whole range must be available, but not more.
		if i, ok := p.SearchRange(n, 1); !ok || i != 0 {
			t.Fatalf("newPages(%d).SearchRange(%[1]d, 1):\nhave %d, %t\nwant 0, true", n, i, ok)
		}
		if _, ok := p.SearchRange(n+1, 1); ok {
			t.Fatalf("newPages(%d).SearchRange(%d, 1):\nhave true\nwant false", n, n+1)
		}
	}
}

func TestSetRange(t *testing.T) {
	p := newPages(200)
	p.SetRange(10, 100)
	if x := p.Rem(); x != 100 {
		t.Fatalf("p.SetRange: Rem:\nhave %d\nwant 100", x)
	}
	for i := range 200 {
		if want := i >= 10 && i < 110; p.IsSet(i) != want {
			t.Fatalf("p.IsSet(%d):\nhave %t\nwant %t", i, !want, want)
		}
	}
	// Setting bits twice must not change the count.
	p.SetRange(50, 100)
	if x := p.Rem(); x != 60 {
		t.Fatalf("p.SetRange: Rem:\nhave %d\nwant 60", x)
	}
	p.UnsetRange(0, 200)
	if !p.Empty() {
		t.Fatalf("p.UnsetRange: Empty:\nhave false\nwant true")
	}
}

func TestSearchRange(t *testing.T) {
	p := newPages(256)
	p.SetRange(0, 64)
	p.SetRange(70, 2)
	for _, x := range [...]struct {
		n, align int
		index    int
		ok       bool
	}{
		{1, 1, 64, true},
		{6, 1, 64, true},
		{7, 1, 72, true},
		{4, 8, 64, true},
		{8, 8, 72, true},
		{16, 16, 80, true},
		{64, 64, 128, true},
		{128, 64, 128, true},
		{185, 1, 0, false},
		{0, 1, 0, false},
	} {
		index, ok := p.SearchRange(x.n, x.align)
		if ok != x.ok || (ok && index != x.index) {
			t.Fatalf("p.SearchRange(%d, %d):\nhave %d, %t\nwant %d, %t", x.n, x.align, index, ok, x.index, x.ok)
		}
	}
}
