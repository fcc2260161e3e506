// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package memalloc

// pages is a fixed-size bit vector tracking which pages of a
// memory block are in use.
// Bits past n are kept set so they are never handed out.
type pages struct {
	s   []uint64
	n   int
	rem int
}

const wordBits = 64

// newPages creates a vector of n unset bits.
func newPages(n int) pages {
	p := pages{
		s:   make([]uint64, (n+wordBits-1)/wordBits),
		n:   n,
		rem: n,
	}
	if tail := n % wordBits; tail != 0 {
		p.s[len(p.s)-1] = ^uint64(0) << tail
	}
	return p
}

// Len returns the number of usable bits.
func (p *pages) Len() int { return p.n }

// Rem returns the number of unset bits.
func (p *pages) Rem() int { return p.rem }

// IsSet checks whether a given bit is set.
func (p *pages) IsSet(index int) bool {
	return p.s[index/wordBits]&(1<<(index%wordBits)) != 0
}

// SetRange sets the bits in [index, index+n).
func (p *pages) SetRange(index, n int) {
	for i := index; i < index+n; i++ {
		b := uint64(1) << (i % wordBits)
		if w := &p.s[i/wordBits]; *w&b == 0 {
			*w |= b
			p.rem--
		}
	}
}

// UnsetRange unsets the bits in [index, index+n).
func (p *pages) UnsetRange(index, n int) {
	for i := index; i < index+n; i++ {
		b := uint64(1) << (i % wordBits)
		if w := &p.s[i/wordBits]; *w&b != 0 {
			*w &^= b
			p.rem++
		}
	}
}

// SearchRange attempts to locate n contiguous unset bits
// whose first index is a multiple of align.
// If ok is true, then all values in [index, index+n) are
// suitable for use in a call to p.SetRange.
func (p *pages) SearchRange(n, align int) (index int, ok bool) {
	if n <= 0 || p.rem < n {
		return
	}
	if align < 1 {
		align = 1
	}
	for i := 0; i+n <= p.n; {
		// Skip words that have no unset bits.
		if i%wordBits == 0 && p.s[i/wordBits] == ^uint64(0) {
			i = ((i+wordBits)/align + btoi((i+wordBits)%align != 0)) * align
			continue
		}
		j := i
		for ; j < i+n; j++ {
			if p.IsSet(j) {
				break
			}
		}
		if j == i+n {
			return i, true
		}
		i = (j/align + 1) * align
	}
	return
}

// Empty returns whether no bit is set.
func (p *pages) Empty() bool { return p.rem == p.n }

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
