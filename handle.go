package cozyfs

import "github.com/cozyfs/cozyfs/internal/wire"

// handleRef names one handle slot, wherever it physically lives: the
// root page's inline array or a chained HandleOverflowPage.
type handleRef struct {
	off wire.Offset // byte offset of the Handle, for patch resolution
}

func (s *Session) readHandleAt(ref handleRef) *wire.Handle {
	return (*wire.Handle)(s.resolve(ref.off))
}

func (s *Session) writeHandleAt(ref handleRef) (*wire.Handle, error) {
	p, err := s.resolveWritable(ref.off)
	if err != nil {
		return nil, err
	}
	return (*wire.Handle)(p), nil
}

// forEachHandle visits every handle slot, inline then overflow, until
// visit returns true (stop) or an error.
func (s *Session) forEachHandle(visit func(ref handleRef, h *wire.Handle) (bool, error)) error {
	for i := 0; i < wire.MaxInlineHandles; i++ {
		ref := handleRef{off: wire.InlineHandleOffset(i)}
		stop, err := visit(ref, s.readHandleAt(ref))
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}

	return s.walkOverflowHandles(visit)
}

// walkOverflowHandles visits every handle-overflow page chained from
// RootBody.OverflowHandles, a field this module adds to the root page
// beyond what spec.md's layout narrative names explicitly (which lists
// only free lists and counts) because nothing else in the format could
// locate an overflow chain. See DESIGN.md.
func (s *Session) walkOverflowHandles(visit func(ref handleRef, h *wire.Handle) (bool, error)) error {
	body := s.rootBody()
	for off := body.OverflowHandles; off != wire.InvalidOffset; {
		page := s.readHandleOverflowPage(off)
		for i := range page.Handles {
			ref := handleRef{off: wire.HandleOffsetInOverflowPage(off, i)}
			stop, err := visit(ref, &page.Handles[i])
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		off = page.Next
	}
	return nil
}

// allocHandle finds the first unused slot (inline, then overflow,
// allocating a fresh overflow page if every existing one is full),
// marks it used, and returns its packed file descriptor.
func (s *Session) allocHandle(ent wire.Offset) (int, error) {
	var foundRef handleRef
	found := false
	err := s.forEachHandle(func(ref handleRef, h *wire.Handle) (bool, error) {
		if h.Used == 0 {
			foundRef, found = ref, true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return 0, err
	}

	var index int
	if !found {
		newOff, err := s.allocGenericPage()
		if err != nil {
			return 0, err
		}
		page, err := s.writeHandleOverflowPage(newOff)
		if err != nil {
			return 0, err
		}
		initHandleOverflowPage(page)

		body, err := s.rootBodyWritable()
		if err != nil {
			return 0, err
		}
		page.Prev = wire.InvalidOffset
		page.Next = body.OverflowHandles
		if body.OverflowHandles != wire.InvalidOffset {
			oldHead, err := s.writeHandleOverflowPage(body.OverflowHandles)
			if err != nil {
				return 0, err
			}
			oldHead.Prev = newOff
		}
		body.OverflowHandles = newOff

		foundRef = handleRef{off: wire.HandleOffsetInOverflowPage(newOff, 0)}
		index = wire.MaxInlineHandles
	} else {
		index = handleIndexOf(s, foundRef)
	}

	h, err := s.writeHandleAt(foundRef)
	if err != nil {
		return 0, err
	}
	h.Used = 1
	h.Ent = ent
	h.Cur = 0

	return wire.PackFD(h.Gen, index), nil
}

// handleIndexOf recovers the flat slot index forEachHandle would have
// produced for ref: the inverse of handleRefForIndex. ref may live
// inline or, once the inline array has ever filled up, in a chained
// HandleOverflowPage that was later partly freed and rediscovered by
// forEachHandle before reaching the chain's end — so both ranges must
// be searched.
func handleIndexOf(s *Session, ref handleRef) int {
	for i := 0; i < wire.MaxInlineHandles; i++ {
		if wire.InlineHandleOffset(i) == ref.off {
			return i
		}
	}

	body := s.rootBody()
	index := wire.MaxInlineHandles
	for off := body.OverflowHandles; off != wire.InvalidOffset; {
		page := s.readHandleOverflowPage(off)
		for i := range page.Handles {
			if wire.HandleOffsetInOverflowPage(off, i) == ref.off {
				return index + i
			}
		}
		index += wire.HandlesPerOverflowPage
		off = page.Next
	}
	return -1
}

// lookupHandle unpacks fd and validates it against the slot's current
// generation, per spec.md §4.3.
func (s *Session) lookupHandle(fd int) (handleRef, *wire.Handle, error) {
	gen, index := wire.UnpackFD(fd)
	ref, err := s.handleRefForIndex(index)
	if err != nil {
		return handleRef{}, nil, err
	}
	h := s.readHandleAt(ref)
	if h.Used == 0 || h.Gen != gen {
		return handleRef{}, nil, ErrBadFD
	}
	return ref, h, nil
}

func (s *Session) handleRefForIndex(index int) (handleRef, error) {
	if index < wire.MaxInlineHandles {
		return handleRef{off: wire.InlineHandleOffset(index)}, nil
	}
	body := s.rootBody()
	want := index - wire.MaxInlineHandles
	i := 0
	for off := body.OverflowHandles; off != wire.InvalidOffset; {
		page := s.readHandleOverflowPage(off)
		if want < i+wire.HandlesPerOverflowPage {
			return handleRef{off: wire.HandleOffsetInOverflowPage(off, want-i)}, nil
		}
		i += wire.HandlesPerOverflowPage
		off = page.Next
	}
	return handleRef{}, ErrBadFD
}

// freeHandle marks ref unused and advances its generation, per
// spec.md §4.3's close contract.
func (s *Session) freeHandle(ref handleRef) error {
	h, err := s.writeHandleAt(ref)
	if err != nil {
		return err
	}
	h.Used = 0
	h.Ent = wire.InvalidOffset
	h.Cur = 0
	h.Gen = wire.NextGeneration(h.Gen)
	return nil
}
