package cozyfs

import (
	"unsafe"

	"github.com/cozyfs/cozyfs/internal/wire"
)

// allocDirPage always returns an already-initialized page.
// allocGenericPage does not, since its caller knows which of
// FileDataPage/HandleOverflowPage/UserPage it is about to make the
// page into and must overwrite the content accordingly regardless of
// whether the page came from the free list or was freshly claimed.

func initDirPage(p *wire.DirectoryPage) {
	p.Prev = wire.InvalidOffset
	p.Next = wire.InvalidOffset
	for i := range p.Links {
		p.Links[i] = wire.Link{Ent: wire.InvalidOffset}
	}
	for i := range p.Ents {
		p.Ents[i] = wire.Entity{}
	}
}

func initFileDataPage(p *wire.FileDataPage) {
	p.Prev = wire.InvalidOffset
	p.Next = wire.InvalidOffset
}

func initHandleOverflowPage(p *wire.HandleOverflowPage) {
	p.Prev = wire.InvalidOffset
	p.Next = wire.InvalidOffset
	for i := range p.Handles {
		p.Handles[i] = wire.Handle{Gen: 1, Ent: wire.InvalidOffset}
	}
}

func initUserPage(p *wire.UserPage) {
	p.Prev = wire.InvalidOffset
	p.Next = wire.InvalidOffset
	for i := range p.Users {
		p.Users[i] = wire.UserRecord{}
	}
}

func (s *Session) readDirPage(off wire.Offset) *wire.DirectoryPage {
	return (*wire.DirectoryPage)(s.resolve(off))
}

func (s *Session) writeDirPage(off wire.Offset) (*wire.DirectoryPage, error) {
	p, err := s.resolveWritable(off)
	if err != nil {
		return nil, err
	}
	return (*wire.DirectoryPage)(p), nil
}

func (s *Session) readFileDataPage(off wire.Offset) *wire.FileDataPage {
	return (*wire.FileDataPage)(s.resolve(off))
}

func (s *Session) writeFileDataPage(off wire.Offset) (*wire.FileDataPage, error) {
	p, err := s.resolveWritable(off)
	if err != nil {
		return nil, err
	}
	return (*wire.FileDataPage)(p), nil
}

func (s *Session) readHandleOverflowPage(off wire.Offset) *wire.HandleOverflowPage {
	return (*wire.HandleOverflowPage)(s.resolve(off))
}

func (s *Session) writeHandleOverflowPage(off wire.Offset) (*wire.HandleOverflowPage, error) {
	p, err := s.resolveWritable(off)
	if err != nil {
		return nil, err
	}
	return (*wire.HandleOverflowPage)(p), nil
}

func (s *Session) readUserPage(off wire.Offset) *wire.UserPage {
	return (*wire.UserPage)(s.resolve(off))
}

func (s *Session) writeUserPage(off wire.Offset) (*wire.UserPage, error) {
	p, err := s.resolveWritable(off)
	if err != nil {
		return nil, err
	}
	return (*wire.UserPage)(p), nil
}

// readEntity returns a read-only Entity pointer. off is either
// wire.RootEntityOffset (the root directory) or an offset previously
// produced by wire.EntityOffsetInPage.
func (s *Session) readEntity(off wire.Offset) *wire.Entity {
	if off == wire.RootEntityOffset {
		return &s.rootBody().RootEntity
	}
	return (*wire.Entity)(s.resolve(off))
}

func (s *Session) writeEntity(off wire.Offset) (*wire.Entity, error) {
	if off == wire.RootEntityOffset {
		body, err := s.rootBodyWritable()
		if err != nil {
			return nil, err
		}
		return &body.RootEntity, nil
	}
	p, err := s.resolveWritable(off)
	if err != nil {
		return nil, err
	}
	return (*wire.Entity)(p), nil
}

// allocDirPage returns a freshly formatted DirectoryPage, reusing one
// from the directory free list if available, otherwise claiming a new
// page from the unused tail of the buffer. spec.md §4.1's "new pages
// for growth come from the free list, falling back to the tail of the
// buffer" contract.
func (s *Session) allocDirPage() (wire.Offset, error) {
	body, err := s.rootBodyWritable()
	if err != nil {
		return 0, err
	}
	if body.FreeDirPages != wire.InvalidOffset {
		off := body.FreeDirPages
		hdr := (*wire.FreePageHeader)(unsafe.Pointer(s.readDirPage(off)))
		body.FreeDirPages = hdr.Next
		page, err := s.writeDirPage(off)
		if err != nil {
			return 0, err
		}
		initDirPage(page)
		return off, nil
	}
	return s.claimPage(body, initDirPageAt(s))
}

// initDirPageAt adapts initDirPage to the claimPage callback shape.
func initDirPageAt(s *Session) func(wire.Offset) error {
	return func(off wire.Offset) error {
		page, err := s.writeDirPage(off)
		if err != nil {
			return err
		}
		initDirPage(page)
		return nil
	}
}

// allocGenericPage is like allocDirPage but draws from the generic
// free list and returns the page uninitialized, for the caller to
// format as file data, handle overflow, or user page (all share it).
func (s *Session) allocGenericPage() (wire.Offset, error) {
	body, err := s.rootBodyWritable()
	if err != nil {
		return 0, err
	}
	if body.FreeGenericPages != wire.InvalidOffset {
		off := body.FreeGenericPages
		hdr := (*wire.FreePageHeader)(s.resolve(off))
		next := hdr.Next
		body.FreeGenericPages = next
		return off, nil
	}
	return s.claimPage(body, func(wire.Offset) error { return nil })
}

// claimPage extends the buffer by one never-before-used page, if
// TotalPages allows it, running init for the new page's content.
func (s *Session) claimPage(body *wire.RootBody, initPage func(wire.Offset) error) (wire.Offset, error) {
	if body.NumPages >= body.TotalPages {
		return 0, ErrNoMem
	}
	off := wire.Offset(body.NumPages) * wire.PageSize
	body.NumPages++
	if err := initPage(off); err != nil {
		return 0, err
	}
	return off, nil
}

func (s *Session) freeDirPage(off wire.Offset) error {
	body, err := s.rootBodyWritable()
	if err != nil {
		return err
	}
	page, err := s.writeDirPage(off)
	if err != nil {
		return err
	}
	hdr := (*wire.FreePageHeader)(unsafe.Pointer(page))
	hdr.Next = body.FreeDirPages
	body.FreeDirPages = off
	return nil
}

func (s *Session) freeGenericPage(off wire.Offset) error {
	body, err := s.rootBodyWritable()
	if err != nil {
		return err
	}
	p, err := s.resolveWritable(off)
	if err != nil {
		return err
	}
	hdr := (*wire.FreePageHeader)(p)
	hdr.Next = body.FreeGenericPages
	body.FreeGenericPages = off
	return nil
}

// freeChain walks a doubly-linked page chain starting at head, via the
// given next accessor, and frees every page with free. It is shared by
// directory-content and file-content release in releaseEntityContent
// (unlink/rmdir and close that drop the refcount to zero).
func (s *Session) freeChain(head wire.Offset, next func(off wire.Offset) wire.Offset, free func(off wire.Offset) error) error {
	off := head
	for off != wire.InvalidOffset {
		n := next(off)
		if err := free(off); err != nil {
			return err
		}
		off = n
	}
	return nil
}
