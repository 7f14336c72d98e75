package cozyfs

import (
	"bytes"

	"github.com/cozyfs/cozyfs/internal/wire"
)

// walkDirChain calls visit once per directory page in the chain
// rooted at head, in head-to-tail order, stopping early if visit
// returns a non-nil error.
func (s *Session) walkDirChain(head wire.Offset, visit func(pageOff wire.Offset, page *wire.DirectoryPage) error) error {
	for off := head; off != wire.InvalidOffset; {
		page := s.readDirPage(off)
		if err := visit(off, page); err != nil {
			return err
		}
		off = page.Next
	}
	return nil
}

func nameBytes(name string) [wire.MaxNameLen]byte {
	var b [wire.MaxNameLen]byte
	copy(b[:], name)
	return b
}

func linkName(l *wire.Link) string {
	i := bytes.IndexByte(l.Name[:], 0)
	if i < 0 {
		i = len(l.Name)
	}
	return string(l.Name[:i])
}

// findEntityOffset walks parentOff's own directory-page chain looking
// for a link named name, per spec.md §4.2's "find entity by name under
// parent".
func (s *Session) findEntityOffset(parentOff wire.Offset, name string) (wire.Offset, error) {
	parent := s.readEntity(parentOff)
	if parent.Flags&wire.EntityDir == 0 {
		// The taxonomy has EISDIR for "file operation on a directory"
		// but no mirror code for "directory operation on a file", so
		// this is reported as a malformed request.
		return 0, ErrInvalid
	}

	var found wire.Offset = wire.InvalidOffset
	err := s.walkDirChain(parent.Head, func(_ wire.Offset, page *wire.DirectoryPage) error {
		for i := range page.Links {
			if page.Links[i].Ent != wire.InvalidOffset && linkName(&page.Links[i]) == name {
				found = page.Links[i].Ent
				return errStopWalk
			}
		}
		return nil
	})
	if err != nil && err != errStopWalk {
		return 0, err
	}
	if found == wire.InvalidOffset {
		return 0, ErrNotExist
	}
	return found, nil
}

// errStopWalk is an internal sentinel used to break out of
// walkDirChain early; it never escapes this package.
var errStopWalk = errInternalStop{}

type errInternalStop struct{}

func (errInternalStop) Error() string { return "cozyfs: internal walk stop" }

// findFreeLinkSlot and findFreeEntSlot scan one directory page for a
// free slot, returning -1 if none.
func findFreeLinkSlot(page *wire.DirectoryPage) int {
	for i := range page.Links {
		if page.Links[i].Ent == wire.InvalidOffset {
			return i
		}
	}
	return -1
}

func findFreeEntSlot(page *wire.DirectoryPage) int {
	for i := range page.Ents {
		if page.Ents[i].Refs == 0 {
			return i
		}
	}
	return -1
}

// createEntity implements spec.md §4.2's "create entity under parent,
// name, kind, target" contract. target is wire.InvalidOffset to mint a
// fresh inode, or an existing entity offset to create a hard link.
func (s *Session) createEntity(parentOff wire.Offset, name string, kindFlags uint32, target wire.Offset) (wire.Offset, error) {
	if len(name) == 0 || len(name) > wire.MaxNameLen {
		return 0, ErrInvalid
	}
	if _, err := s.findEntityOffset(parentOff, name); err == nil {
		return 0, ErrInvalid // already exists
	} else if err != ErrNotExist {
		return 0, err
	}

	parent, err := s.writeEntity(parentOff)
	if err != nil {
		return 0, err
	}

	tailOff := parent.Tail
	needNewEnt := target == wire.InvalidOffset
	linkIdx, entIdx := -1, -1
	var tailPage *wire.DirectoryPage
	if tailOff != wire.InvalidOffset {
		tailPage = s.readDirPage(tailOff)
		linkIdx = findFreeLinkSlot(tailPage)
		if needNewEnt {
			entIdx = findFreeEntSlot(tailPage)
		}
	}

	if tailOff == wire.InvalidOffset || linkIdx == -1 || (needNewEnt && entIdx == -1) {
		newTailOff, err := s.allocDirPage()
		if err != nil {
			return 0, err
		}
		newPage, err := s.writeDirPage(newTailOff)
		if err != nil {
			return 0, err
		}

		parent, err = s.writeEntity(parentOff)
		if err != nil {
			return 0, err
		}
		if tailOff == wire.InvalidOffset {
			// First content page this directory has ever needed.
			parent.Head = newTailOff
		} else {
			writableTail, err := s.writeDirPage(tailOff)
			if err != nil {
				return 0, err
			}
			writableTail.Next = newTailOff
			newPage.Prev = tailOff
		}
		parent.Tail = newTailOff

		tailOff = newTailOff
		tailPage = newPage
		linkIdx = 0
		entIdx = 0
	}

	writableTail, err := s.writeDirPage(tailOff)
	if err != nil {
		return 0, err
	}

	var newEntOff wire.Offset
	if target != wire.InvalidOffset {
		targetEnt, err := s.writeEntity(target)
		if err != nil {
			return 0, err
		}
		targetEnt.Refs++
		newEntOff = target
	} else {
		ent := &writableTail.Ents[entIdx]
		*ent = wire.Entity{
			Refs:      1,
			Flags:     kindFlags,
			Head:      wire.InvalidOffset,
			Tail:      wire.InvalidOffset,
			HeadStart: 0,
			TailEnd:   0,
			OwnerUID:  s.uid,
		}
		newEntOff = wire.EntityOffsetInPage(tailOff, entIdx)
	}

	link := &writableTail.Links[linkIdx]
	link.Ent = newEntOff
	link.Name = nameBytes(name)

	return newEntOff, nil
}

// isEmptyDir reports whether ent (a directory entity) has no links in
// its own chain.
func (s *Session) isEmptyDir(ent *wire.Entity) (bool, error) {
	empty := true
	err := s.walkDirChain(ent.Head, func(_ wire.Offset, page *wire.DirectoryPage) error {
		for i := range page.Links {
			if page.Links[i].Ent != wire.InvalidOffset {
				empty = false
				return errStopWalk
			}
		}
		return nil
	})
	if err != nil && err != errStopWalk {
		return false, err
	}
	return empty, nil
}

// releaseEntityContent frees everything owned by ent once its refcount
// has hit zero: a directory's own page chain returns to the directory
// free list, a file's data-page chain returns to the generic free
// list.
func (s *Session) releaseEntityContent(ent *wire.Entity) error {
	if ent.Flags&wire.EntityDir != 0 {
		return s.freeChain(ent.Head,
			func(off wire.Offset) wire.Offset { return s.readDirPage(off).Next },
			s.freeDirPage)
	}
	return s.freeChain(ent.Head,
		func(off wire.Offset) wire.Offset { return s.readFileDataPage(off).Next },
		s.freeGenericPage)
}

// removeEntity implements spec.md §4.2's "remove entity under parent,
// name" contract, including swap-remove compaction of the link array.
func (s *Session) removeEntity(parentOff wire.Offset, name string) error {
	parent := s.readEntity(parentOff)

	var linkPageOff wire.Offset = wire.InvalidOffset
	var linkIdx = -1
	var targetOff wire.Offset

	err := s.walkDirChain(parent.Head, func(pageOff wire.Offset, page *wire.DirectoryPage) error {
		for i := range page.Links {
			if page.Links[i].Ent != wire.InvalidOffset && linkName(&page.Links[i]) == name {
				linkPageOff, linkIdx, targetOff = pageOff, i, page.Links[i].Ent
				return errStopWalk
			}
		}
		return nil
	})
	if err != nil && err != errStopWalk {
		return err
	}
	if linkIdx == -1 {
		return ErrNotExist
	}

	target, err := s.writeEntity(targetOff)
	if err != nil {
		return err
	}
	if target.Flags&wire.EntityDir != 0 {
		empty, err := s.isEmptyDir(target)
		if err != nil {
			return err
		}
		if !empty {
			return ErrInvalid
		}
	}

	target.Refs--
	if target.Refs == 0 {
		if err := s.releaseEntityContent(target); err != nil {
			return err
		}
	}

	page, err := s.writeDirPage(linkPageOff)
	if err != nil {
		return err
	}
	tailOff := parent.Tail
	tailPage, err := s.writeDirPage(tailOff)
	if err != nil {
		return err
	}

	lastIdx := -1
	for i := len(tailPage.Links) - 1; i >= 0; i-- {
		if tailPage.Links[i].Ent != wire.InvalidOffset {
			lastIdx = i
			break
		}
	}
	if lastIdx >= 0 && (tailOff != linkPageOff || lastIdx != linkIdx) {
		page.Links[linkIdx] = tailPage.Links[lastIdx]
		tailPage.Links[lastIdx] = wire.Link{Ent: wire.InvalidOffset}
	} else {
		page.Links[linkIdx] = wire.Link{Ent: wire.InvalidOffset}
	}

	return nil
}
