package cozyfs

import "github.com/cozyfs/cozyfs/internal/wire"

// Mkusr creates a new account and returns its id, per the
// mkusr/rmusr/chown/chmod semantics this module supplements from
// original_source/ (spec.md §6 names these operations but never
// elaborates their contract; see SPEC_FULL.md).
func (s *Session) Mkusr(name string) (uint32, error) {
	if len(name) == 0 || len(name) > wire.MaxUserNameLen {
		return 0, ErrInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.leave()

	body, err := s.rootBodyWritable()
	if err != nil {
		return 0, err
	}

	var slotOff wire.Offset = wire.InvalidOffset
	var slotIdx int
	for off := body.OverflowUsers; off != wire.InvalidOffset; {
		page := s.readUserPage(off)
		for i := range page.Users {
			if page.Users[i].AccountID == 0 {
				slotOff, slotIdx = off, i
				break
			}
		}
		if slotOff != wire.InvalidOffset {
			break
		}
		off = page.Next
	}

	if slotOff == wire.InvalidOffset {
		newOff, err := s.allocGenericPage()
		if err != nil {
			return 0, err
		}
		page, err := s.writeUserPage(newOff)
		if err != nil {
			return 0, err
		}
		initUserPage(page)
		page.Prev = wire.InvalidOffset
		page.Next = body.OverflowUsers
		if body.OverflowUsers != wire.InvalidOffset {
			oldHead, err := s.writeUserPage(body.OverflowUsers)
			if err != nil {
				return 0, err
			}
			oldHead.Prev = newOff
		}
		body.OverflowUsers = newOff
		slotOff, slotIdx = newOff, 0
	}

	page, err := s.writeUserPage(slotOff)
	if err != nil {
		return 0, err
	}

	uid := body.NextAccountID
	body.NextAccountID++
	page.Users[slotIdx].AccountID = uid
	page.Users[slotIdx].Name = userNameBytes(name)

	return uid, nil
}

func userNameBytes(name string) [wire.MaxUserNameLen]byte {
	var b [wire.MaxUserNameLen]byte
	copy(b[:], name)
	return b
}

// Rmusr clears uid's slot. It fails with EPERM if any entity still
// names uid as owner, since that ownership reference would otherwise
// dangle.
func (s *Session) Rmusr(uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	if owned, err := s.anyEntityOwnedBy(uid); err != nil {
		return err
	} else if owned {
		return ErrPerm
	}

	body := s.rootBody()
	for off := body.OverflowUsers; off != wire.InvalidOffset; {
		page := s.readUserPage(off)
		next := page.Next
		for i := range page.Users {
			if page.Users[i].AccountID == uid {
				writable, err := s.writeUserPage(off)
				if err != nil {
					return err
				}
				writable.Users[i] = wire.UserRecord{}
				return nil
			}
		}
		off = next
	}
	return ErrNotExist
}

// anyEntityOwnedBy walks the whole directory tree looking for an
// entity whose OwnerUID is uid. It is a full tree walk rather than a
// reverse index, matching the rest of this module's O(links) lookup
// style (spec.md never asks for anything faster).
func (s *Session) anyEntityOwnedBy(uid uint32) (bool, error) {
	root := s.readEntity(wire.RootEntityOffset)
	if root.OwnerUID == uid {
		return true, nil
	}
	found := false
	err := s.walkEntitiesUnder(wire.RootEntityOffset, func(ent *wire.Entity) error {
		if ent.OwnerUID == uid {
			found = true
			return errStopWalk
		}
		return nil
	})
	if err != nil && err != errStopWalk {
		return false, err
	}
	return found, nil
}

// walkEntitiesUnder recursively visits every entity reachable from
// dirOff's own link chain (not dirOff itself).
func (s *Session) walkEntitiesUnder(dirOff wire.Offset, visit func(*wire.Entity) error) error {
	dir := s.readEntity(dirOff)
	return s.walkDirChain(dir.Head, func(_ wire.Offset, page *wire.DirectoryPage) error {
		for i := range page.Links {
			if page.Links[i].Ent == wire.InvalidOffset {
				continue
			}
			child := s.readEntity(page.Links[i].Ent)
			if err := visit(child); err != nil {
				return err
			}
			if child.Flags&wire.EntityDir != 0 {
				if err := s.walkEntitiesUnder(page.Links[i].Ent, visit); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Chown sets path's owner. No enforcement checks the caller's identity
// against the existing owner, per spec.md §9's "declared but
// unimplemented" note on permission checks.
func (s *Session) Chown(path string, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	off, err := s.resolvePath(path)
	if err != nil {
		return err
	}
	ent, err := s.writeEntity(off)
	if err != nil {
		return err
	}
	ent.OwnerUID = uid
	return nil
}

// ChmodFlags selects the per-entity permission bits Chmod may set.
type ChmodFlags uint32

// ReadOnly marks an entity read-only. This bit is an addition beyond
// spec.md and the C source's Entity struct, required to give Chmod a
// meaning; see DESIGN.md.
const ReadOnly ChmodFlags = ChmodFlags(wire.EntityReadOnly)

// Chmod sets path's permission-flag bits, replacing whatever
// permission bits were previously set (the kind bits — directory vs.
// file — are untouched).
func (s *Session) Chmod(path string, flags ChmodFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	off, err := s.resolvePath(path)
	if err != nil {
		return err
	}
	ent, err := s.writeEntity(off)
	if err != nil {
		return err
	}
	ent.Flags = (ent.Flags &^ wire.EntityReadOnly) | uint32(flags)
	return nil
}
