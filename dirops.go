package cozyfs

import (
	"github.com/cozyfs/cozyfs/internal/pathutil"
	"github.com/cozyfs/cozyfs/internal/wire"
)

// resolveParent walks path's components but the last one, returning
// the offset of the containing directory entity and the final
// component's name. An empty path (root itself) has no parent and is
// rejected by every caller that needs one.
func (s *Session) resolveParent(path string) (parentOff wire.Offset, leaf string, err error) {
	comps, err := pathutil.Parse(path, wire.MaxPathComponents)
	if err != nil {
		return 0, "", ErrInvalid
	}
	if len(comps) == 0 {
		return 0, "", ErrInvalid
	}

	cur := wire.RootEntityOffset
	for _, c := range comps[:len(comps)-1] {
		next, err := s.findEntityOffset(cur, c)
		if err != nil {
			return 0, "", err
		}
		cur = next
	}
	return cur, comps[len(comps)-1], nil
}

// resolvePath walks every component of path, returning the final
// entity's offset. An empty path resolves to the root directory
// itself.
func (s *Session) resolvePath(path string) (wire.Offset, error) {
	comps, err := pathutil.Parse(path, wire.MaxPathComponents)
	if err != nil {
		return 0, ErrInvalid
	}
	cur := wire.RootEntityOffset
	for _, c := range comps {
		next, err := s.findEntityOffset(cur, c)
		if err != nil {
			return 0, err
		}
		cur = next
	}
	return cur, nil
}

// Mkdir creates a new, empty directory at path, per spec.md §6.
func (s *Session) Mkdir(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	parentOff, leaf, err := s.resolveParent(path)
	if err != nil {
		return err
	}
	_, err = s.createEntity(parentOff, leaf, wire.EntityDir, wire.InvalidOffset)
	return err
}

// Rmdir removes the empty directory at path.
func (s *Session) Rmdir(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	parentOff, leaf, err := s.resolveParent(path)
	if err != nil {
		return err
	}
	return s.removeEntity(parentOff, leaf)
}

// Create makes a new, empty regular file at path: the "implementer's
// file-create surface" spec.md §8 scenario 2 allows for, since §4.3
// only specifies Open/Close/Read/Write over an already-linked inode.
func (s *Session) Create(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	parentOff, leaf, err := s.resolveParent(path)
	if err != nil {
		return err
	}
	_, err = s.createEntity(parentOff, leaf, wire.EntityFile, wire.InvalidOffset)
	return err
}

// Link creates a new name newPath referring to the same inode as
// oldPath (a hard link). Hard-linking a directory is rejected with
// EPERM, per spec.md §7.
func (s *Session) Link(oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	targetOff, err := s.resolvePath(oldPath)
	if err != nil {
		return err
	}
	target := s.readEntity(targetOff)
	if target.Flags&wire.EntityDir != 0 {
		return ErrPerm
	}

	parentOff, leaf, err := s.resolveParent(newPath)
	if err != nil {
		return err
	}
	_, err = s.createEntity(parentOff, leaf, target.Flags, targetOff)
	return err
}

// Unlink removes the name at path. If the target's refcount hits
// zero, its content is released.
func (s *Session) Unlink(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	parentOff, leaf, err := s.resolveParent(path)
	if err != nil {
		return err
	}
	return s.removeEntity(parentOff, leaf)
}
