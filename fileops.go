package cozyfs

import (
	"github.com/cozyfs/cozyfs/internal/wire"
)

// ReadFlags controls Read's cursor and consumption behavior.
type ReadFlags int

const (
	// FlagRestart rereads from byte zero instead of the handle's saved
	// cursor.
	FlagRestart ReadFlags = 1 << 0
	// FlagConsume removes the bytes returned from the front of the
	// file. Only legal when it can drain the read to completion — see
	// DESIGN.md's resolution of the "consume" open question.
	FlagConsume ReadFlags = 1 << 1
)

// Open implements spec.md §4.3's Open(path) contract.
func (s *Session) Open(path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.leave()

	entOff, err := s.resolvePath(path)
	if err != nil {
		return 0, err
	}
	ent := s.readEntity(entOff)
	if ent.Flags&wire.EntityDir != 0 {
		return 0, ErrIsDir
	}

	fd, err := s.allocHandle(entOff)
	if err != nil {
		return 0, err
	}

	target, err := s.writeEntity(entOff)
	if err != nil {
		return 0, err
	}
	target.Refs++

	return fd, nil
}

// Close implements spec.md §4.3's Close(fd) contract.
func (s *Session) Close(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	ref, h, err := s.lookupHandle(fd)
	if err != nil {
		return err
	}

	target, err := s.writeEntity(h.Ent)
	if err != nil {
		return err
	}
	target.Refs--
	if target.Refs == 0 {
		if err := s.releaseEntityContent(target); err != nil {
			return err
		}
	}

	return s.freeHandle(ref)
}

// fileByteLen computes an entity's content length per I4.
func (s *Session) fileByteLen(ent *wire.Entity) int {
	if ent.Head == wire.InvalidOffset {
		return 0
	}
	n := 0
	pages := 0
	off := ent.Head
	for off != wire.InvalidOffset {
		pages++
		off = s.readFileDataPage(off).Next
	}
	if pages == 1 {
		n = int(ent.TailEnd) - int(ent.HeadStart)
	} else {
		n = (pages-1)*wire.FileDataPageLen - int(ent.HeadStart) + int(ent.TailEnd)
	}
	if n < 0 {
		n = 0
	}
	return n
}

// Read implements spec.md §4.3's Read(fd, dst, max) contract.
func (s *Session) Read(fd int, dst []byte, flags ReadFlags) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.leave()

	ref, h, err := s.lookupHandle(fd)
	if err != nil {
		return 0, err
	}
	ent := s.readEntity(h.Ent)

	start := h.Cur
	if flags&FlagRestart != 0 {
		start = 0
	}

	total := s.fileByteLen(ent)
	if int(start) > total {
		start = uint32(total)
	}
	remaining := total - int(start)
	toRead := remaining
	if toRead > len(dst) {
		toRead = len(dst)
	}

	if flags&FlagConsume != 0 && toRead < remaining {
		// A true partial read cannot be consumed without leaving a
		// half-drained head page behind; spec.md's open question is
		// resolved as all-or-nothing. See DESIGN.md.
		return 0, ErrInvalid
	}

	n, err := s.copyFileBytes(ent, int(start), dst[:toRead])
	if err != nil {
		return 0, err
	}

	hw, err := s.writeHandleAt(ref)
	if err != nil {
		return n, err
	}
	hw.Cur = start + uint32(n)

	if flags&FlagConsume != 0 && n > 0 {
		if err := s.consumeFront(h.Ent, n); err != nil {
			return n, err
		}
		hw, err := s.writeHandleAt(ref)
		if err != nil {
			return n, err
		}
		hw.Cur = 0
	}

	return n, nil
}

// copyFileBytes copies up to len(dst) bytes starting at logical offset
// start within ent's data-page chain into dst.
func (s *Session) copyFileBytes(ent *wire.Entity, start int, dst []byte) (int, error) {
	if len(dst) == 0 || ent.Head == wire.InvalidOffset {
		return 0, nil
	}

	pos := 0
	copied := 0
	off := ent.Head
	first := true
	for off != wire.InvalidOffset && copied < len(dst) {
		page := s.readFileDataPage(off)
		lo := 0
		if first {
			lo = int(ent.HeadStart)
		}
		hi := wire.FileDataPageLen
		if page.Next == wire.InvalidOffset {
			hi = int(ent.TailEnd)
		}
		avail := hi - lo
		if avail < 0 {
			avail = 0
		}

		if start < pos+avail {
			from := lo + (start - pos)
			if from < lo {
				from = lo
			}
			n := copy(dst[copied:], page.Data[from:hi])
			copied += n
		}

		pos += avail
		off = page.Next
		first = false
	}
	return copied, nil
}

// consumeFront removes the first n bytes of ent's content, freeing any
// page that becomes fully drained, per the all-or-nothing FlagConsume
// resolution: callers only ever pass n == the file's full remaining
// length.
func (s *Session) consumeFront(entOff wire.Offset, n int) error {
	ent, err := s.writeEntity(entOff)
	if err != nil {
		return err
	}

	remaining := n
	for remaining > 0 && ent.Head != wire.InvalidOffset {
		page := s.readFileDataPage(ent.Head)
		hi := wire.FileDataPageLen
		if page.Next == wire.InvalidOffset {
			hi = int(ent.TailEnd)
		}
		avail := hi - int(ent.HeadStart)

		if remaining >= avail {
			next := page.Next
			drained := ent.Head
			remaining -= avail
			if next == wire.InvalidOffset {
				ent.Head = wire.InvalidOffset
				ent.Tail = wire.InvalidOffset
				ent.HeadStart = 0
				ent.TailEnd = 0
			} else {
				nextPage, err := s.writeFileDataPage(next)
				if err != nil {
					return err
				}
				nextPage.Prev = wire.InvalidOffset
				ent.Head = next
				ent.HeadStart = 0
			}
			if err := s.freeGenericPage(drained); err != nil {
				return err
			}
		} else {
			ent.HeadStart += uint16(remaining)
			remaining = 0
		}
	}
	return nil
}

// Write implements spec.md §4.3's Write(fd, src, len) contract: appends
// are always to the logical tail, independent of the read cursor.
func (s *Session) Write(fd int, src []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return 0, err
	}
	defer s.leave()

	_, h, err := s.lookupHandle(fd)
	if err != nil {
		return 0, err
	}

	ent, err := s.writeEntity(h.Ent)
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(src) {
		if ent.Tail == wire.InvalidOffset {
			off, err := s.allocGenericPage()
			if err != nil {
				return written, err
			}
			page, err := s.writeFileDataPage(off)
			if err != nil {
				return written, err
			}
			initFileDataPage(page)
			ent.Head, ent.Tail = off, off
			ent.HeadStart, ent.TailEnd = 0, 0
		}

		tail, err := s.writeFileDataPage(ent.Tail)
		if err != nil {
			return written, err
		}
		space := wire.FileDataPageLen - int(ent.TailEnd)
		if space == 0 {
			newOff, err := s.allocGenericPage()
			if err != nil {
				return written, err
			}
			newPage, err := s.writeFileDataPage(newOff)
			if err != nil {
				return written, err
			}
			initFileDataPage(newPage)
			newPage.Prev = ent.Tail
			tail.Next = newOff
			ent.Tail = newOff
			ent.TailEnd = 0
			continue
		}

		n := copy(tail.Data[ent.TailEnd:], src[written:])
		ent.TailEnd += uint16(n)
		written += n
	}

	return written, nil
}
