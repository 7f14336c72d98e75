// Package patch implements the copy-on-write shadow table a session
// consults while a transaction is open: component 4.1 of spec.md. It is
// grounded in the teacher's manager/buffer.BufferManager, generalized
// from a bucketed, clock-sweep page cache down to a small fixed-capacity
// linear table (spec.md's deliberate cap on transaction size), and
// directly in the original cozyfs.c's off2ptr/writable_addr.
package patch

import (
	"errors"
	"unsafe"

	"github.com/cozyfs/cozyfs/host"
	"github.com/cozyfs/cozyfs/internal/wire"
)

// ErrFull is returned when a transaction has already shadowed
// wire.MaxPatches distinct pages.
var ErrFull = errors.New("patch: table is full")

// ErrAlloc is returned when the host callback fails to provide a new
// patch page.
var ErrAlloc = errors.New("patch: host allocation failed")

type entry struct {
	pageOff wire.Offset
	page    []byte
}

// Table is a session-local, never-shared record of pages a transaction
// has shadowed. The zero value is an empty table.
type Table struct {
	entries [wire.MaxPatches]entry
	count   int
}

// Len reports how many distinct pages are currently patched.
func (t *Table) Len() int {
	return t.count
}

// find returns the patch covering pageOff, if any.
func (t *Table) find(pageOff wire.Offset) *entry {
	for i := 0; i < t.count; i++ {
		if t.entries[i].pageOff == pageOff {
			return &t.entries[i]
		}
	}
	return nil
}

// Resolve returns a pointer to off, routed through the patch covering
// its page if one exists, or into half otherwise. half is the active
// half's backing slice; off is relative to half's base.
func (t *Table) Resolve(half []byte, off wire.Offset) unsafe.Pointer {
	pageOff := wire.PageOf(off)
	byteOff := off - pageOff

	if e := t.find(pageOff); e != nil {
		return unsafe.Pointer(&e.page[byteOff])
	}
	return unsafe.Pointer(&half[off])
}

// ResolveWritable is like Resolve, but if off's page is not yet
// shadowed it shadows it first: it asks cb for a fresh wire.PageSize
// buffer, copies the current contents of the page in from half, and
// records the mapping before returning a pointer into the copy.
func (t *Table) ResolveWritable(cb host.Callback, half []byte, off wire.Offset) (unsafe.Pointer, error) {
	pageOff := wire.PageOf(off)
	byteOff := off - pageOff

	if e := t.find(pageOff); e != nil {
		return unsafe.Pointer(&e.page[byteOff]), nil
	}

	if t.count == wire.MaxPatches {
		return nil, ErrFull
	}

	page := cb.Malloc(wire.PageSize)
	if page == nil {
		return nil, ErrAlloc
	}
	copy(page, half[pageOff:pageOff+wire.PageSize])

	t.entries[t.count] = entry{pageOff: pageOff, page: page}
	t.count++

	return unsafe.Pointer(&page[byteOff]), nil
}

// Apply copies every patch back into half at its original offset, in
// the order the patches were created. It does not free the patches or
// reset the table; call Reset afterward.
func (t *Table) Apply(half []byte) {
	for i := 0; i < t.count; i++ {
		e := &t.entries[i]
		copy(half[e.pageOff:e.pageOff+wire.PageSize], e.page)
	}
}

// Reset frees every patch via cb and empties the table, for use on
// commit, rollback, or timeout.
func (t *Table) Reset(cb host.Callback) {
	for i := 0; i < t.count; i++ {
		cb.Free(t.entries[i].page)
		t.entries[i] = entry{}
	}
	t.count = 0
}
