package wire

import "unsafe"

// Every struct in this file is overlaid directly onto a page's bytes via
// unsafe.Pointer by the caller — never copied field-by-field — so that
// the in-memory layout a Go attacher sees is bit-for-bit the "native
// memory dump" spec.md §6 requires. Only fixed-width integers and
// explicit padding arrays appear in these structs; no slices, strings,
// or pointers, since those would not survive a move to a different host
// address or a different process's address space.

// Entity is the inode record: a reference-counted file or directory.
// Lives inside a DirectoryPage's inode pool.
type Entity struct {
	Refs      uint32
	Flags     uint32
	Head      Offset
	Tail      Offset
	HeadStart uint16
	TailEnd   uint16
	OwnerUID  uint32
}

const entitySize = 24

// Link is a (name, inode offset) pair stored inside a DirectoryPage.
type Link struct {
	Ent  Offset
	Name [MaxNameLen]byte
}

const linkSize = 4 + MaxNameLen

// Handle is a file descriptor's backing slot, found either in the root
// page's inline array or in a HandleOverflowPage.
type Handle struct {
	Used byte
	_    [1]byte
	Gen  uint16
	Ent  Offset
	Cur  uint32
}

const handleSize = 12

// LinksPerDirPage and EntsPerDirPage are chosen so DirectoryPage is
// exactly one page: 8 (chain links) + 20*132 (links) + 60*24 (ents) + 8
// (padding) = 4096.
const (
	LinksPerDirPage = 20
	EntsPerDirPage  = 60
)

// DirectoryPage is a chain of directory pages belonging to one directory
// entity: an array of name→offset links, plus an embedded pool of inode
// slots that may or may not be associated with this directory.
type DirectoryPage struct {
	Prev  Offset
	Next  Offset
	Links [LinksPerDirPage]Link
	Ents  [EntsPerDirPage]Entity
	_     [8]byte
}

// FileDataPageLen is the payload capacity of one FileDataPage.
const FileDataPageLen = PageSize - 8

// FileDataPage is a chain of opaque-byte pages belonging to one file.
type FileDataPage struct {
	Prev Offset
	Next Offset
	Data [FileDataPageLen]byte
}

// HandlesPerOverflowPage is chosen so HandleOverflowPage is exactly one
// page: 8 + 340*12 + 8 padding = 4096.
const HandlesPerOverflowPage = 340

// HandleOverflowPage supplies additional handle slots once the root
// page's inline array is exhausted.
type HandleOverflowPage struct {
	Prev    Offset
	Next    Offset
	Handles [HandlesPerOverflowPage]Handle
	_       [8]byte
}

// MaxUserNameLen is the fixed capacity of a user's name.
const MaxUserNameLen = 124

// UserRecord is one account: an id (0 = empty slot) plus a fixed-capacity
// name.
type UserRecord struct {
	AccountID uint32
	Name      [MaxUserNameLen]byte
}

const userRecordSize = 4 + MaxUserNameLen

// UsersPerUserPage is chosen so UserPage is exactly one page:
// 8 + 31*128 + 120 padding = 4096.
const UsersPerUserPage = 31

// UserPage is a chain of user records.
type UserPage struct {
	Prev  Offset
	Next  Offset
	Users [UsersPerUserPage]UserRecord
	_     [120]byte
}

// FreePageHeader overlays a page on the singly-linked free list; only
// its Next field is meaningful, the rest of the page is garbage left
// over from whatever it held before being freed.
type FreePageHeader struct {
	Next Offset
}

// RootVolatile is the lock word, backup flag, and last-backup timestamp.
// It is always physically located at byte offset 0 of the WHOLE attached
// buffer — never inside the active half's offset space — so that an
// attacher can read it before it has determined which half is active.
// Placing it inside a half would require knowing the active half in
// order to find the flag that says which half is active. Both halves carry the same struct
// shape (to satisfy spec.md §6's "the two halves are initialized
// identically"), but only the copy at buffer offset 0 is ever read or
// written after cozyfs_init; the copy inside the second half's would-be
// root page is vestigial.
type RootVolatile struct {
	Lock           uint64
	BackupFlag     int32
	_              [4]byte
	LastBackupTime uint64
}

const rootVolatileSize = 24

// RootBody is the remainder of the root page: free lists, page counts,
// the root directory's inode, and the inline handle array. It lives at
// byte offset RootBodyOffset of whichever half is currently active.
type RootBody struct {
	Magic            uint64
	FormatVersion    uint64
	Generation       uint64
	NextAccountID    uint32
	FreeDirPages     Offset
	FreeGenericPages Offset
	TotalPages       uint32
	NumPages         uint32
	OverflowHandles  Offset
	OverflowUsers    Offset
	RootEntity       Entity
	Handles          [MaxInlineHandles]Handle
}

const rootBodySize = PageSize - rootVolatileSize

// RootBodyOffset is the byte offset of RootBody within the active
// half's root page — equivalently, within the active half itself, since
// the root page starts at offset 0 of the active half.
const RootBodyOffset Offset = rootVolatileSize

// RootEntityOffset is the sentinel Offset value meaning "the root
// directory's entity", which lives inside RootBody rather than in any
// DirectoryPage's inode pool. It reuses the numeric value 0, which is
// otherwise unreachable as an entity offset since the root page always
// occupies page 0 of the active half and no inode pool starts there.
const RootEntityOffset Offset = 0

var (
	entsFieldOffset     = Offset(unsafe.Offsetof(DirectoryPage{}.Ents))
	handlesFieldOffsetH = Offset(unsafe.Offsetof(HandleOverflowPage{}.Handles))
	usersFieldOffset    = Offset(unsafe.Offsetof(UserPage{}.Users))
	handlesFieldOffsetR = Offset(unsafe.Offsetof(RootBody{}.Handles))
)

// InlineHandleOffset returns the byte offset of the index'th slot of
// the root page's inline handle array.
func InlineHandleOffset(index int) Offset {
	return RootBodyOffset + handlesFieldOffsetR + Offset(index)*handleSize
}

// EntityOffsetInPage returns the offset of the index'th slot of a
// DirectoryPage's inode pool, given that page's own offset.
func EntityOffsetInPage(pageOff Offset, index int) Offset {
	return pageOff + entsFieldOffset + Offset(index)*entitySize
}

// HandleOffsetInOverflowPage returns the offset of the index'th slot of
// a HandleOverflowPage's handle array, given that page's own offset.
func HandleOffsetInOverflowPage(pageOff Offset, index int) Offset {
	return pageOff + handlesFieldOffsetH + Offset(index)*handleSize
}

// UserOffsetInPage returns the offset of the index'th slot of a
// UserPage's record array, given that page's own offset.
func UserOffsetInPage(pageOff Offset, index int) Offset {
	return pageOff + usersFieldOffset + Offset(index)*userRecordSize
}

func init() {
	assertSize("Entity", sizeOf[Entity](), entitySize)
	assertSize("Link", sizeOf[Link](), linkSize)
	assertSize("Handle", sizeOf[Handle](), handleSize)
	assertSize("DirectoryPage", sizeOf[DirectoryPage](), PageSize)
	assertSize("FileDataPage", sizeOf[FileDataPage](), PageSize)
	assertSize("HandleOverflowPage", sizeOf[HandleOverflowPage](), PageSize)
	assertSize("UserRecord", sizeOf[UserRecord](), userRecordSize)
	assertSize("UserPage", sizeOf[UserPage](), PageSize)
	assertSize("RootVolatile", sizeOf[RootVolatile](), rootVolatileSize)
	assertSize("RootBody", sizeOf[RootBody](), rootBodySize)
}

func assertSize(name string, got, want uintptr) {
	if got != want {
		panic("wire: " + name + " layout changed size")
	}
}
