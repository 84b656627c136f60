package ebtree

import "encoding/binary"

// DBFlags configures a named sub-database at creation time (§6).
type DBFlags uint32

const (
	// DBDupSort allows multiple values per key, stored via the nested
	// sub-tree scheme in dupsort.go.
	DBDupSort DBFlags = 1 << iota
)

// dbDescriptor is the catalog's value for one named sub-database: the root
// page of its own B+tree plus its creation-time flags (§3 Database
// descriptor, §4.9).
type dbDescriptor struct {
	Root    pgno
	Flags   DBFlags
	Entries uint64
}

const dbDescriptorSize = 8 + 4 + 8

func encodeDescriptor(d dbDescriptor) []byte {
	buf := make([]byte, dbDescriptorSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(d.Root))
	binary.LittleEndian.PutUint32(buf[8:], uint32(d.Flags))
	binary.LittleEndian.PutUint64(buf[12:], d.Entries)
	return buf
}

func decodeDescriptor(b []byte) dbDescriptor {
	return dbDescriptor{
		Root:    pgno(binary.LittleEndian.Uint64(b[0:])),
		Flags:   DBFlags(binary.LittleEndian.Uint32(b[8:])),
		Entries: binary.LittleEndian.Uint64(b[12:]),
	}
}

// catalogGet looks up name's descriptor in the reserved main database
// rooted at catalogRoot.
func catalogGet(src pageSource, catalogRoot pgno, name string) (dbDescriptor, error) {
	raw, err := btreeSearch(src, catalogRoot, []byte(name))
	if err != nil {
		return dbDescriptor{}, err
	}
	return decodeDescriptor(raw), nil
}

// catalogPut installs or replaces name's descriptor, returning the new
// catalog root.
func catalogPut(src pageSource, catalogRoot pgno, name string, d dbDescriptor) (pgno, error) {
	return btreeInsert(src, catalogRoot, []byte(name), encodeDescriptor(d), 0)
}

// catalogCreate installs a fresh, empty sub-database named name, failing if
// one already exists (§4.9 "CREATE installs fresh descriptor").
func catalogCreate(src pageSource, catalogRoot pgno, name string, flags DBFlags) (pgno, dbDescriptor, error) {
	_, err := catalogGet(src, catalogRoot, name)
	if err == nil {
		return 0, dbDescriptor{}, newError(ErrKeyExists)
	}
	if !IsNotFound(err) {
		return 0, dbDescriptor{}, err
	}
	desc := dbDescriptor{Root: invalidPgno, Flags: flags}
	newRoot, err := catalogPut(src, catalogRoot, name, desc)
	if err != nil {
		return 0, dbDescriptor{}, err
	}
	return newRoot, desc, nil
}

// catalogClear truncates a named sub-database back to empty (§6 Clear) by
// resetting its descriptor's Root and Entries. It does not walk or free the
// old page tree, and no caller does either: those pages are not returned
// to the freelist.
func catalogClear(src pageSource, catalogRoot pgno, name string) (pgno, error) {
	desc, err := catalogGet(src, catalogRoot, name)
	if err != nil {
		return 0, err
	}
	desc.Root = invalidPgno
	desc.Entries = 0
	return catalogPut(src, catalogRoot, name, desc)
}
