package ebtree

import (
	"os"
	"sync"

	"github.com/ebtree/ebtree/mmap"
)

// ioBackend abstracts durable page storage behind read/write/grow/sync/size
// operations, so the rest of the engine never touches mmap or *os.File
// directly (§4.2 IoBackend contract).
type ioBackend interface {
	// readPage returns a view over the on-disk bytes for page id. The
	// returned slice aliases the mapping; callers must copy before mutating.
	readPage(id pgno, pageSize uint32) ([]byte, error)
	// writePage copies data into the mapping at page id's offset.
	writePage(id pgno, data []byte) error
	// grow extends the backing file/mapping to hold at least newPageCount pages.
	grow(newPageCount pgno, pageSize uint32) error
	// sync flushes dirty mapped pages to durable storage.
	sync() error
	// sizeInPages reports the current mapped capacity, in pages.
	sizeInPages(pageSize uint32) pgno
	// close releases the mapping and underlying file.
	close() error
}

// mmapBackend is the production ioBackend: a single shared read/write
// mapping over the data file, grown in place via mmap.Remap (§4.2, §4.10).
type mmapBackend struct {
	mu   sync.RWMutex
	file *os.File
	m    *mmap.Map
}

// openMmapBackend opens (creating if necessary) the file at path and maps
// at least initialPages worth of bytes.
func openMmapBackend(path string, initialPages pgno, pageSize uint32) (*mmapBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, wrapError(ErrIO, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapError(ErrIO, err)
	}

	want := int64(initialPages) * int64(pageSize)
	if fi.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, wrapError(ErrIO, err)
		}
	} else {
		want = fi.Size()
	}

	m, err := mmap.New(int(f.Fd()), 0, int(want), true)
	if err != nil {
		f.Close()
		return nil, wrapError(ErrIO, err)
	}

	return &mmapBackend{file: f, m: m}, nil
}

func (b *mmapBackend) readPage(id pgno, pageSize uint32) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	off := int64(id) * int64(pageSize)
	data := b.m.Data()
	if off < 0 || off+int64(pageSize) > int64(len(data)) {
		return nil, invalidPageIDErr(id, "page id out of mapped range")
	}
	return data[off : off+int64(pageSize)], nil
}

func (b *mmapBackend) writePage(id pgno, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	off := int64(id) * int64(len(data))
	mapped := b.m.Data()
	if off < 0 || off+int64(len(data)) > int64(len(mapped)) {
		return invalidPageIDErr(id, "page id out of mapped range")
	}
	copy(mapped[off:off+int64(len(data))], data)
	return nil
}

func (b *mmapBackend) grow(newPageCount pgno, pageSize uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	newSize := int64(newPageCount) * int64(pageSize)
	if newSize <= b.m.Size() {
		return nil
	}
	if err := b.file.Truncate(newSize); err != nil {
		return wrapError(ErrIO, err)
	}
	if err := b.m.Remap(newSize); err != nil {
		return wrapError(ErrIO, err)
	}
	return nil
}

func (b *mmapBackend) sync() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.m.Sync(); err != nil {
		return wrapError(ErrIO, err)
	}
	return nil
}

func (b *mmapBackend) sizeInPages(pageSize uint32) pgno {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return pgno(b.m.Size() / int64(pageSize))
}

func (b *mmapBackend) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.m.Close(); err != nil {
		b.file.Close()
		return wrapError(ErrIO, err)
	}
	if err := b.file.Close(); err != nil {
		return wrapError(ErrIO, err)
	}
	return nil
}
