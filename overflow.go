package ebtree

import "encoding/binary"

// overflowHeader is the value-area payload of a nodeBig leaf node: it
// points at a contiguous run of overflow pages holding a value too large to
// store inline (§4.8).
type overflowHeader struct {
	StartPage pgno
	TotalLen  uint64
	RunLen    uint32
}

const overflowHeaderSize = 20 // pgno(8) + totalLen(8) + runLen(4)

func encodeOverflowHeader(h overflowHeader) []byte {
	buf := make([]byte, overflowHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(h.StartPage))
	binary.LittleEndian.PutUint64(buf[8:], h.TotalLen)
	binary.LittleEndian.PutUint32(buf[16:], h.RunLen)
	return buf
}

func decodeOverflowHeader(b []byte) overflowHeader {
	return overflowHeader{
		StartPage: pgno(binary.LittleEndian.Uint64(b[0:])),
		TotalLen:  binary.LittleEndian.Uint64(b[8:]),
		RunLen:    binary.LittleEndian.Uint32(b[16:]),
	}
}

// overflowCapacityPerPage is how many value bytes a single overflow page body holds.
func overflowCapacityPerPage(pageSize uint32) uint32 {
	return pageSize - pageHeaderSize
}

// overflowRunLen computes how many pages a value of valueLen bytes needs.
func overflowRunLen(valueLen int, pageSize uint32) uint32 {
	capacity := overflowCapacityPerPage(pageSize)
	n := (uint32(valueLen) + capacity - 1) / capacity
	if n == 0 {
		n = 1
	}
	return n
}

// writeOverflow allocates and formats a contiguous run of pages holding
// data, returning the header to store in the referencing leaf node and the
// freshly formatted pages (caller is responsible for marking them dirty and
// writing them out, same as any other COW page, §4.8).
func writeOverflow(alloc *pageAllocator, data []byte, pageSize uint32) (overflowHeader, []*page, error) {
	runLen := overflowRunLen(len(data), pageSize)
	start, err := alloc.allocRun(runLen)
	if err != nil {
		return overflowHeader{}, nil, err
	}

	capacity := int(overflowCapacityPerPage(pageSize))
	pages := make([]*page, runLen)
	off := 0
	for i := uint32(0); i < runLen; i++ {
		buf := make([]byte, pageSize)
		p := initPage(buf, start+pgno(i), flagOverflow)
		end := off + capacity
		if end > len(data) {
			end = len(data)
		}
		copy(p.Data[pageHeaderSize:], data[off:end])
		if i == 0 {
			p.setOverflowRun(runLen)
		}
		pages[i] = p
		off = end
	}

	return overflowHeader{StartPage: start, TotalLen: uint64(len(data)), RunLen: runLen}, pages, nil
}

// readOverflow reconstructs the value bytes for h by streaming each page in
// the run through backend, stopping at TotalLen (the last page is typically
// only partially used).
func readOverflow(backend ioBackend, h overflowHeader, pageSize uint32) ([]byte, error) {
	return readOverflowPages(func(id pgno) (*page, error) {
		raw, err := backend.readPage(id, pageSize)
		if err != nil {
			return nil, err
		}
		return &page{Data: raw}, nil
	}, h, pageSize)
}

// readOverflowPages is the shared streaming-read loop; getPage resolves a
// single overflow page, whichever storage tier (mapped file or a write
// transaction's dirty set) currently holds it.
func readOverflowPages(getPage func(pgno) (*page, error), h overflowHeader, pageSize uint32) ([]byte, error) {
	out := make([]byte, 0, h.TotalLen)
	capacity := int(overflowCapacityPerPage(pageSize))
	remaining := int(h.TotalLen)
	for i := uint32(0); i < h.RunLen && remaining > 0; i++ {
		p, err := getPage(h.StartPage + pgno(i))
		if err != nil {
			return nil, err
		}
		if !p.isOverflow() {
			return nil, corruption(p.pageNo(), "expected overflow page flag, got "+p.flags().String())
		}
		if i == 0 && p.overflowRun() != h.RunLen {
			return nil, corruption(p.pageNo(), "overflow run length mismatch between node header and page")
		}
		n := capacity
		if n > remaining {
			n = remaining
		}
		out = append(out, p.Data[pageHeaderSize:pageHeaderSize+n]...)
		remaining -= n
	}
	return out, nil
}
