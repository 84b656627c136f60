package ebtree

import "encoding/binary"

// metaMagic identifies a valid meta page; it is not intended to be
// compatible with any other engine's on-disk format.
const metaMagic uint32 = 0x45425442 // "EBTB"

const metaFormatVersion uint32 = 1

// metaData is the decoded content of a meta page: the single root of
// truth for "what does a consistent snapshot of this file look like"
// (§3 Meta page, §4.5).
type metaData struct {
	Magic        uint32
	Version      uint32
	PageSize     uint32
	TxnID        txnid
	CatalogRoot  pgno // root page of the reserved main/catalog database
	FreelistRoot pgno // root page of the persisted freelist sub-database
	LastPgno     pgno // highest page ever allocated (bump-allocator cursor)
	NumDBs       uint32
}

// meta offsets, relative to the start of the page body (after the common
// 32-byte page header).
const (
	metaOffMagic        = 0
	metaOffVersion      = 4
	metaOffPageSize     = 8
	metaOffTxnID        = 12
	metaOffCatalogRoot  = 20
	metaOffFreelistRoot = 28
	metaOffLastPgno     = 36
	metaOffNumDBs       = 44
)

// encodeMeta serializes m into a fresh meta page at pageID, checksummed
// per mode.
func encodeMeta(m metaData, pageID pgno, pageSize uint32, mode ChecksumMode) *page {
	if pageSize < pageHeaderSize+metaBodySize {
		panic("ebtree: page size too small to hold a meta body")
	}
	data := make([]byte, pageSize)
	p := initPage(data, pageID, flagMeta)
	body := p.Data[pageHeaderSize:]
	binary.LittleEndian.PutUint32(body[metaOffMagic:], m.Magic)
	binary.LittleEndian.PutUint32(body[metaOffVersion:], m.Version)
	binary.LittleEndian.PutUint32(body[metaOffPageSize:], m.PageSize)
	binary.LittleEndian.PutUint64(body[metaOffTxnID:], uint64(m.TxnID))
	binary.LittleEndian.PutUint64(body[metaOffCatalogRoot:], uint64(m.CatalogRoot))
	binary.LittleEndian.PutUint64(body[metaOffFreelistRoot:], uint64(m.FreelistRoot))
	binary.LittleEndian.PutUint64(body[metaOffLastPgno:], uint64(m.LastPgno))
	binary.LittleEndian.PutUint32(body[metaOffNumDBs:], m.NumDBs)
	stampChecksum(p, mode)
	return p
}

// decodeMeta validates and parses a meta page. It rejects bad magic/version
// and a non-zero stored checksum that does not match; a stored 0 (written
// under ChecksumNone) is not checked (§4.5 recovery: a meta that doesn't
// validate is treated as absent, never as current).
func decodeMeta(raw []byte) (metaData, error) {
	p := &page{Data: raw}
	if !p.isMeta() {
		return metaData{}, corruption(p.pageNo(), "expected meta page flag, got "+p.flags().String())
	}
	if len(raw) < pageHeaderSize+metaBodySize {
		return metaData{}, corruption(p.pageNo(), "meta page too small")
	}
	if err := verifyChecksum(p); err != nil {
		return metaData{}, err
	}
	body := p.Data[pageHeaderSize:]
	m := metaData{
		Magic:        binary.LittleEndian.Uint32(body[metaOffMagic:]),
		Version:      binary.LittleEndian.Uint32(body[metaOffVersion:]),
		PageSize:     binary.LittleEndian.Uint32(body[metaOffPageSize:]),
		TxnID:        txnid(binary.LittleEndian.Uint64(body[metaOffTxnID:])),
		CatalogRoot:  pgno(binary.LittleEndian.Uint64(body[metaOffCatalogRoot:])),
		FreelistRoot: pgno(binary.LittleEndian.Uint64(body[metaOffFreelistRoot:])),
		LastPgno:     pgno(binary.LittleEndian.Uint64(body[metaOffLastPgno:])),
		NumDBs:       binary.LittleEndian.Uint32(body[metaOffNumDBs:]),
	}
	if m.Magic != metaMagic {
		return metaData{}, corruption(p.pageNo(), "bad meta magic")
	}
	if m.Version != metaFormatVersion {
		return metaData{}, corruption(p.pageNo(), "unsupported meta version")
	}
	return m, nil
}

// readMetaPages decodes both meta slots, skipping (rather than failing on)
// any slot that doesn't validate — a torn write to one slot must never
// prevent recovery from the other (§4.5, §8 crash-safety).
func readMetaPages(backend ioBackend, pageSize uint32) (metas [numMetas]metaData, valid [numMetas]bool) {
	for i := 0; i < numMetas; i++ {
		raw, err := backend.readPage(pgno(i), pageSize)
		if err != nil {
			continue
		}
		m, err := decodeMeta(raw)
		if err != nil {
			continue
		}
		metas[i] = m
		valid[i] = true
	}
	return
}

// pickCurrentMeta selects the slot with the highest valid TxnID, i.e. the
// most recent successfully committed snapshot. Returns -1 if neither slot
// validates (an unrecoverable, uninitialized or fully corrupt file).
func pickCurrentMeta(metas [numMetas]metaData, valid [numMetas]bool) int {
	best := -1
	for i := 0; i < numMetas; i++ {
		if !valid[i] {
			continue
		}
		if best == -1 || metas[i].TxnID > metas[best].TxnID {
			best = i
		}
	}
	return best
}
