package ebtree

import (
	"time"
)

// DBI is an opaque handle to an open named sub-database within a
// transaction (§6).
type DBI int

// dbHandle tracks one open sub-database's current state for the lifetime
// of a transaction.
type dbHandle struct {
	name string
	desc dbDescriptor
}

// Txn is a single read or write transaction against a snapshot of the
// environment (§4.6). A read transaction never blocks a writer and never
// blocks other readers; only one write transaction may be open at a time.
type Txn struct {
	env      *Env
	id       txnid
	readOnly bool
	done     bool

	catalogRoot  pgno
	freelistRoot pgno

	dirty   map[pgno]*page
	alloc   *pageAllocator
	dbs     []dbHandle
	dbIndex map[string]DBI

	readerSlot int
}

func (txn *Txn) requireOpen() error {
	if txn.done {
		return invalidParam("transaction already committed or aborted")
	}
	return nil
}

func (txn *Txn) requireWritable() error {
	if err := txn.requireOpen(); err != nil {
		return err
	}
	if txn.readOnly {
		return invalidParam("operation requires a write transaction")
	}
	return nil
}

// --- pageSource implementation (read transactions use only getPage and readOverflow) ---

func (txn *Txn) pageSize() uint32 { return txn.env.cfg.PageSize }
func (txn *Txn) cmp() CmpFunc     { return defaultCmp }
func (txn *Txn) inlineLimit() uint32 {
	return inlineThreshold(txn.env.cfg.PageSize)
}

func (txn *Txn) getPage(id pgno) (*page, error) {
	if p, ok := txn.dirty[id]; ok {
		return p, nil
	}
	raw, err := txn.env.backend.readPage(id, txn.env.cfg.PageSize)
	if err != nil {
		return nil, err
	}
	p := &page{Data: raw}
	if txn.env.cfg.ChecksumMode != ChecksumNone {
		if err := verifyChecksum(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (txn *Txn) cowPage(id pgno) (*page, error) {
	if p, ok := txn.dirty[id]; ok {
		return p, nil
	}
	old, err := txn.getPage(id)
	if err != nil {
		return nil, err
	}
	newID, err := txn.alloc.allocPage()
	if err != nil {
		return nil, err
	}
	buf := txn.env.bufpool.Get()
	copy(buf, old.Data)
	p := &page{Data: buf}
	p.setPageNo(newID)
	if err := txn.trackDirty(newID, p); err != nil {
		return nil, err
	}
	txn.alloc.freePage(txn.id, id)
	return p, nil
}

func (txn *Txn) allocPage(flags pageFlags) (*page, error) {
	id, err := txn.alloc.allocPage()
	if err != nil {
		return nil, err
	}
	buf := txn.env.bufpool.Get()
	p := initPage(buf, id, flags)
	if err := txn.trackDirty(id, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (txn *Txn) trackDirty(id pgno, p *page) error {
	if len(txn.dirty) >= txn.env.cfg.MaxTxnPages {
		return newError(ErrTxnFull)
	}
	txn.dirty[id] = p
	return nil
}

func (txn *Txn) allocOverflow(data []byte) (overflowHeader, error) {
	h, pages, err := writeOverflow(txn.alloc, data, txn.env.cfg.PageSize)
	if err != nil {
		return overflowHeader{}, err
	}
	for _, p := range pages {
		if err := txn.trackDirty(p.pageNo(), p); err != nil {
			return overflowHeader{}, err
		}
	}
	return h, nil
}

func (txn *Txn) readOverflow(h overflowHeader) ([]byte, error) {
	return readOverflowPages(txn.getPage, h, txn.env.cfg.PageSize)
}

func (txn *Txn) freeOverflow(h overflowHeader) {
	// An overflow run allocated and then freed within this same transaction
	// was never committed; its pages simply stop being dirty. Otherwise the
	// whole run is freed as one contiguous entry, preserving its size class
	// for allocRun to find again under a segregated freelist.
	if _, ok := txn.dirty[h.StartPage]; ok {
		for i := uint32(0); i < h.RunLen; i++ {
			txn.discardPage(h.StartPage + pgno(i))
		}
		return
	}
	txn.alloc.freeRun(txn.id, h.StartPage, h.RunLen)
}

// persistFreelist writes this transaction's own freed-page batch into the
// freelist sub-database, keyed by this txn's id, and drops any batches that
// have since been promoted to in-memory-only tracking by an earlier
// setOldestReader call (§4.6 commit step b, C3 persisted freelist). Without
// this, every page freed before a crash or restart would be unreachable
// forever: the allocator's bump cursor never rewinds, and the in-memory
// freelist starts empty on every Open.
func (txn *Txn) persistFreelist() error {
	root := txn.freelistRoot
	for _, freedBy := range txn.env.freelist.drainPendingDeletes() {
		newRoot, err := freelistDBDelete(txn, root, freedBy)
		if err != nil {
			return err
		}
		root = newRoot
	}
	if batch := txn.env.freelist.commitPending(txn.id); len(batch) > 0 {
		newRoot, err := freelistDBPut(txn, root, txn.id, batch)
		if err != nil {
			return err
		}
		root = newRoot
	}
	txn.freelistRoot = root
	return nil
}

// discardPage drops a page this transaction no longer references. A page
// this transaction dirtied is never visible to a reader: if its id lies
// below the committed high-water mark it came from the freelist and goes
// straight back to the available set; an id this transaction bump-allocated
// is not handed out again. A committed page is freed via the freelist.
func (txn *Txn) discardPage(id pgno) {
	if _, ok := txn.dirty[id]; ok {
		delete(txn.dirty, id)
		txn.env.metaMu.RLock()
		committed := txn.env.currentMeta.LastPgno
		txn.env.metaMu.RUnlock()
		if fl := txn.env.freelist; id < committed {
			i := len(fl.available)
			for i > 0 && fl.available[i-1] > id {
				i--
			}
			fl.available = append(fl.available, 0)
			copy(fl.available[i+1:], fl.available[i:])
			fl.available[i] = id
		}
		return
	}
	txn.alloc.freePage(txn.id, id)
}

// --- public API ---

// OpenDatabase opens (or, with DBCreateIfMissing-equivalent semantics via
// catalogCreate, creates) a named sub-database. The empty name opens the
// reserved main/catalog database itself.
func (txn *Txn) OpenDatabase(name string, flags DBFlags) (DBI, error) {
	if err := txn.requireOpen(); err != nil {
		return 0, err
	}
	if dbi, ok := txn.dbIndex[name]; ok {
		return dbi, nil
	}

	var desc dbDescriptor
	if name == "" {
		desc = dbDescriptor{Root: txn.catalogRoot}
	} else {
		d, err := catalogGet(txn, txn.catalogRoot, name)
		if err != nil {
			if !IsNotFound(err) {
				return 0, err
			}
			if txn.readOnly {
				return 0, newError(ErrNotFound)
			}
			newRoot, created, err := catalogCreate(txn, txn.catalogRoot, name, flags)
			if err != nil {
				return 0, err
			}
			txn.catalogRoot = newRoot
			desc = created
		} else {
			desc = d
		}
	}

	dbi := DBI(len(txn.dbs))
	txn.dbs = append(txn.dbs, dbHandle{name: name, desc: desc})
	txn.dbIndex[name] = dbi
	return dbi, nil
}

func (txn *Txn) handle(dbi DBI) (*dbHandle, error) {
	if int(dbi) < 0 || int(dbi) >= len(txn.dbs) {
		return nil, invalidParam("invalid database handle")
	}
	return &txn.dbs[dbi], nil
}

// Get looks up key in dbi.
func (txn *Txn) Get(dbi DBI, key []byte) ([]byte, error) {
	if err := txn.requireOpen(); err != nil {
		return nil, err
	}
	h, err := txn.handle(dbi)
	if err != nil {
		return nil, err
	}
	return btreeSearch(txn, h.desc.Root, key)
}

// Put inserts or overwrites key->value in dbi.
func (txn *Txn) Put(dbi DBI, key, value []byte, flags PutFlags) error {
	if err := txn.requireWritable(); err != nil {
		return err
	}
	if len(key) == 0 || len(key) > txn.env.cfg.MaxKeySize {
		return invalidParam("key length out of bounds")
	}
	if len(value) > txn.env.cfg.MaxValueSize {
		return invalidParam("value length out of bounds")
	}
	h, err := txn.handle(dbi)
	if err != nil {
		return err
	}
	_, existed := dbLookupExists(txn, h.desc.Root, key)
	newRoot, err := btreeInsert(txn, h.desc.Root, key, value, flags)
	if err != nil {
		return err
	}
	h.desc.Root = newRoot
	if !existed {
		h.desc.Entries++
	}
	return txn.persistDescriptor(h)
}

// Delete removes key from dbi.
func (txn *Txn) Delete(dbi DBI, key []byte) error {
	if err := txn.requireWritable(); err != nil {
		return err
	}
	h, err := txn.handle(dbi)
	if err != nil {
		return err
	}
	newRoot, found, err := btreeDelete(txn, h.desc.Root, key)
	if err != nil {
		return err
	}
	if !found {
		return newError(ErrNotFound)
	}
	h.desc.Root = newRoot
	h.desc.Entries--
	return txn.persistDescriptor(h)
}

// PutDup adds value to key's duplicate set in a DUP_SORT database.
func (txn *Txn) PutDup(dbi DBI, key, value []byte) error {
	if err := txn.requireWritable(); err != nil {
		return err
	}
	h, err := txn.handle(dbi)
	if err != nil {
		return err
	}
	if h.desc.Flags&DBDupSort == 0 {
		return invalidParam("PutDup requires a DUP_SORT database")
	}
	newRoot, err := dupPut(txn, h.desc.Root, key, value)
	if err != nil {
		return err
	}
	h.desc.Root = newRoot
	return txn.persistDescriptor(h)
}

// DeleteDup removes value from key's duplicate set in a DUP_SORT database.
func (txn *Txn) DeleteDup(dbi DBI, key, value []byte) error {
	if err := txn.requireWritable(); err != nil {
		return err
	}
	h, err := txn.handle(dbi)
	if err != nil {
		return err
	}
	if h.desc.Flags&DBDupSort == 0 {
		return invalidParam("DeleteDup requires a DUP_SORT database")
	}
	newRoot, found, err := dupDelete(txn, h.desc.Root, key, value)
	if err != nil {
		return err
	}
	if !found {
		return newError(ErrNotFound)
	}
	h.desc.Root = newRoot
	return txn.persistDescriptor(h)
}

// GetAllDup returns every duplicate value stored for key.
func (txn *Txn) GetAllDup(dbi DBI, key []byte) ([][]byte, error) {
	if err := txn.requireOpen(); err != nil {
		return nil, err
	}
	h, err := txn.handle(dbi)
	if err != nil {
		return nil, err
	}
	if h.desc.Flags&DBDupSort == 0 {
		v, err := txn.Get(dbi, key)
		if err != nil {
			return nil, err
		}
		return [][]byte{v}, nil
	}
	return dupGetAll(txn, h.desc.Root, key)
}

// Clear empties dbi, leaving it open but rootless.
func (txn *Txn) Clear(dbi DBI) error {
	if err := txn.requireWritable(); err != nil {
		return err
	}
	h, err := txn.handle(dbi)
	if err != nil {
		return err
	}
	h.desc.Root = invalidPgno
	h.desc.Entries = 0
	return txn.persistDescriptor(h)
}

// persistDescriptor writes h's current state back into the catalog, unless
// h is the reserved main database (which has no entry in itself).
func (txn *Txn) persistDescriptor(h *dbHandle) error {
	if h.name == "" {
		txn.catalogRoot = h.desc.Root
		return nil
	}
	newCatalogRoot, err := catalogPut(txn, txn.catalogRoot, h.name, h.desc)
	if err != nil {
		return err
	}
	txn.catalogRoot = newCatalogRoot
	return nil
}

// releaseBuffers returns every dirty page's backing buffer to the
// environment's scratch pool once it has been durably written (or
// discarded without ever being written).
func (txn *Txn) releaseBuffers() {
	if txn.env.bufpool == nil {
		return
	}
	for _, p := range txn.dirty {
		txn.env.bufpool.Put(p.Data)
	}
}

func dbLookupExists(txn *Txn, root pgno, key []byte) ([]byte, bool) {
	v, err := btreeSearch(txn, root, key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Commit durably applies this write transaction's changes, following the
// protocol in §4.6: write dirty pages, stage a new meta image, sync, write
// the inactive meta slot, sync again, then atomically swap the active slot.
func (txn *Txn) Commit() error {
	if txn.readOnly {
		return txn.abortReadOnly()
	}
	if err := txn.requireOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { txn.done = true }()

	if err := txn.persistFreelist(); err != nil {
		return txn.failCommit(err)
	}

	for id, p := range txn.dirty {
		stampChecksum(p, txn.env.cfg.ChecksumMode)
		_ = id
	}

	needed := txn.alloc.currentPgno()
	if cur := txn.env.backend.sizeInPages(txn.env.cfg.PageSize); needed > cur {
		if err := txn.env.backend.grow(needed, txn.env.cfg.PageSize); err != nil {
			return txn.failCommit(err)
		}
	}

	for id, p := range txn.dirty {
		if err := txn.env.backend.writePage(id, p.Data); err != nil {
			return txn.failCommit(err)
		}
	}

	// gofail: var commitBeforeDataSync struct{}
	if txn.env.cfg.Durability != NoSync {
		if err := txn.env.backend.sync(); err != nil {
			return txn.failCommit(err)
		}
	}

	newMeta := metaData{
		Magic:        metaMagic,
		Version:      metaFormatVersion,
		PageSize:     txn.env.cfg.PageSize,
		TxnID:        txn.id,
		CatalogRoot:  txn.catalogRoot,
		FreelistRoot: txn.freelistRoot,
		LastPgno:     txn.alloc.currentPgno(),
		NumDBs:       uint32(len(txn.dbs)),
	}
	inactive := txn.env.inactiveMetaSlot()
	metaPage := encodeMeta(newMeta, pgno(inactive), txn.env.cfg.PageSize, txn.env.cfg.ChecksumMode)
	if err := txn.env.backend.writePage(pgno(inactive), metaPage.Data); err != nil {
		return txn.failCommit(err)
	}
	// gofail: var commitBeforeMetaSync struct{}
	if txn.env.cfg.Durability == FullSync {
		if err := txn.env.backend.sync(); err != nil {
			return txn.failCommit(err)
		}
	}

	txn.env.swapMeta(inactive, newMeta)
	txn.env.releaseWriter(txn.id)

	if m := txn.env.metrics; m != nil {
		m.commits.Inc()
		m.dirtyPages.Set(float64(len(txn.dirty)))
		m.commitDuration.Observe(time.Since(start).Seconds())
	}
	txn.env.logger.Debug().
		Uint64("txn_id", uint64(txn.id)).
		Int("dirty_pages", len(txn.dirty)).
		Dur("duration", time.Since(start)).
		Msg("commit")
	txn.releaseBuffers()
	return nil
}

func (txn *Txn) failCommit(err error) error {
	txn.env.releaseWriter(txn.id)
	if m := txn.env.metrics; m != nil {
		m.aborts.Inc()
	}
	return err
}

// Abort discards this write transaction's changes without applying them.
func (txn *Txn) Abort() {
	if txn.done {
		return
	}
	txn.done = true
	if txn.readOnly {
		txn.env.releaseReader(txn.readerSlot)
		return
	}
	// The next writer reuses this id, so the pages this transaction freed
	// (still live in the committed tree) must not stay queued under it.
	delete(txn.env.freelist.pending, txn.id)
	delete(txn.env.freelist.pendingClasses, txn.id)
	txn.env.releaseWriter(txn.id)
	if m := txn.env.metrics; m != nil {
		m.aborts.Inc()
	}
	txn.releaseBuffers()
}

func (txn *Txn) abortReadOnly() error {
	txn.Abort()
	return nil
}
