package ebtree

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ebtree/ebtree/internal/bufpool"
)

// readerSlot tracks one active read transaction's snapshot, bounding how
// far back the freelist must keep pages reachable (§4.3, §5).
type readerSlot struct {
	inUse bool
	txnID txnid
}

// Env is the process-wide handle to one open database file: the writer
// mutex, the reader-slot table, and the double-buffered meta state all
// live here, shared by every Txn (§4.10).
type Env struct {
	path    string
	backend ioBackend
	cfg     Config
	logger  zerolog.Logger
	metrics *metricsSet

	writerMu sync.Mutex

	metaMu         sync.RWMutex
	currentMetaIdx int
	currentMeta    metaData

	freelist *freelist
	bufpool  *bufpool.Pool

	readersMu sync.Mutex
	readers   []readerSlot
	freeSlots []int

	closed bool
}

// SpaceInfo reports advisory page-count estimates for an open environment
// (§4.14; the sole estimator, per the Open Question resolution in §9).
type SpaceInfo struct {
	CurrentPages   pgno
	MaxPages       pgno
	PagesUntilFull pgno
}

// Open opens (creating if necessary) the database file at path.
func Open(path string, cfg Config) (*Env, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	backend, err := openMmapBackend(path, firstDataPgno, cfg.PageSize)
	if err != nil {
		return nil, err
	}

	metas, valid := readMetaPages(backend, cfg.PageSize)
	idx := pickCurrentMeta(metas, valid)
	if idx == -1 {
		idx, err = bootstrapMeta(backend, cfg)
		if err != nil {
			backend.close()
			return nil, err
		}
		metas, valid = readMetaPages(backend, cfg.PageSize)
		if !valid[idx] {
			backend.close()
			return nil, corruption(pgno(idx), "failed to bootstrap meta pages")
		}
	}

	fl := newFreelist(cfg.UseSegregatedFreelist)
	if err := reloadFreelist(fl, backend, metas[idx]); err != nil {
		backend.close()
		return nil, err
	}

	env := &Env{
		path:           path,
		backend:        backend,
		cfg:            cfg,
		logger:         resolveLogger(cfg.Logger),
		metrics:        newMetricsSet(cfg.Registerer),
		currentMetaIdx: idx,
		currentMeta:    metas[idx],
		freelist:       fl,
		bufpool:        bufpool.New(int(cfg.PageSize)),
	}
	return env, nil
}

// reloadFreelist repopulates fl from the persisted freelist sub-database, so
// pages freed by transactions that committed before this process last
// exited are reusable again instead of leaking for the life of the file
// (§4.6 commit step b, C3). No reader can exist yet at this point, so every
// persisted batch is immediately available rather than merely pending.
func reloadFreelist(fl *freelist, backend ioBackend, meta metaData) error {
	getPage := func(id pgno) (*page, error) {
		raw, err := backend.readPage(id, meta.PageSize)
		if err != nil {
			return nil, err
		}
		return &page{Data: raw}, nil
	}
	readOv := func(h overflowHeader) ([]byte, error) {
		return readOverflow(backend, h, meta.PageSize)
	}
	batches, err := freelistDBLoadAll(getPage, readOv, meta.FreelistRoot)
	if err != nil {
		return err
	}
	fl.seedAvailable(batches)
	return nil
}

// bootstrapMeta formats both meta slots for a brand-new, empty database.
func bootstrapMeta(backend ioBackend, cfg Config) (int, error) {
	fresh := metaData{
		Magic:        metaMagic,
		Version:      metaFormatVersion,
		PageSize:     cfg.PageSize,
		TxnID:        0,
		CatalogRoot:  invalidPgno,
		FreelistRoot: invalidPgno,
		LastPgno:     firstDataPgno,
	}
	for i := 0; i < numMetas; i++ {
		p := encodeMeta(fresh, pgno(i), cfg.PageSize, cfg.ChecksumMode)
		if err := backend.writePage(pgno(i), p.Data); err != nil {
			return 0, err
		}
	}
	if err := backend.sync(); err != nil {
		return 0, err
	}
	return 0, nil
}

// Close releases the environment's backing file and mapping.
func (e *Env) Close() error {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.backend.close()
}

// BeginTxn starts a new transaction. A write transaction blocks until any
// other write transaction completes (§4.6, §5 "single writer").
func (e *Env) BeginTxn(readOnly bool) (*Txn, error) {
	if readOnly {
		return e.beginReadTxn()
	}
	return e.beginWriteTxn()
}

func (e *Env) beginReadTxn() (*Txn, error) {
	e.readersMu.Lock()
	idx, err := e.acquireReaderSlotLocked()
	if err != nil {
		e.readersMu.Unlock()
		return nil, err
	}

	e.metaMu.RLock()
	snap := e.currentMeta
	e.metaMu.RUnlock()

	e.readers[idx].txnID = snap.TxnID
	e.readersMu.Unlock()

	if e.metrics != nil {
		e.metrics.readersActive.Inc()
	}

	return &Txn{
		env:         e,
		id:          snap.TxnID,
		readOnly:    true,
		catalogRoot: snap.CatalogRoot,
		readerSlot:  idx,
		dbIndex:     make(map[string]DBI),
	}, nil
}

func (e *Env) acquireReaderSlotLocked() (int, error) {
	if n := len(e.freeSlots); n > 0 {
		idx := e.freeSlots[n-1]
		e.freeSlots = e.freeSlots[:n-1]
		e.readers[idx].inUse = true
		return idx, nil
	}
	if len(e.readers) >= e.cfg.MaxReaders {
		return 0, newError(ErrReadersFull)
	}
	e.readers = append(e.readers, readerSlot{inUse: true})
	return len(e.readers) - 1, nil
}

func (e *Env) beginWriteTxn() (*Txn, error) {
	e.writerMu.Lock()

	e.metaMu.RLock()
	snap := e.currentMeta
	e.metaMu.RUnlock()

	newID := snap.TxnID + 1
	maxPages := pgno(e.cfg.MapSize / int64(e.cfg.PageSize))
	alloc := newPageAllocator(snap.LastPgno, maxPages, e.freelist)

	return &Txn{
		env:          e,
		id:           newID,
		readOnly:     false,
		catalogRoot:  snap.CatalogRoot,
		freelistRoot: snap.FreelistRoot,
		dirty:        make(map[pgno]*page),
		alloc:        alloc,
		dbIndex:      make(map[string]DBI),
	}, nil
}

func (e *Env) releaseReader(slot int) {
	e.readersMu.Lock()
	e.readers[slot].inUse = false
	e.freeSlots = append(e.freeSlots, slot)
	e.readersMu.Unlock()

	if e.metrics != nil {
		e.metrics.readersActive.Dec()
	}
	e.freelist.setOldestReader(e.oldestReader())
}

func (e *Env) releaseWriter(committedTxnID txnid) {
	e.freelist.setOldestReader(e.oldestReader())
	_ = committedTxnID
	e.writerMu.Unlock()
}

// oldestReader returns the oldest snapshot any open reader might still be
// using, or the next write-transaction id if no reader is open (meaning
// every page freed by any prior transaction is immediately reusable).
func (e *Env) oldestReader() txnid {
	e.readersMu.Lock()
	defer e.readersMu.Unlock()

	oldest := txnid(0)
	found := false
	for _, r := range e.readers {
		if !r.inUse {
			continue
		}
		if !found || r.txnID < oldest {
			oldest = r.txnID
			found = true
		}
	}
	if found {
		return oldest
	}
	e.metaMu.RLock()
	defer e.metaMu.RUnlock()
	return e.currentMeta.TxnID + 1
}

func (e *Env) inactiveMetaSlot() int {
	e.metaMu.RLock()
	defer e.metaMu.RUnlock()
	return 1 - e.currentMetaIdx
}

func (e *Env) swapMeta(slot int, m metaData) {
	e.metaMu.Lock()
	e.currentMetaIdx = slot
	e.currentMeta = m
	e.metaMu.Unlock()
}

// View runs fn against a read-only snapshot, releasing it when fn returns.
func (e *Env) View(fn func(*Txn) error) error {
	txn, err := e.BeginTxn(true)
	if err != nil {
		return err
	}
	defer txn.Abort()
	return fn(txn)
}

// Update runs fn against a write transaction, committing on success and
// aborting if fn (or the commit itself) fails.
func (e *Env) Update(fn func(*Txn) error) error {
	txn, err := e.BeginTxn(false)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}

// SpaceInfo reports the environment's current and maximum page counts.
func (e *Env) SpaceInfo() (SpaceInfo, error) {
	e.metaMu.RLock()
	cur := e.currentMeta.LastPgno
	e.metaMu.RUnlock()
	max := pgno(e.cfg.MapSize / int64(e.cfg.PageSize))
	until := pgno(0)
	if max > cur {
		until = max - cur
	}
	return SpaceInfo{CurrentPages: cur, MaxPages: max, PagesUntilFull: until}, nil
}
