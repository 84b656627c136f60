package ebtree

// cursorFrame is one level of a cursor's root-to-leaf path. For a branch
// page, slot is the child index most recently descended into (0 is
// leftmostChild, i otherwise is the child after separator nodeAt(i-1)).
// For a leaf page, slot is the current entry index.
type cursorFrame struct {
	id   pgno
	slot int
}

// Cursor walks a single database's B+tree in key order. It holds an
// explicit root-to-leaf stack rather than relying on parent pointers, since
// pages carry none (§4.11); any mutation through the cursor rebuilds the
// stack via a fresh Seek.
type Cursor struct {
	txn   *Txn
	dbi   DBI
	root  pgno
	stack []cursorFrame
	valid bool
}

// Cursor opens a cursor over dbi that is not yet positioned: Next and Prev
// report ErrNotFound until First, Last or Seek positions it.
func (txn *Txn) Cursor(dbi DBI) (*Cursor, error) {
	if err := txn.requireOpen(); err != nil {
		return nil, err
	}
	h, err := txn.handle(dbi)
	if err != nil {
		return nil, err
	}
	return &Cursor{txn: txn, dbi: dbi, root: h.desc.Root}, nil
}

func (c *Cursor) refreshRoot() error {
	h, err := c.txn.handle(c.dbi)
	if err != nil {
		return err
	}
	c.root = h.desc.Root
	return nil
}

func (c *Cursor) pushLeftmost(id pgno) error {
	for {
		p, err := c.txn.getPage(id)
		if err != nil {
			return err
		}
		c.stack = append(c.stack, cursorFrame{id: id, slot: 0})
		if p.isLeaf() {
			return nil
		}
		id = p.leftmostChild()
	}
}

func (c *Cursor) pushRightmost(id pgno) error {
	for {
		p, err := c.txn.getPage(id)
		if err != nil {
			return err
		}
		if p.isLeaf() {
			slot := p.numKeys() - 1
			c.stack = append(c.stack, cursorFrame{id: id, slot: slot})
			return nil
		}
		slot := p.numKeys()
		c.stack = append(c.stack, cursorFrame{id: id, slot: slot})
		id = branchChildAt(p, slot)
	}
}

// climbForward resolves the stack top after a forward step, descending into
// sibling subtrees and popping exhausted branch frames as needed, until a
// valid leaf entry is found or the tree is exhausted.
func (c *Cursor) climbForward() error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		p, err := c.txn.getPage(top.id)
		if err != nil {
			return err
		}
		if p.isLeaf() {
			if top.slot < p.numKeys() {
				c.valid = true
				return nil
			}
			c.stack = c.stack[:len(c.stack)-1]
			if len(c.stack) > 0 {
				c.stack[len(c.stack)-1].slot++
			}
			continue
		}
		if top.slot > p.numKeys() {
			c.stack = c.stack[:len(c.stack)-1]
			if len(c.stack) > 0 {
				c.stack[len(c.stack)-1].slot++
			}
			continue
		}
		if err := c.pushLeftmost(branchChildAt(p, top.slot)); err != nil {
			return err
		}
	}
	c.valid = false
	return newError(ErrNotFound)
}

func (c *Cursor) climbBackward() error {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		p, err := c.txn.getPage(top.id)
		if err != nil {
			return err
		}
		if p.isLeaf() {
			if top.slot >= 0 {
				c.valid = true
				return nil
			}
			c.stack = c.stack[:len(c.stack)-1]
			if len(c.stack) > 0 {
				c.stack[len(c.stack)-1].slot--
			}
			continue
		}
		if top.slot < 0 {
			c.stack = c.stack[:len(c.stack)-1]
			if len(c.stack) > 0 {
				c.stack[len(c.stack)-1].slot--
			}
			continue
		}
		if err := c.pushRightmost(branchChildAt(p, top.slot)); err != nil {
			return err
		}
	}
	c.valid = false
	return newError(ErrNotFound)
}

// First positions the cursor at the smallest key.
func (c *Cursor) First() error {
	if err := c.refreshRoot(); err != nil {
		return err
	}
	c.stack = c.stack[:0]
	if c.root == invalidPgno {
		c.valid = false
		return newError(ErrNotFound)
	}
	if err := c.pushLeftmost(c.root); err != nil {
		return err
	}
	return c.climbForward()
}

// Last positions the cursor at the largest key.
func (c *Cursor) Last() error {
	if err := c.refreshRoot(); err != nil {
		return err
	}
	c.stack = c.stack[:0]
	if c.root == invalidPgno {
		c.valid = false
		return newError(ErrNotFound)
	}
	if err := c.pushRightmost(c.root); err != nil {
		return err
	}
	return c.climbBackward()
}

// Next advances to the next larger key.
func (c *Cursor) Next() error {
	if len(c.stack) == 0 {
		return newError(ErrNotFound)
	}
	c.stack[len(c.stack)-1].slot++
	return c.climbForward()
}

// Prev moves to the next smaller key.
func (c *Cursor) Prev() error {
	if len(c.stack) == 0 {
		return newError(ErrNotFound)
	}
	c.stack[len(c.stack)-1].slot--
	return c.climbBackward()
}

// Seek positions the cursor at the smallest key >= key.
func (c *Cursor) Seek(key []byte) error {
	if err := c.refreshRoot(); err != nil {
		return err
	}
	c.stack = c.stack[:0]
	if c.root == invalidPgno {
		c.valid = false
		return newError(ErrNotFound)
	}
	id := c.root
	for {
		p, err := c.txn.getPage(id)
		if err != nil {
			return err
		}
		if p.isLeaf() {
			idx, _ := p.searchKey(key, c.txn.cmp())
			c.stack = append(c.stack, cursorFrame{id: id, slot: idx})
			break
		}
		slot := descendSlot(p, key, c.txn.cmp())
		c.stack = append(c.stack, cursorFrame{id: id, slot: slot})
		id = branchChildAt(p, slot)
	}
	return c.climbForward()
}

// Current returns the key/value at the cursor's position.
func (c *Cursor) Current() ([]byte, []byte, error) {
	if !c.valid || len(c.stack) == 0 {
		return nil, nil, newError(ErrNotFound)
	}
	top := c.stack[len(c.stack)-1]
	p, err := c.txn.getPage(top.id)
	if err != nil {
		return nil, nil, err
	}
	n := p.nodeAt(top.slot)
	key := append([]byte(nil), nodeKey(n)...)
	value, err := resolveLeafValue(c.txn, n)
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

// Put inserts key->value via the cursor's database and repositions the
// cursor on key (§4.11: stack rebuild via re-search after mutation).
func (c *Cursor) Put(key, value []byte, flags PutFlags) error {
	if err := c.txn.Put(c.dbi, key, value, flags); err != nil {
		return err
	}
	return c.Seek(key)
}

// Delete removes the key at the cursor's current position and repositions
// it at the next key, if any.
func (c *Cursor) Delete() error {
	key, _, err := c.Current()
	if err != nil {
		return err
	}
	if err := c.txn.Delete(c.dbi, key); err != nil {
		return err
	}
	if err := c.Seek(key); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}
