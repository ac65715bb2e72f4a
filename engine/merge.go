package engine

// Merge triggers the merge protocol out of band, for callers (or tests)
// that want to force consolidation without waiting for the update
// counter to reach MergeTrigger.
func (t *Table) Merge() error {
	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.mergeLocked()
	t.updateCount = 0
	return err
}

// mergeLocked consolidates the newest value per (row, column) into the
// base page and clears tail pages (§4.5). It is equivalent to the
// reverse-map tail-page walk the design describes: because every tail
// record is written as a full row snapshot (update() fills unchanged
// columns in from the current value), the newest value for (row, column)
// is always exactly what the version-chain read algorithm already
// resolves for k=0 — so merge simply asks that algorithm once per live
// row instead of re-deriving it by scanning tail pages directly.
//
// Caller holds mergeMu and mu.
func (t *Table) mergeLocked() error {
	t.log.Info("engine: merge start")

	for baseRid := range t.baseRange {
		if _, dead := t.tombstoned[baseRid]; dead {
			continue
		}
		target, err := t.resolveVersionLocked(baseRid, 0)
		if err != nil {
			continue
		}
		if target == baseRid {
			continue // no updates recorded since last merge
		}
		for c := MetaColumns; c < t.numColumns; c++ {
			v, err := t.readSlotLocked(c, target)
			if err != nil {
				continue
			}
			if err := t.rewriteSlotLocked(c, baseRid, v); err != nil {
				return err
			}
			if ix, ok := t.indexes[c]; ok {
				ix.Put(baseRid, v)
			}
		}
		if err := t.rewriteSlotLocked(ColIndirection, baseRid, 0); err != nil {
			return err
		}
		if err := t.rewriteSlotLocked(ColSchema, baseRid, 0); err != nil {
			return err
		}
	}

	for _, pr := range t.ranges {
		pr.ClearTailPages()
	}
	for c := 0; c < t.numColumns; c++ {
		for rid := range t.directory[c] {
			if _, isBase := t.baseRange[rid]; !isBase {
				delete(t.directory[c], rid)
			}
		}
	}

	t.log.Info("engine: merge complete")
	return nil
}
