package document

// Overlay compositor: per-page overlay lists in creation order. Every
// mutation bumps the page version so cached renders go stale.

// AddOverlay attaches o to page index and returns its id. The id given in o
// is ignored.
func (d *Document) AddOverlay(index int, o Overlay) (OverlayID, error) {
	if err := validOverlay("add overlay", o); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pageLocked("add overlay", index)
	if err != nil {
		return 0, err
	}
	p.nextOverlay++
	o.ID = p.nextOverlay
	p.ref.Overlays = append(p.ref.Overlays, o)
	d.touch(p)
	d.revision++
	return o.ID, nil
}

// RemoveOverlay detaches overlay id from page index. It reports false when
// the page carries no such overlay.
func (d *Document) RemoveOverlay(index int, id OverlayID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pageLocked("remove overlay", index)
	if err != nil {
		return false, err
	}
	at := findOverlay(p.ref.Overlays, id)
	if at < 0 {
		return false, nil
	}
	next := make([]Overlay, 0, len(p.ref.Overlays)-1)
	next = append(next, p.ref.Overlays[:at]...)
	next = append(next, p.ref.Overlays[at+1:]...)
	p.ref.Overlays = next
	d.touch(p)
	d.revision++
	return true, nil
}

// MoveOverlay repositions overlay id on page index. The stacking order is
// unchanged.
func (d *Document) MoveOverlay(index int, id OverlayID, to Rect) error {
	if !to.Valid() {
		return &StateError{Op: "move overlay", Kind: InvalidRange, Detail: "overlay needs a positive size"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pageLocked("move overlay", index)
	if err != nil {
		return err
	}
	at := findOverlay(p.ref.Overlays, id)
	if at < 0 {
		return outOfRange("move overlay", int(id), len(p.ref.Overlays))
	}
	if p.ref.Overlays[at].Rect == to {
		return nil
	}
	next := append([]Overlay(nil), p.ref.Overlays...)
	next[at].Rect = to
	p.ref.Overlays = next
	d.touch(p)
	d.revision++
	return nil
}

// Overlays lists the overlays of page index, bottom-most first.
func (d *Document) Overlays(index int) ([]Overlay, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.pages) {
		return nil, outOfRange("list overlays", index, len(d.pages))
	}
	return append([]Overlay(nil), d.pages[index].ref.Overlays...), nil
}

func (d *Document) pageLocked(op string, index int) (*page, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if index < 0 || index >= len(d.pages) {
		return nil, outOfRange(op, index, len(d.pages))
	}
	return d.pages[index], nil
}

func findOverlay(items []Overlay, id OverlayID) int {
	for i, o := range items {
		if o.ID == id {
			return i
		}
	}
	return -1
}
