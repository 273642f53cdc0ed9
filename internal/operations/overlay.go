package operations

import (
	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/metrics"
)

// AddOverlay places item on page of doc and returns its id. Positions are
// page-space points with a top-left origin; callers convert from screen
// coordinates first.
func AddOverlay(doc *document.Document, page int, item document.Overlay) (document.OverlayID, error) {
	id, err := doc.AddOverlay(page, item)
	metrics.IncOperation("overlay_add", err)
	return id, err
}

// RemoveOverlay removes overlay id from page. It reports false when the page
// has no such overlay.
func RemoveOverlay(doc *document.Document, page int, id document.OverlayID) (bool, error) {
	ok, err := doc.RemoveOverlay(page, id)
	metrics.IncOperation("overlay_remove", err)
	return ok, err
}

// MoveOverlay repositions overlay id on page.
func MoveOverlay(doc *document.Document, page int, id document.OverlayID, to document.Rect) error {
	err := doc.MoveOverlay(page, id, to)
	metrics.IncOperation("overlay_move", err)
	return err
}

// ListOverlays returns the overlays of page in creation order.
func ListOverlays(doc *document.Document, page int) ([]document.Overlay, error) {
	return doc.Overlays(page)
}
