package rendercache

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/imagerender"
	"github.com/local/pagedesk/internal/metrics"
)

type job struct {
	id  slotID
	key Key
	ref document.PageRef
	gen uint64
}

func (c *Cache) enqueueLocked(s *slot, key Key, ref document.PageRef) {
	c.gen++
	s.key, s.state, s.err, s.gen = key, Pending, nil, c.gen
	c.jobs = append(c.jobs, job{id: s.id, key: key, ref: ref, gen: s.gen})
	metrics.SetQueuedJobs(len(c.jobs))
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker pool.
func (c *Cache) Start() {
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.loop(i)
	}
}

// Close stops the workers and drops queued jobs. Renders in progress finish
// but are not published.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.jobs = nil
	metrics.SetQueuedJobs(0)
	c.mu.Unlock()
	close(c.stop)
	c.wg.Wait()
}

func (c *Cache) loop(id int) {
	defer c.wg.Done()
	log.Debug().Int("worker", id).Msg("render worker started")
	for {
		j, ok := c.next()
		if !ok {
			select {
			case <-c.stop:
				log.Debug().Int("worker", id).Msg("render worker stopped")
				return
			case <-c.wake:
			}
			continue
		}
		c.run(j)
	}
}

// next pops the most recent job, discarding jobs whose slot has moved on.
func (c *Cache) next() (job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.jobs) > 0 && !c.closed {
		j := c.jobs[len(c.jobs)-1]
		c.jobs = c.jobs[:len(c.jobs)-1]
		metrics.SetQueuedJobs(len(c.jobs))
		if !c.currentLocked(j) {
			metrics.ObserveRender("skipped", 0)
			continue
		}
		c.inflight++
		if len(c.jobs) > 0 {
			// Let another idle worker pick up the rest.
			select {
			case c.wake <- struct{}{}:
			default:
			}
		}
		return j, true
	}
	return job{}, false
}

// currentLocked reports whether j still renders what its slot wants and
// the page has not moved past j's version.
func (c *Cache) currentLocked(j job) bool {
	s := c.slots[j.id]
	if s == nil || s.gen != j.gen || s.state != Pending {
		return false
	}
	return c.latest[j.id.pageKey] <= j.key.Version
}

func (c *Cache) run(j job) {
	start := time.Now()
	img, err := c.render(j)

	c.mu.Lock()
	c.inflight--
	if c.closed || !c.currentLocked(j) {
		c.mu.Unlock()
		metrics.ObserveRender("stale", time.Since(start))
		log.Debug().Str("key", j.key.String()).Msg("dropped superseded render")
		return
	}
	s := c.slots[j.id]
	if err != nil {
		s.state, s.err = Failed, &RenderError{Key: j.key, Err: err}
		c.mu.Unlock()
		metrics.ObserveRender("failed", time.Since(start))
		log.Warn().Err(err).Str("doc", string(j.key.Doc)).Uint64("page", uint64(j.key.Page)).Msg("page render failed")
		return
	}
	c.publishLocked(s, img)
	onReady := c.onReady
	c.mu.Unlock()

	metrics.ObserveRender("ready", time.Since(start))
	if onReady != nil {
		onReady(j.key)
	}
}

// render produces the preview for j: preview tier, else rasterize, draw the
// overlays in unrotated page space, then rotate.
func (c *Cache) render(j job) (*image.RGBA, error) {
	skey := j.key.String()
	if img, ok := c.fromStore(skey); ok {
		metrics.ObserveRender("preview", 0)
		return img, nil
	}

	content, ok := c.reg.Arena().Get(j.ref.Content)
	if !ok {
		return nil, fmt.Errorf("page content %d released", j.ref.Content)
	}
	scale := j.key.ScaleFactor()
	img, err := c.raster.Rasterize(context.Background(), content, scale)
	if err != nil {
		return nil, err
	}
	if err := c.drawOverlays(img, j.ref.Overlays, scale); err != nil {
		return nil, err
	}
	img = imagerender.Rotate(img, int(j.ref.Rotation))
	c.toStore(skey, img)
	return img, nil
}

func (c *Cache) drawOverlays(dst *image.RGBA, items []document.Overlay, scale float64) error {
	for _, o := range items {
		r := image.Rect(
			int(o.Rect.X*scale+0.5),
			int(o.Rect.Y*scale+0.5),
			int((o.Rect.X+o.Rect.W)*scale+0.5),
			int((o.Rect.Y+o.Rect.H)*scale+0.5),
		)
		switch m := o.Mark.(type) {
		case document.Stamp:
			if c.stamps == nil {
				return fmt.Errorf("no stamp source for %s", m.Kind)
			}
			src, err := c.stamps.Image(m.Kind)
			if err != nil {
				return err
			}
			imagerender.Composite(dst, src, r)
		case document.Text:
			imagerender.DrawText(dst, m.Body, r.Min.X, r.Min.Y, m.FontSize*scale, m.Color)
		}
	}
	return nil
}

func (c *Cache) fromStore(key string) (*image.RGBA, bool) {
	if c.store == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.storeTO)
	defer cancel()
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("preview tier lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	img, err := imagerender.DecodePNG(data)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding unreadable preview")
		return nil, false
	}
	return img, true
}

func (c *Cache) toStore(key string, img *image.RGBA) {
	if c.store == nil {
		return
	}
	data, err := imagerender.EncodePNG(img)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.storeTO)
	defer cancel()
	if err := c.store.Put(ctx, key, data); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("preview tier write failed")
	}
}
