// Package api exposes an editor session over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/document"
	"github.com/local/pagedesk/internal/editor"
	"github.com/local/pagedesk/internal/filetype"
	"github.com/local/pagedesk/internal/imagerender"
	"github.com/local/pagedesk/internal/metrics"
	"github.com/local/pagedesk/internal/operations"
	"github.com/local/pagedesk/internal/rendercache"
	"github.com/local/pagedesk/internal/statuscheck"
)

// Options configures the handlers.
type Options struct {
	// MaxUploadBytes caps raw document uploads.
	MaxUploadBytes int64
	JPEGQuality    int
	// Status reports on the optional Redis and S3 backends. Nil treats both as disabled.
	Status         *statuscheck.Checker
}

// Server serves the host API.
type Server struct {
	s           *editor.Session
	maxUpload   int64
	jpegQuality int
	status      *statuscheck.Checker
}

// New creates the API for s.
func New(s *editor.Session, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 200 << 20
	}
	if opts.Status == nil {
		opts.Status = statuscheck.New(statuscheck.Options{})
	}
	return &Server{s: s, maxUpload: opts.MaxUploadBytes, jpegQuality: opts.JPEGQuality, status: opts.Status}
}

func (a *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("GET /health/deps", a.handleDeps)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /documents", a.handleOpen)
	mux.HandleFunc("GET /documents", a.handleList)
	mux.HandleFunc("POST /folders", a.handleFolder)
	mux.HandleFunc("GET /documents/{id}", a.handleGet)
	mux.HandleFunc("DELETE /documents/{id}", a.handleClose)

	mux.HandleFunc("POST /documents/{id}/reorder", a.handleReorder)
	mux.HandleFunc("POST /documents/{id}/delete", a.handleDelete)
	mux.HandleFunc("POST /documents/{id}/rotate", a.handleRotate)
	mux.HandleFunc("POST /documents/{id}/split", a.handleSplit)
	mux.HandleFunc("POST /documents/{id}/insert", a.handleInsert)
	mux.HandleFunc("POST /merge", a.handleMerge)

	mux.HandleFunc("POST /documents/{id}/pages/{page}/overlays", a.handleAddOverlay)
	mux.HandleFunc("GET /documents/{id}/pages/{page}/overlays", a.handleListOverlays)
	mux.HandleFunc("PUT /documents/{id}/pages/{page}/overlays/{overlay}", a.handleMoveOverlay)
	mux.HandleFunc("DELETE /documents/{id}/pages/{page}/overlays/{overlay}", a.handleRemoveOverlay)

	mux.HandleFunc("GET /documents/{id}/pages/{page}/thumbnail", a.handleThumbnail)
	mux.HandleFunc("POST /documents/{id}/visible", a.handleVisible)
	mux.HandleFunc("POST /documents/{id}/export", a.handleExport)

	mux.HandleFunc("GET /stamps", a.handleStamps)
	mux.HandleFunc("GET /stamps/{name}", a.handleStamp)
}

func (a *Server) handleDeps(w http.ResponseWriter, r *http.Request) {
	sum := a.status.Summary(r.Context())
	code := http.StatusOK
	if !sum.OK() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

type docView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Pages    int    `json:"pages"`
	Revision uint64 `json:"revision"`
}

type pageView struct {
	Index    int     `json:"index"`
	ID       uint64  `json:"id"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation"`
	Version  uint64  `json:"version"`
	Overlays int     `json:"overlays"`
	Source   string  `json:"source,omitempty"`
}

type docDetail struct {
	docView
	PageList []pageView `json:"page_list"`
}

func viewOf(d *document.Document) docView {
	return docView{ID: string(d.Handle()), Name: d.Name(), Pages: d.PageCount(), Revision: d.Revision()}
}

func (a *Server) doc(w http.ResponseWriter, r *http.Request) (*document.Document, bool) {
	d, err := a.s.Document(document.Handle(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return d, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		badRequest(w, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return n, true
}

func (a *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var (
		d   *document.Document
		err error
	)
	if ref := r.URL.Query().Get("ref"); ref != "" {
		d, err = a.s.OpenRef(r.Context(), ref)
	} else {
		defer r.Body.Close()
		data, rerr := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxUpload))
		if rerr != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp{Error: rerr.Error(), Kind: "too_large"})
			return
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "upload.pdf"
		}
		d, err = a.s.Open(r.Context(), name, data)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(d))
}

type folderReq struct {
	Dir string `json:"dir"`
}

type folderResp struct {
	Documents []docView `json:"documents"`
	Skipped   []string  `json:"skipped,omitempty"`
}

// handleFolder opens every PDF in a directory. Files that fail to load are
// listed as skipped unless nothing could be opened.
func (a *Server) handleFolder(w http.ResponseWriter, r *http.Request) {
	var req folderReq
	if !decode(w, r, &req) {
		return
	}
	if req.Dir == "" {
		badRequest(w, "dir is required")
		return
	}
	docs, err := a.s.OpenFolder(r.Context(), req.Dir)
	if err != nil && len(docs) == 0 {
		writeError(w, err)
		return
	}
	out := folderResp{Documents: make([]docView, 0, len(docs))}
	for _, d := range docs {
		out.Documents = append(out.Documents, viewOf(d))
	}
	if err != nil {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				out.Skipped = append(out.Skipped, e.Error())
			}
		} else {
			out.Skipped = append(out.Skipped, err.Error())
		}
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs := a.s.Registry.List()
	out := make([]docView, 0, len(docs))
	for _, d := range docs {
		out = append(out, viewOf(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	d, ok := a.doc(w, r)
	if !ok {
		return
	}
	pages := d.Pages()
	out := docDetail{docView: viewOf(d), PageList: make([]pageView, 0, len(pages))}
	out.Pages = len(pages)
	for i, p := range pages {
		out.PageList = append(out.PageList, pageView{
			Index:    i,
			ID:       uint64(p.ID),
			Width:    p.Size.Width,
			Height:   p.Size.Height,
			Rotation: int(p.Rotation),
			Version:  p.Version,
			Overlays: len(p.Overlays),
			Source:   string(p.Source),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := a.s.Close(document.Handle(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reorderReq struct {
	Start int `json:"start"`
	Count int `json:"count"`
	To    int `json:"to"`
}

func (a *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	d, ok := a.doc(w, r)
	if !ok {
		return
	}
	req := reorderReq{Count: 1}
	if !decode(w, r, &req) {
		return
	}
	changed, err := operations.Reorder(d, req.Start, req.Count, req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "revision": d.Revision()})
}

type pagesReq struct {
	Pages   []int `json:"pages"`
	Degrees *int  `json:"degrees,omitempty"`
}

func (a *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	d, ok := a.doc(w, r)
	if !ok {
		return
	}
	var req pagesReq
	if !decode(w, r, &req) {
		return
	}
	if err := operations.Delete(d, req.Pages...); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(d))
}

func (a *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	d, ok := a.doc(w, r)
	if !ok {
		return
	}
	var req pagesReq
	if !decode(w, r, &req) {
		return
	}
	degrees := 90
	if req.Degrees != nil {
		degrees = *req.Degrees
	}
	if err := operations.RotateBy(d, degrees, req.Pages...); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(d))
}

type splitReq struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (a *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitReq
	if !decode(w, r, &req) {
		return
	}
	out, err := a.s.Split(document.Handle(r.PathValue("id")), req.Start, req.End)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(out))
}

type insertReq struct {
	At     int                  `json:"at"`
	Source operations.Selection `json:"source"`
}

func (a *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	d, ok := a.doc(w, r)
	if !ok {
		return
	}
	var req insertReq
	if !decode(w, r, &req) {
		return
	}
	if err := operations.Insert(a.s.Registry, d, req.At, req.Source); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(d))
}

type mergeReq struct {
	Name       string                 `json:"name"`
	Selections []operations.Selection `json:"selections"`
	// Documents merges whole documents in order instead of selections.
	Documents []string `json:"documents,omitempty"`
}

func (a *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeReq
	if !decode(w, r, &req) {
		return
	}
	var (
		out *document.Document
		err error
	)
	switch {
	case len(req.Documents) > 0 && len(req.Selections) > 0:
		badRequest(w, "give either selections or documents")
		return
	case len(req.Documents) > 0:
		handles := make([]document.Handle, len(req.Documents))
		for i, id := range req.Documents {
			handles[i] = document.Handle(id)
		}
		out, err = a.s.MergeDocuments(req.Name, handles)
	default:
		out, err = a.s.Merge(req.Name, req.Selections)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(out))
}

type overlayReq struct {
	Type     string   `json:"type"`
	Stamp    string   `json:"stamp,omitempty"`
	Text     string   `json:"text,omitempty"`
	FontSize float64  `json:"font_size,omitempty"`
	Color    string   `json:"color,omitempty"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	W        *float64 `json:"w,omitempty"`
	H        *float64 `json:"h,omitempty"`
}

type overlayView struct {
	ID       uint64        `json:"id"`
	Type     string        `json:"type"`
	Stamp    string        `json:"stamp,omitempty"`
	Text     string        `json:"text,omitempty"`
	FontSize float64       `json:"font_size,omitempty"`
	Color    string        `json:"color,omitempty"`
	Rect     document.Rect `json:"rect"`
}

func overlayOf(req overlayReq) (document.Overlay, error) {
	var o document.Overlay
	switch req.Type {
	case "stamp":
		kind, ok := document.ParseStampKind(req.Stamp)
		if !ok {
			return o, fmt.Errorf("unknown stamp %q", req.Stamp)
		}
		o = document.NewStamp(kind, req.X, req.Y)
	case "text":
		if req.Text == "" {
			return o, fmt.Errorf("text overlay needs text")
		}
		o = document.NewText(req.Text, req.X, req.Y, req.FontSize)
		if req.Color != "" {
			c, err := parseHexColor(req.Color)
			if err != nil {
				return o, err
			}
			t := o.Mark.(document.Text)
			t.Color = c
			o.Mark = t
		}
	default:
		return o, fmt.Errorf("unknown overlay type %q", req.Type)
	}
	if req.W != nil {
		o.Rect.W = *req.W
	}
	if req.H != nil {
		o.Rect.H = *req.H
	}
	return o, nil
}

func viewOfOverlay(o document.Overlay) overlayView {
	v := overlayView{ID: uint64(o.ID), Rect: o.Rect}
	switch m := o.Mark.(type) {
	case document.Stamp:
		v.Type, v.Stamp = "stamp", m.Kind.Name()
	case document.Text:
		v.Type, v.Text, v.FontSize = "text", m.Body, m.FontSize
		v.Color = fmt.Sprintf("#%02x%02x%02x", m.Color.R, m.Color.G, m.Color.B)
	}
	return v
}

func parseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func (a *Server) handleAddOverlay(w http.ResponseWriter, r *http.Request) {
	d, ok := a.doc(w, r)
	if !ok {
		return
	}
	page, ok := pathInt(w, r, "page")
	if !ok {
		return
	}
	var req overlayReq
	if !decode(w, r, &req) {
		return
	}
	o, err := overlayOf(req)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	id, err := operations.AddOverlay(d, page, o)
	if err != nil {
		writeError(w, err)
		return
	}
	o.ID = id
	writeJSON(w, http.StatusCreated, viewOfOverlay(o))
}

func (a *Server) handleListOverlays(w http.ResponseWriter, r *http.Request) {
	d, ok := a.doc(w, r)
	if !ok {
		return
	}
	page, ok := pathInt(w, r, "page")
	if !ok {
		return
	}
	items, err := operations.ListOverlays(d, page)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]overlayView, 0, len(items))
	for _, o := range items {
		out = append(out, viewOfOverlay(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Server) handleMoveOverlay(w http.ResponseWriter, r *http.Request) {
	d, ok := a.doc(w, r)
	if !ok {
		return
	}
	page, ok := pathInt(w, r, "page")
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "overlay")
	if !ok {
		return
	}
	var rect document.Rect
	if !decode(w, r, &rect) {
		return
	}
	if err := operations.MoveOverlay(d, page, document.OverlayID(id), rect); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Server) handleRemoveOverlay(w http.ResponseWriter, r *http.Request) {
	d, ok := a.doc(w, r)
	if !ok {
		return
	}
	page, ok := pathInt(w, r, "page")
	if !ok {
		return
	}
	id, ok := pathInt(w, r, "overlay")
	if !ok {
		return
	}
	removed, err := operations.RemoveOverlay(d, page, document.OverlayID(id))
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, errorResp{Error: fmt.Sprintf("overlay %d not found", id), Kind: "not_found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type thumbPending struct {
	State string `json:"state"`
	Key   string `json:"key"`
}

// handleThumbnail answers 200 with the image when it is ready and 202 with
// the slot state while it renders.
func (a *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	page, ok := pathInt(w, r, "page")
	if !ok {
		return
	}
	q := r.URL.Query()
	scale := 0.0
	if v := q.Get("scale"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 8 {
			badRequest(w, "invalid scale")
			return
		}
		scale = f
	}
	h := document.Handle(r.PathValue("id"))
	var (
		res rendercache.Result
		err error
	)
	if q.Get("retry") == "1" || q.Get("retry") == "true" {
		res, err = a.s.RetryThumbnail(h, page, scale)
	} else {
		res, err = a.s.Thumbnail(h, page, scale)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	switch res.State {
	case rendercache.Ready:
	case rendercache.Failed:
		writeError(w, res.Err)
		return
	default:
		writeJSON(w, http.StatusAccepted, thumbPending{State: res.State.String(), Key: res.Key.String()})
		return
	}

	var (
		body  []byte
		ctype string
	)
	mode := imagerender.ColorRGB
	if q.Get("gray") == "1" || q.Get("gray") == "true" {
		mode = imagerender.ColorGray
	}
	if q.Get("format") == "jpeg" || mode == imagerender.ColorGray {
		body, err = imagerender.EncodeJPEG(res.Image, a.jpegQuality, mode)
		ctype = "image/jpeg"
	} else {
		body, err = imagerender.EncodePNG(res.Image)
		ctype = "image/png"
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("ETag", `"`+res.Key.String()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	var req pagesReq
	if !decode(w, r, &req) {
		return
	}
	if err := a.s.SetVisible(document.Handle(r.PathValue("id")), req.Pages); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportReq struct {
	Dest string `json:"dest"`
}

func (a *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportReq
	if !decode(w, r, &req) {
		return
	}
	if req.Dest == "" {
		badRequest(w, "missing dest")
		return
	}
	res, err := a.s.Export(r.Context(), document.Handle(r.PathValue("id")), req.Dest)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("doc", r.PathValue("id")).Str("location", res.Location).Msg("export served")
	writeJSON(w, http.StatusOK, res)
}

type stampView struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (a *Server) handleStamps(w http.ResponseWriter, r *http.Request) {
	out := make([]stampView, 0, len(document.StampKinds))
	for _, k := range document.StampKinds {
		v := stampView{Name: k.Name(), Label: k.Label()}
		if data, err := a.s.Stamps.Stamp(k); err == nil {
			if pw, ph, err := imagerender.Dimensions(data); err == nil {
				v.Width, v.Height = pw, ph
			}
		} else {
			log.Warn().Err(err).Str("stamp", k.Name()).Msg("stamp image unavailable")
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Server) handleStamp(w http.ResponseWriter, r *http.Request) {
	kind, ok := document.ParseStampKind(r.PathValue("name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp{Error: "unknown stamp", Kind: "not_found"})
		return
	}
	data, err := a.s.Stamps.Stamp(kind)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", filetype.Detect(data).MIMEType)
	_, _ = w.Write(data)
}
