package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ServeContent serves a stored blob by content identifier. Content is
// immutable under its identifier, so responses are cacheable indefinitely.
func (h *Handler) ServeContent(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")

	meta, err := h.Store.Stat(r.Context(), cid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", strconv.Quote(cid))

	if match := r.Header.Get("If-None-Match"); match == strconv.Quote(cid) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	rc, err := h.Store.Get(r.Context(), cid)
	if err != nil {
		w.Header().Del("Content-Length")
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("content stream interrupted", "content_id", cid, "err", err)
	}
}
