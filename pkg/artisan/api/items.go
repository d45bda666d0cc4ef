package api

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// GetSession returns the current session snapshot
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.Session.Snapshot())
}

// ListItems lists every issued item, or the items owned by ?owner=
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	var (
		items []artisan.ItemRecord
		err   error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		if !artisan.ValidIdentity(owner) {
			h.badRequest(w, r, "Invalid owner address")
			return
		}
		items, err = h.Aggregator.ListOwnedBy(r.Context(), owner)
	} else {
		items, err = h.Aggregator.ListAll(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []artisan.ItemRecord{}
	}
	render.JSON(w, r, items)
}

// GetItem returns one item
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		h.badRequest(w, r, "Invalid item ID")
		return
	}
	item, err := h.Aggregator.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, item)
}

// GetProvenance returns the ownership history of an item
func (h *Handler) GetProvenance(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		h.badRequest(w, r, "Invalid item ID")
		return
	}
	entries, err := h.Aggregator.Provenance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []artisan.ProvenanceEntry{}
	}
	render.JSON(w, r, entries)
}

// ListCreators returns the registered creators
func (h *Handler) ListCreators(w http.ResponseWriter, r *http.Request) {
	creators, err := h.Aggregator.ListCreators(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if creators == nil {
		creators = []artisan.CreatorRegistration{}
	}
	render.JSON(w, r, creators)
}

// GetItemActivity returns the journaled transactions of an item
func (h *Handler) GetItemActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		h.badRequest(w, r, "Invalid item ID")
		return
	}
	if h.Repository == nil {
		render.JSON(w, r, []*artisan.Activity{})
		return
	}
	activity, err := h.Repository.ListActivityByItem(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, nonNil(activity))
}

// GetActorActivity returns the journaled transactions of ?actor=
func (h *Handler) GetActorActivity(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	if !artisan.ValidIdentity(actor) {
		h.badRequest(w, r, "Invalid actor address")
		return
	}
	if h.Repository == nil {
		render.JSON(w, r, []*artisan.Activity{})
		return
	}
	activity, err := h.Repository.ListActivityByActor(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, nonNil(activity))
}

func nonNil(activity []*artisan.Activity) []*artisan.Activity {
	if activity == nil {
		return []*artisan.Activity{}
	}
	return activity
}
