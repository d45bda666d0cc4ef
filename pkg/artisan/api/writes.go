package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// MintRequest is the request body for minting an item. When Locator is
// empty a metadata document is built from the descriptive fields and
// uploaded first.
type MintRequest struct {
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Materials      string `json:"materials"`
	CreatorDetails string `json:"creator_details"`
	Image          string `json:"image"`
	Locator        string `json:"locator"`
	InitialPrice   string `json:"initial_price"`
}

// ListRequest is the request body for listing an item. Price is a decimal
// amount in whole currency units.
type ListRequest struct {
	Price string `json:"price"`
}

// PurchaseRequest is the request body for purchasing an item. An empty
// Payment pays the price of the last fetched view.
type PurchaseRequest struct {
	Payment string `json:"payment"`
}

// RegisterCreatorRequest is the request body for granting the creator role
type RegisterCreatorRequest struct {
	Identity string `json:"identity"`
}

// MetadataRequest is the request body for uploading a metadata document
type MetadataRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Image          string `json:"image"`
	Materials      string `json:"materials"`
	CreatorDetails string `json:"creator_details"`
}

// UploadResponse is the response body for uploaded content
type UploadResponse struct {
	ContentID  string                      `json:"content_id"`
	Locator    string                      `json:"locator"`
	URL        string                      `json:"url,omitempty"`
	Descriptor *artisan.MetadataDescriptor `json:"descriptor,omitempty"`
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return io.EOF
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// requireSubject rejects transactions whose token subject is not the
// connected identity. A disconnected session is left to the orchestrator.
func (h *Handler) requireSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := h.Session.Snapshot()
		if snap.State == artisan.SessionConnected && !artisan.SameIdentity(h.subject(r), snap.Identity) {
			h.writeError(w, r, fmt.Errorf("%w: token subject is not the connected identity", artisan.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) subject(r *http.Request) string {
	if h.auth == nil {
		return ""
	}
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil || claims == nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

// Connect connects the session to the signer's identity
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	if !h.Session.Connect(r.Context()) {
		err := h.Session.Err()
		if err == nil {
			err = artisan.ErrNotConnected
		}
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("session connected", "identity", h.Session.Snapshot().Identity, "subject", h.subject(r))
	render.JSON(w, r, h.Session.Snapshot())
}

// Disconnect clears the session identity
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.Session.Disconnect()
	render.JSON(w, r, h.Session.Snapshot())
}

// UploadContent stores the request body as a blob
func (h *Handler) UploadContent(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.badRequest(w, r, "Content too large")
			return
		}
		h.badRequest(w, r, "Failed to read content")
		return
	}
	if len(data) == 0 {
		h.badRequest(w, r, "Content is empty")
		return
	}

	mimeType := r.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	id, err := h.Uploader.UploadBlob(r.Context(), data, mimeType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("content uploaded", "content_id", id, "mime_type", mimeType, "size", len(data))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.uploadResponse(id, nil))
}

// UploadMetadata builds and stores a metadata document
func (h *Handler) UploadMetadata(w http.ResponseWriter, r *http.Request) {
	var req MetadataRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}
	id, descriptor, err := h.Uploader.UploadMetadata(r.Context(), artisan.MetadataInput(req))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.uploadResponse(id, &descriptor))
}

func (h *Handler) uploadResponse(id string, d *artisan.MetadataDescriptor) UploadResponse {
	resp := UploadResponse{ContentID: id, Locator: artisan.Locator(id), Descriptor: d}
	if h.Resolver != nil {
		resp.URL, _ = h.Resolver.Resolve(resp.Locator)
	}
	return resp
}

// Mint mints an item, listing it when an initial price is given
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}

	var price *big.Int
	if req.InitialPrice != "" {
		p, err := artisan.ParseAmount(req.InitialPrice)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		price = p
	}

	owner := req.Owner
	if owner == "" {
		owner = h.Session.Snapshot().Identity
	}

	if _, err := h.Session.Authorize(artisan.OpMint); err != nil {
		h.writeError(w, r, err)
		return
	}

	locator := req.Locator
	if locator == "" {
		id, _, err := h.Uploader.UploadMetadata(r.Context(), artisan.MetadataInput{
			Name:           req.Name,
			Description:    req.Description,
			Image:          req.Image,
			Materials:      req.Materials,
			CreatorDetails: req.CreatorDetails,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		locator = artisan.Locator(id)
	}

	h.execute(w, r, func(ctx context.Context) (*artisan.Outcome, error) {
		return h.Orchestrator.Mint(ctx, artisan.MintArgs{
			Owner:          owner,
			Description:    req.Description,
			Materials:      req.Materials,
			CreatorDetails: req.CreatorDetails,
			Locator:        locator,
			InitialPrice:   price,
		})
	})
}

// List lists an owned item for sale
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		h.badRequest(w, r, "Invalid item ID")
		return
	}
	var req ListRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}
	price, err := artisan.ParseAmount(req.Price)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.execute(w, r, func(ctx context.Context) (*artisan.Outcome, error) {
		return h.Orchestrator.List(ctx, id, price)
	})
}

// Delist removes an owned item from sale
func (h *Handler) Delist(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		h.badRequest(w, r, "Invalid item ID")
		return
	}
	h.execute(w, r, func(ctx context.Context) (*artisan.Outcome, error) {
		return h.Orchestrator.Delist(ctx, id)
	})
}

// Purchase buys a listed item
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		h.badRequest(w, r, "Invalid item ID")
		return
	}
	var req PurchaseRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
			h.badRequest(w, r, "Invalid request body")
			return
		}
	}

	var payment *big.Int
	if req.Payment != "" {
		p, err := artisan.ParseAmount(req.Payment)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		payment = p
	} else {
		p, err := h.displayedPrice(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		payment = p
	}

	h.execute(w, r, func(ctx context.Context) (*artisan.Outcome, error) {
		return h.Orchestrator.Purchase(ctx, id, payment)
	})
}

// displayedPrice returns the price the buyer was shown: the cached view when
// present, otherwise a fresh read. The ledger arbitrates the actual price.
func (h *Handler) displayedPrice(ctx context.Context, id uint64) (*big.Int, error) {
	rec, ok := h.Aggregator.Cached(id)
	if !ok {
		fresh, err := h.Aggregator.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		rec = *fresh
	}
	if rec.PriceBase == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(rec.PriceBase), nil
}

// RegisterCreator grants the creator role to an identity
func (h *Handler) RegisterCreator(w http.ResponseWriter, r *http.Request) {
	var req RegisterCreatorRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, r, "Invalid request body")
		return
	}
	h.execute(w, r, func(ctx context.Context) (*artisan.Outcome, error) {
		return h.Orchestrator.RegisterCreator(ctx, req.Identity)
	})
}

// execute runs a write under the wait bound. An expired bound answers 202
// with the pending hash; the transaction keeps tracking in the background.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request, run func(context.Context) (*artisan.Outcome, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()

	out, err := run(ctx)
	if err != nil {
		if errors.Is(err, artisan.ErrIndeterminate) && out != nil {
			render.Status(r, http.StatusAccepted)
			render.JSON(w, r, out)
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("operation completed", "hash", out.Hash, "item_id", out.ItemID, "state", out.State, "subject", h.subject(r))
	render.JSON(w, r, out)
}
