package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/kiosk-core/internal/domain/session"
	"github.com/xenking/kiosk-core/internal/wire"
)

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sig, err := wire.DecodeSignal(data)
	if err != nil {
		h.writeError(w, r, &badRequest{err: err})
		return
	}
	snap, err := h.sessions.Identify(r.Context(), sig)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+snap.ID)
	writeSnapshot(w, http.StatusCreated, snap)
}

// getSession serves live sessions from the engine and archived ones from
// history.
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) && h.history != nil {
		var stored *session.Snapshot
		if stored, err = h.history.Load(r.Context(), id); err == nil {
			snap = *stored
		}
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusOK, snap)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, snap session.Snapshot, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusOK, snap)
}

func operatorCode(r *http.Request) string {
	return r.Header.Get(HeaderOperatorCode)
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.Suspend(r.Context(), chi.URLParam(r, "id"), operatorCode(r))
	h.respond(w, r, snap, err)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.Resume(r.Context(), chi.URLParam(r, "id"), operatorCode(r))
	h.respond(w, r, snap, err)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.Cancel(r.Context(), chi.URLParam(r, "id"), operatorCode(r))
	h.respond(w, r, snap, err)
}

func (h *Handler) applyDiscount(w http.ResponseWriter, r *http.Request) {
	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := wire.DecodeAmount(data)
	if err != nil {
		h.writeError(w, r, &badRequest{err: err})
		return
	}
	snap, err := h.sessions.ApplyDiscount(r.Context(), chi.URLParam(r, "id"), amount, operatorCode(r))
	h.respond(w, r, snap, err)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := wire.DecodeAddItem(data)
	if err != nil {
		h.writeError(w, r, &badRequest{err: err})
		return
	}
	snap, err := h.sessions.AddItem(r.Context(), chi.URLParam(r, "id"), session.AddItemRequest{
		ProductID:    item.ProductID,
		Quantity:     item.Quantity,
		UnitPrice:    item.UnitPrice,
		Source:       item.Source,
		EvidenceRef:  item.EvidenceRef,
		OperatorCode: operatorCode(r),
	})
	h.respond(w, r, snap, err)
}

func (h *Handler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	data, err := h.readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	qty, err := wire.DecodeInt(data, "quantity")
	if err != nil {
		h.writeError(w, r, &badRequest{err: err})
		return
	}
	snap, err := h.sessions.UpdateQuantity(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "line"), qty, operatorCode(r))
	h.respond(w, r, snap, err)
}

// removeItem drops ?units= units of a line, or the whole line without it.
func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	units := 0
	if v := r.URL.Query().Get("units"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, &badRequest{err: &wire.FieldError{Field: "units", Err: err}})
			return
		}
		units = n
	}
	snap, err := h.sessions.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "line"), units, operatorCode(r))
	h.respond(w, r, snap, err)
}
