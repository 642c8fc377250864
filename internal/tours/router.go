package tours

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/keithlinneman/natours-api/internal/apperr"
	"github.com/keithlinneman/natours-api/internal/httpmw"
	"github.com/keithlinneman/natours-api/internal/log"
)

type envelope struct {
	Status      string `json:"status"`
	RequestedAt string `json:"requestedAt,omitempty"`
	Results     *int   `json:"results,omitempty"`
	Data        any    `json:"data"`
}

type handlers struct {
	store Store
}

// Router returns the tours routes, relative to their mount point.
func Router(store Store) http.Handler {
	h := &handlers{store: store}
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/", httpmw.Catch(h.list))
	r.Method(http.MethodPost, "/", httpmw.Catch(h.create))
	r.Method(http.MethodGet, "/{id}", httpmw.Catch(h.get))
	r.Method(http.MethodPatch, "/{id}", httpmw.Catch(h.update))
	r.Method(http.MethodDelete, "/{id}", httpmw.Catch(h.delete))
	return r
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) error {
	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		return err
	}
	tours, err := h.store.List(r.Context(), q)
	if err != nil {
		return err
	}
	n := len(tours)
	return httpmw.WriteJSON(w, http.StatusOK, envelope{
		Status:      "success",
		RequestedAt: requestedAt(r),
		Results:     &n,
		Data:        map[string]any{"tours": tours},
	})
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) error {
	id, err := objectID(r)
	if err != nil {
		return err
	}
	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		return notFound(err)
	}
	return httpmw.WriteJSON(w, http.StatusOK, envelope{
		Status:      "success",
		RequestedAt: requestedAt(r),
		Data:        map[string]any{"tour": t},
	})
}

func (h *handlers) create(w http.ResponseWriter, r *http.Request) error {
	var p Patch
	if err := httpmw.DecodeJSON(r, &p); err != nil {
		return err
	}
	t := Tour{RatingsAverage: defaultRatingsAverage}
	p.Apply(&t)
	if err := t.Validate(); err != nil {
		return err
	}
	t, err := h.store.Create(r.Context(), t)
	if err != nil {
		return err
	}
	ctx := r.Context()
	log.FromContext(ctx).Info(ctx, "tour created", "tour_id", t.ID.Hex())
	return httpmw.WriteJSON(w, http.StatusCreated, envelope{
		Status: "success",
		Data:   map[string]any{"tour": t},
	})
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) error {
	id, err := objectID(r)
	if err != nil {
		return err
	}
	var p Patch
	if err := httpmw.DecodeJSON(r, &p); err != nil {
		return err
	}
	t, err := h.store.Update(r.Context(), id, p)
	if err != nil {
		return notFound(err)
	}
	return httpmw.WriteJSON(w, http.StatusOK, envelope{
		Status: "success",
		Data:   map[string]any{"tour": t},
	})
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) error {
	id, err := objectID(r)
	if err != nil {
		return err
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		return notFound(err)
	}
	return httpmw.NoContent(w)
}

// objectID reads the {id} path parameter. A malformed value is a cast
// failure, rendered as 400 by the error controller.
func objectID(r *http.Request) (primitive.ObjectID, error) {
	raw := httpmw.Param(r, "id")
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, &apperr.CastError{Path: "_id", Value: raw, Err: err}
	}
	return id, nil
}

func notFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.Wrap(err, "No tour found with that ID", http.StatusNotFound)
	}
	return err
}

func requestedAt(r *http.Request) string {
	t := httpmw.RequestTimeFromContext(r.Context())
	if t.IsZero() {
		return ""
	}
	return httpmw.ISOTime(t)
}
