package users

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/natours-api/internal/apperr"
	"github.com/keithlinneman/natours-api/internal/httpmw"
	"github.com/keithlinneman/natours-api/internal/log"
	"github.com/keithlinneman/natours-api/internal/notify"
)

const (
	resetTokenTTL   = 10 * time.Minute
	resetTokenBytes = 32

	msgSendFailed   = "There was an error sending the email. Try again later!"
	msgTokenInvalid = "Token is invalid or has expired"
)

type Options struct {
	Store  Store
	Mailer notify.Sender
	Clock  clockwork.Clock
	// BcryptCost defaults to 12.
	BcryptCost int
}

type handlers struct {
	store  Store
	mailer notify.Sender
	clock  clockwork.Clock
	cost   int
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Results *int   `json:"results,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Router returns the users routes, relative to their mount point.
func Router(opts Options) http.Handler {
	h := &handlers{store: opts.Store, mailer: opts.Mailer, clock: opts.Clock, cost: opts.BcryptCost}
	if h.store == nil {
		h.store = NewMemStore()
	}
	if h.mailer == nil {
		h.mailer = notify.LogSender{}
	}
	if h.clock == nil {
		h.clock = clockwork.NewRealClock()
	}
	if h.cost == 0 {
		h.cost = 12
	}

	r := chi.NewRouter()
	r.Method(http.MethodPost, "/signup", httpmw.Catch(h.signup))
	r.Method(http.MethodPost, "/forgotPassword", httpmw.Catch(h.forgotPassword))
	r.Method(http.MethodPatch, "/resetPassword/{token}", httpmw.Catch(h.resetPassword))

	r.Method(http.MethodGet, "/", httpmw.Catch(h.list))
	r.Method(http.MethodGet, "/{id}", httpmw.Catch(h.get))
	r.Method(http.MethodPatch, "/{id}", httpmw.Catch(h.update))
	r.Method(http.MethodDelete, "/{id}", httpmw.Catch(h.deactivate))
	return r
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) error {
	users, err := h.store.List(r.Context())
	if err != nil {
		return err
	}
	n := len(users)
	return httpmw.WriteJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Results: &n,
		Data:    map[string]any{"users": users},
	})
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) error {
	id, err := objectID(r)
	if err != nil {
		return err
	}
	u, err := h.store.Get(r.Context(), id)
	if err != nil {
		return notFound(err)
	}
	return httpmw.WriteJSON(w, http.StatusOK, envelope{Status: "success", Data: map[string]any{"user": u}})
}

func (h *handlers) signup(w http.ResponseWriter, r *http.Request) error {
	var in signup
	if err := httpmw.DecodeJSON(r, &in); err != nil {
		return err
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), h.cost)
	if err != nil {
		return err
	}
	u, err := h.store.Create(r.Context(), User{
		Name:              in.Name,
		Email:             in.Email,
		Role:              in.Role,
		passwordHash:      hash,
		passwordChangedAt: h.clock.Now(),
	})
	if err != nil {
		return err
	}
	ctx := r.Context()
	log.FromContext(ctx).Info(ctx, "user signed up", "user_id", u.ID.Hex())
	return httpmw.WriteJSON(w, http.StatusCreated, envelope{Status: "success", Data: map[string]any{"user": u}})
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) error {
	id, err := objectID(r)
	if err != nil {
		return err
	}
	var in update
	if err := httpmw.DecodeJSON(r, &in); err != nil {
		return err
	}
	if in.Password != nil {
		return apperr.New("This route is not for password updates. Please use /resetPassword.", http.StatusBadRequest)
	}
	u, err := h.store.Update(r.Context(), id, func(u *User) error {
		if in.Name != nil {
			u.Name = strings.TrimSpace(*in.Name)
		}
		if in.Email != nil {
			u.Email = normalizeEmail(*in.Email)
		}
		if in.Photo != nil {
			u.Photo = *in.Photo
		}
		v := &apperr.ValidationError{}
		if u.Name == "" {
			v.Add("name", "Please tell us your name!")
		}
		validateEmail(v, u.Email)
		return v.Err()
	})
	if err != nil {
		return notFound(err)
	}
	return httpmw.WriteJSON(w, http.StatusOK, envelope{Status: "success", Data: map[string]any{"user": u}})
}

func (h *handlers) deactivate(w http.ResponseWriter, r *http.Request) error {
	id, err := objectID(r)
	if err != nil {
		return err
	}
	_, err = h.store.Update(r.Context(), id, func(u *User) error {
		u.active = false
		return nil
	})
	if err != nil {
		return notFound(err)
	}
	return httpmw.NoContent(w)
}

func (h *handlers) forgotPassword(w http.ResponseWriter, r *http.Request) error {
	var in struct {
		Email string `json:"email"`
	}
	if err := httpmw.DecodeJSON(r, &in); err != nil {
		return err
	}
	ctx := r.Context()
	u, err := h.store.FindByEmail(ctx, normalizeEmail(in.Email))
	if errors.Is(err, ErrNotFound) {
		return apperr.Wrap(err, "There is no user with that email address.", http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	token, hash, err := newResetToken()
	if err != nil {
		return err
	}
	expires := h.clock.Now().Add(resetTokenTTL)
	if _, err := h.store.Update(ctx, u.ID, func(u *User) error {
		u.resetHash, u.resetExpires = hash, expires
		return nil
	}); err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s://%s/api/v1/users/resetPassword/%s", httpmw.Scheme(r), r.Host, token)
	err = h.mailer.Send(ctx, notify.Message{
		To:      u.Email,
		Subject: "Your password reset token (valid for 10 min)",
		Text: fmt.Sprintf("Forgot your password? Submit a PATCH request with your new password and "+
			"passwordConfirm to: %s.\nIf you didn't forget your password, please ignore this email!", resetURL),
	})
	if err != nil {
		if _, cerr := h.store.Update(ctx, u.ID, clearReset); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return apperr.Wrap(err, msgSendFailed, http.StatusInternalServerError)
	}

	return httpmw.WriteJSON(w, http.StatusOK, envelope{Status: "success", Message: "Token sent to email!"})
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) error {
	var in struct {
		Password        string `json:"password"`
		PasswordConfirm string `json:"passwordConfirm"`
	}
	if err := httpmw.DecodeJSON(r, &in); err != nil {
		return err
	}
	ctx := r.Context()
	u, err := h.store.FindByResetHash(ctx, hashToken(httpmw.Param(r, "token")))
	if err != nil || !h.clock.Now().Before(u.resetExpires) {
		if err == nil {
			err = errors.New("reset token expired")
		}
		return apperr.Wrap(err, msgTokenInvalid, http.StatusBadRequest)
	}

	v := &apperr.ValidationError{}
	validatePassword(v, in.Password, in.PasswordConfirm)
	if err := v.Err(); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), h.cost)
	if err != nil {
		return err
	}
	// token iat has second granularity
	changed := h.clock.Now().Add(-time.Second)
	u, err = h.store.Update(ctx, u.ID, func(u *User) error {
		u.passwordHash, u.passwordChangedAt = hash, changed
		return clearReset(u)
	})
	if err != nil {
		return err
	}
	log.FromContext(ctx).Info(ctx, "password reset", "user_id", u.ID.Hex())
	return httpmw.WriteJSON(w, http.StatusOK, envelope{Status: "success", Data: map[string]any{"user": u}})
}

func clearReset(u *User) error {
	u.resetHash, u.resetExpires = "", time.Time{}
	return nil
}

// newResetToken returns the token mailed to the user and the hash stored
// in its place.
func newResetToken() (token, hash string, err error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(b)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

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
		return apperr.Wrap(err, "No user found with that ID", http.StatusNotFound)
	}
	return err
}

// CheckPassword reports whether password matches u's stored hash.
func CheckPassword(u *User, password string) bool {
	return bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) == nil
}
