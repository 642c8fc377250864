// Package users is the in-memory reference router mounted at
// /api/v1/users. Password resets go out through a notify.Sender.
package users

import (
	"html"
	"net/mail"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/keithlinneman/natours-api/internal/apperr"
)

var roles = []string{"user", "guide", "lead-guide", "admin"}

const minPasswordLen = 8

type User struct {
	ID    primitive.ObjectID `json:"_id"`
	Name  string             `json:"name"`
	Email string             `json:"email"`
	Role  string             `json:"role"`
	Photo string             `json:"photo,omitempty"`

	active            bool
	passwordHash      []byte
	passwordChangedAt time.Time
	resetHash         string
	resetExpires      time.Time
}

// Active reports whether the account has not been deactivated.
func (u *User) Active() bool { return u.active }

type signup struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// normalizeEmail is the single stored and looked-up form of an address.
// Request strings arrive HTML-escaped, so "&" and "'" are restored first.
func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(html.UnescapeString(s)))
}

func (s *signup) normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Email = normalizeEmail(s.Email)
	if s.Role == "" {
		s.Role = "user"
	}
}

func (s *signup) validate() error {
	v := &apperr.ValidationError{}
	if s.Name == "" {
		v.Add("name", "Please tell us your name!")
	}
	validateEmail(v, s.Email)
	if !slices.Contains(roles, s.Role) {
		v.Add("role", "Role is either: user, guide, lead-guide, admin")
	}
	validatePassword(v, s.Password, s.PasswordConfirm)
	return v.Err()
}

func validateEmail(v *apperr.ValidationError, email string) {
	if email == "" {
		v.Add("email", "Please provide your email")
		return
	}
	if a, err := mail.ParseAddress(email); err != nil || a.Address != email {
		v.Add("email", "Please provide a valid email")
	}
}

func validatePassword(v *apperr.ValidationError, password, confirm string) {
	if password == "" {
		v.Add("password", "Please provide a password")
	} else if utf8.RuneCountInString(password) < minPasswordLen {
		v.Add("password", "Password must have at least 8 characters")
	}
	if confirm != password {
		v.Add("passwordConfirm", "Passwords are not the same!")
	}
}

// update carries the self-service fields of PATCH /{id}.
type update struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Photo    *string `json:"photo"`
	Password *string `json:"password"`
}
