package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/lib/pq"
	"github.com/lib/pq/pqerror"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Kind tags the shape an error was recognized as.
type Kind int

const (
	KindUnclassified Kind = iota
	KindOperational
	KindMalformedID
	KindDuplicateKey
	KindValidation
	KindTokenInvalid
	KindTokenExpired
	KindBodyTooLarge
)

var kindNames = [...]string{
	KindUnclassified: "unclassified",
	KindOperational:  "operational",
	KindMalformedID:  "malformed_id",
	KindDuplicateKey: "duplicate_key",
	KindValidation:   "validation",
	KindTokenInvalid: "token_invalid",
	KindTokenExpired: "token_expired",
	KindBodyTooLarge: "body_too_large",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

const (
	msgTokenInvalid = "Invalid token. Please log in again!"
	msgTokenExpired = "Your token has expired! Please log in again."
)

// Classify maps err onto the closed set of known shapes. The returned
// OperationalError is nil only for KindUnclassified.
func Classify(err error) (*OperationalError, Kind) {
	if err == nil {
		return nil, KindUnclassified
	}
	if op, ok := AsOperational(err); ok {
		return op, KindOperational
	}

	var (
		castErr  *CastError
		dupErr   *DuplicateKeyError
		valErr   *ValidationError
		pqErr    *pq.Error
		expired  *oidc.TokenExpiredError
		maxBytes *http.MaxBytesError
	)

	switch {
	case errors.As(err, &castErr):
		return newOperational(fmt.Sprintf("Invalid %s: %s.", castErr.Path, castErr.Value), http.StatusBadRequest, err, 1), KindMalformedID
	case errors.Is(err, primitive.ErrInvalidHex):
		return newOperational("Invalid id.", http.StatusBadRequest, err, 1), KindMalformedID

	case errors.As(err, &dupErr):
		return duplicate(err, dupErr.Value), KindDuplicateKey
	case errors.As(err, &pqErr) && pqErr.Code == pqerror.UniqueViolation:
		_, value := pgKeyDetail(pqErr.Detail)
		return duplicate(err, value), KindDuplicateKey
	case mongo.IsDuplicateKeyError(err):
		return duplicate(err, firstQuoted(err.Error())), KindDuplicateKey

	case errors.As(err, &valErr) && len(valErr.Fields) > 0:
		msg := "Invalid input data. " + strings.Join(valErr.Messages(), ". ")
		return newOperational(msg, http.StatusBadRequest, err, 1), KindValidation

	case errors.As(err, &expired), errors.Is(err, ErrTokenExpired):
		return newOperational(msgTokenExpired, http.StatusUnauthorized, err, 1), KindTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return newOperational(msgTokenInvalid, http.StatusUnauthorized, err, 1), KindTokenInvalid

	case errors.As(err, &maxBytes):
		msg := fmt.Sprintf("Request body too large. Limit is %d bytes.", maxBytes.Limit)
		return newOperational(msg, http.StatusRequestEntityTooLarge, err, 1), KindBodyTooLarge
	}

	return nil, KindUnclassified
}

func duplicate(cause error, value string) *OperationalError {
	if value == "" {
		return newOperational("Duplicate field value. Please use another value!", http.StatusBadRequest, cause, 2)
	}
	return newOperational(fmt.Sprintf("Duplicate field value: %q. Please use another value!", value), http.StatusBadRequest, cause, 2)
}

// postgres unique_violation detail: Key (email)=(a@b.c) already exists.
var pgKeyRe = regexp.MustCompile(`Key \((.+?)\)=\((.*)\) already exists`)

func pgKeyDetail(detail string) (field, value string) {
	m := pgKeyRe.FindStringSubmatch(detail)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

// mongo E11000 messages end in `dup key: { name: "The Forest Hiker" }`
var quotedRe = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)'`)

func firstQuoted(s string) string {
	m := quotedRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
