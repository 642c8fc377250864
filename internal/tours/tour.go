// Package tours is the in-memory reference router mounted at /api/v1/tours.
// It exercises the request backbone: every handler returns its failure
// through httpmw.Catch and leaves rendering to the error controller.
package tours

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/keithlinneman/natours-api/internal/apperr"
)

type Tour struct {
	ID              primitive.ObjectID `json:"_id"`
	Name            string             `json:"name"`
	Duration        int                `json:"duration"`
	MaxGroupSize    int                `json:"maxGroupSize"`
	Difficulty      string             `json:"difficulty"`
	RatingsAverage  float64            `json:"ratingsAverage"`
	RatingsQuantity int                `json:"ratingsQuantity"`
	Price           float64            `json:"price"`
	PriceDiscount   float64            `json:"priceDiscount,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	Description     string             `json:"description,omitempty"`
	ImageCover      string             `json:"imageCover,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
}

// Patch carries the writable fields of a create or update request. Nil
// fields are left unchanged.
type Patch struct {
	Name            *string  `json:"name"`
	Duration        *int     `json:"duration"`
	MaxGroupSize    *int     `json:"maxGroupSize"`
	Difficulty      *string  `json:"difficulty"`
	RatingsAverage  *float64 `json:"ratingsAverage"`
	RatingsQuantity *int     `json:"ratingsQuantity"`
	Price           *float64 `json:"price"`
	PriceDiscount   *float64 `json:"priceDiscount"`
	Summary         *string  `json:"summary"`
	Description     *string  `json:"description"`
	ImageCover      *string  `json:"imageCover"`
}

const defaultRatingsAverage = 4.5

var difficulties = []string{"easy", "medium", "difficult"}

// Apply copies the non-nil fields of p onto t.
func (p Patch) Apply(t *Tour) {
	setIf(&t.Name, p.Name)
	setIf(&t.Duration, p.Duration)
	setIf(&t.MaxGroupSize, p.MaxGroupSize)
	setIf(&t.Difficulty, p.Difficulty)
	setIf(&t.RatingsAverage, p.RatingsAverage)
	setIf(&t.RatingsQuantity, p.RatingsQuantity)
	setIf(&t.Price, p.Price)
	setIf(&t.PriceDiscount, p.PriceDiscount)
	setIf(&t.Summary, p.Summary)
	setIf(&t.Description, p.Description)
	setIf(&t.ImageCover, p.ImageCover)
	t.Name = strings.TrimSpace(t.Name)
	t.Summary = strings.TrimSpace(t.Summary)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Validate reports every failed rule at once.
func (t *Tour) Validate() error {
	v := &apperr.ValidationError{}
	switch n := utf8.RuneCountInString(t.Name); {
	case n == 0:
		v.Add("name", "A tour must have a name")
	case n < 10:
		v.Add("name", "A tour name must have more or equal then 10 characters")
	case n > 40:
		v.Add("name", "A tour name must have less or equal then 40 characters")
	}
	if t.Duration <= 0 {
		v.Add("duration", "A tour must have a duration")
	}
	if t.MaxGroupSize <= 0 {
		v.Add("maxGroupSize", "A tour must have a group size")
	}
	if !slices.Contains(difficulties, t.Difficulty) {
		v.Add("difficulty", "Difficulty is either: easy, medium, difficult")
	}
	if t.RatingsAverage < 1 || t.RatingsAverage > 5 {
		v.Add("ratingsAverage", "Rating must be between 1.0 and 5.0")
	}
	if t.RatingsQuantity < 0 {
		v.Add("ratingsQuantity", "Ratings quantity cannot be negative")
	}
	if t.Price <= 0 {
		v.Add("price", "A tour must have a price")
	}
	if t.PriceDiscount != 0 && t.PriceDiscount >= t.Price {
		v.Add("priceDiscount", fmt.Sprintf("Discount price (%g) should be below regular price", t.PriceDiscount))
	}
	return v.Err()
}
