package tours

import (
	"cmp"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/keithlinneman/natours-api/internal/apperr"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type rangeOp int

const (
	opEq rangeOp = iota
	opGt
	opGte
	opLt
	opLte
)

var rangeOps = map[string]rangeOp{"gt": opGt, "gte": opGte, "lt": opLt, "lte": opLte}

type numericFilter struct {
	field string
	op    rangeOp
	value float64
}

// Query is the parsed filter, sort and pagination of a list request.
// Repeated values of one field match any of them.
type Query struct {
	Difficulty []string
	numeric    []numericFilter
	sort       []string
	Page       int
	Limit      int
}

// numeric fields readable by filter and sort
var numericFields = map[string]func(*Tour) float64{
	"duration":        func(t *Tour) float64 { return float64(t.Duration) },
	"maxGroupSize":    func(t *Tour) float64 { return float64(t.MaxGroupSize) },
	"ratingsAverage":  func(t *Tour) float64 { return t.RatingsAverage },
	"ratingsQuantity": func(t *Tour) float64 { return float64(t.RatingsQuantity) },
	"price":           func(t *Tour) float64 { return t.Price },
}

// ParseQuery reads ?difficulty=easy&duration=5&price[lt]=1500&sort=-price,name&page=2&limit=10.
// Unknown keys are ignored.
func ParseQuery(q url.Values) (Query, error) {
	out := Query{Page: 1, Limit: defaultLimit, sort: []string{"-createdAt"}}

	for key, vals := range q {
		field, opName, hasOp := strings.Cut(key, "[")
		if hasOp {
			opName = strings.TrimSuffix(opName, "]")
		}
		switch {
		case field == "difficulty" && !hasOp:
			out.Difficulty = append(out.Difficulty, vals...)
		case numericFields[field] != nil:
			op := opEq
			if hasOp {
				var ok bool
				if op, ok = rangeOps[opName]; !ok {
					return Query{}, apperr.Newf(http.StatusBadRequest, "Invalid filter operator: %s.", opName)
				}
			}
			for _, raw := range vals {
				f, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return Query{}, &apperr.CastError{Path: field, Value: raw, Err: err}
				}
				out.numeric = append(out.numeric, numericFilter{field: field, op: op, value: f})
			}
		}
	}

	if s := q.Get("sort"); s != "" {
		out.sort = strings.Split(s, ",")
	}
	if err := positive(q, "page", &out.Page); err != nil {
		return Query{}, err
	}
	if err := positive(q, "limit", &out.Limit); err != nil {
		return Query{}, err
	}
	out.Limit = min(out.Limit, maxLimit)
	return out, nil
}

func positive(q url.Values, key string, dst *int) error {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return &apperr.CastError{Path: key, Value: raw, Err: err}
	}
	*dst = n
	return nil
}

func (q Query) match(t *Tour) bool {
	if len(q.Difficulty) > 0 && !slices.Contains(q.Difficulty, t.Difficulty) {
		return false
	}
	// equality filters on one field are OR'ed, range filters AND'ed
	eq := map[string]bool{}
	for _, f := range q.numeric {
		if f.op == opEq {
			if _, seen := eq[f.field]; !seen {
				eq[f.field] = false
			}
			if numericFields[f.field](t) == f.value {
				eq[f.field] = true
			}
			continue
		}
		v := numericFields[f.field](t)
		switch f.op {
		case opGt:
			if !(v > f.value) {
				return false
			}
		case opGte:
			if !(v >= f.value) {
				return false
			}
		case opLt:
			if !(v < f.value) {
				return false
			}
		case opLte:
			if !(v <= f.value) {
				return false
			}
		}
	}
	for _, ok := range eq {
		if !ok {
			return false
		}
	}
	return true
}

func (q Query) compare(a, b *Tour) int {
	for _, key := range q.sort {
		desc := strings.HasPrefix(key, "-")
		key = strings.TrimPrefix(key, "-")
		var c int
		switch key {
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "createdAt":
			c = a.CreatedAt.Compare(b.CreatedAt)
		default:
			get, ok := numericFields[key]
			if !ok {
				continue
			}
			c = cmp.Compare(get(a), get(b))
		}
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID.Hex(), b.ID.Hex())
}
