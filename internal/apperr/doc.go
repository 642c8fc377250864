// Package apperr defines the error taxonomy shared by the request pipeline.
//
// An [OperationalError] is an anticipated, client-attributable failure: its
// message is safe to show and its status code is exact. Anything else is
// unclassified and treated as a possible defect.
//
// A small closed set of external failure shapes (malformed identifiers,
// uniqueness violations, field validation, bad or expired tokens, oversized
// bodies) is recognized by [Classify] and translated into an operational
// equivalent. Classification happens once, at the rendering boundary.
package apperr
