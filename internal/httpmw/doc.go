// Package httpmw holds the request pipeline stages and the error channel
// they share.
//
// httpserver.NewHandler composes the stages in a fixed order. Any stage
// that cannot continue hands its error to Forward and returns without
// calling the next stage; Errors, installed near the outside of the chain,
// owns the renderer and guarantees a single response per request. Domain
// handlers are written as HandlerFunc and adapted with Catch.
package httpmw
