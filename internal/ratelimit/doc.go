// Package ratelimit is a fixed-window request counter keyed by client
// identity, with background eviction of idle records.
//
// State lives in process memory only. It is not shared between instances
// and is lost on restart. It does not protect against distributed floods or
// bandwidth attacks; inbound bytes are already accepted when it runs.
//
// Between sweeps the record map grows with the number of distinct
// identities seen. WithMaxRecords bounds it by refusing new identities.
package ratelimit
