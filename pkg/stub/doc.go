// Package stub provides the ordered stub store that pairs request
// predicates with candidate responses.
//
// A stub is a rule: if every predicate matches the incoming request, one
// of the stub's responses answers it. Responses cycle in declaration
// order, honoring per-response repeat counts. The store resolves a
// request to a ResponseConfig, which carries the chosen response
// definition plus a recorder for match bookkeeping.
//
// Stubs captured from live proxy traffic are tracked separately so they
// can be removed again with ResetProxies without touching user-declared
// stubs.
package stub
