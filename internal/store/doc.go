// Package store defines interfaces for recording action history. Implementations
// live in other packages; this package must not import concrete backends.
package store
