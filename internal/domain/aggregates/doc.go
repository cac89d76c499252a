// Package aggregates declares the write boundaries for ordered collections
// and the error vocabulary they fail with. Implementations live in
// internal/data/aggregates.
package aggregates
