// Package aggregates implements the collection write path on gorm: one
// transaction per call, parent lock first, positions rewritten through a
// negative park so the (parent, position) unique index never trips mid-shift.
package aggregates
