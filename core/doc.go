// Package core contains the domain model shared by every evaluation
// component: rules and their condition trees, events, alert events,
// correlation clusters, risk scores, incidents, notification records and
// audit entries. Entity ownership is single-writer: each entity type is
// mutated by exactly one pipeline stage, and every entity carries a
// tenant ID.
package core
