// Package dag holds the generation graph: planned synthetic-data nodes,
// the dependencies between them, and the derived schedules (parallel
// waves and a linear order) a generator walks.
//
// The package does no I/O. Acyclicity is checked by Validate and by the
// ordering functions, never on insertion, so a graph may be assembled in
// any order before it is scheduled.
package dag
