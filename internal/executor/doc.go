// Package executor runs query plans against subgraphs and assembles the
// client response.
//
// # Overview
//
// An Executor walks a plan.QueryPlan once per request. Every FetchNode
// becomes one call to a fetch.Fetcher; the answers are merged into a
// response.Tree that later fetches read their entity representations from.
// The executor never retries and never reorders work beyond what the plan
// allows.
//
// # Node semantics
//
//   - Fetch: sends Operation with the variables it names in VariableUsages.
//     Outside a flatten the subgraph data is merged at the current path.
//   - Sequence: runs children in order. A child starts only after the
//     previous one has merged its data.
//   - Parallel: runs children concurrently and waits for all of them. A
//     failing child does not cancel its siblings.
//   - Flatten: runs its child against every element addressed by the path.
//     A Fetch below it is an entity fetch: one request carries the
//     representations of all matched elements and _entities[i] is merged
//     back at element i. When nothing matches, no request is sent.
//   - Condition: runs IfClause when the variable is present and neither
//     false nor null, ElseClause otherwise.
//
// # Failures
//
// A fetch that fails as a whole records one error and nulls the keys it was
// to provide. A non-null key is nulled at the node's NullBoundary instead,
// the nearest nullable ancestor, with each flatten segment resolved to the
// element index. Errors reported by a subgraph keep their message and
// extensions; their paths are rebased onto the client response, so
// ["_entities", i, ...] becomes the path of element i.
//
// Failures are local: the plan keeps running and the response is partial.
// Only the end of the request context stops execution, in which case
// Execute returns the context error and no tree.
package executor
