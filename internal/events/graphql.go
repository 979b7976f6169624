package events

import "time"

// OperationStart is emitted before a client operation is planned and run.
type OperationStart struct {
	OperationName string
	OperationType string
}

// OperationFinish is emitted after a client operation completes.
type OperationFinish struct {
	OperationName string
	OperationType string
	ErrorCount    int
	Duration      time.Duration
}

// PlanCacheLookup is emitted for every plan cache access. Shared is set when
// a miss joined a build already in flight.
type PlanCacheLookup struct {
	Hit    bool
	Shared bool
}

// PlanBuilt is emitted after the planner ran on a cache miss.
type PlanBuilt struct {
	Err      error
	Duration time.Duration
}

// SchemaLoaded is emitted when the router switches to a new supergraph.
type SchemaLoaded struct {
	Version   string
	Subgraphs int
}
