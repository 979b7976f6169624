package events

import "time"

// SubgraphFetchStart is emitted before a request is sent to a subgraph.
// FetchID pairs it with the matching finish event.
type SubgraphFetchStart struct {
	FetchID uint64
	Service string
	Entity  bool
}

// SubgraphFetchFinish is emitted after a subgraph fetch completes.
// Err is the classified fetch failure, or nil when the subgraph answered.
type SubgraphFetchFinish struct {
	FetchID  uint64
	Service  string
	Entity   bool
	Err      error
	Duration time.Duration
}
