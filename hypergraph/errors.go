package hypergraph

import "errors"

var (
	errSelfLoop           = errors.New("hypergraph: self-loops are forbidden")
	errUnknownNode        = errors.New("hypergraph: node does not exist")
	errEmptyHyperedgeSet  = errors.New("hypergraph: hyperedge sources and targets must be non-empty")
	errDuplicateHyperedge = errors.New("hypergraph: duplicate (sources,targets) hyperedge")
)
