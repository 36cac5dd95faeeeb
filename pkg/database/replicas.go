package database

import "sync/atomic"

// ReplicaSelector chooses read targets in strict round-robin order across
// all configured replicas, wrapping without bias.
type ReplicaSelector struct {
	counter  atomic.Uint64
	replicas []*PostgreSQL
}

// NewReplicaSelector creates a selector over the given replicas. The slice
// must not be empty.
func NewReplicaSelector(replicas []*PostgreSQL) *ReplicaSelector {
	if len(replicas) == 0 {
		panic("replica selector requires at least one replica")
	}
	return &ReplicaSelector{replicas: replicas}
}

// Next returns the next replica in rotation.
func (s *ReplicaSelector) Next() *PostgreSQL {
	n := s.counter.Add(1) - 1
	return s.replicas[n%uint64(len(s.replicas))]
}

// Size returns the number of replicas in rotation.
func (s *ReplicaSelector) Size() int {
	return len(s.replicas)
}
