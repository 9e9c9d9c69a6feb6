package core

import "github.com/google/uuid"

// ReplicaID identifies one instance of the database in the sync graph.
// Every LWW write is tagged with the ReplicaID of the replica that made it,
// so that concurrent writes to the same field can be ordered deterministically
// even when their logical counters collide.
type ReplicaID string

// NewReplicaID allocates a random replica identity. Two replicas started
// independently will not collide with overwhelming probability.
func NewReplicaID() ReplicaID {
	return ReplicaID(uuid.NewString())
}
