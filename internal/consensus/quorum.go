/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package consensus

import "sort"

// QuorumSize returns the minimum number of members (including self)
// needed for a quorum of a cluster of clusterSize: floor(N/2)+1, a strict
// majority.
func QuorumSize(clusterSize int) int {
	return clusterSize/2 + 1
}

// QuorumStrategy is the default AcknowledgementStrategy: the committed
// position is the k-th highest position among self and all followers,
// where k = ceil(clusterSize/2). For an odd cluster size that is the
// highest position held by a majority of the cluster (self included);
// for an even size k is exactly half the cluster.
func QuorumStrategy(selfPosition Position, acks map[NodeID]Position, clusterSize int) Position {
	positions := make([]Position, 0, clusterSize)
	positions = append(positions, selfPosition)
	for _, p := range acks {
		positions = append(positions, p)
	}
	// Members that have never acked count as position 0, so a leader
	// that cannot reach a quorum stalls at 0 instead of committing its
	// own position unilaterally.
	for len(positions) < clusterSize {
		positions = append(positions, 0)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] > positions[j] })

	k := (clusterSize + 1) / 2
	if k < 1 {
		k = 1
	}
	return positions[k-1]
}
