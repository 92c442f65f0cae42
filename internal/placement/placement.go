// Package placement decides how a file is split across the live nodes.
package placement

import (
	"errors"
	"fmt"
)

var ErrNoNodes = errors.New("no live nodes to place parts on")

// Part is one contiguous slice of a file bound for a single node.
type Part struct {
	NodeID        int64
	AccessName    string
	SequenceOrder int
	Data          []byte
}

// AccessName is the node-local handle of part i of a file.
func AccessName(fileID int64, i int) string {
	return fmt.Sprintf("%d_%d", fileID, i)
}

// Shard splits data into ceil(len/n) sized slices, one per node in the given
// order; the last slice is clipped to the end of data. Nodes past the end of
// data get no part, and an empty file becomes a single empty part on the
// first node.
func Shard(fileID int64, data []byte, nodeIDs []int64) ([]Part, error) {
	n := len(nodeIDs)
	if n == 0 {
		return nil, ErrNoNodes
	}

	size := len(data)
	split := (size + n - 1) / n
	if split == 0 {
		return []Part{{NodeID: nodeIDs[0], AccessName: AccessName(fileID, 0), Data: data}}, nil
	}

	parts := make([]Part, 0, n)
	for i, nodeID := range nodeIDs {
		start := i * split
		if start >= size {
			break
		}
		end := min(start+split, size)
		parts = append(parts, Part{
			NodeID:        nodeID,
			AccessName:    AccessName(fileID, i),
			SequenceOrder: i,
			Data:          data[start:end],
		})
	}
	return parts, nil
}
