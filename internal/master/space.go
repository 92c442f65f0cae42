package master

import (
	"dfs-lite/internal/registry"
	"dfs-lite/internal/storage"
)

// NodeInfo describes a live node and what is left of its capacity.
type NodeInfo struct {
	ID        int64              `json:"id"`
	Address   string             `json:"address"`
	Status    storage.NodeStatus `json:"status"`
	Capacity  int64              `json:"capacity"`
	Used      int64              `json:"used"`
	Available int64              `json:"available"`
}

// TotalSpace is the sum of the declared capacities of the live nodes.
func (m *Master) TotalSpace() int64 {
	var total int64
	for _, n := range m.nodes.Snapshot() {
		total += n.Capacity
	}
	return total
}

// SpaceAvailable sums, over the live nodes, capacity minus everything
// assigned to the node. Lost parts still count against their node.
func (m *Master) SpaceAvailable() (int64, error) {
	return m.availableOn(m.nodes.Snapshot())
}

func (m *Master) availableOn(nodes []*registry.Node) (int64, error) {
	used, err := m.db.UsedSpace()
	if err != nil {
		return 0, err
	}
	var avail int64
	for _, n := range nodes {
		avail += n.Capacity - used[n.ID]
	}
	return avail, nil
}

// NodeSpaceAvailable reports the space left on one live node.
func (m *Master) NodeSpaceAvailable(id int64) (int64, error) {
	n, ok := m.nodes.Get(id)
	if !ok {
		return 0, storage.ErrNodeNotFound
	}
	used, err := m.db.UsedSpace()
	if err != nil {
		return 0, err
	}
	return n.Capacity - used[id], nil
}

// ListNodes returns the live nodes in registry order.
func (m *Master) ListNodes() ([]NodeInfo, error) {
	used, err := m.db.UsedSpace()
	if err != nil {
		return nil, err
	}
	nodes := m.nodes.Snapshot()
	infos := make([]NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		infos = append(infos, NodeInfo{
			ID:        n.ID,
			Address:   n.Address,
			Status:    n.Status(),
			Capacity:  n.Capacity,
			Used:      used[n.ID],
			Available: n.Capacity - used[n.ID],
		})
	}
	return infos, nil
}
