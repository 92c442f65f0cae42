package master

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dfs-lite/internal/placement"
	"dfs-lite/internal/registry"
	"dfs-lite/internal/storage"

	"github.com/google/uuid"
)

// Upload shards data across the live nodes and records the file.
//
// The file row is written before any part is sent so that parts can be
// named after its id. If some node fails, the error lists every failed node
// and nothing is rolled back: parts already delivered stay on their nodes
// and the file row stays without parts.
func (m *Master) Upload(ctx context.Context, name string, data []byte, folderID int64) (*storage.File, error) {
	if !m.Ready() {
		return nil, ErrNotReady
	}
	if folderID == 0 {
		folderID = storage.RootFolderID
	}
	if _, err := m.db.GetFolder(folderID); err != nil {
		return nil, err
	}

	nodes := m.nodes.Snapshot()
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}
	size := int64(len(data))
	avail, err := m.availableOn(nodes)
	if err != nil {
		return nil, err
	}
	if size > avail {
		return nil, fmt.Errorf("%w: need %d bytes, %d available", ErrNotEnoughSpace, size, avail)
	}

	file := &storage.File{
		Name:       name,
		Size:       size,
		UploadDate: time.Now().UTC(),
		FolderID:   folderID,
	}
	if err := m.db.CreateFile(file); err != nil {
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	byID := make(map[int64]*registry.Node, len(nodes))
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		byID[n.ID] = n
		ids[i] = n.ID
	}
	parts, err := placement.Shard(file.ID, data, ids)
	if err != nil {
		return nil, err
	}

	op := uuid.NewString()
	log.Printf("[%s] Uploading file %d (%s, %d bytes) as %d part(s)", op, file.ID, name, size, len(parts))

	failed := newFailures("upload")
	var wg sync.WaitGroup
	for _, p := range parts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := byID[p.NodeID]
			err := withSession(ctx, n, func() error {
				return n.Session.Upload(p.AccessName, p.Data)
			})
			if err != nil {
				failed.add(n.ID, fmt.Errorf("part %s: %w", p.AccessName, err))
			}
		}()
	}
	wg.Wait()

	if err := failed.err(); err != nil {
		log.Printf("[%s] Error sending file %d: %v", op, file.ID, err)
		return nil, err
	}

	rows := make([]storage.FilePart, len(parts))
	for i, p := range parts {
		rows[i] = storage.FilePart{
			FileID:        file.ID,
			NodeID:        p.NodeID,
			AccessName:    p.AccessName,
			SequenceOrder: p.SequenceOrder,
			Size:          int64(len(p.Data)),
		}
	}
	if err := m.db.CreateFileParts(rows); err != nil {
		return nil, fmt.Errorf("failed to record parts of file %d: %w", file.ID, err)
	}

	log.Printf("[%s] File %d uploaded", op, file.ID)
	return file, nil
}
