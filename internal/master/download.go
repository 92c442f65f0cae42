package master

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"

	"dfs-lite/internal/registry"
	"dfs-lite/internal/storage"

	"github.com/google/uuid"
)

// Download reassembles a file from its parts. Every position in the part
// sequence must be held by a live node before any part is fetched; there
// are no partial downloads.
func (m *Master) Download(ctx context.Context, id int64) (*storage.File, []byte, error) {
	file, err := m.db.GetFile(id)
	if err != nil {
		return nil, nil, err
	}
	parts, err := m.db.ListFileParts(id)
	if err != nil {
		return nil, nil, err
	}
	if len(parts) == 0 {
		return nil, nil, fmt.Errorf("%w: file %d has no parts", ErrPartsUnavailable, id)
	}

	numParts := 0
	for _, p := range parts {
		numParts = max(numParts, p.SequenceOrder+1)
	}

	type source struct {
		node *registry.Node
		part storage.FilePart
	}
	sources := make([]*source, numParts)
	for _, p := range parts {
		if sources[p.SequenceOrder] != nil {
			continue
		}
		if n, ok := m.nodes.Get(p.NodeID); ok {
			sources[p.SequenceOrder] = &source{node: n, part: p}
		}
	}
	var missing []int
	for i, s := range sources {
		if s == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: file %d, part(s) %v", ErrPartsUnavailable, id, missing)
	}

	op := uuid.NewString()
	log.Printf("[%s] Downloading file %d from %d part(s)", op, id, numParts)

	results := make([][]byte, numParts)
	failed := newFailures("download")
	var wg sync.WaitGroup
	for i, s := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var data []byte
			err := withSession(ctx, s.node, func() error {
				var err error
				data, err = s.node.Session.Download(s.part.AccessName)
				return err
			})
			if err != nil {
				failed.add(s.node.ID, fmt.Errorf("part %s: %w", s.part.AccessName, err))
				return
			}
			results[i] = data
		}()
	}
	wg.Wait()

	if err := failed.err(); err != nil {
		log.Printf("[%s] Error receiving file %d: %v", op, id, err)
		return nil, nil, err
	}

	data := bytes.Join(results, nil)
	log.Printf("[%s] File %d downloaded (%d bytes)", op, id, len(data))
	return file, data, nil
}
