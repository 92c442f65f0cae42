package master

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"dfs-lite/internal/storage"
)

// Search asks every live node for parts whose contents contain substr and
// returns the files those parts belong to. A match has to lie within a
// single part. When some nodes fail, the files found on the others are
// returned together with a *PartialFailure.
func (m *Master) Search(ctx context.Context, substr string) ([]storage.File, error) {
	if substr == "" {
		return nil, fmt.Errorf("search string must not be empty")
	}

	failed := newFailures("search")
	var (
		mu      sync.Mutex
		fileIDs = make(map[int64]struct{})
		wg      sync.WaitGroup
	)
	for _, n := range m.nodes.Snapshot() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var names []string
			err := withSession(ctx, n, func() error {
				var err error
				names, err = n.Session.Search([]byte(substr))
				return err
			})
			if err != nil {
				failed.add(n.ID, err)
				return
			}
			parts, err := m.db.FindParts(n.ID, names)
			if err != nil {
				failed.add(n.ID, err)
				return
			}
			mu.Lock()
			for _, p := range parts {
				fileIDs[p.FileID] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	files := make([]storage.File, 0, len(fileIDs))
	for id := range fileIDs {
		f, err := m.db.GetFile(id)
		if err != nil {
			log.Printf("Search hit on part of missing file %d: %v", id, err)
			continue
		}
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })

	return files, failed.err()
}
