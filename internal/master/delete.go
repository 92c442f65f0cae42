package master

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"dfs-lite/internal/registry"
	"dfs-lite/internal/storage"

	"github.com/google/uuid"
)

// Delete removes a file and all of its part rows. Parts on nodes that are
// not live, and parts the node failed to delete, move to the lost-part
// ledger so their space stays charged. The file row goes however many parts
// the nodes reclaimed; a *PartialFailure reports the ones they did not. Only
// when a part row itself cannot be cleared is the file row kept, so the
// delete can be retried.
//
// Once started, the fan-out is not cancelled with ctx: a part that was
// never attempted must not end up in the lost ledger.
func (m *Master) Delete(ctx context.Context, id int64) error {
	ctx = context.WithoutCancel(ctx)

	if _, err := m.db.GetFile(id); err != nil {
		return err
	}
	parts, err := m.db.ListFileParts(id)
	if err != nil {
		return err
	}

	op := uuid.NewString()
	log.Printf("[%s] Deleting file %d (%d part(s))", op, id, len(parts))

	type attempt struct {
		node *registry.Node
		part storage.FilePart
		err  error
	}
	var attempts []*attempt
	var metaErrs []error
	for _, p := range parts {
		n, ok := m.nodes.Get(p.NodeID)
		if !ok {
			if err := m.losePart(op, p); err != nil {
				metaErrs = append(metaErrs, err)
			}
			continue
		}
		attempts = append(attempts, &attempt{node: n, part: p})
	}

	var wg sync.WaitGroup
	for _, a := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.err = withSession(ctx, a.node, func() error {
				return a.node.Session.Delete(a.part.AccessName)
			})
		}()
	}
	wg.Wait()

	failed := newFailures("delete")
	for _, a := range attempts {
		if a.err != nil {
			failed.add(a.node.ID, fmt.Errorf("part %s: %w", a.part.AccessName, a.err))
			if err := m.losePart(op, a.part); err != nil {
				metaErrs = append(metaErrs, err)
			}
			continue
		}
		if err := m.db.DeleteFilePart(a.part.ID); err != nil {
			metaErrs = append(metaErrs, fmt.Errorf("remove part row %d: %w", a.part.ID, err))
		}
	}

	if len(metaErrs) > 0 {
		err := errors.Join(metaErrs...)
		log.Printf("[%s] Keeping file %d, part rows left behind: %v", op, id, err)
		return fmt.Errorf("failed to clear parts of file %d: %w", id, err)
	}

	if err := m.db.DeleteFile(id); err != nil {
		return fmt.Errorf("failed to delete file record %d: %w", id, err)
	}

	if err := failed.err(); err != nil {
		log.Printf("[%s] File %d deleted with unreclaimed parts: %v", op, id, err)
		return err
	}
	log.Printf("[%s] File %d deleted", op, id)
	return nil
}

func (m *Master) losePart(op string, p storage.FilePart) error {
	if err := m.db.MarkPartLost(p); err != nil {
		return fmt.Errorf("record lost part %s: %w", p.AccessName, err)
	}
	log.Printf("[%s] Part %s on node %d recorded as lost", op, p.AccessName, p.NodeID)
	return nil
}
