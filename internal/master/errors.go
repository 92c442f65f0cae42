package master

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNoNodes          = errors.New("no connected storage nodes")
	ErrNotEnoughSpace   = errors.New("not enough space available")
	ErrPartsUnavailable = errors.New("not all file parts are available from the connected nodes")
	ErrNotReady         = errors.New("master is still waiting for restarted nodes")
)

// PartialFailure lists the nodes whose part of an operation failed. Sibling
// parts are not affected by a failure; the operation reports them all at
// once after every node has answered.
type PartialFailure struct {
	Op     string
	Errors map[int64]string
}

func (e *PartialFailure) Error() string {
	ids := make([]int64, 0, len(e.Errors))
	for id := range e.Errors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	msgs := make([]string, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, fmt.Sprintf("node %d: %s", id, e.Errors[id]))
	}
	return fmt.Sprintf("%s failed on %d node(s): %s", e.Op, len(ids), strings.Join(msgs, "; "))
}

// failures collects per-node errors from concurrent part tasks.
type failures struct {
	op   string
	mu   sync.Mutex
	errs map[int64]string
}

func newFailures(op string) *failures {
	return &failures{op: op, errs: make(map[int64]string)}
}

func (f *failures) add(nodeID int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.errs[nodeID]; ok {
		f.errs[nodeID] = prev + "; " + err.Error()
		return
	}
	f.errs[nodeID] = err.Error()
}

// err returns nil when no task failed.
func (f *failures) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) == 0 {
		return nil
	}
	return &PartialFailure{Op: f.op, Errors: f.errs}
}
