package services

import (
	"fmt"
	"hash/fnv"
	"sort"

	"taskmesh.route/internal/core/domain"
)

// Fingerprint summarizes a task's routing-relevant attributes plus a coarse
// agent-pool signature into a cache key. It is a pure function of its
// inputs: same task shape and same pool state always produce the same key.
// Task IDs deliberately do not participate, so equivalent submissions share
// cache entries.
func Fingerprint(task *domain.Task, poolSignature string) string {
	h := fnv.New64a()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{'|'})
	}
	write(task.Type)
	write(string(task.Priority))

	reqs := append([]domain.Requirement(nil), task.Requirements...)
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Type < reqs[j].Type })
	for _, r := range reqs {
		write(fmt.Sprintf("%s:%.4f:%.4f", r.Type, r.MinProficiency, r.Weight))
	}
	write(poolSignature)
	return fmt.Sprintf("%016x", h.Sum64())
}
