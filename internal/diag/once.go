package diag

import (
	"fmt"
	"sync"
)

// / OnceWarner prints a diagnostic the first time it fires and silently
// / drops every call after that. Adapted from caller.Distinct_caller_t,
// / which deduplicates kernel warnings by hashing the caller's stack;
// / mmctx only ever needs one global "ASIDs disabled" notice, not a dedup
// / keyed by call site, so the call-chain hashing was dropped in favor of
// / a plain sync.Once.
type OnceWarner struct {
	once sync.Once
}

// / Warn prints msg exactly once across the lifetime of w.
func (w *OnceWarner) Warn(msg string) {
	w.once.Do(func() {
		fmt.Println(msg)
	})
}
