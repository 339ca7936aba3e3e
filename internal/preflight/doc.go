// Package preflight checks that the machine can hold and build an index
// before any work starts.
//
// The checks cover:
//   - Free disk space under the data directory
//   - Write access to the data directory
//   - Read access to the directory being indexed
//   - The open file limit
//   - Reachability of the embedding and chat models (advisory)
//
// A marker file in the data directory records a passing run so later runs
// can skip the checks:
//
//	if preflight.NeedsCheck(dataDir) {
//	    results := preflight.New(opts...).RunAll(ctx, preflight.Target{DataDir: dataDir, Root: root})
//	    ...
//	}
package preflight
