// Package integration holds end-to-end tests that run the indexer, the
// query engine and the session store together against real files.
package integration
