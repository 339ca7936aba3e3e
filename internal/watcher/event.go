package watcher

import (
	"path"
	"time"

	"github.com/Aman-CERP/searchme/internal/config"
	"github.com/Aman-CERP/searchme/internal/exclude"
)

// Change is the kind of a file event.
type Change int

const (
	Created Change = iota + 1
	Modified
	Removed
	// RulesChanged reports an edited .gitignore or .searchmeignore. Which
	// files are visible may have changed anywhere below it.
	RulesChanged
	// ConfigChanged reports an edited project config file.
	ConfigChanged
)

func (c Change) String() string {
	switch c {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case RulesChanged:
		return "rules_changed"
	case ConfigChanged:
		return "config_changed"
	}
	return "unknown"
}

// Event is one change below the watched root.
type Event struct {
	Path   string // relative to the root, slash separated
	Change Change
	Dir    bool
	At     time.Time
}

// Options tunes a Watcher.
type Options struct {
	// Debounce is how long the tree must stay quiet before a batch is sent.
	Debounce time.Duration
	// MaxDelay caps how long a change can wait under continuous activity.
	MaxDelay time.Duration
	// PollInterval is the snapshot period in polling mode.
	PollInterval time.Duration
	// ForcePolling skips fsnotify.
	ForcePolling bool
	// Buffer is the number of batches queued for a slow consumer.
	Buffer int
	// Policy must match the policy the indexer walks the root with.
	Policy exclude.Policy
}

// DefaultOptions returns the options used by `searchme index --watch`.
func DefaultOptions() Options {
	return Options{
		Debounce:     500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		PollInterval: 5 * time.Second,
		Buffer:       16,
		Policy:       exclude.Policy{SkipSystem: true, RespectIgnoreFiles: true},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.MaxDelay < o.Debounce {
		o.MaxDelay = 10 * o.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Buffer <= 0 {
		o.Buffer = d.Buffer
	}
	return o
}

// classify reports the special change a path stands for, if any.
func classify(rel string) (Change, bool) {
	switch path.Base(rel) {
	case ".gitignore", exclude.IgnoreFileName:
		return RulesChanged, true
	case "." + config.AppName + ".yaml", "." + config.AppName + ".yml":
		return ConfigChanged, true
	}
	return 0, false
}
