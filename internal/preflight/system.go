package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
)

const (
	// MinFreeBytes is the free space required under the data directory.
	MinFreeBytes = 100 << 20
	// MinOpenFiles is the open file limit below which parallel extraction
	// may run out of descriptors.
	MinOpenFiles = 1024
)

func diskSpace(dir string) Result {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(dir, &fs); err != nil {
		return Result{Name: "disk_space", Status: StatusFail, Required: true,
			Message: "cannot stat file system: " + err.Error()}
	}
	free := fs.Bavail * uint64(fs.Bsize)
	msg := fmt.Sprintf("%s free under %s", humanize.IBytes(free), dir)
	if free < MinFreeBytes {
		return Result{Name: "disk_space", Status: StatusFail, Required: true, Message: msg,
			Hint: fmt.Sprintf("Need %s; free some space or pass --data-dir on another volume", humanize.IBytes(MinFreeBytes))}
	}
	return pass("disk_space", msg, true)
}

func writable(dir string) Result {
	f, err := os.CreateTemp(dir, ".searchme-preflight-*")
	if err != nil {
		return Result{Name: "data_dir_writable", Status: StatusFail, Required: true,
			Message: "cannot write to " + dir, Hint: err.Error()}
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return pass("data_dir_writable", dir, true)
}

func readable(root string) Result {
	if _, err := os.ReadDir(root); err != nil {
		return Result{Name: "root_readable", Status: StatusFail, Required: true,
			Message: "cannot read " + root, Hint: err.Error()}
	}
	return pass("root_readable", root, true)
}

// openFiles warns on a low descriptor limit; fewer workers still succeed.
func openFiles() Result {
	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		return Result{Name: "file_descriptors", Status: StatusWarn,
			Message: "cannot read open file limit: " + err.Error()}
	}
	msg := fmt.Sprintf("limit %d", lim.Cur)
	if lim.Cur < MinOpenFiles {
		return Result{Name: "file_descriptors", Status: StatusWarn, Message: msg,
			Hint: fmt.Sprintf("Raise it to at least %d with 'ulimit -n' or lower index.workers", MinOpenFiles)}
	}
	return pass("file_descriptors", msg, false)
}

// existingAncestor returns dir or its closest existing parent.
func existingAncestor(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
