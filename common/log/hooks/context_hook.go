package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

type contextHook struct {
}

// NewContextHook adds a "file:line" field naming the call site of every entry.
func NewContextHook() log.Hook {
	return contextHook{}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	if site, ok := callSite(string(debug.Stack())); ok {
		entry.Data["file:line"] = site
	}
	return nil
}

// callSite finds the first frame outside logrus and this package in a
// debug.Stack dump. Frames are "function\n\tfile:line +offset" pairs.
func callSite(stack string) (string, bool) {
	lines := strings.Split(stack, "\n")
	for i := 1; i+1 < len(lines); i++ {
		fn := lines[i]
		if strings.HasPrefix(fn, "\t") || strings.Contains(fn, "sirupsen/logrus") ||
			strings.Contains(fn, "runtime/debug") || strings.Contains(fn, "hooks.contextHook") {
			continue
		}
		loc := strings.TrimSpace(lines[i+1])
		if idx := strings.LastIndex(loc, " +"); idx >= 0 {
			loc = loc[:idx]
		}
		parts := strings.Split(loc, "omws/")
		return parts[len(parts)-1], true
	}
	return "", false
}
