package hooks

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/ticket"
)

// ExperimentField names the log field that routes an entry into an experiment log.
const ExperimentField = "experiment"

// fields that describe the log call rather than the event
var skippedFields = map[string]bool{
	ExperimentField: true,
	"file:line":     true,
}

type experimentLogHook struct {
	store ticket.Store
}

// NewExperimentLogHook copies every entry at info level or above that carries an
// "experiment" field into that experiment's log, where clients read it back.
func NewExperimentLogHook(store ticket.Store) log.Hook {
	return &experimentLogHook{store: store}
}

func (h *experimentLogHook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel, log.InfoLevel}
}

// Fire never logs: a failing append would otherwise re-enter the hook.
func (h *experimentLogHook) Fire(entry *log.Entry) error {
	v, ok := entry.Data[ExperimentField]
	if !ok {
		return nil
	}
	id := ticket.ID(fmt.Sprint(v))
	if err := h.store.AppendLog(id, formatLogLine(entry)); err != nil && !ticket.IsNotFound(err) {
		return err
	}
	return nil
}

func formatLogLine(entry *log.Entry) string {
	var buf bytes.Buffer
	buf.WriteString(entry.Time.UTC().Format(time.RFC3339))
	buf.WriteString(" [")
	buf.WriteString(entry.Level.String())
	buf.WriteString("] ")
	buf.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if !skippedFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, " %s=%v", k, entry.Data[k])
	}
	buf.WriteByte('\n')
	return buf.String()
}
