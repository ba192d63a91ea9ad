package ticket

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Metadata keys.
const (
	TypeKey       = "TYPE"
	ExperimentKey = "EXP"
	PrevKey       = "PREV"
	NextKey       = "NEXT"
	JobsKey       = "JOBS"
	IDsKey        = "IDS"
)

// Entry is one KEY=value line of a metadata record.
type Entry struct {
	Key   string
	Value string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s=%s", e.Key, e.Value)
}

// Metadata is the append-only record kept for every ticket. Entries are
// never rewritten; a lookup returns the most recently appended value.
type Metadata struct {
	Entries []Entry
}

// ParseMetadata reads KEY=value lines. Blank lines and lines without '=' are skipped.
func ParseMetadata(data []byte) (*Metadata, error) {
	m := &Metadata{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		m.Entries = append(m.Entries, Entry{Key: line[:idx], Value: line[idx+1:]})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading metadata")
	}
	return m, nil
}

// Marshal renders entries in append order, one per line.
func (m *Metadata) Marshal() []byte {
	return MarshalEntries(m.Entries...)
}

func MarshalEntries(entries ...Entry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(e.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func (m *Metadata) Get(key string) (string, bool) {
	for i := len(m.Entries) - 1; i >= 0; i-- {
		if m.Entries[i].Key == key {
			return m.Entries[i].Value, true
		}
	}
	return "", false
}

func (m *Metadata) Type() (JobType, error) {
	v, ok := m.Get(TypeKey)
	if !ok {
		return UnknownJob, errors.New("metadata has no TYPE")
	}
	return ParseJobType(v)
}

// Experiment returns the owning experiment, if any.
func (m *Metadata) Experiment() (ID, bool) {
	v, ok := m.Get(ExperimentKey)
	if !ok || v == "" {
		return "", false
	}
	return ID(v), true
}

// Prev returns the upstream edges stored as role_ticket pairs.
func (m *Metadata) Prev() ([]Edge, error) {
	v, _ := m.Get(PrevKey)
	return ParseEdges(v)
}

func (m *Metadata) Next() []ID {
	v, _ := m.Get(NextKey)
	return splitIDs(v)
}

// Jobs returns the members of an experiment in JOBS order.
func (m *Metadata) Jobs() []ID {
	v, _ := m.Get(JobsKey)
	return splitIDs(v)
}

// LogicalIDs returns the client supplied ids, parallel to Jobs.
func (m *Metadata) LogicalIDs() []string {
	v, _ := m.Get(IDsKey)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func splitIDs(v string) []ID {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	ids := make([]ID, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			ids = append(ids, ID(p))
		}
	}
	return ids
}

// ParseEdges parses "role_ticket,role_ticket". Unknown roles are an error.
func ParseEdges(v string) ([]Edge, error) {
	if v == "" {
		return nil, nil
	}
	var edges []Edge
	for _, part := range strings.Split(v, ",") {
		idx := strings.Index(part, "_")
		if idx <= 0 || idx == len(part)-1 {
			return nil, errors.Errorf("malformed dependency %q", part)
		}
		role, err := ParseRole(part[:idx])
		if err != nil {
			return nil, err
		}
		edges = append(edges, Edge{Producer: ID(part[idx+1:]), Role: role})
	}
	return edges, nil
}

func FormatEdges(edges []Edge) string {
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = fmt.Sprintf("%s_%s", e.Role, e.Producer)
	}
	return strings.Join(parts, ",")
}

func FormatIDs(ids []ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
