package ticketstores

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/openmodeller/omws/ticket"
)

// Stores tickets as files in a single directory, one file per artifact:
//
//   <ticket>               exists once the ticket is created; experiment log
//   job.<ticket>           metadata record, KEY=value lines
//   <type>_pend.<ticket>   blocked request
//   <type>_req.<ticket>    runnable request
//   <type>_proc.<ticket>   claimed or retired request
//   <type>_resp.<ticket>   result
//   prog.<ticket>          progress, text integer
//   done.<ticket>          terminal flag, existence only
//
// The layout is shared with external executors, which pick up *_req.* files
// by renaming them and write prog/resp/done files themselves.
type fileStore struct {
	dirName string
}

const (
	metadataPrefix = "job."
	progressPrefix = "prog."
	donePrefix     = "done."
	responseStage  = "resp"
	tempPrefix     = ".tmp-"
)

// Creates a file backed Store rooted at dirName, creating the directory if needed.
func MakeFileStore(dirName string) (ticket.Store, error) {
	if err := os.MkdirAll(dirName, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating ticket directory %s", dirName)
	}
	return &fileStore{dirName: dirName}, nil
}

func (s *fileStore) path(name string) string {
	return filepath.Join(s.dirName, name)
}

func (s *fileStore) ticketFile(id ticket.ID) string {
	return s.path(string(id))
}

func (s *fileStore) metadataFile(id ticket.ID) string {
	return s.path(metadataPrefix + string(id))
}

func (s *fileStore) requestFile(id ticket.ID, jobType ticket.JobType, stage ticket.Stage) string {
	return s.path(fmt.Sprintf("%s_%s.%s", jobType, stage, id))
}

func (s *fileStore) resultFile(id ticket.ID, jobType ticket.JobType) string {
	return s.path(fmt.Sprintf("%s_%s.%s", jobType, responseStage, id))
}

func (s *fileStore) progressFile(id ticket.ID) string {
	return s.path(progressPrefix + string(id))
}

func (s *fileStore) doneFile(id ticket.ID) string {
	return s.path(donePrefix + string(id))
}

func (s *fileStore) Create(jobType ticket.JobType) (ticket.ID, error) {
	id, err := allocate(func(id ticket.ID) error {
		f, err := os.OpenFile(s.ticketFile(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if os.IsExist(err) {
			return ticket.ErrExists
		}
		if err != nil {
			return errors.Wrap(err, "creating ticket file")
		}
		return f.Close()
	})
	if err != nil {
		return "", err
	}

	entry := ticket.Entry{Key: ticket.TypeKey, Value: jobType.String()}
	if err := s.AppendMetadata(id, entry); err != nil {
		os.Remove(s.ticketFile(id))
		return "", err
	}
	return id, nil
}

func (s *fileStore) Exists(id ticket.ID) (bool, error) {
	_, err := os.Stat(s.ticketFile(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *fileStore) Delete(id ticket.ID, jobType ticket.JobType) error {
	files := []string{
		s.requestFile(id, jobType, ticket.Pending),
		s.requestFile(id, jobType, ticket.Runnable),
		s.requestFile(id, jobType, ticket.Processed),
		s.resultFile(id, jobType),
		s.progressFile(id),
		s.doneFile(id),
		s.metadataFile(id),
		s.ticketFile(id),
	}
	var firstErr error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrapf(err, "removing %s", f)
		}
	}
	return firstErr
}

// writeFileAtomic writes data to a temporary file in the store directory and
// renames it into place, so readers never observe a partial document.
func (s *fileStore) writeFileAtomic(name string, data []byte) error {
	tmp, err := ioutil.TempFile(s.dirName, tempPrefix)
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", name)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "syncing %s", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", name)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), name), "renaming into %s", name)
}

func readFile(name string) ([]byte, error) {
	data, err := ioutil.ReadFile(name)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ticket.ErrNotFound, filepath.Base(name))
	}
	return data, err
}

func (s *fileStore) WriteRequest(id ticket.ID, jobType ticket.JobType, stage ticket.Stage, payload []byte) error {
	return s.writeFileAtomic(s.requestFile(id, jobType, stage), payload)
}

func (s *fileStore) ReadRequest(id ticket.ID, jobType ticket.JobType) ([]byte, ticket.Stage, error) {
	for _, stage := range []ticket.Stage{ticket.Pending, ticket.Runnable, ticket.Processed} {
		data, err := readFile(s.requestFile(id, jobType, stage))
		if err == nil {
			return data, stage, nil
		}
		if !ticket.IsNotFound(err) {
			return nil, 0, err
		}
	}
	return nil, 0, errors.Wrapf(ticket.ErrNotFound, "%s request %s", jobType, id)
}

// MoveRequest renames the request file. rename(2) is atomic, so of two
// concurrent movers only one finds the source file.
func (s *fileStore) MoveRequest(id ticket.ID, jobType ticket.JobType, from, to ticket.Stage) error {
	src := s.requestFile(id, jobType, from)
	err := os.Rename(src, s.requestFile(id, jobType, to))
	if os.IsNotExist(err) {
		return errors.Wrap(ticket.ErrNotFound, filepath.Base(src))
	}
	return errors.Wrapf(err, "moving %s", filepath.Base(src))
}

func (s *fileStore) ListRequests(jobType ticket.JobType, stage ticket.Stage) ([]ticket.ID, error) {
	prefix := fmt.Sprintf("%s_%s.", jobType, stage)
	files, err := ioutil.ReadDir(s.dirName)
	if err != nil {
		return nil, err
	}
	ids := []ticket.ID{}
	for _, f := range files {
		if strings.HasPrefix(f.Name(), prefix) {
			ids = append(ids, ticket.ID(strings.TrimPrefix(f.Name(), prefix)))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *fileStore) WriteResult(id ticket.ID, jobType ticket.JobType, payload []byte) error {
	return s.writeFileAtomic(s.resultFile(id, jobType), payload)
}

func (s *fileStore) ReadResult(id ticket.ID, jobType ticket.JobType) ([]byte, error) {
	return readFile(s.resultFile(id, jobType))
}

func (s *fileStore) WriteProgress(id ticket.ID, progress int) error {
	return s.writeFileAtomic(s.progressFile(id), []byte(strconv.Itoa(progress)))
}

// ReadProgress parses the first line of the progress file. An empty file reads 0,
// as executors create the file before reporting anything.
func (s *fileStore) ReadProgress(id ticket.ID) (int, error) {
	data, err := readFile(s.progressFile(id))
	if err != nil {
		return 0, err
	}
	line := string(data)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, nil
	}
	p, err := strconv.Atoi(line)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing progress of %s", id)
	}
	return p, nil
}

func (s *fileStore) MarkDone(id ticket.ID) error {
	f, err := os.OpenFile(s.doneFile(id), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "marking %s done", id)
	}
	return f.Close()
}

func (s *fileStore) IsDone(id ticket.ID) (bool, error) {
	_, err := os.Stat(s.doneFile(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *fileStore) AppendMetadata(id ticket.ID, entries ...ticket.Entry) error {
	return s.appendFile(s.metadataFile(id), ticket.MarshalEntries(entries...))
}

func (s *fileStore) ReadMetadata(id ticket.ID) (*ticket.Metadata, error) {
	data, err := readFile(s.metadataFile(id))
	if err != nil {
		return nil, err
	}
	return ticket.ParseMetadata(data)
}

// The ticket file doubles as the experiment log.
func (s *fileStore) AppendLog(id ticket.ID, line string) error {
	if ok, err := s.Exists(id); err != nil || !ok {
		if err == nil {
			err = errors.Wrapf(ticket.ErrNotFound, "ticket %s", id)
		}
		return err
	}
	return s.appendFile(s.ticketFile(id), []byte(line))
}

func (s *fileStore) ReadLog(id ticket.ID) ([]byte, error) {
	return readFile(s.ticketFile(id))
}

func (s *fileStore) appendFile(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening %s", filepath.Base(name))
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "appending to %s", filepath.Base(name))
	}
	return f.Sync()
}

func (s *fileStore) Lock(ctx context.Context, id ticket.ID) (ticket.Unlocker, error) {
	return lockFile(ctx, s.ticketFile(id))
}

func (s *fileStore) Close() error {
	return nil
}
