package ticketstores

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/openmodeller/omws/ticket"
)

// Stores tickets in an embedded leveldb. Each artifact is a key; request keys
// embed their stage so that a move between stages is a transaction that deletes
// one key and puts another, and listing a stage is a prefix scan.
//
//   t/<ticket>                       ticket marker
//   m/<ticket>                       metadata record
//   l/<ticket>                       experiment log
//   r/<type>/<stage>/<ticket>        request
//   s/<ticket>                       result
//   p/<ticket>                       progress
//   d/<ticket>                       done flag
//
// leveldb takes an exclusive lock on its directory, so a leveldb store is only
// usable from one process and experiment locks are in-process.
type leveldbStore struct {
	db    *leveldb.DB
	locks *keyedMutex
}

// Creates a leveldb backed Store in dirName.
func MakeLevelDBStore(dirName string) (ticket.Store, error) {
	db, err := leveldb.OpenFile(dirName, &opt.Options{
		Compression: opt.SnappyCompression,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %s", dirName)
	}
	log.Infof("opened leveldb ticket store at %s", dirName)
	return &leveldbStore{db: db, locks: newKeyedMutex()}, nil
}

func ticketKey(id ticket.ID) []byte   { return []byte("t/" + string(id)) }
func metadataKey(id ticket.ID) []byte { return []byte("m/" + string(id)) }
func logKey(id ticket.ID) []byte      { return []byte("l/" + string(id)) }
func resultKey(id ticket.ID) []byte   { return []byte("s/" + string(id)) }
func progressKey(id ticket.ID) []byte { return []byte("p/" + string(id)) }
func doneKey(id ticket.ID) []byte     { return []byte("d/" + string(id)) }

func requestPrefix(jobType ticket.JobType, stage ticket.Stage) string {
	return fmt.Sprintf("r/%s/%s/", jobType, stage)
}

func requestKey(id ticket.ID, jobType ticket.JobType, stage ticket.Stage) []byte {
	return []byte(requestPrefix(jobType, stage) + string(id))
}

var allStages = []ticket.Stage{ticket.Pending, ticket.Runnable, ticket.Processed}

func (s *leveldbStore) get(key []byte, what string) ([]byte, error) {
	data, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, errors.Wrap(ticket.ErrNotFound, what)
	}
	return data, errors.Wrap(err, what)
}

func (s *leveldbStore) has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

// update runs fn inside a leveldb transaction and commits it when fn succeeds.
func (s *leveldbStore) update(fn func(tr *leveldb.Transaction) error) error {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return errors.Wrap(err, "opening transaction")
	}
	if err := fn(tr); err != nil {
		tr.Discard()
		return err
	}
	return errors.Wrap(tr.Commit(), "committing transaction")
}

func (s *leveldbStore) Create(jobType ticket.JobType) (ticket.ID, error) {
	return allocate(func(id ticket.ID) error {
		return s.update(func(tr *leveldb.Transaction) error {
			exists, err := tr.Has(ticketKey(id), nil)
			if err != nil {
				return err
			}
			if exists {
				return ticket.ErrExists
			}
			entry := ticket.Entry{Key: ticket.TypeKey, Value: jobType.String()}
			if err := tr.Put(ticketKey(id), []byte(jobType.String()), nil); err != nil {
				return err
			}
			return tr.Put(metadataKey(id), ticket.MarshalEntries(entry), nil)
		})
	})
}

func (s *leveldbStore) Exists(id ticket.ID) (bool, error) {
	return s.has(ticketKey(id))
}

func (s *leveldbStore) Delete(id ticket.ID, jobType ticket.JobType) error {
	batch := new(leveldb.Batch)
	for _, stage := range allStages {
		batch.Delete(requestKey(id, jobType, stage))
	}
	batch.Delete(resultKey(id))
	batch.Delete(progressKey(id))
	batch.Delete(doneKey(id))
	batch.Delete(metadataKey(id))
	batch.Delete(logKey(id))
	batch.Delete(ticketKey(id))
	return errors.Wrapf(s.db.Write(batch, nil), "deleting %s", id)
}

func (s *leveldbStore) WriteRequest(id ticket.ID, jobType ticket.JobType, stage ticket.Stage, payload []byte) error {
	return errors.Wrapf(s.db.Put(requestKey(id, jobType, stage), payload, nil), "writing %s request %s", jobType, id)
}

func (s *leveldbStore) ReadRequest(id ticket.ID, jobType ticket.JobType) ([]byte, ticket.Stage, error) {
	for _, stage := range allStages {
		data, err := s.db.Get(requestKey(id, jobType, stage), nil)
		if err == nil {
			return data, stage, nil
		}
		if err != leveldb.ErrNotFound {
			return nil, 0, errors.Wrapf(err, "reading %s request %s", jobType, id)
		}
	}
	return nil, 0, errors.Wrapf(ticket.ErrNotFound, "%s request %s", jobType, id)
}

func (s *leveldbStore) MoveRequest(id ticket.ID, jobType ticket.JobType, from, to ticket.Stage) error {
	return s.update(func(tr *leveldb.Transaction) error {
		src := requestKey(id, jobType, from)
		data, err := tr.Get(src, nil)
		if err == leveldb.ErrNotFound {
			return errors.Wrapf(ticket.ErrNotFound, "%s", src)
		}
		if err != nil {
			return err
		}
		if err := tr.Put(requestKey(id, jobType, to), data, nil); err != nil {
			return err
		}
		return tr.Delete(src, nil)
	})
}

func (s *leveldbStore) ListRequests(jobType ticket.JobType, stage ticket.Stage) ([]ticket.ID, error) {
	prefix := requestPrefix(jobType, stage)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	ids := []ticket.ID{}
	for iter.Next() {
		ids = append(ids, ticket.ID(iter.Key()[len(prefix):]))
	}
	return ids, errors.Wrap(iter.Error(), "listing requests")
}

func (s *leveldbStore) WriteResult(id ticket.ID, jobType ticket.JobType, payload []byte) error {
	return errors.Wrapf(s.db.Put(resultKey(id), payload, nil), "writing %s result %s", jobType, id)
}

func (s *leveldbStore) ReadResult(id ticket.ID, jobType ticket.JobType) ([]byte, error) {
	return s.get(resultKey(id), fmt.Sprintf("%s result %s", jobType, id))
}

func (s *leveldbStore) WriteProgress(id ticket.ID, progress int) error {
	return errors.Wrapf(s.db.Put(progressKey(id), []byte(strconv.Itoa(progress)), nil), "writing progress %s", id)
}

func (s *leveldbStore) ReadProgress(id ticket.ID) (int, error) {
	data, err := s.get(progressKey(id), "progress "+string(id))
	if err != nil {
		return 0, err
	}
	p, err := strconv.Atoi(string(data))
	return p, errors.Wrapf(err, "parsing progress of %s", id)
}

func (s *leveldbStore) MarkDone(id ticket.ID) error {
	return errors.Wrapf(s.db.Put(doneKey(id), nil, nil), "marking %s done", id)
}

func (s *leveldbStore) IsDone(id ticket.ID) (bool, error) {
	return s.has(doneKey(id))
}

func (s *leveldbStore) AppendMetadata(id ticket.ID, entries ...ticket.Entry) error {
	return s.appendValue(metadataKey(id), id, ticket.MarshalEntries(entries...))
}

func (s *leveldbStore) ReadMetadata(id ticket.ID) (*ticket.Metadata, error) {
	data, err := s.get(metadataKey(id), "metadata "+string(id))
	if err != nil {
		return nil, err
	}
	return ticket.ParseMetadata(data)
}

func (s *leveldbStore) AppendLog(id ticket.ID, line string) error {
	return s.appendValue(logKey(id), id, []byte(line))
}

func (s *leveldbStore) ReadLog(id ticket.ID) ([]byte, error) {
	exists, err := s.Exists(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Wrapf(ticket.ErrNotFound, "ticket %s", id)
	}
	data, err := s.db.Get(logKey(id), nil)
	if err == leveldb.ErrNotFound {
		return []byte{}, nil
	}
	return data, err
}

// appendValue is a read-modify-write of key inside one transaction.
func (s *leveldbStore) appendValue(key []byte, id ticket.ID, data []byte) error {
	return s.update(func(tr *leveldb.Transaction) error {
		exists, err := tr.Has(ticketKey(id), nil)
		if err != nil {
			return err
		}
		if !exists {
			return errors.Wrapf(ticket.ErrNotFound, "ticket %s", id)
		}
		current, err := tr.Get(key, nil)
		if err != nil && err != leveldb.ErrNotFound {
			return err
		}
		return tr.Put(key, append(current, data...), nil)
	})
}

func (s *leveldbStore) Lock(ctx context.Context, id ticket.ID) (ticket.Unlocker, error) {
	return s.locks.Lock(ctx, id)
}

func (s *leveldbStore) Close() error {
	return s.db.Close()
}
