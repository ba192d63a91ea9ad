package ticketstores

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/ticket"
)

const (
	FileStoreType    = "file"
	LevelDBStoreType = "leveldb"
	MemoryStoreType  = "memory"
)

// MakeStore builds the Store named by storeType rooted at dirName.
func MakeStore(storeType, dirName string) (ticket.Store, error) {
	log.Infof("making %s ticket store (directory: %q)", storeType, dirName)
	switch storeType {
	case FileStoreType:
		return MakeFileStore(dirName)
	case LevelDBStoreType:
		return MakeLevelDBStore(dirName)
	case MemoryStoreType:
		return MakeInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown ticket store type %q, expected one of %s, %s, %s",
			storeType, FileStoreType, LevelDBStoreType, MemoryStoreType)
	}
}
