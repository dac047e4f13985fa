// Package store 会话的持久化，基于 leveldb
package store

import (
	"encoding/json"
	"sort"
	"strings"

	"bscanner/internal/state"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrNotFound = errors.New("session not found")

const (
	sessionPrefix = "session/"
	resultPrefix  = "result/"
)

type SessionStore struct {
	db *leveldb.DB
}

// NewSessionStore opens the store at path. If path is empty, uses in-memory storage.
func NewSessionStore(path string) (*SessionStore, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "leveldb.Open")
	}
	return &SessionStore{db: db}, nil
}

func (s *SessionStore) Put(name string, session *state.InitialState) error {
	data, err := session.Marshal()
	if err != nil {
		return err
	}
	return errors.Wrapf(s.db.Put([]byte(sessionPrefix+name), data, nil), "Put %s", name)
}

func (s *SessionStore) Get(name string) (*state.InitialState, error) {
	data, err := s.db.Get([]byte(sessionPrefix+name), nil)
	if err == leveldb.ErrNotFound {
		return nil, errors.Wrapf(ErrNotFound, "%s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "Get %s", name)
	}
	return state.UnmarshalInitialState(data)
}

// Delete drops the session and its last result.
func (s *SessionStore) Delete(name string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(sessionPrefix + name))
	batch.Delete([]byte(resultPrefix + name))
	return errors.Wrapf(s.db.Write(batch, nil), "Delete %s", name)
}

// List returns the session names, sorted.
func (s *SessionStore) List() ([]string, error) {
	var names []string
	iter := s.db.NewIterator(util.BytesPrefix([]byte(sessionPrefix)), nil)
	for iter.Next() {
		names = append(names, strings.TrimPrefix(string(iter.Key()), sessionPrefix))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate sessions")
	}
	sort.Strings(names)
	return names, nil
}

// PutResult stores the outcome of the last run of a session as JSON.
func (s *SessionStore) PutResult(name string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}
	return errors.Wrapf(s.db.Put([]byte(resultPrefix+name), data, nil), "PutResult %s", name)
}

// GetResult decodes the stored result of a session into v.
func (s *SessionStore) GetResult(name string, v interface{}) error {
	data, err := s.db.Get([]byte(resultPrefix+name), nil)
	if err == leveldb.ErrNotFound {
		return errors.Wrapf(ErrNotFound, "result %s", name)
	}
	if err != nil {
		return errors.Wrapf(err, "GetResult %s", name)
	}
	return errors.Wrap(json.Unmarshal(data, v), "json.Unmarshal")
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}
