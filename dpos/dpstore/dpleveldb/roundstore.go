// Package dpleveldb contains a [dpstore.RoundStore] backed by LevelDB.
//
// Rounds are stored as [dpcodec] CBOR under "r/" followed by the
// big-endian round number, so iteration order matches round order.
// An index under "i/" followed by the round ID holds the round number.
package dpleveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gordian-engine/gdpos/dpos/dpcodec"
	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dpstore"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	roundPrefix = []byte("r/")
	indexPrefix = []byte("i/")
)

// RoundStore is a LevelDB implementation of [dpstore.RoundStore].
type RoundStore struct {
	db *leveldb.DB
}

// Open opens or creates the database at path.
func Open(path string) (*RoundStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open round database at %q: %w", path, err)
	}
	return &RoundStore{db: db}, nil
}

// OpenInMemory opens a database held entirely in memory.
func OpenInMemory() (*RoundStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory round database: %w", err)
	}
	return &RoundStore{db: db}, nil
}

func (s *RoundStore) Close() error {
	return s.db.Close()
}

func (s *RoundStore) SaveRound(ctx context.Context, r dpround.Round) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.IsZero() {
		return errors.New("cannot save zero round")
	}

	val, err := dpcodec.EncodeRound(r)
	if err != nil {
		return fmt.Errorf("failed to encode round %d: %w", r.Number(), err)
	}

	key := roundKey(r.Number())

	batch := new(leveldb.Batch)

	old, err := s.db.Get(key, nil)
	switch {
	case err == nil:
		prev, err := dpcodec.DecodeRound(old)
		if err != nil {
			return fmt.Errorf("failed to decode stored round %d: %w", r.Number(), err)
		}
		if prev.ID() != r.ID() {
			batch.Delete(indexKey(prev.ID()))
		}
	case errors.Is(err, leveldb.ErrNotFound):
		// First save of this round.
	default:
		return fmt.Errorf("failed to read round %d: %w", r.Number(), err)
	}

	batch.Put(key, val)
	batch.Put(indexKey(r.ID()), key[len(roundPrefix):])

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to save round %d: %w", r.Number(), err)
	}
	return nil
}

func (s *RoundStore) LoadRound(ctx context.Context, number uint64) (dpround.Round, error) {
	if err := ctx.Err(); err != nil {
		return dpround.Round{}, err
	}
	return s.get(roundKey(number))
}

func (s *RoundStore) LoadRoundByID(ctx context.Context, id string) (dpround.Round, error) {
	if err := ctx.Err(); err != nil {
		return dpround.Round{}, err
	}

	num, err := s.db.Get(indexKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return dpround.Round{}, dpstore.ErrRoundNotFound
		}
		return dpround.Round{}, fmt.Errorf("failed to read round index: %w", err)
	}
	return s.get(append(roundPrefix[:len(roundPrefix):len(roundPrefix)], num...))
}

func (s *RoundStore) LatestRound(ctx context.Context) (dpround.Round, error) {
	if err := ctx.Err(); err != nil {
		return dpround.Round{}, err
	}

	iter := s.db.NewIterator(util.BytesPrefix(roundPrefix), nil)
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return dpround.Round{}, fmt.Errorf("failed to find latest round: %w", err)
		}
		return dpround.Round{}, dpstore.ErrRoundNotFound
	}
	return dpcodec.DecodeRound(iter.Value())
}

func (s *RoundStore) LoadRounds(ctx context.Context, from, to uint64) ([]dpround.Round, error) {
	if from > to {
		return nil, nil
	}

	rng := &util.Range{Start: roundKey(from)}
	if to < ^uint64(0) {
		rng.Limit = roundKey(to + 1)
	} else {
		rng.Limit = util.BytesPrefix(roundPrefix).Limit
	}

	iter := s.db.NewIterator(rng, nil)
	defer iter.Release()

	var out []dpround.Round
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := dpcodec.DecodeRound(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to decode round at key %x: %w", iter.Key(), err)
		}
		out = append(out, r)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate rounds: %w", err)
	}
	return out, nil
}

func (s *RoundStore) get(key []byte) (dpround.Round, error) {
	val, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return dpround.Round{}, dpstore.ErrRoundNotFound
		}
		return dpround.Round{}, fmt.Errorf("failed to read round: %w", err)
	}
	return dpcodec.DecodeRound(val)
}

func roundKey(n uint64) []byte {
	key := make([]byte, len(roundPrefix)+8)
	copy(key, roundPrefix)
	binary.BigEndian.PutUint64(key[len(roundPrefix):], n)
	return key
}

func indexKey(id string) []byte {
	return append(indexPrefix[:len(indexPrefix):len(indexPrefix)], id...)
}
