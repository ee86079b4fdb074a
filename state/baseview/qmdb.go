// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package baseview implements blockstm.BaseView over real and in-memory
// key-value stores.
package baseview

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	qmdb "github.com/minhd-vu/qmdb-go"

	blockstm "github.com/0xPolygon/parallel-block-executor/core/blockstm"
)

// QMDB is a blockstm.BaseView backed by a real embedded key-value engine.
// It only needs the point-read half of the teacher's ethdb/qmdb package —
// a block executor never writes through its base view, every write goes
// through the MVM and is materialized by the committer — so this adapter
// keeps the QMDB handle lifecycle and drops the ethdb.KeyValueStore
// batch/compact surface entirely.
type QMDB struct {
	handle      *qmdb.QmdbHandle
	shared      *qmdb.QmdbSharedHandle
	blockHeight int64

	log log.Logger
}

// OpenQMDB opens (initializing if necessary) a QMDB directory at path and
// returns a BaseView reading state as of blockHeight.
func OpenQMDB(path string, blockHeight int64) (*QMDB, error) {
	if err := qmdb.InitDir(path); err != nil {
		return nil, fmt.Errorf("baseview: initialize qmdb directory: %w", err)
	}

	handle, err := qmdb.New(path)
	if err != nil {
		return nil, fmt.Errorf("baseview: open qmdb handle: %w", err)
	}

	shared := handle.GetShared()
	if shared == nil {
		handle.Free()
		return nil, errors.New("baseview: failed to get qmdb shared handle")
	}

	db := &QMDB{
		handle:      handle,
		shared:      shared,
		blockHeight: blockHeight,
		log:         log.New("database", "qmdb", "path", path),
	}

	db.log.Info("opened qmdb base view", "height", blockHeight)

	return db, nil
}

// Read implements blockstm.BaseView.
func (db *QMDB) Read(k blockstm.Key) ([]byte, error) {
	raw := encodeKey(k)

	keyHash, err := qmdb.Hash(raw)
	if err != nil {
		return nil, fmt.Errorf("baseview: hash key: %w", err)
	}

	value, found, err := db.shared.ReadEntry(db.blockHeight, keyHash[:], raw)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, blockstm.ErrNotFound
	}

	return value, nil
}

// Close releases the underlying QMDB handles.
func (db *QMDB) Close() error {
	if db.shared != nil {
		db.shared.Free()
		db.shared = nil
	}

	if db.handle != nil {
		db.handle.Free()
		db.handle = nil
	}

	db.log.Info("closed qmdb base view")

	return nil
}

func encodeKey(k blockstm.Key) []byte {
	buf := make([]byte, 0, 1+len(k.Address)+len(k.Slot))
	buf = append(buf, byte(k.Kind))
	buf = append(buf, k.Address[:]...)

	if k.Kind == blockstm.KeyStorage {
		buf = append(buf, k.Slot[:]...)
	}

	return buf
}
