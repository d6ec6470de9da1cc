// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

func (s *Store) indexPath() string { return filepath.Join(s.Root, "index.badger") }

func (s *Store) openIndex() (*badger.DB, error) {
	opts := badger.DefaultOptions(s.indexPath()).WithLogger(nil)
	return badger.Open(opts)
}

// RebuildIndex scans the journal once and rebuilds an op_id -> byte
// offset badger index. The journal remains the sole source of truth for
// Query/Undo/Stats; this index only accelerates LookupOffset for callers
// (e.g. a CLI "history --operation ID" lookup) that want to avoid a full
// scan on a large journal. It is safe to delete and rebuild at any time.
func (s *Store) RebuildIndex() error {
	db, err := s.openIndex()
	if err != nil {
		return fmt.Errorf("open history index: %w", err)
	}
	defer db.Close()

	f, err := os.Open(s.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	return db.Update(func(txn *badger.Txn) error {
		var offset int64
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			lineLen := int64(len(line)) + 1

			var op Operation
			if err := json.Unmarshal(line, &op); err == nil && op.OpID != "" {
				buf := make([]byte, 8)
				binary.BigEndian.PutUint64(buf, uint64(offset))
				if err := txn.Set([]byte(op.OpID), buf); err != nil {
					return err
				}
			}
			offset += lineLen
		}
		return scanner.Err()
	})
}

// LookupOffset returns the byte offset of opID's record in the journal,
// consulting the badger index built by RebuildIndex. It returns ok=false
// if the index has no entry (including when the index has never been
// built), in which case the caller should fall back to a full scan.
func (s *Store) LookupOffset(opID string) (offset int64, ok bool) {
	db, err := s.openIndex()
	if err != nil {
		return 0, false
	}
	defer db.Close()

	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(opID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt index entry for %s", opID)
			}
			offset = int64(binary.BigEndian.Uint64(val))
			ok = true
			return nil
		})
	})
	if err != nil {
		return 0, false
	}
	return offset, ok
}
