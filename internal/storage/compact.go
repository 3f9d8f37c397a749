package storage

import (
	"fmt"
	"os"

	"go.etcd.io/bbolt"
)

// Backup writes a consistent point-in-time copy of the database to path
// (cmd/server runs this on a ticker). bbolt already guarantees durability
// on every committed write, so this exists purely for off-box
// backup/restore, not crash recovery.
func (s *Store) Backup(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer f.Close()

	return s.db.View(func(tx *bbolt.Tx) error {
		_, err := tx.WriteTo(f)
		return err
	})
}
