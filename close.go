package docgo

// Close checkpoints outstanding WAL pages and releases the datafile lock.
//
// Close is idempotent; operations after Close fail with ErrClosed.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.eng == nil {
		return nil
	}
	err := db.eng.Close()
	db.eng = nil
	return err
}
