package ledger

// Entries is a test helper that returns every entry of an in-memory ledger in
// insertion order.
func Entries(l Ledger) []Entry {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return nil
	}
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	out := make([]Entry, len(mem.entries))
	copy(out, mem.entries)
	return out
}
