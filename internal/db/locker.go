package db

// Mode is the isolation and locking intent of a unit of work.
type Mode int

const (
	// Deferred acquires locks lazily on first access.
	Deferred Mode = iota
	// Immediate acquires write intent before the unit's first statement, so
	// read-then-write sequences inside it never race another writer.
	Immediate
)

func (m Mode) String() string {
	if m == Immediate {
		return "immediate"
	}
	return "deferred"
}

// Locker decides how a unit of work expresses exclusive intent. Stores with
// row locks lock only the rows they touch; stores without them fall back to
// one writer at a time for the whole store.
type Locker interface {
	// Begin returns the statement that opens a transaction in the given mode.
	Begin(mode Mode) string
	// ForUpdate returns the clause appended to a SELECT that locks the
	// selected rows until commit.
	ForUpdate() string
	// SkipLocked returns the clause appended to a claim SELECT so concurrent
	// claimers skip rows another transaction has locked.
	SkipLocked() string
}

// RowLocker serves stores with row-level locking (Postgres). Both modes run
// at READ COMMITTED; exclusivity comes from the row clauses.
type RowLocker struct{}

func (RowLocker) Begin(Mode) string  { return "BEGIN ISOLATION LEVEL READ COMMITTED" }
func (RowLocker) ForUpdate() string  { return " FOR UPDATE" }
func (RowLocker) SkipLocked() string { return " FOR UPDATE SKIP LOCKED" }

// StoreLocker serves stores that only lock as a whole (SQLite). An immediate
// unit takes the store's write lock up front, so row clauses are empty.
type StoreLocker struct{}

func (StoreLocker) Begin(mode Mode) string {
	if mode == Immediate {
		return "BEGIN IMMEDIATE"
	}
	return "BEGIN DEFERRED"
}
func (StoreLocker) ForUpdate() string  { return "" }
func (StoreLocker) SkipLocked() string { return "" }

// LockerFor returns the Locker matching a dialect.
func LockerFor(d Dialect) Locker {
	if d == Postgres {
		return RowLocker{}
	}
	return StoreLocker{}
}
