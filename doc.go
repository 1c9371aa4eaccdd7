// Package pagestore is an embedded, single-process storage library: a
// paging engine over fixed-size blocks, a write-ahead journal for atomic
// transactions, a best-fit block allocator, a B+tree ordered index over
// fixed-size key/value records, and a garbage-collected blob heap for
// variable-length payloads.
//
// A [Database] ties all five together behind one file pair (the database
// file and its journal log) and one in-process writer, per §5's single
// writer rule. [Create] initializes a new database file; [Open] resumes an
// existing one. Mutating calls made outside an explicit [Database.Begin] run
// in their own implicit transaction.
//
//	db, err := pagestore.Create("my.db", "my.db.log", pagestore.Options{
//	    KeySize:   8,
//	    ValueSize: 64,
//	})
//	if err != nil {
//	    // ...
//	}
//	defer db.Close()
//
//	_, err = db.Insert(record, false)
package pagestore
