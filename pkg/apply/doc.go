// Package apply writes a reconciliation delta to a database in chunked
// transactions.
//
// Categories are applied in a fixed order: inserts, updates, then deletes.
// Each non-empty category holds one connection for its whole duration and
// splits its rows into chunks of CommitInterval rows, each chunk committed
// in its own transaction. A failing chunk is rolled back and aborts the
// category and every category after it; chunks committed before the failure
// stay committed.
//
// Basic usage:
//
//	applier := apply.New(storage.ConnProvider(db), apply.Handlers[Item]{
//		Insert: apply.CreateBatch[Item]("items", 100),
//		Update: apply.SaveBatch[Item]("items"),
//		Delete: apply.DeleteBatch[Item]("items"),
//	}, apply.CommitInterval(50))
//
//	report, err := applier.Apply(ctx, delta)
//
// With DryRun the rows are logged and counted but no connection is opened
// and no handler is invoked.
package apply
