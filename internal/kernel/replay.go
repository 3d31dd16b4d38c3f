package kernel

import (
	"context"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/storage"
)

// ReplayInto re-applies events through the projection registry inside a
// single transaction, in the order given. It is the mechanism the
// replay package uses to rebuild projections without re-inserting events
// (§4.9): the events already carry their assigned sequence and id.
func ReplayInto(ctx context.Context, adapter storage.Adapter, events []eventlog.Event) error {
	return adapter.Transaction(ctx, func(tx storage.Tx) error {
		for _, ev := range events {
			fn, ok := registry[ev.Type]
			if !ok {
				return errs.Newf(errs.Invalid, "no projection registered for event type %q", ev.Type)
			}
			if err := fn(ctx, tx, ev); err != nil {
				return err
			}
			if err := touchAgentActivity(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}
