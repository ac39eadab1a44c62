package services

import (
	"context"
	"errors"
	"strings"

	"budgeteer/internal/core"
	"budgeteer/internal/events"
	"budgeteer/internal/guard"
	"budgeteer/internal/log"
	"budgeteer/internal/store"
)

// GetUser returns the session's own profile.
func (t *Tracker) GetUser(ctx context.Context, session *core.Session, id string) (core.User, error) {
	unlock, err := t.read(session)
	if err != nil {
		return core.User{}, err
	}
	defer unlock()

	u, err := t.store.GetUser(ctx, id)
	if err != nil {
		return core.User{}, err
	}
	if err := guard.AuthorizeRecord(session, core.KindUser, id, u.ID); err != nil {
		return core.User{}, err
	}
	return u, nil
}

// DeleteUser purges everything the user owns and then the user. A user may
// only delete themselves. When the purge cannot finish the user is kept, a
// cascade.partial_failure event is published for the worker and the
// *core.PartialCascadeFailure is returned.
func (t *Tracker) DeleteUser(ctx context.Context, session *core.Session, id string) error {
	unlock, err := t.write(session)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := t.store.GetUser(ctx, id); err != nil {
		return err
	}
	if err := guard.AuthorizeRecord(session, core.KindUser, id, id); err != nil {
		return err
	}

	err = t.cascade.PurgeUser(ctx, id)
	// Cached remaining values of the user's budgets may now be stale.
	t.remaining.Purge()

	var partial *core.PartialCascadeFailure
	if errors.As(err, &partial) {
		t.settleCards(ctx, id)
		t.publish(ctx, events.New(events.PurgeIncomplete, core.KindUser, id, id).
			With(events.DetailRemaining, strings.Join(partial.RemainingIDs(), ",")))
		return err
	}
	if err != nil {
		return err
	}
	t.forgetOwner(id)
	t.mutated(ctx, events.Deleted, core.KindUser, id, id)
	return nil
}

// ResumePurge retries an incomplete user purge without a session. It is
// driven by the reconciliation worker; a user that is already gone counts
// as done.
func (t *Tracker) ResumePurge(ctx context.Context, userID string) error {
	l := t.ownerLock(userID)
	l.Lock()
	defer l.Unlock()

	err := t.cascade.PurgeUser(ctx, userID)
	t.remaining.Purge()
	if err != nil {
		var partial *core.PartialCascadeFailure
		if errors.As(err, &partial) {
			t.settleCards(ctx, userID)
		}
		return err
	}
	t.forgetOwner(userID)
	t.mutated(ctx, events.Deleted, core.KindUser, userID, userID)
	return nil
}

// settleCards recomputes every card the user still owns after a purge
// stopped early, since the transaction phase may have removed their
// transactions. Failures are left to the reconcile pass.
func (t *Tracker) settleCards(ctx context.Context, userID string) {
	cards, err := t.store.FindCards(ctx, store.Filter{Owner: userID})
	if err != nil {
		t.logger.WarnContext(ctx, "Cannot list cards after incomplete purge",
			log.FieldOwnerID, userID, log.FieldError, err.Error())
		return
	}
	for _, c := range cards {
		if err := t.recalcCard(ctx, c.ID); err != nil {
			t.logger.WarnContext(ctx, "Card balance left for reconcile",
				log.NewFields().WithRecord(string(core.KindCard), c.ID, userID).WithError(err).ToSlice()...)
		}
	}
}
