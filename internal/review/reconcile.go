package review

import "time"

// Reconciled is the outcome of merging server items with local decisions.
type Reconciled struct {
	Items     []Item
	Decisions []LocalDecision
	// Confirmed counts local decisions relabelled as server state.
	Confirmed int
}

// Reconcile merges the server's items with the client's local decisions.
//
// A pending decision for an id the server already reports as resolved at the
// same time or later is taken as applied and relabelled server. Otherwise
// the effective status of an item is whichever of the server decision and
// the local decision is newer.
func Reconcile(items []Item, local []LocalDecision) Reconciled {
	byID := make(map[string]int, len(items))
	out := Reconciled{Items: make([]Item, len(items))}
	for i, it := range items {
		out.Items[i] = it
		byID[it.ID] = i
	}

	for _, d := range local {
		i, ok := byID[d.ID]
		if !ok {
			out.Decisions = append(out.Decisions, d)
			continue
		}
		it := &out.Items[i]
		serverAt := serverDecisionTime(*it)

		if d.Sync == SyncPending && it.Status.Resolved() && !serverAt.IsZero() && !serverAt.Before(d.DecidedAt) {
			d.Sync, d.LastError = SyncServer, ""
			out.Confirmed++
			out.Decisions = append(out.Decisions, d)
			continue
		}
		if d.Sync != SyncServer && d.DecidedAt.After(serverAt) {
			decided := d.DecidedAt
			it.Status, it.DecidedAt, it.Sync = d.Status, &decided, d.Sync
			if d.Reviewer != "" {
				it.Reviewer = d.Reviewer
			}
		}
		out.Decisions = append(out.Decisions, d)
	}
	return out
}

func serverDecisionTime(it Item) time.Time {
	if it.DecidedAt == nil {
		return time.Time{}
	}
	return *it.DecidedAt
}
