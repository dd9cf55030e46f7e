package linking

import "github.com/nextlevelbuilder/linkhub/internal/store"

// successors is the session transition graph. A status absent from the map is
// terminal: nothing leaves it. Every non-terminal status may additionally move
// to expired/cancelled/error, listed explicitly so the graph is the single
// source of truth.
var successors = map[store.SessionStatus][]store.SessionStatus{
	store.StatusQrPending: {
		store.StatusAwaitingQr,
		store.StatusExpired, store.StatusCancelled, store.StatusError,
	},
	store.StatusAwaitingQr: {
		store.StatusNeedsPassword, store.StatusSlotWait, store.StatusAuthorized,
		store.StatusExpired, store.StatusCancelled, store.StatusError,
	},
	store.StatusPhoneInput: {
		store.StatusAwaitingCode,
		store.StatusExpired, store.StatusCancelled, store.StatusError,
	},
	store.StatusAwaitingCode: {
		store.StatusNeedsPassword, store.StatusSlotWait, store.StatusAuthorized,
		store.StatusExpired, store.StatusCancelled, store.StatusError,
	},
	store.StatusNeedsPassword: {
		store.StatusSlotWait, store.StatusAuthorized,
		store.StatusExpired, store.StatusCancelled, store.StatusError,
	},
	store.StatusSlotWait: {
		store.StatusAuthorized,
		store.StatusExpired, store.StatusCancelled, store.StatusError,
	},
}

// CanTransition reports whether from → to is allowed. Staying in place
// (payload refresh, failed code retry) is always allowed for non-terminal
// states.
func CanTransition(from, to store.SessionStatus) bool {
	if from.Terminal() {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}
