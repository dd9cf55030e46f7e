package linking

import (
	"testing"

	"github.com/nextlevelbuilder/linkhub/internal/store"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from store.SessionStatus
		to   store.SessionStatus
		want bool
	}{
		{store.StatusQrPending, store.StatusAwaitingQr, true},
		{store.StatusQrPending, store.StatusAuthorized, false},
		{store.StatusAwaitingQr, store.StatusAuthorized, true},
		{store.StatusAwaitingQr, store.StatusNeedsPassword, true},
		{store.StatusAwaitingQr, store.StatusSlotWait, true},
		{store.StatusAwaitingQr, store.StatusAwaitingCode, false},
		{store.StatusPhoneInput, store.StatusAwaitingCode, true},
		{store.StatusPhoneInput, store.StatusAuthorized, false},
		{store.StatusAwaitingCode, store.StatusNeedsPassword, true},
		{store.StatusAwaitingCode, store.StatusAuthorized, true},
		{store.StatusNeedsPassword, store.StatusAuthorized, true},
		{store.StatusNeedsPassword, store.StatusAwaitingCode, false},
		{store.StatusSlotWait, store.StatusAuthorized, true},
		{store.StatusSlotWait, store.StatusNeedsPassword, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransitionTerminalIsFinal(t *testing.T) {
	terminals := []store.SessionStatus{
		store.StatusAuthorized, store.StatusExpired, store.StatusCancelled, store.StatusError,
	}
	for _, from := range terminals {
		for _, to := range []store.SessionStatus{
			store.StatusQrPending, store.StatusAwaitingQr, store.StatusAuthorized, from,
		} {
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestCanTransitionEveryOpenStateCanFail(t *testing.T) {
	open := []store.SessionStatus{
		store.StatusQrPending, store.StatusAwaitingQr, store.StatusPhoneInput,
		store.StatusAwaitingCode, store.StatusNeedsPassword, store.StatusSlotWait,
	}
	for _, from := range open {
		for _, to := range []store.SessionStatus{store.StatusExpired, store.StatusCancelled, store.StatusError} {
			if !CanTransition(from, to) {
				t.Errorf("%s must be able to reach %s", from, to)
			}
		}
		if !CanTransition(from, from) {
			t.Errorf("%s must allow staying in place", from)
		}
	}
}
