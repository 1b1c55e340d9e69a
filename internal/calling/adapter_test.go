package calling

import (
	"errors"
	"testing"
)

func TestNormalizeKnownTokens(t *testing.T) {
	a := NewAdapter(nil)
	cases := map[string]CallState{
		"new":        StateNew,
		"requesting": StateRequesting,
		"trying":     StateTrying,
		"recovering": StateRecovering,
		"ringing":    StateRinging,
		"early":      StateEarly,
		"answering":  StateAnswering,
		"active":     StateActive,
		"held":       StateHeld,
		"hangup":     StateHangup,
		"destroy":    StateDestroy,
		"purge":      StatePurge,
		" Active ":   StateActive,
		"RINGING":    StateRinging,
	}
	for token, want := range cases {
		if got := a.Normalize(token); got != want {
			t.Fatalf("Normalize(%q): expected %s, got %s", token, want, got)
		}
	}
	if a.Warnings() != 0 {
		t.Fatalf("expected no warnings, got %d", a.Warnings())
	}
}

func TestNormalizeUnknownTokenIsIdle(t *testing.T) {
	a := NewAdapter(nil)
	for i, token := range []string{"", "parked", "incoming", "ringback"} {
		if got := a.Normalize(token); got != StateIdle {
			t.Fatalf("Normalize(%q): expected idle, got %s", token, got)
		}
		if a.Warnings() != int64(i+1) {
			t.Fatalf("expected %d warnings, got %d", i+1, a.Warnings())
		}
	}
}

func TestTranslateConnectionEvents(t *testing.T) {
	a := NewAdapter(nil)

	if ev, ok := a.Translate(ProviderEvent{Name: "telnyx.ready"}); !ok || ev != (ClientReady{}) {
		t.Fatalf("unexpected ready translation: %#v", ev)
	}
	ev, ok := a.Translate(ProviderEvent{Name: "telnyx.error", Err: errors.New("auth failed")})
	if !ok || ev != (ClientError{Detail: "auth failed"}) {
		t.Fatalf("unexpected error translation: %#v", ev)
	}
	ev, ok = a.Translate(ProviderEvent{Name: "telnyx.socket.close", Detail: "1006"})
	if !ok || ev != (SocketClosed{Detail: "1006"}) {
		t.Fatalf("unexpected close translation: %#v", ev)
	}
}

func TestTranslateCallUpdate(t *testing.T) {
	a := NewAdapter(nil)
	in := &fakeHandle{id: "in-1", dir: "inbound"}
	out := &fakeHandle{id: "out-1", dir: "outbound"}

	ev, ok := a.Translate(ProviderEvent{Name: "telnyx.notification", Kind: "callUpdate", State: "ringing", Call: in})
	if offer, isOffer := ev.(IncomingOffer); !ok || !isOffer || offer.Call != in {
		t.Fatalf("expected incoming offer, got %#v", ev)
	}

	ev, ok = a.Translate(ProviderEvent{Name: "telnyx.notification", Kind: "callUpdate", State: "ringing", Call: out})
	sc, isState := ev.(StateChanged)
	if !ok || !isState || sc.CallID != "out-1" || sc.State != StateRinging {
		t.Fatalf("expected ringing state change, got %#v", ev)
	}

	ev, ok = a.Translate(ProviderEvent{Name: "telnyx.notification", Kind: "callUpdate", State: "active", Call: in})
	if sc, isState := ev.(StateChanged); !ok || !isState || sc.State != StateActive {
		t.Fatalf("expected active state change, got %#v", ev)
	}

	if _, ok := a.Translate(ProviderEvent{Name: "telnyx.notification", Kind: "callUpdate"}); ok {
		t.Fatalf("call update without call should be dropped")
	}
	if _, ok := a.Translate(ProviderEvent{Name: "telnyx.notification", Kind: "vertoClientReady"}); ok {
		t.Fatalf("unknown notification kinds should be dropped")
	}
}

func TestTranslateCallLevelEvents(t *testing.T) {
	a := NewAdapter(nil)
	h := &fakeHandle{id: "c1"}

	cases := []struct {
		raw  ProviderEvent
		want Event
	}{
		{ProviderEvent{Name: "telnyx.stateChange", CallID: "c1", State: "held"}, StateChanged{CallID: "c1", State: StateHeld}},
		{ProviderEvent{Name: "hangup", Call: h}, StateChanged{CallID: "c1", State: StateHangup, Call: h}},
		{ProviderEvent{Name: "destroy", CallID: "c1"}, StateChanged{CallID: "c1", State: StateDestroy}},
		{ProviderEvent{Name: "error", CallID: "c1", Detail: "boom"}, CallFailed{CallID: "c1", Detail: "boom"}},
		{ProviderEvent{Name: "telnyx.notification", Kind: "userMediaError", Detail: "denied"}, MediaError{Detail: "denied"}},
	}
	for _, tc := range cases {
		got, ok := a.Translate(tc.raw)
		if !ok || got != tc.want {
			t.Fatalf("Translate(%+v): expected %#v, got %#v", tc.raw, tc.want, got)
		}
	}

	got, ok := a.Translate(ProviderEvent{Name: "telnyx.stream", CallID: "c1", Stream: "s"})
	if ms, isMedia := got.(MediaStream); !ok || !isMedia || ms.CallID != "c1" {
		t.Fatalf("expected media stream, got %#v", got)
	}
}

func TestTranslateUnknownEventWarns(t *testing.T) {
	a := NewAdapter(nil)
	if _, ok := a.Translate(ProviderEvent{Name: "telnyx.mystery"}); ok {
		t.Fatalf("unknown event should be dropped")
	}
	if a.Warnings() != 1 {
		t.Fatalf("expected one warning, got %d", a.Warnings())
	}
}
