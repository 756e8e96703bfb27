package playback

import (
	"context"
	"testing"
)

func TestRegistryCreatesAndRemovesSessions(t *testing.T) {
	h := newHarness(t, testConfig())
	reg := h.orch.Registry()
	ctx := context.Background()

	a := reg.Get("a")
	if reg.Get("a") != a {
		t.Fatal("Get returned a different session for the same tenant")
	}
	reg.Get("b")
	if reg.Len() != 2 {
		t.Fatalf("len = %d", reg.Len())
	}
	if list := reg.List(); list[0].TenantID() != "a" || list[1].TenantID() != "b" {
		t.Fatalf("list order = %s, %s", list[0].TenantID(), list[1].TenantID())
	}

	_ = h.orch.Join(ctx, "a", "vc-1")
	if _, err := h.orch.Play(ctx, "a", "", "song"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "song to play", func() bool { return len(h.transport.playedTitles()) == 1 })

	reg.Remove(ctx, "a")
	if _, ok := reg.Lookup("a"); ok {
		t.Fatal("removed session still registered")
	}
	if h.transport.IsConnected() {
		t.Fatal("remove should disconnect")
	}
	fresh := reg.Get("a")
	if fresh == a || fresh.State() != StateIdle {
		t.Fatal("expected fresh idle session after remove")
	}
	if _, err := a.Enqueue(Track{Title: "late"}, -1); err != ErrSessionClosed {
		t.Fatalf("enqueue on closed session err = %v", err)
	}
}
