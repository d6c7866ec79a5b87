package platform

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/noahxzhu/safealert/internal/model"
)

func TestPermissions(t *testing.T) {
	p := NewPermissions(model.PermSMS)
	if !p.Granted(model.PermSMS) {
		t.Fatal("expected sms granted")
	}
	if p.All(model.PermSMS, model.PermLocation) {
		t.Fatal("expected location missing")
	}
	p.Set(map[model.Permission]bool{model.PermLocation: true, model.PermSMS: false})
	if !p.Granted(model.PermLocation) || p.Granted(model.PermSMS) {
		t.Fatalf("unexpected permissions after set: %v", p.Snapshot())
	}
}

func TestNoticesDrainAndBacklog(t *testing.T) {
	n := NewNotices(2)
	n.Notify("one")
	n.Notify("two")
	n.Notify("three")

	got := n.Drain()
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Fatalf("expected [two three], got %+v", got)
	}
	if again := n.Drain(); len(again) != 0 {
		t.Fatalf("expected empty drain, got %+v", again)
	}
}

func TestFeedFansOutToSubscribers(t *testing.T) {
	f := NewFeed[int]("battery")
	var sum atomic.Int64
	f.Subscribe(func(_ context.Context, ev int) { sum.Add(int64(ev)) })
	f.Subscribe(func(_ context.Context, ev int) { sum.Add(int64(ev) * 10) })
	f.Subscribe(func(_ context.Context, ev int) { panic("boom") })

	f.Publish(context.Background(), 2)
	f.Wait()

	if sum.Load() != 22 {
		t.Fatalf("expected 22, got %d", sum.Load())
	}
	if f.Name() != "battery" {
		t.Fatalf("unexpected feed name %q", f.Name())
	}
}
