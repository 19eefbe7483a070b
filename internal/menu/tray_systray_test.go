//go:build cgo || windows
// +build cgo windows

package menu

import (
	"context"
	"testing"
	"time"
)

func TestForwardClicksTagsAction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clicks := make(chan struct{})
	actions := make(chan Action, 1)
	done := make(chan struct{})
	go func() {
		forwardClicks(ctx, clicks, ActionRequest, actions)
		close(done)
	}()

	clicks <- struct{}{}
	select {
	case got := <-actions:
		if got != ActionRequest {
			t.Fatalf("expected %s, got %s", ActionRequest, got)
		}
	case <-time.After(time.Second):
		t.Fatal("click was not forwarded")
	}

	close(clicks)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwardClicks did not return after the click channel closed")
	}
}
