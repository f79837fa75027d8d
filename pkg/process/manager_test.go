package process_test

import (
	"context"
	"testing"
	"time"

	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/process"
)

func TestManager_ShutdownOrderAndOnce(t *testing.T) {
	m := process.NewManager(logger.Discard())
	var order []int
	m.OnShutdown(func() { order = append(order, 1) })
	m.OnShutdown(func() { order = append(order, 2) })

	m.Shutdown()
	m.Shutdown()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("handlers ran as %v, want [2 1]", order)
	}
}

func TestManager_ContextFollowsParent(t *testing.T) {
	m := process.NewManager(nil)
	ran := false
	m.OnShutdown(func() { ran = true })

	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := m.Context(parent)
	cancelParent()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with its parent")
	}
	if ran {
		t.Error("handlers must wait for the cancel func")
	}
	cancel()
	if !ran {
		t.Error("cancel func should run shutdown handlers")
	}
}
