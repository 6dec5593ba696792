package resolver

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTransitionRejectsInvalidMove(t *testing.T) {
	m := newStateMachine(nil)

	err := m.transition(StateReady, StateStopping)
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("transition() error = %v; want *TransitionError", err)
	}
	if terr.Current != StateStopped {
		t.Fatalf("TransitionError.Current = %s; want %s", terr.Current, StateStopped)
	}
	if err := m.transition(StateStopped, StateReady); err == nil {
		t.Fatalf("transition(stopped, ready) = nil; want error")
	}
	if err := m.transition(StateStopped, StateStarting); err != nil {
		t.Fatalf("transition(stopped, starting) = %v; want nil", err)
	}
}

func TestWatchSignalsNextTransition(t *testing.T) {
	m := newStateMachine(nil)
	_, changed := m.watch()

	go func() {
		_ = m.transition(StateStopped, StateStarting)
	}()

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatalf("watch channel not closed after transition")
	}
	if got := m.current(); got != StateStarting {
		t.Fatalf("current() = %s; want %s", got, StateStarting)
	}
}

func TestWaitReadyBlocksWhileStarting(t *testing.T) {
	p := NewPool(Config{}, &fakeLauncher{nav: landOn("https://a.com/")}, dirSnapshots(t.TempDir()))
	if err := p.fsm.transition(StateStopped, StateStarting); err != nil {
		t.Fatalf("transition() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.WaitReady(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("WaitReady() returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if err := p.fsm.transition(StateStarting, StateReady); err != nil {
		t.Fatalf("transition() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitReady() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitReady() did not return after ready")
	}
}
