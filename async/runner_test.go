package async

import (
	"errors"
	"testing"

	"go.uber.org/goleak"
)

// Two of three replicas must acknowledge a write.
func storeValue(write func(replica string) error) error {
	acked, returned := 0, 0
	runner := NewRunner()
	cb := func(err error) {
		if err == nil {
			acked++
		}
		returned++
	}
	for _, replica := range []string{"one", "two", "three"} {
		replica := replica
		runner.RunAsync(func() error { return write(replica) }, cb)
	}

	for acked < 2 && returned < 3 {
		<-runner.Notify()
		runner.ProcessMessages()
	}
	// Collect the stragglers so no goroutine outlives the call.
	for runner.NumRunning() > 0 {
		<-runner.Notify()
		runner.ProcessMessages()
	}
	if acked < 2 {
		return errors.New("could not durably store value")
	}
	return nil
}

func TestRunner_Quorum(t *testing.T) {
	defer goleak.VerifyNone(t)

	err := storeValue(func(replica string) error {
		if replica == "two" {
			return errors.New("replica down")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected quorum, got %v", err)
	}

	err = storeValue(func(replica string) error {
		if replica != "one" {
			return errors.New("replica down")
		}
		return nil
	})
	if err == nil {
		t.Error("expected storeValue to fail without quorum")
	}
}

func TestRunner_NumRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := NewRunner()
	release := make(chan struct{})
	calls := 0
	runner.RunAsync(func() error { <-release; return nil }, func(error) { calls++ })
	if runner.NumRunning() != 1 {
		t.Fatalf("expected 1 running, got %d", runner.NumRunning())
	}
	close(release)
	for runner.NumRunning() > 0 {
		<-runner.Notify()
		runner.ProcessMessages()
	}
	if calls != 1 {
		t.Errorf("expected one callback, got %d", calls)
	}
}
