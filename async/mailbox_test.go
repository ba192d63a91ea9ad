package async

import (
	"errors"
	"testing"
)

func TestCompletion_Unresolved(t *testing.T) {
	c := newCompletion()
	ok, err := c.Poll()
	if ok || err != nil {
		t.Errorf("expected unresolved completion, got %v, %v", ok, err)
	}
}

func TestCompletion_Resolved(t *testing.T) {
	c := newCompletion()
	want := errors.New("boom")
	c.Resolve(want)

	for i := 0; i < 2; i++ {
		ok, err := c.Poll()
		if !ok {
			t.Fatal("expected resolved completion")
		}
		if err != want {
			t.Errorf("expected %v, got %v", want, err)
		}
	}
}

func TestMailbox_RunsOnlyResolved(t *testing.T) {
	bx := NewMailbox()
	var order []int
	first := bx.NewCompletion(func(err error) { order = append(order, 1) })
	bx.NewCompletion(func(err error) { order = append(order, 2) })
	third := bx.NewCompletion(func(err error) { order = append(order, 3) })

	third.Resolve(nil)
	first.Resolve(nil)
	if n := bx.ProcessMessages(); n != 2 {
		t.Errorf("expected 2 callbacks, ran %d", n)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("expected callbacks 1 and 3 in order, got %v", order)
	}
	if bx.Count() != 1 {
		t.Errorf("expected 1 pending completion, got %d", bx.Count())
	}
	if n := bx.ProcessMessages(); n != 0 {
		t.Errorf("expected no callbacks, ran %d", n)
	}
}

func TestMailbox_AcrossGoroutines(t *testing.T) {
	bx := NewMailbox()
	var got error
	invoked := false
	c := bx.NewCompletion(func(err error) {
		got, invoked = err, true
	})
	go c.Resolve(errors.New("from goroutine"))

	for !invoked {
		bx.ProcessMessages()
	}
	if got == nil || got.Error() != "from goroutine" {
		t.Errorf("unexpected callback value %v", got)
	}
}
