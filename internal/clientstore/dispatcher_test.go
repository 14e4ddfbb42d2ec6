package clientstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type dispatchedA struct{ N int }
type dispatchedB struct{ S string }

func TestDispatcherRoutesByConcreteActionType(t *testing.T) {
	d := NewDispatcher()
	var gotA int
	var gotB string

	RegisterHandler(d, func(a dispatchedA) { gotA = a.N })
	RegisterHandler(d, func(b dispatchedB) { gotB = b.S })

	d.Dispatch(dispatchedA{N: 7})
	d.Dispatch(dispatchedB{S: "hi"})

	assert.Equal(t, 7, gotA)
	assert.Equal(t, "hi", gotB)
}

func TestDispatchWithNoHandlerIsNoOp(t *testing.T) {
	d := NewDispatcher()
	assert.NotPanics(t, func() { d.Dispatch(dispatchedA{N: 1}) })
}

func TestSelectorMemoizesByInputReference(t *testing.T) {
	calls := 0
	project := func(s *TopicsState) int {
		calls++
		return len(s.Topics)
	}
	sel := NewSelector(project)

	state := &TopicsState{Topics: []Topic{{ID: "a"}}}
	assert.Equal(t, 1, sel.Select(state))
	assert.Equal(t, 1, sel.Select(state))
	assert.Equal(t, 1, calls, "same input reference: projector runs once")

	other := &TopicsState{Topics: []Topic{{ID: "a"}}}
	sel.Select(other)
	assert.Equal(t, 2, calls, "distinct reference re-runs even with equal contents")
}

func TestComposedSelectorChainsMemoization(t *testing.T) {
	innerCalls, outerCalls := 0, 0
	inner := NewSelector(func(s *TopicsState) *Topic {
		innerCalls++
		if len(s.Topics) == 0 {
			return nil
		}
		return &s.Topics[0]
	})
	outer := NewSelector(func(t *Topic) string {
		outerCalls++
		if t == nil {
			return ""
		}
		return t.Title
	})
	composed := Compose(outer, inner)

	state := &TopicsState{Topics: []Topic{{ID: "a", Title: "Alpha"}}}
	assert.Equal(t, "Alpha", composed.Select(state))
	assert.Equal(t, "Alpha", composed.Select(state))
	assert.Equal(t, 1, innerCalls)
}
