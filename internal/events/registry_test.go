package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"autolender/internal/storage"
)

func TestRegistryIsolatesFailingListeners(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	rec := &Recorder{}

	reg.Register("failing", ListenerFunc(func(context.Context, Event) error { return errors.New("boom") }))
	reg.Register("panicking", ListenerFunc(func(context.Context, Event) error { panic("kaput") }))
	reg.Register("recorder", rec)

	reg.Fire(context.Background(), Event{Type: TypeStarted})
	reg.Fire(context.Background(), Event{Type: TypeCompleted})
	reg.Flush()

	require.Equal(t, []Type{TypeStarted, TypeCompleted}, rec.Types())
	require.False(t, rec.Events()[0].CreatedAt.IsZero())
}

func TestRegistryFiltersByType(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	rec := &Recorder{}
	reg.Register("executed only", rec, TypeExecuted)

	reg.Fire(context.Background(), Event{Type: TypeStarted})
	reg.Fire(context.Background(), Event{Type: TypeExecuted})
	reg.Flush()

	require.Equal(t, []Type{TypeExecuted}, rec.Types())
	require.Equal(t, 1, reg.Len())
}

func TestRegistrySlowListenerDoesNotDelayOthers(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	defer reg.Close()

	release := make(chan struct{})
	reg.Register("stuck", ListenerFunc(func(context.Context, Event) error {
		<-release
		return errors.New("gave up")
	}))
	received := make(chan Event, 1)
	reg.Register("fast", ListenerFunc(func(_ context.Context, e Event) error {
		received <- e
		return nil
	}))

	start := time.Now()
	reg.Fire(context.Background(), Event{Type: TypeExecuted, ItemID: 7})
	require.Less(t, time.Since(start), time.Second)

	select {
	case e := <-received:
		require.Equal(t, int64(7), e.ItemID)
	case <-time.After(5 * time.Second):
		t.Fatal("second listener was held up by the first")
	}
	close(release)
	reg.Flush()
}

func TestRegistryKeepsOrderPerListener(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	rec := &Recorder{}
	reg.Register("recorder", rec)

	for _, typ := range []Type{TypeStarted, TypeRecommended, TypeExecuted, TypeCompleted} {
		reg.Fire(context.Background(), Event{Type: typ})
	}
	reg.Close()

	require.Equal(t, []Type{TypeStarted, TypeRecommended, TypeExecuted, TypeCompleted}, rec.Types())
	reg.Fire(context.Background(), Event{Type: TypeStarted})
	require.Len(t, rec.Events(), 4)
}

func TestRegistryInlineListenerSeesEventBeforeFireReturns(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	rec := &Recorder{}
	reg.RegisterInline("recorder", rec)

	reg.Fire(context.Background(), Event{Type: TypeSuspended})
	require.Equal(t, []Type{TypeSuspended}, rec.Types())
}

type memoryOps struct {
	ops []storage.Operation
}

func (m *memoryOps) InsertOperation(_ context.Context, op storage.Operation) error {
	m.ops = append(m.ops, op)
	return nil
}

func TestAuditListenerStoresOutcomes(t *testing.T) {
	store := &memoryOps{}
	l := AuditListener(store)
	ctx := context.Background()

	require.NoError(t, l.Handle(ctx, Event{Type: TypeRecommended, ItemID: 1}))
	require.NoError(t, l.Handle(ctx, Event{Type: TypeExecuted, ItemID: 1, Amount: decimal.NewFromInt(200)}))
	require.NoError(t, l.Handle(ctx, Event{Type: TypeRejected, ItemID: 2, Reason: "INSUFFICIENT_BALANCE"}))

	require.Len(t, store.ops, 2)
	require.Equal(t, storage.OperationExecuted, store.ops[0].Status)
	require.Nil(t, store.ops[0].Reason)
	require.Equal(t, storage.OperationRejected, store.ops[1].Status)
	require.Equal(t, "INSUFFICIENT_BALANCE", *store.ops[1].Reason)
}
