package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/ai-interview/internal/application/dispatcher"
	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/garyjia/ai-interview/internal/domain/entity"
	"github.com/garyjia/ai-interview/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TurnTaking.ResumeListeningDelay = 0
	cfg.TurnTaking.InterruptSettleDelay = 0
	m := NewManager(cfg, append([]ManagerOption{WithLogger(nopLogger{})}, opts...)...)
	t.Cleanup(func() { m.CloseAll(context.Background()) })
	return m
}

func TestManager_CreateAndGet(t *testing.T) {
	repo := &mockSessionRepo{}
	var persisted *entity.Session
	repo.createFunc = func(ctx context.Context, s *entity.Session) error {
		persisted = s
		return nil
	}
	m := newTestManager(t, WithRepository(repo))

	s, err := m.Create(context.Background(), CreateRequest{CandidateRef: "cand-42"})
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, conversation.StateIdle, s.State())
	require.NotNil(t, persisted)
	assert.Equal(t, s.ID(), persisted.ID)
	assert.Equal(t, "cand-42", persisted.CandidateRef)
	assert.Equal(t, "IDLE", persisted.State)

	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestManager_CreatePersistFailure(t *testing.T) {
	repo := &mockSessionRepo{createFunc: func(ctx context.Context, s *entity.Session) error {
		return errors.New("db locked")
	}}
	m := newTestManager(t, WithRepository(repo))

	_, err := m.Create(context.Background(), CreateRequest{})

	assert.Error(t, err)
	assert.Equal(t, 0, m.Count())
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m := newTestManager(t)
	a, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)
	b, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)

	_, ok, err := a.Transition(conversation.StateListening, nil)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, conversation.StateListening, a.State())
	assert.Equal(t, conversation.StateIdle, b.State())
	assert.Len(t, m.List(), 2)
}

func TestManager_MaxSessions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	m := NewManager(cfg)
	t.Cleanup(func() { m.CloseAll(context.Background()) })

	_, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)
	_, err = m.Create(context.Background(), CreateRequest{})

	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestManager_MaxSessionsUnderConcurrentCreate(t *testing.T) {
	repo := &mockSessionRepo{createFunc: func(ctx context.Context, s *entity.Session) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}}
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	m := NewManager(cfg, WithRepository(repo))
	t.Cleanup(func() { m.CloseAll(context.Background()) })

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Create(context.Background(), CreateRequest{})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrTooManySessions)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, m.Count())
}

func TestManager_FailedCreateReleasesSlot(t *testing.T) {
	fail := true
	repo := &mockSessionRepo{createFunc: func(ctx context.Context, s *entity.Session) error {
		if fail {
			return errors.New("db locked")
		}
		return nil
	}}
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	m := NewManager(cfg, WithRepository(repo))
	t.Cleanup(func() { m.CloseAll(context.Background()) })

	_, err := m.Create(context.Background(), CreateRequest{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTooManySessions)

	fail = false
	_, err = m.Create(context.Background(), CreateRequest{})
	assert.NoError(t, err)
}

func TestSession_TransitionReturnsOwnCommit(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)

	// another writer lands right after the first commit
	done := make(chan struct{})
	var once sync.Once
	s.Subscribe(func(tr conversation.Transition) {
		once.Do(func() {
			go func() {
				defer close(done)
				_, _ = s.ForceState(conversation.StateSpeaking, conversation.Metadata{conversation.MetaReason: "other"})
			}()
		})
	})

	tr, applied, err := s.Transition(conversation.StateListening, conversation.Metadata{conversation.MetaSource: "mine"})
	require.NoError(t, err)
	require.True(t, applied)
	<-done

	assert.Equal(t, uint64(1), tr.Seq)
	assert.Equal(t, conversation.StateListening, tr.To)
	assert.Equal(t, "mine", tr.Source())
	assert.Equal(t, "other", s.History(1)[0].Reason())
}

func TestManager_GetUnknown(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(context.Background(), "nope"), ErrSessionNotFound)
}

func TestManager_CloseDetachesEverything(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)

	changes, _ := s.Watch(4)
	require.NoError(t, m.Close(context.Background(), s.ID()))

	assert.True(t, s.Closed())
	assert.Equal(t, 0, s.machine.ListenerCount())
	_, open := <-changes
	assert.False(t, open, "watch channel closed with the session")

	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = s.Transition(conversation.StateListening, nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.ForceState(conversation.StateError, nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Reset()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.HandleEvent(context.Background(), event.NewEvent(event.TypeSessionCreated, s.ID(), nil))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_AdapterQueries(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)

	assert.Equal(t, conversation.States(), s.States())
	assert.True(t, s.CanTransitionTo(conversation.StateListening))
	assert.False(t, s.CanTransitionTo(conversation.StateSpeaking))
	assert.Equal(t, []conversation.State{conversation.StateListening, conversation.StateError, conversation.StateEnded}, s.ValidNextStates())
	assert.False(t, s.IsActive())

	_, err = s.HandleEvent(context.Background(), event.NewEvent(event.TypeSessionCreated, s.ID(), nil))
	require.NoError(t, err)

	assert.True(t, s.IsActive())
	assert.True(t, s.IsMicrophoneActive())
	assert.False(t, s.IsInterruptible())
	require.Len(t, s.History(0), 1)
	assert.Equal(t, conversation.StateListening, s.Snapshot().State)
}

func TestSession_Watch(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)

	changes, cancel := s.Watch(8)
	defer cancel()

	_, _, _ = s.Transition(conversation.StateListening, nil)
	_, _, _ = s.Transition(conversation.StateProcessing, nil)

	first := <-changes
	second := <-changes
	assert.Equal(t, conversation.StateListening, first.Transition.To)
	assert.True(t, first.View.MicrophoneActive)
	assert.Equal(t, conversation.StateProcessing, second.Transition.To)
	assert.Equal(t, uint64(2), second.View.Seq)
}

func TestSession_WatchDropsWhenFull(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)

	changes, cancel := s.Watch(1)

	_, _, _ = s.Transition(conversation.StateListening, nil)
	_, ok, _ := s.Transition(conversation.StateProcessing, nil)
	require.True(t, ok, "a slow watcher must not block transitions")

	got := <-changes
	assert.Equal(t, conversation.StateListening, got.Transition.To)

	cancel()
	cancel()
	_, open := <-changes
	assert.False(t, open)
	assert.Equal(t, 0, s.WatcherCount())
}

func TestSession_WatchAfterClose(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background(), s.ID()))

	changes, _ := s.Watch(1)
	_, open := <-changes
	assert.False(t, open)
}

func TestManager_PublishesAndRecords(t *testing.T) {
	sessions := &mockSessionRepo{}
	transitions := &mockTransitionRepo{}
	tx := &mockTxManager{}

	d := dispatcher.NewDispatcher()
	NewRecorder(sessions, transitions, tx, nopLogger{}).Register(d)

	m := newTestManager(t, WithRepository(sessions), WithDispatcher(d))
	s, err := m.Create(context.Background(), CreateRequest{})
	require.NoError(t, err)

	ctx := context.Background()
	for _, typ := range []event.Type{event.TypeSessionCreated, event.TypePlaybackStarted, event.TypeCandidateInterrupt} {
		_, err := s.HandleEvent(ctx, event.NewEvent(typ, s.ID(), nil))
		require.NoError(t, err)
	}
	_, err = s.ForceState(conversation.StateError, conversation.Metadata{conversation.MetaReason: "operator"})
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, s.ID()))
	require.NoError(t, d.Close())

	recs, err := transitions.ListBySession(ctx, s.ID())
	require.NoError(t, err)
	require.Len(t, recs, 5)

	var to []string
	for i, r := range recs {
		assert.Equal(t, uint64(i+1), r.Seq, "records arrive in commit order")
		to = append(to, r.ToState)
	}
	assert.Equal(t, []string{"LISTENING", "SPEAKING", "INTERRUPTED", "LISTENING", "ERROR"}, to)
	assert.Equal(t, "session_created", recs[0].Source)
	assert.True(t, recs[4].Forced)
	assert.Equal(t, "operator", recs[4].Reason)

	assert.Equal(t, to, sessions.states())
	assert.Equal(t, 5, tx.calls)
	for _, id := range tx.sessionIDs {
		assert.Equal(t, s.ID(), id, "transactions are tagged with the session")
	}
	assert.Contains(t, sessions.ended, s.ID())
}

func TestRecorder_PropagatesFailure(t *testing.T) {
	sessions := &mockSessionRepo{updateStateErr: errors.New("readonly")}
	r := NewRecorder(sessions, &mockTransitionRepo{}, &mockTxManager{}, nopLogger{})

	tr := conversation.NewTransition(1, conversation.StateIdle, conversation.StateListening, time.Now(), nil)
	err := r.HandleStateChanged(context.Background(), StateChangedEvent("s-1", tr))

	assert.Error(t, err)
}

func TestTransitionFromRecord_CorruptMetadata(t *testing.T) {
	rec := &entity.TransitionRecord{
		SessionID: "s-1",
		Seq:       3,
		FromState: "SPEAKING",
		ToState:   "LISTENING",
		Forced:    true,
		Source:    "watchdog",
		Reason:    "speaking_timeout",
		Metadata:  "{not json",
	}

	tr, err := TransitionFromRecord(rec)

	assert.ErrorIs(t, err, ErrCorruptRecord)
	assert.Contains(t, err.Error(), "seq 3")
	assert.Equal(t, uint64(3), tr.Seq)
	assert.True(t, tr.Forced())
	assert.Equal(t, "watchdog", tr.Source())
	assert.Equal(t, "speaking_timeout", tr.Reason())
}

func TestRecordFromEvent(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tr := conversation.NewTransition(7, conversation.StateSpeaking, conversation.StateListening, ts, conversation.Metadata{
		conversation.MetaForced: true,
		conversation.MetaReason: "speaking_timeout",
		conversation.MetaSource: "watchdog",
	})

	rec, err := RecordFromEvent(StateChangedEvent("s-1", tr))
	require.NoError(t, err)

	assert.Equal(t, "s-1", rec.SessionID)
	assert.Equal(t, uint64(7), rec.Seq)
	assert.Equal(t, "SPEAKING", rec.FromState)
	assert.Equal(t, "LISTENING", rec.ToState)
	assert.True(t, rec.Forced)
	assert.Equal(t, "watchdog", rec.Source)
	assert.Equal(t, "speaking_timeout", rec.Reason)
	assert.True(t, rec.OccurredAt.Equal(ts))

	back, err := TransitionFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, tr.Seq, back.Seq)
	assert.True(t, back.Forced())
	assert.Equal(t, "watchdog", back.Source())

	_, err = RecordFromEvent(event.NewEvent(event.TypeSessionClosed, "s-1", nil))
	assert.Error(t, err)
}
