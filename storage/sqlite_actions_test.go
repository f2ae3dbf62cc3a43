package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"vigil/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupAgent(t *testing.T, sqlite *SQLite) *core.Agent {
	t.Helper()
	agents := NewSQLiteAgentStorage(sqlite, zap.NewNop().Sugar())
	agent := core.NewAgent("host-1", map[string]string{"os": "linux"})
	require.NoError(t, agents.CreateAgent(context.Background(), agent))
	return agent
}

func TestCreateAction_UnknownAgent(t *testing.T) {
	sqlite := setupTestSQLite(t)
	actions := NewSQLiteActionStorage(sqlite, zap.NewNop().Sugar())

	err := actions.CreateAction(context.Background(), core.NewAction("ghost", core.ActionPing, nil, "ops"))
	assert.ErrorIs(t, err, ErrAgentNotFound)

	list, err := actions.ListActions(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestActionLifecycle(t *testing.T) {
	sqlite := setupTestSQLite(t)
	actions := NewSQLiteActionStorage(sqlite, zap.NewNop().Sugar())
	agent := setupAgent(t, sqlite)
	ctx := context.Background()

	action := core.NewAction(agent.ID, core.ActionBlockIP, map[string]string{"ip": "10.0.0.5"}, "ops-team")
	require.NoError(t, actions.CreateAction(ctx, action))

	_, err := actions.FinalizeAction(ctx, action.ID, agent.ID, core.ActionStatusCompleted, "done", time.Now())
	assert.ErrorIs(t, err, core.ErrValidation, "queued actions cannot be finalized")

	claimed, err := actions.ClaimQueuedActions(ctx, agent.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, action.ID, claimed[0].ID)
	assert.Equal(t, core.ActionStatusDelivered, claimed[0].Status)
	assert.NotNil(t, claimed[0].DeliveredAt)
	assert.Equal(t, "10.0.0.5", claimed[0].Params["ip"])

	again, err := actions.ClaimQueuedActions(ctx, agent.ID, time.Now())
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = actions.FinalizeAction(ctx, action.ID, "other-agent", core.ActionStatusCompleted, "done", time.Now())
	assert.ErrorIs(t, err, ErrActionNotFound)

	done, err := actions.FinalizeAction(ctx, action.ID, agent.ID, core.ActionStatusCompleted, "blocked", time.Now())
	require.NoError(t, err)
	assert.Equal(t, core.ActionStatusCompleted, done.Status)

	_, err = actions.FinalizeAction(ctx, action.ID, agent.ID, core.ActionStatusFailed, "again", time.Now())
	assert.ErrorIs(t, err, core.ErrValidation, "finalizing twice is rejected")

	history, err := actions.ListActions(ctx, agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.ActionStatusCompleted, history[0].Status)
	assert.Equal(t, "blocked", history[0].Result)
	assert.NotNil(t, history[0].CompletedAt)
}

func TestClaimQueuedActions_UnknownAgent(t *testing.T) {
	sqlite := setupTestSQLite(t)
	actions := NewSQLiteActionStorage(sqlite, zap.NewNop().Sugar())

	_, err := actions.ClaimQueuedActions(context.Background(), "ghost", time.Now())
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestClaimQueuedActions_UpdatesLastSeen(t *testing.T) {
	sqlite := setupTestSQLite(t)
	actions := NewSQLiteActionStorage(sqlite, zap.NewNop().Sugar())
	agents := NewSQLiteAgentStorage(sqlite, zap.NewNop().Sugar())
	agent := setupAgent(t, sqlite)

	later := agent.LastSeen.Add(time.Hour)
	_, err := actions.ClaimQueuedActions(context.Background(), agent.ID, later)
	require.NoError(t, err)

	got, err := agents.GetAgent(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, later, got.LastSeen, time.Microsecond)
}

// Concurrent polls of one agent must deliver every action exactly once
func TestClaimQueuedActions_ConcurrentExclusive(t *testing.T) {
	sqlite := setupTestSQLite(t)
	actions := NewSQLiteActionStorage(sqlite, zap.NewNop().Sugar())
	agent := setupAgent(t, sqlite)
	ctx := context.Background()

	const numActions = 50
	for i := 0; i < numActions; i++ {
		require.NoError(t, actions.CreateAction(ctx, core.NewAction(agent.ID, core.ActionPing, nil, "ops")))
	}

	const pollers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered = make(map[string]int)
	)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := actions.ClaimQueuedActions(ctx, agent.ID, time.Now())
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, a := range claimed {
				delivered[a.ID]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, delivered, numActions)
	for id, n := range delivered {
		assert.Equal(t, 1, n, "action %s delivered %d times", id, n)
	}
}
