package redisbus_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"pickplace"
	"pickplace/redisbus"
)

// serveOne pops one plan request and answers it with reply.
func serveOne(t *testing.T, client *backend.Client, p *redisbus.Planner, reply func(redisbus.PlanRequest) redisbus.PlanReply) <-chan redisbus.PlanRequest {
	t.Helper()
	got := make(chan redisbus.PlanRequest, 1)
	go func() {
		res, err := client.BLPop(context.Background(), 5*time.Second, p.RequestKey()).Result()
		if err != nil {
			close(got)
			return
		}
		var req redisbus.PlanRequest
		if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
			close(got)
			return
		}
		data, err := json.Marshal(reply(req))
		if err == nil {
			client.RPush(context.Background(), req.ReplyTo, data)
		}
		got <- req
	}()
	return got
}

func TestRemotePlanner(t *testing.T) {
	client := newClient(t)
	p := redisbus.NewPlanner(client, "test", time.Second, logging.NewTestLogger(t))
	assert.Equal(t, "test:plan:requests", p.RequestKey())

	requests := serveOne(t, client, p, func(req redisbus.PlanRequest) redisbus.PlanReply {
		return redisbus.PlanReply{
			DurationMs: 1500,
			Positions:  [][]float64{{0, 0, 0, 0}, {0.5, 0.5, 0.5, 0.5}, {1, 1, 1, 1}},
		}
	})

	path, err := p.Plan(context.Background(), pickplace.PlanRequest{
		GoalID: "g1",
		Group:  "arm",
		Target: pickplace.JointTarget{Positions: []float64{1, 1, 1, 1}},
		Start:  []float64{0, 0, 0, 0, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, path.Waypoints())
	assert.Equal(t, 1500*time.Millisecond, path.Duration)
	assert.Equal(t, []float64{1, 1, 1, 1}, path.Row(2))

	req := <-requests
	assert.Equal(t, "g1", req.GoalID)
	assert.Equal(t, "arm", req.Group)
	assert.Equal(t, "test:plan:reply:g1", req.ReplyTo)
	require.NotNil(t, req.Target.Joints)
	assert.Equal(t, []float64{1, 1, 1, 1}, req.Target.Joints.Positions)
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, req.Start)
	assert.False(t, req.Deadline.IsZero())

	n, err := client.Exists(context.Background(), req.ReplyTo).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemotePlannerErrors(t *testing.T) {
	target := pickplace.JointTarget{Positions: []float64{1, 1, 1, 1}}

	t.Run("infeasible reply", func(t *testing.T) {
		client := newClient(t)
		p := redisbus.NewPlanner(client, "test", time.Second, logging.NewTestLogger(t))
		serveOne(t, client, p, func(redisbus.PlanRequest) redisbus.PlanReply {
			return redisbus.PlanReply{Error: "collision"}
		})
		_, err := p.Plan(context.Background(), pickplace.PlanRequest{GoalID: "g", Target: target})
		assert.ErrorIs(t, err, pickplace.ErrInfeasible)
		assert.Contains(t, err.Error(), "collision")
	})

	t.Run("timeout reply", func(t *testing.T) {
		client := newClient(t)
		p := redisbus.NewPlanner(client, "test", time.Second, logging.NewTestLogger(t))
		serveOne(t, client, p, func(redisbus.PlanRequest) redisbus.PlanReply {
			return redisbus.PlanReply{Error: "ran out of time", Reason: "timeout"}
		})
		_, err := p.Plan(context.Background(), pickplace.PlanRequest{GoalID: "g", Target: target})
		assert.ErrorIs(t, err, pickplace.ErrTimeout)
	})

	t.Run("ragged path", func(t *testing.T) {
		client := newClient(t)
		p := redisbus.NewPlanner(client, "test", time.Second, logging.NewTestLogger(t))
		serveOne(t, client, p, func(redisbus.PlanRequest) redisbus.PlanReply {
			return redisbus.PlanReply{Positions: [][]float64{{0, 0, 0, 0}, {1}}}
		})
		_, err := p.Plan(context.Background(), pickplace.PlanRequest{GoalID: "g", Target: target})
		assert.ErrorIs(t, err, pickplace.ErrInfeasible)
	})

	t.Run("no planner answers within the budget", func(t *testing.T) {
		client := newClient(t)
		p := redisbus.NewPlanner(client, "test", time.Second, logging.NewTestLogger(t))
		start := time.Now()
		_, err := p.Plan(context.Background(), pickplace.PlanRequest{GoalID: "g", Target: target})
		assert.ErrorIs(t, err, pickplace.ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)

		// the request is left for a planner that shows up later
		n, err := client.LLen(context.Background(), p.RequestKey()).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("cancelled", func(t *testing.T) {
		client := newClient(t)
		p := redisbus.NewPlanner(client, "test", 5*time.Second, logging.NewTestLogger(t))
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		_, err := p.Plan(ctx, pickplace.PlanRequest{GoalID: "g", Target: target})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
