package redisbus_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"pickplace"
	"pickplace/redisbus"
)

func newClient(t *testing.T) *backend.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { assert.NoError(t, client.Close()) })
	return client
}

func subscribe(t *testing.T, client *backend.Client, channels ...string) <-chan *backend.Message {
	t.Helper()
	ctx := context.Background()
	sub := client.Subscribe(ctx, channels...)
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, sub.Close()) })
	return sub.Channel()
}

func receive(t *testing.T, msgs <-chan *backend.Message) *backend.Message {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestNewChannels(t *testing.T) {
	hw := redisbus.NewChannels("lab", false)
	assert.Equal(t, redisbus.Channels{
		Goals:    "lab:goals",
		Results:  "lab:results",
		Feedback: "lab:feedback",
		Commands: "lab:commands",
	}, hw)

	sim := redisbus.NewChannels("", true)
	assert.Equal(t, "pickplace:sim:feedback", sim.Feedback)
	assert.Equal(t, "pickplace:sim:actuator:", sim.ActuatorPrefix)
	assert.Empty(t, sim.Commands)
}

func TestSendBatch(t *testing.T) {
	client := newClient(t)
	bus := redisbus.New(client, redisbus.NewChannels("test", false), logging.NewTestLogger(t))
	msgs := subscribe(t, client, "test:commands")

	cmds := []pickplace.ActuatorCommand{{ActuatorID: 1, Position: 0.5}, {ActuatorID: 2, Position: -0.25}}
	require.NoError(t, bus.Send(context.Background(), cmds))

	var got redisbus.CommandMessage
	require.NoError(t, json.Unmarshal([]byte(receive(t, msgs).Payload), &got))
	assert.Equal(t, cmds, got.Commands)
}

func TestSendPerActuator(t *testing.T) {
	client := newClient(t)
	bus := redisbus.New(client, redisbus.NewChannels("test", true), logging.NewTestLogger(t))
	msgs := subscribe(t, client, "test:sim:actuator:1", "test:sim:actuator:2")

	require.NoError(t, bus.Send(context.Background(), []pickplace.ActuatorCommand{
		{ActuatorID: 1, Position: 0.5},
		{ActuatorID: 2, Position: -0.25},
	}))

	got := map[string]pickplace.ActuatorCommand{}
	for i := 0; i < 2; i++ {
		msg := receive(t, msgs)
		var cmd pickplace.ActuatorCommand
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &cmd))
		got[msg.Channel] = cmd
	}
	assert.Equal(t, pickplace.ActuatorCommand{ActuatorID: 1, Position: 0.5}, got["test:sim:actuator:1"])
	assert.Equal(t, pickplace.ActuatorCommand{ActuatorID: 2, Position: -0.25}, got["test:sim:actuator:2"])
}

// newCoordinator returns a started coordinator whose planner is plan.
func newCoordinator(t *testing.T, plan pickplace.PlannerFunc) *pickplace.Coordinator {
	t.Helper()
	c, err := pickplace.NewCoordinator(pickplace.Options{
		Planner:    plan,
		Actuators:  pickplace.ActuatorsFunc(func(context.Context, []pickplace.ActuatorCommand) error { return nil }),
		DispatchHz: 100,
	}, logging.NewTestLogger(t))
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { assert.NoError(t, c.Close(context.Background())) })
	return c
}

func readResult(t *testing.T, msgs <-chan *backend.Message) redisbus.ResultMessage {
	t.Helper()
	var res redisbus.ResultMessage
	require.NoError(t, json.Unmarshal([]byte(receive(t, msgs).Payload), &res))
	return res
}

func TestServeGoals(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	channels := redisbus.NewChannels("test", false)
	bus := redisbus.New(client, channels, logging.NewTestLogger(t))
	results := subscribe(t, client, channels.Results)

	coord := newCoordinator(t, func(context.Context, pickplace.PlanRequest) (*pickplace.PlannedPath, error) {
		return pickplace.NewPlannedPath(50*time.Millisecond, [][]float64{{0.1, 0.1, 0.1, 0.1}, {0.2, 0.2, 0.2, 0.2}})
	})
	require.NoError(t, bus.Serve(ctx, coord))
	defer func() { assert.NoError(t, bus.Close()) }()
	assert.Error(t, bus.Serve(ctx, coord))

	goal := `{"request_id":"r1","joints":{"positions":[0.2,0.2,0.2,0.2]}}`
	require.NoError(t, client.Publish(ctx, channels.Goals, goal).Err())

	accepted := readResult(t, results)
	assert.Equal(t, "r1", accepted.RequestID)
	assert.Equal(t, redisbus.StatusAccepted, accepted.Status)
	require.NotEmpty(t, accepted.GoalID)

	done := readResult(t, results)
	assert.Equal(t, accepted.GoalID, done.GoalID)
	assert.Equal(t, redisbus.StatusSucceeded, done.Status)
	assert.Empty(t, done.Error)

	t.Run("invalid goals are rejected", func(t *testing.T) {
		require.NoError(t, client.Publish(ctx, channels.Goals, `{"request_id":"r2","joints":{"positions":[1]}}`).Err())
		res := readResult(t, results)
		assert.Equal(t, "r2", res.RequestID)
		assert.Equal(t, redisbus.StatusRejected, res.Status)
		assert.Contains(t, res.Error, "invalid target")

		require.NoError(t, client.Publish(ctx, channels.Goals, `not json`).Err())
		res = readResult(t, results)
		assert.Equal(t, redisbus.StatusRejected, res.Status)
	})
}

func TestServeFailureAndAbort(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	channels := redisbus.NewChannels("test", false)
	bus := redisbus.New(client, channels, logging.NewTestLogger(t))
	results := subscribe(t, client, channels.Results)

	coord := newCoordinator(t, func(ctx context.Context, req pickplace.PlanRequest) (*pickplace.PlannedPath, error) {
		if jt, ok := req.Target.(pickplace.JointTarget); ok && jt.Positions[0] > 1 {
			return nil, pickplace.NewInfeasible("out of reach")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, bus.Serve(ctx, coord))
	defer func() { assert.NoError(t, bus.Close()) }()

	require.NoError(t, client.Publish(ctx, channels.Goals, `{"request_id":"far","joints":{"positions":[1.5,0,0,0]}}`).Err())
	assert.Equal(t, redisbus.StatusAccepted, readResult(t, results).Status)
	failed := readResult(t, results)
	assert.Equal(t, redisbus.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "out of reach")

	require.NoError(t, client.Publish(ctx, channels.Goals, `{"request_id":"slow","joints":{"positions":[0.5,0,0,0]}}`).Err())
	accepted := readResult(t, results)
	require.Equal(t, redisbus.StatusAccepted, accepted.Status)

	require.NoError(t, client.Publish(ctx, channels.Goals, `{"request_id":"stop","abort":true}`).Err())
	// the abort reply and the aborted goal's result may arrive in either order
	byRequest := map[string]redisbus.ResultMessage{}
	for i := 0; i < 2; i++ {
		res := readResult(t, results)
		byRequest[res.RequestID] = res
	}
	assert.Equal(t, redisbus.StatusAborted, byRequest["stop"].Status)
	assert.Equal(t, accepted.GoalID, byRequest["stop"].GoalID)
	assert.Equal(t, redisbus.StatusAborted, byRequest["slow"].Status)
}

func TestServeFeedback(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	channels := redisbus.NewChannels("test", true)
	bus := redisbus.New(client, channels, logging.NewTestLogger(t))
	coord := newCoordinator(t, func(context.Context, pickplace.PlanRequest) (*pickplace.PlannedPath, error) {
		return pickplace.NewPlannedPath(0, nil)
	})
	require.NoError(t, bus.Serve(ctx, coord))
	defer func() { assert.NoError(t, bus.Close()) }()

	require.NoError(t, client.Publish(ctx, channels.Feedback, "garbage").Err())
	require.NoError(t, bus.PublishFeedback(ctx, pickplace.JointFeedback{
		Names:     []string{"joint1", "grip"},
		Positions: []float64{0.3, 0.9},
	}))

	require.Eventually(t, func() bool {
		st := coord.Status()
		return st.Feedback != nil && st.Feedback.Positions[0] == 0.3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.9, coord.Status().Feedback.Positions[4])
}
