// Package redisbus connects a coordinator to Redis: goals and feedback arrive over
// pub/sub, commands and goal results leave the same way, and a remote planner is
// reached through request and reply lists.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	backend "github.com/redis/go-redis/v9"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"pickplace"
)

// Channels is the set of pub/sub channels a bus uses. The simulated and real arms
// have separate feedback and command channels, so both can share one Redis.
type Channels struct {
	Goals    string
	Results  string
	Feedback string
	// Commands carries one batch per waypoint on a real arm.
	Commands string
	// ActuatorPrefix, when set, replaces Commands with one channel per actuator:
	// ActuatorPrefix followed by the actuator id.
	ActuatorPrefix string
}

// NewChannels returns the channel set under prefix.
func NewChannels(prefix string, simulated bool) Channels {
	if prefix == "" {
		prefix = "pickplace"
	}
	if simulated {
		return Channels{
			Goals:          prefix + ":goals",
			Results:        prefix + ":results",
			Feedback:       prefix + ":sim:feedback",
			ActuatorPrefix: prefix + ":sim:actuator:",
		}
	}
	return Channels{
		Goals:    prefix + ":goals",
		Results:  prefix + ":results",
		Feedback: prefix + ":feedback",
		Commands: prefix + ":commands",
	}
}

// GoalMessage is what arrives on the goal channel. Abort set stops the current goal and
// ignores the rest.
type GoalMessage struct {
	pickplace.GoalRequest
	RequestID string `json:"request_id,omitempty"`
	Abort     bool   `json:"abort,omitempty"`
}

// Result statuses published for a goal.
const (
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// ResultMessage reports what became of a goal.
type ResultMessage struct {
	RequestID string `json:"request_id,omitempty"`
	GoalID    string `json:"goal_id,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// CommandMessage is one waypoint's commands on the batch channel.
type CommandMessage struct {
	Commands []pickplace.ActuatorCommand `json:"commands"`
}

// Coordinator is the part of the coordinator the bus drives.
type Coordinator interface {
	Submit(target pickplace.TargetPose) (*pickplace.Goal, error)
	Abort() *pickplace.Goal
	UpdateFeedback(fb pickplace.JointFeedback) error
}

// Bus is a Redis-backed goal intake, feedback source and command sink.
type Bus struct {
	client   *backend.Client
	channels Channels
	logger   logging.Logger

	mu      sync.Mutex
	workers *utils.StoppableWorkers
}

// New returns a bus on client.
func New(client *backend.Client, channels Channels, logger logging.Logger) *Bus {
	return &Bus{client: client, channels: channels, logger: logger}
}

// NewClient opens a Redis client.
func NewClient(addr, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Channels returns the bus channel set.
func (b *Bus) Channels() Channels {
	return b.channels
}

// Send publishes one waypoint's commands. It implements pickplace.Actuators.
func (b *Bus) Send(ctx context.Context, cmds []pickplace.ActuatorCommand) error {
	if b.channels.ActuatorPrefix == "" {
		data, err := json.Marshal(CommandMessage{Commands: cmds})
		if err != nil {
			return err
		}
		return b.client.Publish(ctx, b.channels.Commands, data).Err()
	}

	pipe := b.client.Pipeline()
	for _, c := range cmds {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, fmt.Sprintf("%s%d", b.channels.ActuatorPrefix, c.ActuatorID), data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PublishFeedback publishes a joint state on the feedback channel, for simulators and
// drivers that report through Redis.
func (b *Bus) PublishFeedback(ctx context.Context, fb pickplace.JointFeedback) error {
	data, err := json.Marshal(fb)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channels.Feedback, data).Err()
}

// Serve subscribes to the goal and feedback channels and forwards what arrives to c.
// It returns once the subscription is confirmed; messages are handled in the
// background until Close.
func (b *Bus) Serve(ctx context.Context, c Coordinator) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.workers != nil {
		return errors.New("bus already serving")
	}

	sub := b.client.Subscribe(ctx, b.channels.Goals, b.channels.Feedback)
	if _, err := sub.Receive(ctx); err != nil {
		utils.UncheckedError(sub.Close())
		return errors.Wrap(err, "subscribe")
	}

	workers := utils.NewBackgroundStoppableWorkers()
	b.workers = workers
	workers.Add(func(ctx context.Context) {
		defer utils.UncheckedErrorFunc(sub.Close)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				b.handle(ctx, workers, c, msg)
			}
		}
	})
	b.logger.Infof("Listening for goals on %s and feedback on %s", b.channels.Goals, b.channels.Feedback)
	return nil
}

func (b *Bus) handle(ctx context.Context, workers *utils.StoppableWorkers, c Coordinator, msg *backend.Message) {
	switch msg.Channel {
	case b.channels.Feedback:
		var fb pickplace.JointFeedback
		if err := json.Unmarshal([]byte(msg.Payload), &fb); err != nil {
			b.logger.Debugf("Dropping unparsable feedback: %v", err)
			return
		}
		// malformed feedback is counted and logged by the coordinator
		utils.UncheckedError(c.UpdateFeedback(fb))
	case b.channels.Goals:
		b.handleGoal(ctx, workers, c, msg.Payload)
	}
}

func (b *Bus) handleGoal(ctx context.Context, workers *utils.StoppableWorkers, c Coordinator, payload string) {
	var gm GoalMessage
	if err := json.Unmarshal([]byte(payload), &gm); err != nil {
		b.publishResult(ctx, ResultMessage{Status: StatusRejected, Error: fmt.Sprintf("invalid goal message: %v", err)})
		return
	}
	if gm.Abort {
		res := ResultMessage{RequestID: gm.RequestID, Status: StatusAborted}
		if g := c.Abort(); g != nil {
			res.GoalID = g.ID
		}
		b.publishResult(ctx, res)
		return
	}

	target, err := gm.Target()
	if err != nil {
		b.publishResult(ctx, ResultMessage{RequestID: gm.RequestID, Status: StatusRejected, Error: err.Error()})
		return
	}
	g, err := c.Submit(target)
	if err != nil {
		b.publishResult(ctx, ResultMessage{RequestID: gm.RequestID, Status: StatusRejected, Error: err.Error()})
		return
	}
	b.publishResult(ctx, ResultMessage{RequestID: gm.RequestID, GoalID: g.ID, Status: StatusAccepted})

	workers.Add(func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-g.Done():
		}
		b.publishResult(ctx, resultFor(gm.RequestID, g))
	})
}

func resultFor(requestID string, g *pickplace.Goal) ResultMessage {
	res := ResultMessage{RequestID: requestID, GoalID: g.ID, Status: StatusSucceeded}
	switch err := g.Err(); {
	case err == nil:
	case errors.Is(err, pickplace.ErrAborted):
		res.Status = StatusAborted
		res.Error = err.Error()
	default:
		res.Status = StatusFailed
		res.Error = err.Error()
	}
	return res
}

func (b *Bus) publishResult(ctx context.Context, res ResultMessage) {
	data, err := json.Marshal(res)
	if err != nil {
		b.logger.Errorf("Failed to encode result: %v", err)
		return
	}
	if err := b.client.Publish(ctx, b.channels.Results, data).Err(); err != nil {
		b.logger.Warnf("Failed to publish result for goal %s: %v", res.GoalID, err)
	}
}

// Close stops serving. It does not close the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	workers := b.workers
	b.workers = nil
	b.mu.Unlock()
	if workers != nil {
		workers.Stop()
	}
	return nil
}
