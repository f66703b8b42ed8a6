package redisbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	backend "github.com/redis/go-redis/v9"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"pickplace"
)

// PlanRequest is pushed onto the request list for a remote planner.
type PlanRequest struct {
	GoalID  string                `json:"goal_id"`
	Group   string                `json:"planning_group,omitempty"`
	Target  pickplace.GoalRequest `json:"target"`
	Start   []float64             `json:"start,omitempty"`
	ReplyTo string                `json:"reply_to"`
	// Deadline is when the coordinator stops waiting for the reply.
	Deadline time.Time `json:"deadline"`
}

// PlanReply is what a remote planner pushes onto the reply list. Either Positions or
// Error is set; Reason is "infeasible" or "timeout" and defaults to infeasible.
type PlanReply struct {
	DurationMs float64     `json:"duration_ms"`
	Positions  [][]float64 `json:"positions,omitempty"`
	Error      string      `json:"error,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// Planner delegates planning to a remote process over two Redis lists. It pushes a
// request and blocks on a per-goal reply list for at most the budget.
type Planner struct {
	client *backend.Client
	prefix string
	budget time.Duration
	logger logging.Logger
}

// NewPlanner returns a remote planner under prefix.
func NewPlanner(client *backend.Client, prefix string, budget time.Duration, logger logging.Logger) *Planner {
	if prefix == "" {
		prefix = "pickplace"
	}
	if budget <= 0 {
		budget = pickplace.DefaultPlanningBudget
	}
	return &Planner{client: client, prefix: prefix, budget: budget, logger: logger}
}

// RequestKey is the list plan requests are pushed onto.
func (p *Planner) RequestKey() string {
	return p.prefix + ":plan:requests"
}

func (p *Planner) replyKey(goalID string) string {
	return p.prefix + ":plan:reply:" + goalID
}

// Plan implements pickplace.Planner.
func (p *Planner) Plan(ctx context.Context, req pickplace.PlanRequest) (*pickplace.PlannedPath, error) {
	target, err := pickplace.NewGoalRequest(req.Target)
	if err != nil {
		return nil, pickplace.NewInfeasible("encode target: %v", err)
	}
	msg := PlanRequest{
		GoalID:   req.GoalID,
		Group:    req.Group,
		Target:   target,
		Start:    req.Start,
		ReplyTo:  p.replyKey(req.GoalID),
		Deadline: time.Now().Add(p.budget),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, pickplace.NewInfeasible("encode plan request: %v", err)
	}
	if err := p.client.RPush(ctx, p.RequestKey(), data).Err(); err != nil {
		return nil, pickplace.NewInfeasible("push plan request: %v", err)
	}
	defer func() {
		// drop a reply that shows up after we gave up
		utils.UncheckedError(p.client.Del(context.Background(), msg.ReplyTo).Err())
	}()

	res, err := p.client.BLPop(ctx, p.budget, msg.ReplyTo).Result()
	switch {
	case errors.Is(err, backend.Nil):
		return nil, pickplace.NewTimeout("no plan for goal %s within %v", req.GoalID, p.budget)
	case err != nil && ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, pickplace.NewTimeout("waiting for plan: %v", ctx.Err())
		}
		return nil, &pickplace.PlanningError{Reason: pickplace.Infeasible, Err: ctx.Err()}
	case err != nil:
		return nil, pickplace.NewInfeasible("waiting for plan: %v", err)
	case len(res) != 2:
		return nil, pickplace.NewInfeasible("unexpected reply %v", res)
	}

	var reply PlanReply
	if err := json.Unmarshal([]byte(res[1]), &reply); err != nil {
		return nil, pickplace.NewInfeasible("decode plan reply: %v", err)
	}
	if reply.Error != "" {
		if reply.Reason == pickplace.Timeout.String() {
			return nil, pickplace.NewTimeout("remote planner: %s", reply.Error)
		}
		return nil, pickplace.NewInfeasible("remote planner: %s", reply.Error)
	}

	duration := time.Duration(reply.DurationMs * float64(time.Millisecond))
	path, err := pickplace.NewPlannedPath(duration, reply.Positions)
	if err != nil {
		return nil, pickplace.NewInfeasible("remote plan: %v", err)
	}
	p.logger.Debugf("Remote plan for goal %s: %d waypoints over %v", req.GoalID, path.Waypoints(), duration)
	return path, nil
}
