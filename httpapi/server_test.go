package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"pickplace"
	"pickplace/httpapi"
)

const jointGoal = `{"joints":{"positions":[0.1,0.2,0.3,0.4]}}`

type apiFixture struct {
	coord   *pickplace.Coordinator
	server  *httptest.Server
	release chan struct{}
}

// newAPI serves a coordinator whose planner waits for release before returning a short path.
func newAPI(t *testing.T, start bool) *apiFixture {
	t.Helper()
	release := make(chan struct{})
	coord, err := pickplace.NewCoordinator(pickplace.Options{
		Planner: pickplace.PlannerFunc(func(ctx context.Context, _ pickplace.PlanRequest) (*pickplace.PlannedPath, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return pickplace.NewPlannedPath(30*time.Millisecond, [][]float64{{0.1, 0.2, 0.3, 0.4}, {0.1, 0.2, 0.3, 0.4}})
		}),
		Actuators:  pickplace.ActuatorsFunc(func(context.Context, []pickplace.ActuatorCommand) error { return nil }),
		DispatchHz: 100,
	}, logging.NewTestLogger(t))
	require.NoError(t, err)
	if start {
		require.NoError(t, coord.Start())
	}
	t.Cleanup(func() { assert.NoError(t, coord.Close(context.Background())) })

	srv := httptest.NewServer(httpapi.NewHandler(coord, coord.Metrics().Registry, logging.NewTestLogger(t)))
	t.Cleanup(srv.Close)
	return &apiFixture{coord: coord, server: srv, release: release}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, r)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealth(t *testing.T) {
	f := newAPI(t, true)
	code, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", decode[map[string]string](t, body)["status"])
}

func TestSubmitGoal(t *testing.T) {
	f := newAPI(t, true)

	code, body := f.do(t, http.MethodPost, "/v1/goals", jointGoal)
	require.Equal(t, http.StatusAccepted, code, string(body))
	accepted := decode[httpapi.GoalResponse](t, body)
	assert.Equal(t, "accepted", accepted.Status)
	require.NotEmpty(t, accepted.GoalID)

	code, body = f.do(t, http.MethodGet, "/v1/goals/"+accepted.GoalID, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "planning", decode[httpapi.GoalResponse](t, body).Status)

	// one goal at a time
	code, body = f.do(t, http.MethodPost, "/v1/goals", jointGoal)
	assert.Equal(t, http.StatusConflict, code)
	assert.NotEmpty(t, decode[httpapi.ErrorResponse](t, body).Error)

	code, body = f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	st := decode[pickplace.Status](t, body)
	assert.Equal(t, "planning", st.State)
	assert.Equal(t, accepted.GoalID, st.GoalID)

	close(f.release)
	assert.Eventually(t, func() bool {
		_, body := f.do(t, http.MethodGet, "/v1/goals/"+accepted.GoalID, "")
		return decode[httpapi.GoalResponse](t, body).Status == "succeeded"
	}, 5*time.Second, 10*time.Millisecond)

	code, body = f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	st = decode[pickplace.Status](t, body)
	assert.Equal(t, "idle", st.State)
	assert.Empty(t, st.GoalID)
}

func TestSubmitGoalRejected(t *testing.T) {
	f := newAPI(t, true)

	for _, tc := range []struct {
		name string
		body string
	}{
		{"malformed body", `{"joints":`},
		{"empty goal", `{}`},
		{"both kinds", `{"joints":{"positions":[0,0,0,0]},"pose":{"x":100}}`},
		{"wrong joint count", `{"joints":{"positions":[0.1]}}`},
		{"bad palm", `{"pose":{"x":100,"palm":2}}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodPost, "/v1/goals", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, decode[httpapi.ErrorResponse](t, body).Error)
		})
	}

	code, body := f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", decode[pickplace.Status](t, body).State)
}

func TestSubmitGoalTooLarge(t *testing.T) {
	f := newAPI(t, true)
	body := `{"joints":{"names":["` + strings.Repeat("x", 1<<17) + `"],"positions":[0]}}`
	code, data := f.do(t, http.MethodPost, "/v1/goals", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "request body too large", decode[httpapi.ErrorResponse](t, data).Error)

	code, data = f.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", decode[pickplace.Status](t, data).State)
}

func TestSubmitGoalNotRunning(t *testing.T) {
	f := newAPI(t, false)
	code, body := f.do(t, http.MethodPost, "/v1/goals", jointGoal)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, decode[httpapi.ErrorResponse](t, body).Error, "not running")
}

func TestAbort(t *testing.T) {
	f := newAPI(t, true)

	code, body := f.do(t, http.MethodPost, "/v1/abort", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, decode[map[string]interface{}](t, body)["aborted"])

	_, body = f.do(t, http.MethodPost, "/v1/goals", jointGoal)
	id := decode[httpapi.GoalResponse](t, body).GoalID

	code, body = f.do(t, http.MethodPost, "/v1/abort", "")
	require.Equal(t, http.StatusOK, code)
	resp := decode[map[string]interface{}](t, body)
	assert.Equal(t, true, resp["aborted"])
	assert.Equal(t, id, resp["goal_id"])

	_, body = f.do(t, http.MethodGet, "/v1/goals/"+id, "")
	goal := decode[httpapi.GoalResponse](t, body)
	assert.Equal(t, "aborted", goal.Status)
	assert.NotEmpty(t, goal.Error)

	// a new goal is accepted straight away
	code, _ = f.do(t, http.MethodPost, "/v1/goals", jointGoal)
	assert.Equal(t, http.StatusAccepted, code)
}

func TestUnknownGoal(t *testing.T) {
	f := newAPI(t, true)
	code, body := f.do(t, http.MethodGet, "/v1/goals/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "unknown goal", decode[httpapi.ErrorResponse](t, body).Error)
}

func TestMetrics(t *testing.T) {
	f := newAPI(t, true)
	code, body := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "pickplace_dispatch_ticks_total")

	srv := httptest.NewServer(httpapi.NewHandler(f.coord, nil, logging.NewTestLogger(t)))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
