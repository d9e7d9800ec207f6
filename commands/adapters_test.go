package commands

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalmesh/signalmesh/route"
	"github.com/signalmesh/signalmesh/signal"
)

func testRouter() *route.Router {
	r := route.New()
	registerAdapters(r, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return r
}

func TestBuiltinAdaptersCoverAllActions(t *testing.T) {
	r := testRouter()
	assert.ElementsMatch(t, []string{"notion", "trello", "chat", "sheets", "drive", ""}, r.Platforms())
}

func TestCreateTaskAdapterReturnsTaskReference(t *testing.T) {
	r := testRouter()
	result := r.RouteAction(context.Background(), &signal.Decision{
		Action: signal.ActionCreateTask,
		Params: signal.ActionParams{
			CreateTask: &signal.CreateTaskParams{Platform: "notion", Title: "send figures"},
		},
	})
	require.True(t, result.Success)
	data, ok := result.Data.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "send figures", data["title"])
	assert.NotEmpty(t, data["task_id"])
}

func TestCreateTaskAdapterRejectsMissingTitle(t *testing.T) {
	r := testRouter()
	result := r.RouteAction(context.Background(), &signal.Decision{
		Action: signal.ActionCreateTask,
		Params: signal.ActionParams{
			CreateTask: &signal.CreateTaskParams{Platform: "trello"},
		},
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "needs a title")
}

func TestDelegateAndEscalateRouteWithoutPlatform(t *testing.T) {
	r := testRouter()

	result := r.RouteAction(context.Background(), &signal.Decision{
		Action: signal.ActionDelegate,
		Params: signal.ActionParams{
			Delegate: &signal.DelegateParams{Recipient: "ops@acme.com"},
		},
	})
	require.True(t, result.Success)

	result = r.RouteAction(context.Background(), &signal.Decision{
		Action: signal.ActionEscalate,
		Params: signal.ActionParams{
			Escalate: &signal.EscalateParams{Target: "oncall", Reason: "no response"},
		},
	})
	require.True(t, result.Success)
}
