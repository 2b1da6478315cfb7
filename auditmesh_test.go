package auditmesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/auditmesh/agent"
	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/internal/testutil"
	"github.com/hupe1980/auditmesh/model"
)

func TestMesh_Ask(t *testing.T) {
	llm := model.NewMockModel("mock-llm", "mock")
	llm.Script(model.Response{Content: core.NewTextContent(core.RoleAssistant, "Paris")})

	mesh := New()
	mesh.Register(agent.NewModelAgent("cerebras_agent", llm, func(o *agent.ModelAgentOptions) {
		o.OutputKey = "answer"
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := mesh.Ask(ctx, "s1", "cerebras_agent", "Capital of France?")
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "Paris", res.Text())
	assert.Equal(t, "Paris", res.State["answer"])
}

func TestMesh_UnknownAgent(t *testing.T) {
	mesh := New()

	_, err := mesh.Ask(context.Background(), "s1", "missing", "hi")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	err = mesh.Serve(context.Background(), "missing", ":0")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestMesh_AgentsSorted(t *testing.T) {
	mesh := New()
	mesh.Register(testutil.NewReplyAgent("reviser", "r"))
	mesh.Register(testutil.NewReplyAgent("critic", "c"))

	assert.Equal(t, []string{"critic", "reviser"}, mesh.Agents())
}

func TestMesh_SharedSessionStore(t *testing.T) {
	mesh := New()
	mesh.Register(testutil.NewReplyAgent("critic", "looks wrong"))
	mesh.Register(testutil.NewReplyAgent("reviser", "fixed"))

	ctx := context.Background()

	_, err := mesh.Ask(ctx, "shared", "critic", "check this")
	require.NoError(t, err)
	_, err = mesh.Ask(ctx, "shared", "reviser", "fix it")
	require.NoError(t, err)

	sess, err := mesh.SessionStore().Get("shared")
	require.NoError(t, err)
	assert.Len(t, sess.GetEvents(), 4)
}
