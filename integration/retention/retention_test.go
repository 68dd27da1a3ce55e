package retention

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/circuit-breaker/engine/client"
	"gitlab.com/circuit-breaker/engine/common/setup"
	support "gitlab.com/circuit-breaker/engine/internal/integration-support"
	"gitlab.com/circuit-breaker/engine/model"
	"gitlab.com/circuit-breaker/engine/server/server/option"
	zensvr "gitlab.com/circuit-breaker/engine/zen/server"
)

var tst *support.Integration

func TestMain(m *testing.M) {
	tst = support.NewIntegration("retention", zensvr.WithEngineOption(option.StreamRetention(setup.Retention{MaxMsgs: 3})))
	tst.Setup()
	code := m.Run()
	tst.Teardown()
	os.Exit(code)
}

func TestHistoryTruncation(t *testing.T) {
	ctx := context.Background()
	cl := tst.NewClient(t)
	wf, err := cl.CreateWorkflow(ctx, &model.WorkflowDefinition{
		Name:         "counter",
		Places:       []string{"open", "closed"},
		InitialPlace: "open",
		Activities:   []model.Activity{{ID: "close", FromPlaces: []string{"open"}, ToPlace: "closed", Terminal: true}},
	})
	require.NoError(t, err)

	r, err := cl.CreateResource(ctx, &model.CreateResourceRequest{WorkflowID: wf.ID, Data: model.Vars{"n": 0}})
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		_, err := cl.UpdateResource(ctx, &model.UpdateResourceRequest{ResourceID: r.ID, Data: model.Vars{"n": i}})
		require.NoError(t, err, "update %d", i)
	}

	events, truncated, err := cl.History(ctx, wf.ID, r.ID)
	require.NoError(t, err)
	assert.True(t, truncated)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].ResourceVersion)
	assert.Equal(t, uint64(5), events[2].ResourceVersion)

	got, err := cl.GetResource(ctx, r.ID, client.WithHistory())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Version)
	assert.EqualValues(t, 4, got.Data["n"])
	assert.True(t, got.HistoryTruncated)
}
