package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowcore/pkg/approval"
	"github.com/dukex/flowcore/pkg/dispatch"
	"github.com/dukex/flowcore/pkg/engine"
	"github.com/dukex/flowcore/pkg/graph"
	"github.com/dukex/flowcore/pkg/models"
	"github.com/dukex/flowcore/pkg/persistence/file"
	"github.com/dukex/flowcore/pkg/registry"
	"github.com/dukex/flowcore/pkg/scheduler"
	"github.com/dukex/flowcore/pkg/stream"
	"github.com/dukex/flowcore/pkg/testutil"
	"github.com/dukex/flowcore/pkg/web"
	"github.com/dukex/flowcore/pkg/webhook"
)

func setupTestApp(t *testing.T, config dispatch.Config) *fiber.App {
	t.Helper()

	logger := slog.Default()
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes()
	graphValidator := graph.NewValidator(reg)

	eng := engine.New(logger, reg, graphValidator, store.ExecutionRepository(), store.GraphRepository(), nil, engine.Config{})
	approvals := approval.NewService(logger, store.ApprovalRepository(), eng, nil)
	eng.SetApprovalHook(approvals)

	dispatcher := dispatch.New(logger, eng, store.GraphRepository(), store.TriggerRepository(), store.DeadLetterRepository(), config)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		assert.NoError(t, dispatcher.Shutdown(ctx))
	})

	handlers := web.NewAPIHandlers(logger, web.Services{
		Persistence: store,
		Validator:   graphValidator,
		Engine:      eng,
		Dispatcher:  dispatcher,
		Replayer:    dispatch.NewReplayer(dispatcher, store.DeadLetterRepository()),
		DeadLetters: store.DeadLetterRepository(),
		Webhooks:    webhook.NewReceiver(logger, dispatcher, dispatcher),
		Approvals:   approvals,
		Scheduler:   scheduler.New(logger, store.ScheduleRepository(), dispatcher, scheduler.Config{}),
		Stream:      stream.NewProducer(logger, store.ExecutionRepository(), store.GraphRepository(), stream.Config{}),
	}, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	handlers.Register(app)

	return app
}

func testConfig() dispatch.Config {
	config := dispatch.DefaultConfig()
	config.MaxRetries = 0

	return config
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any, headers ...string) (int, http.Header, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, resp.Header, data
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))

	return out
}

// waitForStatus polls the execution until it reaches want.
func waitForStatus(t *testing.T, app *fiber.App, executionID, want string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for {
		status, _, body := doRequest(t, app, http.MethodGet, "/executions/"+executionID, nil)
		require.Equal(t, http.StatusOK, status, string(body))

		record := decode(t, body)
		if record["status"] == want {
			return record
		}

		if time.Now().After(deadline) {
			require.FailNowf(t, "execution did not reach status", "%s is %v, want %s", executionID, record["status"], want)
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func linearGraph(id string) *models.WorkflowGraph {
	return testutil.CreateLinearGraph(id, "a", "b")
}

func approvalGraph(id string) *models.WorkflowGraph {
	return testutil.CreateTestGraph(id,
		[]*models.GraphNode{
			testutil.CreateTestNode("build"),
			testutil.CreateTestNode("gate",
				testutil.WithType(models.NodeTypeApproval),
				testutil.WithConfig(map[string]any{"approvers": []any{"alice"}, "title": "Ship it"})),
			testutil.CreateTestNode("ship"),
		},
		testutil.Edge("build", "gate"),
		testutil.BranchEdge("gate", "ship", "approved"),
	)
}

func saveGraph(t *testing.T, app *fiber.App, g *models.WorkflowGraph) {
	t.Helper()

	status, _, body := doRequest(t, app, http.MethodPost, "/workflows", g)
	require.Equal(t, http.StatusCreated, status, string(body))
}

func TestHealthCheck(t *testing.T) {
	app := setupTestApp(t, testConfig())

	status, _, body := doRequest(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", decode(t, body)["status"])
}

func TestWorkflows_SaveGetValidate(t *testing.T) {
	app := setupTestApp(t, testConfig())

	saveGraph(t, app, linearGraph("wf-1"))

	status, _, body := doRequest(t, app, http.MethodGet, "/workflows/wf-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "wf-1", decode(t, body)["id"])

	status, _, _ = doRequest(t, app, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	cyclic := testutil.CreateTestGraph("wf-cycle",
		[]*models.GraphNode{testutil.CreateTestNode("a"), testutil.CreateTestNode("b")},
		testutil.Edge("a", "b"),
		testutil.Edge("b", "a"),
	)

	status, _, body = doRequest(t, app, http.MethodPost, "/workflows", cyclic)
	require.Equal(t, http.StatusBadRequest, status)
	problem := decode(t, body)
	assert.Equal(t, "invalid_graph", problem["type"])
	assert.NotEmpty(t, problem["issues"])

	status, _, body = doRequest(t, app, http.MethodPost, "/workflows/validate", cyclic)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, decode(t, body)["valid"])

	status, _, _ = doRequest(t, app, http.MethodPost, "/workflows", map[string]any{"name": "no id"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRunWorkflow_Completes(t *testing.T) {
	app := setupTestApp(t, testConfig())
	saveGraph(t, app, linearGraph("wf-1"))

	status, _, body := doRequest(t, app, http.MethodPost, "/workflows/wf-1/run", map[string]any{"input": map[string]any{"x": 1}})
	require.Equal(t, http.StatusAccepted, status, string(body))

	result := decode(t, body)
	assert.Equal(t, "running", result["status"])
	assert.InDelta(t, 1, result["attempts"], 0)

	executionID, ok := result["execution_id"].(string)
	require.True(t, ok)

	record := waitForStatus(t, app, executionID, "completed")
	assert.Equal(t, "wf-1", record["workflow_id"])

	status, _, body = doRequest(t, app, http.MethodGet, "/workflows/wf-1/executions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, decode(t, body)["total_count"], 0)
}

func TestRunWorkflow_Errors(t *testing.T) {
	app := setupTestApp(t, testConfig())

	status, _, _ := doRequest(t, app, http.MethodPost, "/workflows/missing/run", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _, _ = doRequest(t, app, http.MethodPost, "/workflows/wf-1/run", map[string]any{"trigger_type": "carrier-pigeon"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, _ = doRequest(t, app, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRunWorkflow_RateLimited(t *testing.T) {
	config := testConfig()
	config.PerMinute = 1
	app := setupTestApp(t, config)
	saveGraph(t, app, linearGraph("wf-1"))

	status, _, _ := doRequest(t, app, http.MethodPost, "/workflows/wf-1/run", nil)
	require.Equal(t, http.StatusAccepted, status)

	status, headers, body := doRequest(t, app, http.MethodPost, "/workflows/wf-1/run", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "60", headers.Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode(t, body)["type"])
}

func TestApprovals_RoundTrip(t *testing.T) {
	app := setupTestApp(t, testConfig())
	saveGraph(t, app, approvalGraph("wf-ship"))

	status, _, body := doRequest(t, app, http.MethodPost, "/workflows/wf-ship/run", nil)
	require.Equal(t, http.StatusAccepted, status, string(body))
	executionID := decode(t, body)["execution_id"].(string)
	waitForStatus(t, app, executionID, "paused_approval")

	status, _, body = doRequest(t, app, http.MethodGet, "/approvals", nil)
	require.Equal(t, http.StatusOK, status)

	var pending struct {
		Approvals []models.ApprovalRequest `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending.Approvals, 1)
	approvalID := pending.Approvals[0].ID
	assert.Equal(t, "Ship it", pending.Approvals[0].Title)

	status, _, _ = doRequest(t, app, http.MethodPost, "/approvals/"+approvalID+"/approve", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, _ = doRequest(t, app, http.MethodPost, "/approvals/"+approvalID+"/approve", map[string]any{"approver": "mallory"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _, body = doRequest(t, app, http.MethodPost, "/approvals/"+approvalID+"/approve", map[string]any{"approver": "alice", "comment": "lgtm"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "approved", decode(t, body)["status"])

	waitForStatus(t, app, executionID, "completed")

	status, _, _ = doRequest(t, app, http.MethodPost, "/approvals/"+approvalID+"/reject", map[string]any{"approver": "alice"})
	assert.Equal(t, http.StatusConflict, status)
}

func TestCancelExecution(t *testing.T) {
	app := setupTestApp(t, testConfig())
	saveGraph(t, app, approvalGraph("wf-ship"))

	_, _, body := doRequest(t, app, http.MethodPost, "/workflows/wf-ship/run", nil)
	executionID := decode(t, body)["execution_id"].(string)
	waitForStatus(t, app, executionID, "paused_approval")

	status, _, body := doRequest(t, app, http.MethodPost, "/executions/"+executionID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "cancelled", decode(t, body)["status"])

	status, _, _ = doRequest(t, app, http.MethodPost, "/executions/"+executionID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _, body = doRequest(t, app, http.MethodGet, "/approvals", nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 0, decode(t, body)["total_count"], 0)
}

func TestWebhooks(t *testing.T) {
	app := setupTestApp(t, testConfig())
	saveGraph(t, app, linearGraph("wf-1"))

	status, _, body := doRequest(t, app, http.MethodPost, "/triggers", map[string]any{
		"id":          "hook-1",
		"workflow_id": "wf-1",
		"type":        "webhook",
		"auth_mode":   "bearer",
		"secret":      "s3cret",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.Equal(t, true, decode(t, body)["is_active"])

	payload := map[string]any{"order": 42}

	status, _, _ = doRequest(t, app, http.MethodPost, "/webhooks/hook-1", payload)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _, _ = doRequest(t, app, http.MethodPost, "/webhooks/hook-1", payload, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _, body = doRequest(t, app, http.MethodPost, "/webhooks/hook-1", payload, "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusAccepted, status, string(body))
	waitForStatus(t, app, decode(t, body)["execution_id"].(string), "completed")

	status, _, _ = doRequest(t, app, http.MethodGet, "/webhooks/hook-1", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	status, _, _ = doRequest(t, app, http.MethodPost, "/webhooks/missing", payload)
	assert.Equal(t, http.StatusNotFound, status)

	var metrics map[string]any

	deadline := time.Now().Add(5 * time.Second)
	for metrics["success_count"] == nil || metrics["success_count"] == 0.0 {
		require.True(t, time.Now().Before(deadline), "webhook dispatch was never recorded")

		status, _, body = doRequest(t, app, http.MethodGet, "/triggers/hook-1/metrics", nil)
		require.Equal(t, http.StatusOK, status)
		metrics = decode(t, body)
		time.Sleep(10 * time.Millisecond)
	}
	assert.InDelta(t, 1, metrics["total_executions"], 0)
	assert.InDelta(t, 1, metrics["success_count"], 0)
	assert.InDelta(t, 100, metrics["success_rate"], 0)

	status, _, _ = doRequest(t, app, http.MethodDelete, "/triggers/hook-1", nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _, _ = doRequest(t, app, http.MethodPost, "/webhooks/hook-1", payload, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateTrigger_Invalid(t *testing.T) {
	app := setupTestApp(t, testConfig())
	saveGraph(t, app, linearGraph("wf-1"))

	status, _, _ := doRequest(t, app, http.MethodPost, "/triggers", map[string]any{"workflow_id": "wf-1", "type": "fax"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, _ = doRequest(t, app, http.MethodPost, "/triggers", map[string]any{"workflow_id": "wf-1", "type": "webhook", "auth_mode": "hmac-sha256"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, _ = doRequest(t, app, http.MethodPost, "/triggers", map[string]any{"workflow_id": "missing", "type": "webhook"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSchedules(t *testing.T) {
	app := setupTestApp(t, testConfig())
	saveGraph(t, app, linearGraph("wf-1"))

	status, _, body := doRequest(t, app, http.MethodPost, "/schedules", map[string]any{
		"workflow_id":     "wf-1",
		"cron_expression": "0 * * * *",
	})
	require.Equal(t, http.StatusCreated, status, string(body))
	created := decode(t, body)
	scheduleID := created["id"].(string)
	assert.Equal(t, true, created["is_active"])
	assert.NotEmpty(t, created["next_run_at"])

	status, _, _ = doRequest(t, app, http.MethodPost, "/schedules", map[string]any{"workflow_id": "wf-1", "cron_expression": "every day"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, _ = doRequest(t, app, http.MethodPost, "/schedules", map[string]any{
		"workflow_id": "wf-1", "cron_expression": "0 * * * *", "timezone": "Mars/Olympus",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _, body = doRequest(t, app, http.MethodPost, "/schedules/"+scheduleID+"/pause", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, decode(t, body)["is_active"])

	status, _, body = doRequest(t, app, http.MethodPost, "/schedules/"+scheduleID+"/resume", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, decode(t, body)["is_active"])

	status, _, body = doRequest(t, app, http.MethodGet, "/schedules", nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, decode(t, body)["total_count"], 0)

	status, _, _ = doRequest(t, app, http.MethodDelete, "/schedules/"+scheduleID, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _, _ = doRequest(t, app, http.MethodGet, "/schedules/"+scheduleID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStreamExecution(t *testing.T) {
	app := setupTestApp(t, testConfig())
	saveGraph(t, app, linearGraph("wf-1"))

	_, _, body := doRequest(t, app, http.MethodPost, "/workflows/wf-1/run", nil)
	executionID := decode(t, body)["execution_id"].(string)

	status, headers, body := doRequest(t, app, http.MethodGet, "/executions/"+executionID+"/stream", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "text/event-stream", headers.Get("Content-Type"))

	text := string(body)
	assert.Contains(t, text, "event: connected\n")
	assert.Contains(t, text, "event: node_status\n")
	assert.Contains(t, text, "event: completed\n")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(text), "}"))
	assert.Contains(t, text, "event: close\n")
	assert.Contains(t, text, `"executionId":"`+executionID+`"`)

	status, _, _ = doRequest(t, app, http.MethodGet, "/executions/missing/stream", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeadLetters_ListAndReplay(t *testing.T) {
	app := setupTestApp(t, testConfig())

	broken := testutil.CreateTestGraph("wf-broken",
		[]*models.GraphNode{testutil.CreateTestNode("a", testutil.WithConfig(map[string]any{"message": "{{ .unclosed"}))},
	)
	saveGraph(t, app, broken)

	status, _, body := doRequest(t, app, http.MethodPost, "/workflows/wf-broken/run", nil)
	require.Equal(t, http.StatusAccepted, status, string(body))
	waitForStatus(t, app, decode(t, body)["execution_id"].(string), "failed")

	var listed struct {
		DeadLetters []models.DeadLetter `json:"dead_letters"`
	}

	// The dead letter is pushed after the failed execution is stored.
	deadline := time.Now().Add(5 * time.Second)
	for len(listed.DeadLetters) == 0 && time.Now().Before(deadline) {
		status, _, body = doRequest(t, app, http.MethodGet, "/dead-letters", nil)
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(body, &listed))
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, listed.DeadLetters, 1)
	assert.Equal(t, "wf-broken", listed.DeadLetters[0].WorkflowID)
	assert.Equal(t, 1, listed.DeadLetters[0].Attempts)

	status, _, _ = doRequest(t, app, http.MethodPost, "/dead-letters/"+listed.DeadLetters[0].ID+"/replay", nil)
	assert.Equal(t, http.StatusBadGateway, status)

	status, _, _ = doRequest(t, app, http.MethodPost, "/dead-letters/missing/replay", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
