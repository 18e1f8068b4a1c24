package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesDialogueMetrics(t *testing.T) {
	SetActiveSessions(3)
	RecordSessionCreated("echo")
	RecordSessionRemoved("idle", 2)
	RecordExchange("exchange", "output", 15*time.Millisecond)
	RecordTimeout("driver")
	RecordProgramFailure("")
	RecordRPCRequest("dialogue.start", true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "parley_sessions_active 3")
	assert.Contains(t, body, `parley_sessions_created_total{program="echo"}`)
	assert.Contains(t, body, `parley_sessions_removed_total{reason="idle"} 2`)
	assert.Contains(t, body, `parley_dialogue_exchanges_total{op="exchange",outcome="output"}`)
	assert.Contains(t, body, `parley_dialogue_timeouts_total{side="driver"}`)
	assert.Contains(t, body, `parley_program_failures_total{program="unknown"}`)
}

func TestRecordSessionAudit(t *testing.T) {
	var buf bytes.Buffer
	SetAuditLogger(zerolog.New(&buf))

	RecordSessionAudit(context.Background(), "s-1", "session.evicted", "success", map[string]interface{}{
		"idle": "31m0s",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session", entry["type"])
	assert.Equal(t, "s-1", entry["actor"])
	assert.Equal(t, "session.evicted", entry["action"])
	assert.NotContains(t, entry, "trace_id")
}

func TestInitAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	defer func() {
		_ = GetAuditLogger().Close()
		SetAuditLogger(zerolog.Nop())
	}()

	RecordSecurityAudit(context.Background(), "rpc.unauthorized", "1.2.3.4", "failure", nil)
	assert.FileExists(t, path)
}
