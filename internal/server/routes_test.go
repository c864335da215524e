package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

func createEntity(t *testing.T, srv *Server) store.Entity {
	t.Helper()
	w := do(t, srv, "POST", "/api/entities", map[string]any{"name": "Aoi", "config": map[string]any{"tone": "warm"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("create entity: status %d: %s", w.Code, w.Body.String())
	}
	var e store.Entity
	decodeBody(t, w, &e)
	return e
}

func TestCreateAndGetEntity(t *testing.T) {
	srv, _ := testServer(t)
	e := createEntity(t, srv)

	w := do(t, srv, "GET", "/api/entities/"+e.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got struct {
		Name         string         `json:"name"`
		Config       map[string]any `json:"config"`
		RecordCounts map[string]int `json:"record_counts"`
	}
	decodeBody(t, w, &got)
	if got.Name != "Aoi" || got.Config["tone"] != "warm" {
		t.Errorf("entity = %+v", got)
	}

	w = do(t, srv, "GET", "/api/entities", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), e.ID) {
		t.Errorf("list: %d %s", w.Code, w.Body.String())
	}
}

func TestCreateEntityValidation(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing name", map[string]any{}, "name is required"},
		{"bad owner", map[string]any{"name": "x", "owner_id": "not-a-uuid"}, "owner_id must be a uuid"},
		{"invalid json", "{", "invalid json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, "POST", "/api/entities", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("body = %s, want %q", w.Body.String(), tt.want)
			}
		})
	}
}

func TestGetEntityNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, "GET", "/api/entities/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAddAndListRecords(t *testing.T) {
	srv, _ := testServer(t)
	e := createEntity(t, srv)

	for day := 1; day <= 3; day++ {
		w := do(t, srv, "POST", "/api/entities/"+e.ID+"/records", map[string]any{"day": day, "content": fmt.Sprintf("day %d", day)})
		if w.Code != http.StatusCreated {
			t.Fatalf("add record: status %d: %s", w.Code, w.Body.String())
		}
	}

	w := do(t, srv, "GET", "/api/entities/"+e.ID+"/records?tier=daily_raw&start_day=2&limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Records []store.Record `json:"records"`
	}
	decodeBody(t, w, &body)
	if len(body.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(body.Records))
	}
	if body.Records[0].StartDay != 3 || body.Records[0].Tier != tier.DailyRaw {
		t.Errorf("first record = %+v", body.Records[0])
	}
}

func TestAddRecordValidation(t *testing.T) {
	srv, _ := testServer(t)
	e := createEntity(t, srv)

	bodies := []any{
		map[string]any{"content": "no day"},
		map[string]any{"day": -1, "content": "negative"},
		map[string]any{"day": 1},
	}
	for _, b := range bodies {
		w := do(t, srv, "POST", "/api/entities/"+e.ID+"/records", b)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%v: status = %d, want 400", b, w.Code)
		}
	}

	w := do(t, srv, "GET", "/api/entities/"+e.ID+"/records?tier=weekly", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid tier: status = %d, want 400", w.Code)
	}
}

func TestSleepAndContext(t *testing.T) {
	srv, _ := testServer(t)
	e := createEntity(t, srv)
	do(t, srv, "POST", "/api/entities/"+e.ID+"/records", map[string]any{"day": 10, "content": "a quiet day"})

	w := do(t, srv, "POST", "/api/entities/"+e.ID+"/sleep", map[string]any{"current_day": 10})
	if w.Code != http.StatusOK {
		t.Fatalf("sleep: status %d: %s", w.Code, w.Body.String())
	}
	var res engine.RunResult
	decodeBody(t, w, &res)
	if !res.Success || res.Count != 2 {
		t.Errorf("result = %+v", res)
	}

	w = do(t, srv, "GET", "/api/entities/"+e.ID+"/context?day=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("context: status %d", w.Code)
	}
	var ctx struct {
		Entries   []engine.Entry `json:"entries"`
		Buckets   []any          `json:"buckets"`
		Formatted string         `json:"formatted"`
	}
	decodeBody(t, w, &ctx)
	if len(ctx.Buckets) != 6 {
		t.Errorf("got %d buckets, want 6", len(ctx.Buckets))
	}
	if len(ctx.Entries) != 2 {
		t.Errorf("got %d entries, want raw + daily summary", len(ctx.Entries))
	}
	if !strings.HasPrefix(ctx.Formatted, "[memory]\n--- today's record ---\na quiet day") {
		t.Errorf("formatted = %q", ctx.Formatted)
	}
}

func TestSleepErrorStatuses(t *testing.T) {
	srv, db := testServer(t)
	e := createEntity(t, srv)
	sleep := func(day int) int {
		return do(t, srv, "POST", "/api/entities/"+e.ID+"/sleep", map[string]any{"current_day": day}).Code
	}

	if code := sleep(5); code != http.StatusOK {
		t.Fatalf("first sleep: %d", code)
	}
	if code := sleep(4); code != http.StatusUnprocessableEntity {
		t.Errorf("stale day: status = %d, want 422", code)
	}

	if _, err := db.BeginSession(e.ID, e.OwnerID, store.SessionSleep, nil); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	if code := sleep(6); code != http.StatusConflict {
		t.Errorf("conflict: status = %d, want 409", code)
	}

	w := do(t, srv, "POST", "/api/entities/"+e.ID+"/sessions/reset", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"closed":1`) {
		t.Errorf("reset: %d %s", w.Code, w.Body.String())
	}
	if code := sleep(6); code != http.StatusOK {
		t.Errorf("after reset: status = %d, want 200", code)
	}

	w = do(t, srv, "POST", "/api/entities/missing/sleep", map[string]any{"current_day": 1})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown entity: status = %d, want 404", w.Code)
	}

	w = do(t, srv, "GET", "/api/entities/"+e.ID+"/sessions?limit=10", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"type":"sleep"`) {
		t.Errorf("sessions: %d %s", w.Code, w.Body.String())
	}
}

func TestIngestConversation(t *testing.T) {
	srv, _ := testServer(t)
	e := createEntity(t, srv)

	w := do(t, srv, "POST", "/api/entities/"+e.ID+"/conversations", map[string]any{
		"day":        2,
		"transcript": "User: I got the job!\nAssistant: Congratulations!",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: status %d: %s", w.Code, w.Body.String())
	}
	var res IngestResult
	decodeBody(t, w, &res)
	if !res.Created || res.Record == nil || res.Record.StartDay != 2 {
		t.Errorf("result = %+v", res)
	}

	w = do(t, srv, "POST", "/api/entities/"+e.ID+"/conversations", map[string]any{"day": 2, "transcript": "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank transcript: status = %d, want 400", w.Code)
	}
}

func TestContextRequiresDay(t *testing.T) {
	srv, _ := testServer(t)
	e := createEntity(t, srv)

	if w := do(t, srv, "GET", "/api/entities/"+e.ID+"/context", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	w := do(t, srv, "GET", "/api/entities/"+e.ID+"/context?day=0", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), engine.NoMemoryData) {
		t.Errorf("empty context: %d %s", w.Code, w.Body.String())
	}
}
