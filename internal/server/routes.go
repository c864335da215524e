package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/store"
	"github.com/lazypower/tiermem/internal/tier"
)

// EntityView is an entity with its record counts per tier.
type EntityView struct {
	*store.Entity
	RecordCounts map[tier.Tier]int `json:"record_counts"`
}

// ContextView is a retrieved context with its rendered text.
type ContextView struct {
	*engine.Context
	Formatted string `json:"formatted"`
}

// IngestResult reports whether a conversation produced a record.
type IngestResult struct {
	Created bool          `json:"created"`
	Record  *store.Record `json:"record,omitempty"`
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string         `json:"owner_id" validate:"omitempty,uuid"`
		Name    string         `json:"name" validate:"required,max=200"`
		Config  map[string]any `json:"config"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ent, err := s.db.CreateEntity(req.OwnerID, req.Name, req.Config)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ent)
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.ListEntities()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []store.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": list})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	ent, err := s.db.GetEntity(chi.URLParam(r, "entityID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	counts, err := s.db.CountRecords(ent.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntityView{Entity: ent, RecordCounts: counts})
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Day     *int   `json:"day" validate:"required,min=0"`
		Content string `json:"content" validate:"required"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.engine.AddRawRecord(chi.URLParam(r, "entityID"), *req.Day, req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Day        *int   `json:"day" validate:"required,min=0"`
		Transcript string `json:"transcript" validate:"required"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.engine.IngestConversation(r.Context(), chi.URLParam(r, "entityID"), *req.Day, req.Transcript)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, IngestResult{})
		return
	}
	writeJSON(w, http.StatusCreated, IngestResult{Created: true, Record: rec})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	ent, err := s.db.GetEntity(chi.URLParam(r, "entityID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	q := store.RecordQuery{EntityID: ent.ID}
	params := r.URL.Query()
	if name := params.Get("tier"); name != "" {
		t, err := tier.Parse(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Tier = &t
	}
	for _, p := range []struct {
		key string
		dst **int
	}{
		{"start_day", &q.StartDay},
		{"end_day", &q.EndDay},
	} {
		if v := params.Get(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, p.key+" must be an integer")
				return
			}
			*p.dst = &n
		}
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}

	recs, err := s.db.QueryRecords(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentDay *int `json:"current_day" validate:"required,min=0"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.engine.RunSleepCycle(r.Context(), chi.URLParam(r, "entityID"), *req.CurrentDay)
	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Err)
	}
	writeJSON(w, status, res)
}

func (s *Server) handleResetSessions(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.EndSleepSession(chi.URLParam(r, "entityID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"closed": n})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ent, err := s.db.GetEntity(chi.URLParam(r, "entityID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := s.db.ListSessions(ent.ID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(r.URL.Query().Get("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "day query parameter required")
		return
	}

	c, err := s.engine.RetrieveContext(r.Context(), chi.URLParam(r, "entityID"), day)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ContextView{Context: c, Formatted: c.Format()})
}
