package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/sahithikokkula/sketchd/pkg/estimator"
	"github.com/sahithikokkula/sketchd/pkg/hashing"
	"github.com/sahithikokkula/sketchd/pkg/ingest"
	"github.com/sahithikokkula/sketchd/pkg/registry"
	"github.com/sahithikokkula/sketchd/pkg/sketches"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JSON{"status": "ok", "resident_sketches": h.reg.Len()})
}

func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := ingest.Tables(r.Context(), h.db)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSON{"tables": tables})
}

type sketchView struct {
	registry.Info
	Size string `json:"size"`
}

func view(e *registry.Entry) sketchView {
	info := e.Info()
	return sketchView{Info: info, Size: humanize.Bytes(uint64(info.SizeBytes))}
}

func (h *Handler) GetSketches(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	list, err := h.reg.List(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]JSON, 0, len(list))
	for _, s := range list {
		out = append(out, JSON{
			"name":        s.Name,
			"type":        s.Type,
			"parameters":  json.RawMessage(s.Parameters),
			"snapshot_id": s.SnapshotID,
			"size_bytes":  s.SizeBytes,
			"size":        humanize.Bytes(uint64(s.SizeBytes)),
			"updated":     humanize.Time(s.UpdatedAt),
		})
	}
	writeJSON(w, http.StatusOK, JSON{"sketches": out})
}

type createRequest struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Params sketches.Params `json:"params"`
}

func (h *Handler) PostCreateSketch(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	kind, err := sketches.ParseType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}

	e, err := h.reg.Create(r.Context(), req.Name, kind, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view(e))
}

func (h *Handler) entry(w http.ResponseWriter, r *http.Request) (*registry.Entry, bool) {
	e, err := h.reg.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return e, true
}

func (h *Handler) GetSketch(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view(e))
}

func (h *Handler) DeleteSketch(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PostSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := h.reg.Snapshot(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSON{"status": "ok", "snapshot_id": id})
}

type addRequest struct {
	Keys      []string `json:"keys"`
	Increment *int64   `json:"increment,omitempty"`
}

func (h *Handler) PostAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	if len(req.Keys) == 0 {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "keys required"})
		return
	}
	increment := int64(1)
	if req.Increment != nil {
		increment = *req.Increment
	}

	keys := make([][]byte, len(req.Keys))
	for i, k := range req.Keys {
		keys[i] = hashing.KeyString(k)
	}
	_, err := h.reg.Update(r.Context(), mux.Vars(r)["name"], func(e *registry.Entry) error {
		return e.Add(keys, increment)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSON{"status": "ok", "added": len(keys)})
}

// GetQuery answers the query natural to the sketch type: membership for
// bloom, frequency for countmin and cardinality for hyperloglog. key is
// required for the first two; conf selects the interval level.
func (h *Handler) GetQuery(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entry(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	key, hasKey := q.Get("key"), q.Has("key")
	conf := 0.95
	if s := q.Get("conf"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 || v >= 1 {
			writeJSON(w, http.StatusBadRequest, JSON{"error": "conf must be in (0,1)"})
			return
		}
		conf = v
	}
	if !hasKey && e.Type != sketches.HyperLogLogType {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "key required"})
		return
	}

	info := e.Info()
	resp := JSON{"name": e.Name, "type": e.Type}
	switch e.Type {
	case sketches.BloomType:
		found, err := e.Contains(hashing.KeyString(key))
		if err != nil {
			writeError(w, err)
			return
		}
		resp["key"] = key
		resp["contains"] = found
		resp["false_positive_rate"] = info.Stats["false_positive_rate"]

	case sketches.CountMinSketchType:
		est, err := e.Estimate(hashing.KeyString(key))
		if err != nil {
			writeError(w, err)
			return
		}
		total, _ := info.Stats["total_count"].(uint64)
		resp["key"] = key
		resp["estimate"] = est
		resp["bound"] = estimator.CountMinBound(e.Params.Epsilon, e.Params.Delta, total)

	case sketches.HyperLogLogType:
		card, err := e.Cardinality()
		if err != nil {
			writeError(w, err)
			return
		}
		regs, _ := info.Dimensions["registers"].(uint32)
		resp["cardinality"] = card
		resp["count"] = humanize.Comma(int64(card + 0.5))
		resp["ci"] = estimator.CardinalityCI(card, regs, conf)
	}
	writeJSON(w, http.StatusOK, resp)
}

type mergeRequest struct {
	Source string `json:"source"`
}

func (h *Handler) PostMerge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "source required"})
		return
	}
	src, err := h.reg.Get(r.Context(), req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	dst, err := h.reg.Update(r.Context(), mux.Vars(r)["name"], func(e *registry.Entry) error {
		return e.MergeFrom(src)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view(dst))
}

type ingestRequest struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	ingest.Options
}

func (h *Handler) PostIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "invalid json"})
		return
	}
	if req.Table == "" || req.Column == "" {
		writeJSON(w, http.StatusBadRequest, JSON{"error": "table and column required"})
		return
	}
	name := mux.Vars(r)["name"]

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	res, err := ingest.Column(ctx, h.db, h.reg, name, req.Table, req.Column, req.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Printf("ingested %s.%s into %s: %d rows, %d distinct in %v", req.Table, req.Column, name, res.Rows, res.Distinct, time.Since(start))
	e, err := h.reg.Get(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JSON{
		"status": "ok",
		"result": res,
		"rows":   humanize.Comma(res.Rows),
		"sketch": view(e),
	})
}
