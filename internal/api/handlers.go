// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/unshackle-dl/unshackle/internal/apierr"
	"github.com/unshackle-dl/unshackle/internal/job"
	"github.com/unshackle-dl/unshackle/internal/log"
	"github.com/unshackle-dl/unshackle/internal/scheduler"
	"github.com/unshackle-dl/unshackle/internal/service"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.Check(r.Context()))
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": s.deps.Registry.Tags()})
}

// inspectRequest is the body of /list-titles and /list-tracks.
type inspectRequest struct {
	Service string `json:"service"`
	TitleID string `json:"title_id"`
	Profile string `json:"profile,omitempty"`
	Proxy   string `json:"proxy,omitempty"`
	NoProxy bool   `json:"no_proxy,omitempty"`
	Wanted  string `json:"wanted,omitempty"`
}

func (s *Server) handleListTitles(w http.ResponseWriter, r *http.Request) {
	req, ae := s.decodeInspect(r)
	if ae != nil {
		s.writeError(w, r, ae)
		return
	}

	titles, ae := s.resolveTitles(r, req)
	if ae != nil {
		s.writeError(w, r, ae)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kind":   titles.Kind,
		"name":   titles.Name,
		"titles": titles.List(),
	})
}

// titleTracks is one title's streams in a /list-tracks response.
type titleTracks struct {
	Title     string          `json:"title"`
	Video     []service.Track `json:"video"`
	Audio     []service.Track `json:"audio"`
	Subtitles []service.Track `json:"subtitles"`
}

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	req, ae := s.decodeInspect(r)
	if ae != nil {
		s.writeError(w, r, ae)
		return
	}

	titles, ae := s.resolveTitles(r, req)
	if ae != nil {
		s.writeError(w, r, ae)
		return
	}
	list := titles.List()
	if len(list) == 0 {
		s.writeError(w, r, apierr.Newf(apierr.CodeNoContent, "title %s resolved to no content", req.TitleID))
		return
	}

	adapter, ae := s.loadAdapter(r, req)
	if ae != nil {
		s.writeError(w, r, ae)
		return
	}

	var results []titleTracks
	for _, title := range list {
		tracks, err := adapter.GetTracks(r.Context(), title)
		if err != nil {
			s.writeError(w, r, apierr.Categorize(err))
			return
		}
		results = append(results, titleTracks{
			Title:     title.TitleName(),
			Video:     tracks.Video,
			Audio:     tracks.Audio,
			Subtitles: tracks.Subtitles,
		})
	}

	if titles.Kind == service.TitleKindSeries {
		writeJSON(w, http.StatusOK, map[string]any{"episodes": results})
		return
	}
	writeJSON(w, http.StatusOK, results[0])
}

// downloadRequest is the body of POST /download: identification plus the
// flat download parameters.
type downloadRequest struct {
	Service string `json:"service"`
	TitleID string `json:"title_id"`
	job.Parameters
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if ae := decodeBody(r, &req); ae != nil {
		s.writeError(w, r, ae)
		return
	}
	if req.Service == "" {
		s.writeError(w, r, apierr.New(apierr.CodeInvalidService, "service is required"))
		return
	}
	if !s.deps.Registry.Has(req.Service) {
		s.writeError(w, r, apierr.Newf(apierr.CodeInvalidService, "service %q is not registered", req.Service))
		return
	}
	if req.TitleID == "" {
		s.writeError(w, r, apierr.New(apierr.CodeInvalidTitleID, "title_id is required"))
		return
	}

	params := req.Parameters
	params.ApplyDefaults()
	if ae := params.Validate(); ae != nil {
		s.writeError(w, r, ae)
		return
	}

	j, ae := s.deps.Scheduler.Submit(strings.ToUpper(req.Service), req.TitleID, params)
	if ae != nil {
		s.writeError(w, r, ae)
		return
	}

	v := j.Snapshot()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":       v.ID,
		"status":       v.Status,
		"created_time": v.CreatedTime,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter scheduler.ListFilter

	if raw := q.Get("status"); raw != "" {
		status, err := job.ParseStatus(raw)
		if err != nil {
			s.writeError(w, r, apierr.New(apierr.CodeInvalidInput, err.Error()))
			return
		}
		filter.Status = &status
	}
	filter.Service = q.Get("service")

	switch sortBy := q.Get("sort_by"); sortBy {
	case "", "created_time", "status", "service":
		filter.SortBy = sortBy
	default:
		s.writeError(w, r, apierr.Newf(apierr.CodeInvalidInput,
			"sort_by %q is not supported (allowed: created_time, status, service)", sortBy))
		return
	}
	switch order := q.Get("sort_order"); order {
	case "", "asc", "desc":
		filter.SortOrder = order
	default:
		s.writeError(w, r, apierr.Newf(apierr.CodeInvalidInput,
			"sort_order %q is not supported (allowed: asc, desc)", order))
		return
	}

	jobs := s.deps.Scheduler.List(filter)
	if jobs == nil {
		jobs = []job.View{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok := s.deps.Scheduler.Get(id)
	if !ok {
		s.writeError(w, r, apierr.Newf(apierr.CodeJobNotFound, "job %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, ae := s.deps.Scheduler.CancelJob(id)
	if ae != nil {
		s.writeError(w, r, ae)
		return
	}
	if !cancelled {
		s.writeError(w, r, apierr.Newf(apierr.CodeInvalidInput,
			"job %s is already in a terminal state", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

// decodeInspect parses and validates the shared /list-* request body.
func (s *Server) decodeInspect(r *http.Request) (inspectRequest, *apierr.Error) {
	var req inspectRequest
	if ae := decodeBody(r, &req); ae != nil {
		return req, ae
	}
	if req.Service == "" {
		return req, apierr.New(apierr.CodeInvalidService, "service is required")
	}
	if !s.deps.Registry.Has(req.Service) {
		return req, apierr.Newf(apierr.CodeInvalidService, "service %q is not registered", req.Service)
	}
	if req.TitleID == "" {
		return req, apierr.New(apierr.CodeInvalidTitleID, "title_id is required")
	}
	return req, nil
}

// loadAdapter instantiates and authenticates the adapter for an inspect
// request.
func (s *Server) loadAdapter(r *http.Request, req inspectRequest) (service.Adapter, *apierr.Error) {
	adapter, err := s.deps.Registry.Load(req.Service, s.deps.GlobalServiceConfig)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidService, err.Error())
	}
	if err := adapter.Authenticate(r.Context(), "", nil); err != nil {
		return nil, apierr.Categorize(err)
	}
	return adapter, nil
}

func (s *Server) resolveTitles(r *http.Request, req inspectRequest) (*service.Titles, *apierr.Error) {
	adapter, ae := s.loadAdapter(r, req)
	if ae != nil {
		return nil, ae
	}
	titles, err := adapter.GetTitles(r.Context(), req.TitleID)
	if err != nil {
		return nil, apierr.Categorize(err)
	}
	return titles, nil
}

// decodeBody parses a JSON request body, rejecting unknown shapes with
// INVALID_INPUT.
func decodeBody(r *http.Request, dst any) *apierr.Error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierr.New(apierr.CodeInvalidInput, "request body is not valid JSON").WithDetails(err.Error())
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, ae *apierr.Error) {
	if ae.HTTPStatus >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Str("error_code", string(ae.Code)).
			Str("path", r.URL.Path).
			Msg(ae.Message)
	}
	writeJSON(w, ae.HTTPStatus, ae.ToEnvelope(s.deps.Debug))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		logger := log.WithComponent("api")
		logger.Debug().Err(err).Msg("response encode failed")
	}
}
