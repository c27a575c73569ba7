package server

import (
	"net/http"
	"strings"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/service"
	"github.com/ldi/stageflow/pkg/models"
)

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	var status *models.WorkflowStatus
	if v := r.URL.Query().Get("status"); v != "" {
		ws := models.WorkflowStatus(strings.ToUpper(v))
		if !ws.IsValid() {
			s.fail(w, r, sferrors.Newf(sferrors.ErrInvalidInput, "workflow status %q", v))
			return
		}
		status = &ws
	}
	workflows, err := s.svc.ListWorkflows(r.Context(), status)
	s.reply(w, r, http.StatusOK, workflows, err)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var in service.WorkflowInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	wf, err := s.svc.CreateWorkflow(r.Context(), in)
	s.reply(w, r, http.StatusCreated, wf, err)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.svc.GetWorkflow(r.Context(), pathID(r))
	s.reply(w, r, http.StatusOK, wf, err)
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var upd service.WorkflowUpdate
	if err := decode(r, &upd); err != nil {
		s.fail(w, r, err)
		return
	}
	wf, err := s.svc.UpdateWorkflow(r.Context(), pathID(r), upd)
	s.reply(w, r, http.StatusOK, wf, err)
}

func (s *Server) handleSetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.WorkflowStatus `json:"status"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	wf, err := s.svc.SetWorkflowStatus(r.Context(), pathID(r), body.Status)
	s.reply(w, r, http.StatusOK, wf, err)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	err := s.svc.DeleteWorkflow(r.Context(), pathID(r))
	s.reply(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := s.svc.ListStages(r.Context(), pathID(r))
	s.reply(w, r, http.StatusOK, stages, err)
}

func (s *Server) handleAddStage(w http.ResponseWriter, r *http.Request) {
	var in service.StageInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	in.WorkflowID = pathID(r)
	st, err := s.svc.AddStage(r.Context(), in)
	s.reply(w, r, http.StatusCreated, st, err)
}

func (s *Server) handleWorkflowStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.WorkflowStatistics(r.Context(), pathID(r))
	s.reply(w, r, http.StatusOK, stats, err)
}

func (s *Server) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	var upd service.StageUpdate
	if err := decode(r, &upd); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.svc.UpdateStage(r.Context(), pathID(r), upd)
	s.reply(w, r, http.StatusOK, st, err)
}

func (s *Server) handleDeleteStage(w http.ResponseWriter, r *http.Request) {
	err := s.svc.DeleteStage(r.Context(), pathID(r))
	s.reply(w, r, http.StatusNoContent, nil, err)
}
