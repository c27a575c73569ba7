package server

import (
	"net/http"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/service"
	"github.com/ldi/stageflow/pkg/models"
)

func (s *Server) handleFindTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := taskFilter(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := pageRequest(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tasks, err := s.svc.FindTasks(r.Context(), f, page)
	s.reply(w, r, http.StatusOK, tasks, err)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageRequest(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tasks, err := s.svc.SearchTasks(r.Context(), q.Get("q"), page)
	s.reply(w, r, http.StatusOK, tasks, err)
}

func (s *Server) handleOverdue(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tasks, err := s.svc.OverdueTasks(r.Context(), page)
	s.reply(w, r, http.StatusOK, tasks, err)
}

func (s *Server) handleDueWithin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageRequest(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	from, err := timeParam(q, "from")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := timeParam(q, "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if from == nil || to == nil {
		s.fail(w, r, sferrors.Newf(sferrors.ErrInvalidInput, "from and to are required"))
		return
	}
	tasks, err := s.svc.DueWithin(r.Context(), *from, *to, page)
	s.reply(w, r, http.StatusOK, tasks, err)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in service.TaskInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.svc.CreateTask(r.Context(), in)
	s.reply(w, r, http.StatusCreated, t, err)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.GetTask(r.Context(), pathID(r))
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var upd service.TaskUpdate
	if err := decode(r, &upd); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.svc.UpdateTask(r.Context(), pathID(r), upd)
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	err := s.svc.DeleteTask(r.Context(), pathID(r))
	s.reply(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleChangeStage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StageID string `json:"stage_id"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.svc.ChangeStage(r.Context(), pathID(r), body.StageID)
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.AdvanceTask(r.Context(), pathID(r))
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.RevertTask(r.Context(), pathID(r))
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActualHours *int `json:"actual_hours"`
	}
	// An empty body completes without recording hours.
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	t, err := s.svc.CompleteTask(r.Context(), pathID(r), body.ActualHours)
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *Server) handleSetCategory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := models.ParseCategory(body.Status)
	if err != nil {
		s.fail(w, r, sferrors.Newf(sferrors.ErrInvalidInput, "%v", err))
		return
	}
	t, err := s.svc.SetCategory(r.Context(), pathID(r), c)
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssigneeID *string `json:"assignee_id"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.svc.AssignTask(r.Context(), pathID(r), body.AssigneeID)
	s.reply(w, r, http.StatusOK, t, err)
}

func (s *Server) handleNextStages(w http.ResponseWriter, r *http.Request) {
	stages, err := s.svc.NextStagesForTask(r.Context(), pathID(r))
	s.reply(w, r, http.StatusOK, stages, err)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.svc.ListComments(r.Context(), pathID(r))
	s.reply(w, r, http.StatusOK, comments, err)
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.svc.AddComment(r.Context(), pathID(r), body.Body)
	s.reply(w, r, http.StatusCreated, c, err)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Overview(r.Context())
	s.reply(w, r, http.StatusOK, o, err)
}

func (s *Server) handleCountByStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.CountByStatus(r.Context(), strParam(r.URL.Query(), "workflow"))
	s.reply(w, r, http.StatusOK, counts, err)
}

func (s *Server) handleCountByPriority(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.CountByPriority(r.Context(), strParam(r.URL.Query(), "workflow"))
	s.reply(w, r, http.StatusOK, counts, err)
}

func (s *Server) handleOpenByAssignee(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.OpenTasksByAssignee(r.Context())
	s.reply(w, r, http.StatusOK, counts, err)
}
