package server

import (
	"net/http"

	"github.com/ldi/stageflow/internal/db"
	"github.com/ldi/stageflow/pkg/models"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.ListUsers(r.Context())
	s.reply(w, r, http.StatusOK, users, err)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := decode(r, &u); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.svc.CreateUser(r.Context(), &u)
	s.reply(w, r, http.StatusCreated, &u, err)
}

func (s *Server) handleTasksForUser(w http.ResponseWriter, r *http.Request) {
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
	tasks, err := s.svc.TasksForUser(r.Context(), pathID(r), f, page)
	s.reply(w, r, http.StatusOK, tasks, err)
}

func (s *Server) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.svc.UserRoles(r.Context(), pathID(r))
	s.reply(w, r, http.StatusOK, roles, err)
}

type roleAssignment struct {
	RoleID string `json:"role_id"`
	models.RoleScope
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var body roleAssignment
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.svc.AssignRole(r.Context(), pathID(r), body.RoleID, body.RoleScope)
	s.reply(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := models.RoleScope{
		DepartmentID: strParam(q, "department"),
		TeamID:       strParam(q, "team"),
	}
	err := s.svc.RemoveRole(r.Context(), pathID(r), r.PathValue("roleID"), scope)
	s.reply(w, r, http.StatusNoContent, nil, err)
}

func (s *Server) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	deps, err := s.svc.ListDepartments(r.Context())
	s.reply(w, r, http.StatusOK, deps, err)
}

func (s *Server) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	var d models.Department
	if err := decode(r, &d); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.svc.CreateDepartment(r.Context(), &d)
	s.reply(w, r, http.StatusCreated, &d, err)
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.svc.ListTeams(r.Context(), strParam(r.URL.Query(), "department"))
	s.reply(w, r, http.StatusOK, teams, err)
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var t models.Team
	if err := decode(r, &t); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.svc.CreateTeam(r.Context(), &t)
	s.reply(w, r, http.StatusCreated, &t, err)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.svc.ListRoles(r.Context())
	s.reply(w, r, http.StatusOK, roles, err)
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var role models.Role
	if err := decode(r, &role); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.svc.CreateRole(r.Context(), &role)
	s.reply(w, r, http.StatusCreated, &role, err)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageRequest(q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f := db.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor"),
	}
	entries, err := s.svc.ListAudit(r.Context(), f, page)
	s.reply(w, r, http.StatusOK, entries, err)
}
