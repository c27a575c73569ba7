package server

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

// pageRequest reads page and page_size. Missing values fall through to the
// store defaults.
func pageRequest(q url.Values) (models.PageRequest, error) {
	var req models.PageRequest
	var err error
	if req.Page, err = intParam(q, "page"); err != nil {
		return req, err
	}
	if req.PageSize, err = intParam(q, "page_size"); err != nil {
		return req, err
	}
	return req, nil
}

func intParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, sferrors.Newf(sferrors.ErrInvalidInput, "%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func strParam(q url.Values, key string) *string {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	return &v
}

func timeParam(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, sferrors.Newf(sferrors.ErrInvalidInput, "%s must be RFC 3339, got %q", key, v)
	}
	return &t, nil
}

func categoryParam(q url.Values, key string) (*models.Category, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	c, err := models.ParseCategory(v)
	if err != nil {
		return nil, sferrors.Newf(sferrors.ErrInvalidInput, "%v", err)
	}
	return &c, nil
}

// taskFilter builds a filter from the query string of GET /api/tasks.
func taskFilter(q url.Values) (db.TaskFilter, error) {
	f := db.TaskFilter{
		AssigneeID: strParam(q, "assignee"),
		CreatorID:  strParam(q, "creator"),
		WorkflowID: strParam(q, "workflow"),
		StageID:    strParam(q, "stage"),
		Term:       q.Get("q"),
		OpenOnly:   q.Get("open") == "true",
	}

	var err error
	if f.Status, err = categoryParam(q, "status"); err != nil {
		return f, err
	}
	if v := q.Get("priority"); v != "" {
		p, err := models.ParsePriority(v)
		if err != nil {
			return f, sferrors.Newf(sferrors.ErrInvalidInput, "%v", err)
		}
		f.Priority = &p
	}
	if f.DueBefore, err = timeParam(q, "due_before"); err != nil {
		return f, err
	}
	if f.DueFrom, err = timeParam(q, "due_from"); err != nil {
		return f, err
	}
	if f.DueTo, err = timeParam(q, "due_to"); err != nil {
		return f, err
	}
	return f, nil
}

func pathID(r *http.Request) string {
	return r.PathValue("id")
}
