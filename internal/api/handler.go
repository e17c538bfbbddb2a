package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/engine/category"
	"github.com/dasabhishk/st2/pkg/migration/manager"
	"github.com/dasabhishk/st2/pkg/migration/scheduler"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// MigrationService is the part of *manager.Manager exposed over HTTP.
type MigrationService interface {
	Start(ctx context.Context, req manager.StartRequest) (string, error)
	Stop(ctx context.Context, jobID string) (bool, error)
	Status(ctx context.Context, jobID string) (model.JobStatus, error)
	ListActive(ctx context.Context) ([]string, error)
	Jobs(ctx context.Context) []model.JobSummary
	Result(jobID string) (model.RunResult, bool)
	Categories() []manager.CategoryInfo
	Summary(ctx context.Context, categoryID string) ([]ports.StatusCount, error)
	ErrorCounts(ctx context.Context, from, to time.Time) ([]ports.ErrorCount, error)
	Recurring() []scheduler.RecurringInfo
}

var _ MigrationService = (*manager.Manager)(nil)

// Response is the envelope of every JSON reply.
type Response struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// StartBody is the payload of POST /jobs.
type StartBody struct {
	Category  string                  `json:"category"`
	Mode      string                  `json:"mode"`
	Start     *time.Time              `json:"start,omitempty"`
	End       *time.Time              `json:"end,omitempty"`
	Settings  model.MigrationSettings `json:"settings"`
	CreatedBy string                  `json:"created_by"`
}

// JobView is returned by GET /jobs/:id.
type JobView struct {
	ID     string           `json:"id"`
	Status model.JobStatus  `json:"status"`
	Result *model.RunResult `json:"result,omitempty"`
}

// Handler serves the migration endpoints.
type Handler struct {
	svc MigrationService
}

func NewHandler(svc MigrationService) *Handler {
	return &Handler{svc: svc}
}

func success(c echo.Context, code int, msg string, obj interface{}) error {
	return c.JSON(code, Response{Status: true, Msg: msg, Obj: obj})
}

func failure(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, category.ErrUnknownCategory), errors.Is(err, scheduler.ErrJobNotFound):
		code = http.StatusNotFound
	case exception.IsKind(err, exception.KindValidation):
		code = http.StatusBadRequest
	case exception.IsKind(err, exception.KindScheduler):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		logger.Errorf("%s %s failed: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(code, Response{Status: false, Msg: exception.ExtractErrorMessage(err)})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, Response{Status: false, Msg: msg})
}

// StartJob handles POST /jobs.
func (h *Handler) StartJob(c echo.Context) error {
	var body StartBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	mode, err := model.ParseExecutionMode(body.Mode)
	if err != nil {
		return badRequest(c, err.Error())
	}
	id, err := h.svc.Start(c.Request().Context(), manager.StartRequest{
		Category:  body.Category,
		Mode:      mode,
		Start:     body.Start,
		End:       body.End,
		Settings:  body.Settings,
		CreatedBy: body.CreatedBy,
	})
	if err != nil {
		return failure(c, err)
	}
	return success(c, http.StatusAccepted, "submitted", map[string]string{"job_id": id})
}

// ListJobs handles GET /jobs.
func (h *Handler) ListJobs(c echo.Context) error {
	return success(c, http.StatusOK, "ok", h.svc.Jobs(c.Request().Context()))
}

// ListActive handles GET /jobs/active.
func (h *Handler) ListActive(c echo.Context) error {
	ids, err := h.svc.ListActive(c.Request().Context())
	if err != nil {
		return failure(c, err)
	}
	return success(c, http.StatusOK, "ok", ids)
}

// GetJob handles GET /jobs/:id.
func (h *Handler) GetJob(c echo.Context) error {
	id := c.Param("id")
	status, err := h.svc.Status(c.Request().Context(), id)
	if err != nil {
		return failure(c, err)
	}
	view := JobView{ID: id, Status: status}
	if result, ok := h.svc.Result(id); ok {
		view.Result = &result
	}
	return success(c, http.StatusOK, "ok", view)
}

// StopJob handles DELETE /jobs/:id.
func (h *Handler) StopJob(c echo.Context) error {
	return h.stop(c, c.Param("id"))
}

// StopAll handles DELETE /jobs.
func (h *Handler) StopAll(c echo.Context) error {
	return h.stop(c, "")
}

func (h *Handler) stop(c echo.Context, id string) error {
	ok, err := h.svc.Stop(c.Request().Context(), id)
	if err != nil {
		return failure(c, err)
	}
	msg := "cancelled"
	if !ok {
		msg = "not cancelled"
	}
	return success(c, http.StatusOK, msg, map[string]bool{"cancelled": ok})
}

// ListCategories handles GET /categories.
func (h *Handler) ListCategories(c echo.Context) error {
	return success(c, http.StatusOK, "ok", h.svc.Categories())
}

// CategorySummary handles GET /categories/:id/summary.
func (h *Handler) CategorySummary(c echo.Context) error {
	rows, err := h.svc.Summary(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failure(c, err)
	}
	return success(c, http.StatusOK, "ok", rows)
}

// ErrorCounts handles GET /errors?from=RFC3339&to=RFC3339. The range
// defaults to the last 24 hours.
func (h *Handler) ErrorCounts(c echo.Context) error {
	to := time.Now()
	from := to.Add(-24 * time.Hour)
	var err error
	if raw := c.QueryParam("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			return badRequest(c, "invalid from: "+raw)
		}
	}
	if raw := c.QueryParam("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			return badRequest(c, "invalid to: "+raw)
		}
	}
	counts, err := h.svc.ErrorCounts(c.Request().Context(), from, to)
	if err != nil {
		return failure(c, err)
	}
	return success(c, http.StatusOK, "ok", counts)
}

// ListRecurring handles GET /recurring.
func (h *Handler) ListRecurring(c echo.Context) error {
	return success(c, http.StatusOK, "ok", h.svc.Recurring())
}
