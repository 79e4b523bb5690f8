package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/enrollment"
)

type enrollmentApi struct {
	svc      enrollment.Service
	validate *validator.Validate
}

func registerEnrollmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc enrollment.Service, validate *validator.Validate) {
	api := enrollmentApi{
		svc:      svc,
		validate: validate,
	}

	eg := g.Group("/enrollments", jwt)
	eg.GET("/stats", api.stats, adminMiddleware())
	eg.POST("", api.enroll)

	// per-learner endpoints; the service enforces owner-or-admin access
	lg := eg.Group("/:learnerId")
	lg.GET("", api.list)
	lg.PUT("/progress", api.updateProgress)
	lg.GET("/:courseId", api.detail)
	lg.PUT("/:courseId/cancel", api.cancel)
	lg.PUT("/:courseId/rate", api.rate)
}

type (
	EnrollRequest struct {
		CourseID string `json:"course_id" validate:"required,uuid4"`
	}

	UpdateProgressRequest struct {
		CourseID    string `json:"course_id" validate:"required,uuid4"`
		ItemID      string `json:"item_id" validate:"required"`
		IsCompleted *bool  `json:"is_completed" validate:"required"`
		TimeSpent   int    `json:"time_spent" validate:"gte=0"` // minutes to add
	}

	UpdateProgressResponse struct {
		CompletionPercentage int    `json:"completion_percentage"`
		Status               string `json:"status"`
	}

	RateRequest struct {
		Score  int    `json:"score" validate:"required,min=1,max=5"`
		Review string `json:"review" validate:"max=500"`
	}

	ListRequest struct {
		Status string `json:"status" validate:"omitempty,enrollmentstatus"`
	}
)

func (r *EnrollRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r *UpdateProgressRequest) Validate(validate *validator.Validate) error {
	r.ItemID = core.CleanString(r.ItemID)
	return validate.Struct(r)
}

func (r *RateRequest) Validate(validate *validator.Validate) error {
	r.Review = core.CleanString(r.Review)
	return validate.Struct(r)
}

func (r *ListRequest) Validate(validate *validator.Validate) error {
	r.Status = core.CleanString(r.Status)
	return validate.Struct(r)
}

// Handlers

func (api *enrollmentApi) enroll(ctx echo.Context) error {
	var data EnrollRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	principal, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	enr, created, err := api.svc.Enroll(ctx.Request().Context(), principal, data.CourseID)
	if err != nil {
		return err
	}

	code := http.StatusOK // reactivated
	if created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, enr)
}

func (api *enrollmentApi) list(ctx echo.Context) error {
	data := ListRequest{Status: ctx.QueryParam(statusParam)}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	principal, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	ordering := new(Ordering)
	ordering.Bind(ctx)
	var ord core.DBOrdering
	if len(ordering.Orderings) > 0 {
		ord = ordering.Orderings[0] // the repos order on a single column
	}

	page, err := api.svc.Query(
		ctx.Request().Context(),
		principal,
		ctx.Param("learnerId"),
		data.Status,
		ord,
		bindPagination(ctx),
	)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *enrollmentApi) updateProgress(ctx echo.Context) error {
	var data UpdateProgressRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProgressRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	principal, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	enr, err := api.svc.UpdateProgress(
		ctx.Request().Context(),
		principal,
		ctx.Param("learnerId"),
		data.CourseID,
		data.ItemID,
		*data.IsCompleted,
		data.TimeSpent,
	)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, UpdateProgressResponse{
		CompletionPercentage: enr.CompletionPercentage,
		Status:               enr.Status,
	})
}

func (api *enrollmentApi) detail(ctx echo.Context) error {
	principal, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	detail, err := api.svc.GetDetail(ctx.Request().Context(), principal, ctx.Param("learnerId"), ctx.Param("courseId"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *enrollmentApi) cancel(ctx echo.Context) error {
	principal, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	enr, err := api.svc.Cancel(ctx.Request().Context(), principal, ctx.Param("learnerId"), ctx.Param("courseId"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *enrollmentApi) rate(ctx echo.Context) error {
	var data RateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RateRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	principal, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	enr, err := api.svc.Rate(
		ctx.Request().Context(),
		principal,
		ctx.Param("learnerId"),
		ctx.Param("courseId"),
		data.Score,
		data.Review,
	)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *enrollmentApi) stats(ctx echo.Context) error {
	principal, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}

	stats, err := api.svc.GetStats(ctx.Request().Context(), principal, ctx.QueryParam("course_id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, stats)
}
