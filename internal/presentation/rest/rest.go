// Package rest exposes the orchestrator's admin API.
package rest

import (
	"context"
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/siteforge-ops/siteforge-backend/internal/application"
	"github.com/siteforge-ops/siteforge-backend/internal/application/dto"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/application/tasks"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
)

// TaskCanceller is the slice of the worker the API needs.
type TaskCanceller interface {
	Cancel(ctx context.Context, taskID uuid.UUID) (bool, error)
}

type Server struct {
	handlers  *application.Collection
	canceller TaskCanceller
	taskq     interfaces.TaskRepo
}

func NewServer(handlers *application.Collection, canceller TaskCanceller, taskq interfaces.TaskRepo) *Server {
	return &Server{handlers: handlers, canceller: canceller, taskq: taskq}
}

func RegisterHandlers(app *fiber.App, s *Server) {
	app.Post("/sites", s.CreateSite)
	app.Get("/sites/:id", s.GetSite)
	app.Delete("/sites/:id", s.DeleteSite)
	app.Post("/sites/:id/bundle", s.UploadBundle)
	app.Post("/sites/:id/domain", s.SetDomain)
	app.Post("/sites/:id/domain/configure", s.ConfigureDomain)
	app.Post("/sites/:id/deploy", s.DeploySite)
	app.Get("/sites/:id/propagation", s.CheckPropagation)
	app.Get("/sites/:id/activity", s.GetActivity)
	app.Get("/domains/check", s.CheckDomain)
	app.Get("/domains/search", s.SearchDomain)
	app.Post("/images/bake", s.BakeImage)
	app.Get("/tasks", s.ListTasks)
	app.Get("/tasks/:id", s.GetTask)
	app.Delete("/tasks/:id", s.CancelTask)
	app.Post("/tasks/:id/retry", s.RetryTask)
}

func (s *Server) CreateSite(c *fiber.Ctx) error {
	var req dto.CreateSiteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	resp, err := s.handlers.CreateSite.Execute(c.Context(), req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (s *Server) GetSite(c *fiber.Ctx) error {
	siteID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "bad site id"})
	}

	resp, err := s.handlers.GetSite.Query(c.Context(), uint64(siteID))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// UploadBundle accepts either a multipart file under "bundle" or a JSON body
// with a source url the backend fetches itself.
func (s *Server) UploadBundle(c *fiber.Ctx) error {
	siteID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "bad site id"})
	}

	var data []byte
	var sourceURL string
	if file, err := c.FormFile("bundle"); err == nil {
		f, err := file.Open()
		if err != nil {
			return errorJSON(c, err)
		}
		data, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return errorJSON(c, err)
		}
	} else {
		var req dto.UploadBundleRequest
		if err := c.BodyParser(&req); err != nil || req.URL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "need a bundle file or a url"})
		}
		sourceURL = req.URL
	}

	resp, err := s.handlers.UploadBundle.Execute(c.Context(), uint64(siteID), data, sourceURL)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) SetDomain(c *fiber.Ctx) error {
	siteID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "bad site id"})
	}
	var req dto.SetDomainRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	resp, err := s.handlers.SetDomain.Execute(c.Context(), uint64(siteID), req)
	if err != nil {
		return errorJSON(c, err)
	}
	if resp.RequiresConfirmation {
		return c.Status(fiber.StatusConflict).JSON(resp)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) ConfigureDomain(c *fiber.Ctx) error {
	return s.enqueueForSite(c, consts.TaskConfigureDomain, func(siteID uint64) any {
		return tasks.ConfigureDomain{SiteID: siteID}
	})
}

func (s *Server) DeploySite(c *fiber.Ctx) error {
	return s.enqueueForSite(c, consts.TaskDeploySite, func(siteID uint64) any {
		return tasks.DeploySite{SiteID: siteID}
	})
}

func (s *Server) DeleteSite(c *fiber.Ctx) error {
	return s.enqueueForSite(c, consts.TaskDeleteSite, func(siteID uint64) any {
		return tasks.DeleteSite{SiteID: siteID}
	})
}

func (s *Server) enqueueForSite(c *fiber.Ctx, taskType consts.TaskType, payload func(siteID uint64) any) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "bad site id"})
	}
	siteID := uint64(id)

	taskID, err := s.handlers.EnqueueTask.Execute(c.Context(), taskType, &siteID, payload(siteID))
	if err != nil {
		return errorJSON(c, err)
	}
	slog.Info("task enqueued", "task", taskID, "type", taskType, "site", siteID)
	return c.Status(fiber.StatusAccepted).JSON(dto.TaskResponse{
		TaskID: taskID.String(),
		Type:   taskType,
		SiteID: &siteID,
		Status: consts.TaskStatusPending,
	})
}

func (s *Server) BakeImage(c *fiber.Ctx) error {
	taskID, err := s.handlers.EnqueueTask.Execute(c.Context(), consts.TaskBakeImage, nil, tasks.BakeImage{})
	if err != nil {
		return errorJSON(c, err)
	}
	slog.Info("bake enqueued", "task", taskID)
	return c.Status(fiber.StatusAccepted).JSON(dto.TaskResponse{
		TaskID: taskID.String(),
		Type:   consts.TaskBakeImage,
		Status: consts.TaskStatusPending,
	})
}

func (s *Server) CheckPropagation(c *fiber.Ctx) error {
	siteID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "bad site id"})
	}

	resp, err := s.handlers.CheckPropagation.Query(c.Context(), uint64(siteID))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) GetActivity(c *fiber.Ctx) error {
	siteID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "bad site id"})
	}

	resp, err := s.handlers.GetActivity.Query(c.Context(), uint64(siteID))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) CheckDomain(c *fiber.Ctx) error {
	domain := c.Query("domain")
	if domain == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "need a domain query param"})
	}

	available, err := s.handlers.CheckDomain.Query(c.Context(), domain)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(dto.DomainCandidate{Domain: domain, Available: available})
}

func (s *Server) SearchDomain(c *fiber.Ctx) error {
	name := c.Query("domain")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "need a domain query param"})
	}

	resp, err := s.handlers.SearchDomain.Query(c.Context(), name)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) ListTasks(c *fiber.Ctx) error {
	siteID := c.QueryInt("siteId")
	if siteID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "need a siteId query param"})
	}

	resp, err := s.handlers.GetTask.QueryBySite(c.Context(), uint64(siteID))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) GetTask(c *fiber.Ctx) error {
	taskID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "bad task id"})
	}

	resp, err := s.handlers.GetTask.Query(c.Context(), taskID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (s *Server) CancelTask(c *fiber.Ctx) error {
	taskID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "bad task id"})
	}

	cancelled, err := s.canceller.Cancel(c.Context(), taskID)
	if err != nil {
		return errorJSON(c, err)
	}
	if !cancelled {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "task already finished"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RetryTask requeues a failed task. A resumable pipeline picks up at its
// recorded cursor instead of starting over.
func (s *Server) RetryTask(c *fiber.Ctx) error {
	taskID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "bad task id"})
	}

	task, err := s.taskq.GetTask(c.Context(), taskID)
	if err != nil {
		return errorJSON(c, err)
	}
	if task.Status != consts.TaskStatusFailed && task.Status != consts.TaskStatusCancelled {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "only failed or cancelled tasks can be retried"})
	}
	if err = s.taskq.Requeue(c.Context(), taskID); err != nil {
		return errorJSON(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func errorJSON(c *fiber.Ctx, err error) error {
	if errs.IsValidation(err) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
}
