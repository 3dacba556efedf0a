package controller

import (
	"fmt"

	"regnxt-workbook-be/internal/dto"
	"regnxt-workbook-be/internal/pkg/serverutils"
	"regnxt-workbook-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type IWorkbookController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	OpenSession(ctx *fiber.Ctx) error
	GetSession(ctx *fiber.Ctx) error
	CloseSession(ctx *fiber.Ctx) error
	LoadSheet(ctx *fiber.Ctx) error
	LoadTables(ctx *fiber.Ctx) error
	RecordEdit(ctx *fiber.Ctx) error
	PendingChanges(ctx *fiber.Ctx) error
	ExportChanges(ctx *fiber.Ctx) error
	DiscardChanges(ctx *fiber.Ctx) error
	SelectCell(ctx *fiber.Ctx) error
	ClearSelection(ctx *fiber.Ctx) error
	SetDialog(ctx *fiber.Ctx) error
	Save(ctx *fiber.Ctx) error
	ListVersions(ctx *fiber.Ctx) error
	GetVersionData(ctx *fiber.Ctx) error
	DeleteVersion(ctx *fiber.Ctx) error
	SaveHistory(ctx *fiber.Ctx) error
}

type workbookController struct {
	service service.IWorkbookService
}

func NewWorkbookController(service service.IWorkbookService) IWorkbookController {
	return &workbookController{service: service}
}

func (c *workbookController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/workbook/v1")
	h.Use(auth)
	h.Post("/sessions", c.OpenSession)
	h.Get("/sessions/:id", c.GetSession)
	h.Delete("/sessions/:id", c.CloseSession)
	h.Post("/sessions/:id/sheet", c.LoadSheet)
	h.Post("/sessions/:id/tables", c.LoadTables)
	h.Post("/sessions/:id/edits", c.RecordEdit)
	h.Get("/sessions/:id/changes", c.PendingChanges)
	h.Get("/sessions/:id/changes/export", c.ExportChanges)
	h.Delete("/sessions/:id/changes", c.DiscardChanges)
	h.Put("/sessions/:id/selection", c.SelectCell)
	h.Delete("/sessions/:id/selection", c.ClearSelection)
	h.Put("/sessions/:id/dialog", c.SetDialog)
	h.Post("/sessions/:id/save", c.Save)
	h.Get("/sessions/:id/versions", c.ListVersions)
	h.Get("/sessions/:id/versions/:versionId", c.GetVersionData)
	h.Delete("/sessions/:id/versions/:versionId", c.DeleteVersion)
	h.Get("/sessions/:id/history", c.SaveHistory)
}

func sessionRef(ctx *fiber.Ctx) dto.SessionRef {
	userId, _ := ctx.Locals(serverutils.LocalUserID).(string)
	token, _ := ctx.Locals(serverutils.LocalToken).(string)
	return dto.SessionRef{
		SessionId: ctx.Params("id"),
		UserId:    userId,
		Token:     token,
	}
}

func parseBody(ctx *fiber.Ctx, req interface{}) error {
	if err := ctx.BodyParser(req); err != nil {
		return serverutils.BadRequest("Invalid request body", err)
	}
	return serverutils.ValidateRequest(req)
}

func (c *workbookController) OpenSession(ctx *fiber.Ctx) error {
	ref := sessionRef(ctx)

	var req dto.OpenSessionRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}
	req.UserId = ref.UserId
	req.Token = ref.Token

	res, err := c.service.OpenSession(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success open session", res))
}

func (c *workbookController) GetSession(ctx *fiber.Ctx) error {
	withData := ctx.QueryBool("data", true)

	res, err := c.service.GetSession(ctx.UserContext(), sessionRef(ctx), withData)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get session", res))
}

func (c *workbookController) CloseSession(ctx *fiber.Ctx) error {
	if err := c.service.CloseSession(ctx.UserContext(), sessionRef(ctx)); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success close session", nil))
}

func (c *workbookController) LoadSheet(ctx *fiber.Ctx) error {
	var req dto.LoadSheetRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}
	req.SessionRef = sessionRef(ctx)

	res, err := c.service.LoadSheet(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success load sheet", res))
}

func (c *workbookController) LoadTables(ctx *fiber.Ctx) error {
	req := dto.LoadTablesRequest{
		SessionRef:    sessionRef(ctx),
		IncludeSheets: ctx.QueryBool("includeSheets", true),
	}

	res, err := c.service.LoadTables(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success load tables", res))
}

func (c *workbookController) RecordEdit(ctx *fiber.Ctx) error {
	var req dto.RecordEditRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}
	req.SessionRef = sessionRef(ctx)

	res, err := c.service.RecordEdit(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success record edit", res))
}

func (c *workbookController) PendingChanges(ctx *fiber.Ctx) error {
	res, err := c.service.PendingChanges(ctx.UserContext(), sessionRef(ctx))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get pending changes", res))
}

func (c *workbookController) ExportChanges(ctx *fiber.Ctx) error {
	ref := sessionRef(ctx)
	raw, err := c.service.ExportChanges(ctx.UserContext(), ref)
	if err != nil {
		return err
	}

	ctx.Set(fiber.HeaderContentType, xlsxContentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="changes-%s.xlsx"`, ref.SessionId))
	return ctx.Send(raw)
}

func (c *workbookController) DiscardChanges(ctx *fiber.Ctx) error {
	if err := c.service.DiscardChanges(ctx.UserContext(), sessionRef(ctx)); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success discard changes", nil))
}

func (c *workbookController) SelectCell(ctx *fiber.Ctx) error {
	var req dto.SelectCellRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}
	req.SessionRef = sessionRef(ctx)

	if err := c.service.SelectCell(ctx.UserContext(), &req); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success select cell", nil))
}

func (c *workbookController) ClearSelection(ctx *fiber.Ctx) error {
	if err := c.service.ClearSelection(ctx.UserContext(), sessionRef(ctx)); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success clear selection", nil))
}

func (c *workbookController) SetDialog(ctx *fiber.Ctx) error {
	var req dto.SetDialogRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}
	req.SessionRef = sessionRef(ctx)

	res, err := c.service.SetDialog(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success set dialog", res))
}

func (c *workbookController) Save(ctx *fiber.Ctx) error {
	var req dto.SaveRequest
	// the body is optional; a bare POST saves without a reason
	if len(ctx.Body()) > 0 {
		if err := parseBody(ctx, &req); err != nil {
			return err
		}
	}
	req.SessionRef = sessionRef(ctx)

	res, err := c.service.Save(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success save changes", res))
}

func (c *workbookController) ListVersions(ctx *fiber.Ctx) error {
	res, err := c.service.ListVersions(ctx.UserContext(), sessionRef(ctx))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get versions", res))
}

func (c *workbookController) GetVersionData(ctx *fiber.Ctx) error {
	versionId, err := ctx.ParamsInt("versionId")
	if err != nil || versionId <= 0 {
		return serverutils.BadRequest("Invalid version id", err)
	}

	res, err := c.service.GetVersionData(ctx.UserContext(), sessionRef(ctx), versionId)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get version data", res))
}

func (c *workbookController) DeleteVersion(ctx *fiber.Ctx) error {
	versionId, err := ctx.ParamsInt("versionId")
	if err != nil || versionId <= 0 {
		return serverutils.BadRequest("Invalid version id", err)
	}

	if err := c.service.DeleteVersion(ctx.UserContext(), sessionRef(ctx), versionId); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete version", nil))
}

func (c *workbookController) SaveHistory(ctx *fiber.Ctx) error {
	limit := ctx.QueryInt("limit", defaultHistoryLimit)
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	offset := ctx.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	res, err := c.service.ListSaveHistory(ctx.UserContext(), sessionRef(ctx), limit, offset)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get save history", res))
}
