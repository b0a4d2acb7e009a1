package controllers

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/app/repository"
	"github.com/VisageAI/visage/internal/pkg/usercontext"
)

var projectValidate = validator.New()

// CreateProjectRequest is the JSON body for a project create or update.
type CreateProjectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// HandleCreateProject creates a new project for the authenticated user.
// Security: API Key required via router middleware
func HandleCreateProject(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}

	project := &models.Project{
		UUID:        uuid.New().String(),
		UserID:      user.UserID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
	}
	if err := projectValidate.Struct(project); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "title must be between 1 and 200 characters"})
	}

	repo := repository.GetGlobalFactory().GetProjectRepository()
	if err := repo.Create(project); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not create project"})
	}

	return c.Status(fiber.StatusCreated).JSON(projectJSON(project))
}

// HandleGetProject returns one project with its assets.
// Security: API Key required via router middleware
func HandleGetProject(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	project, errResp := loadOwnedProject(c, user.UserID)
	if project == nil {
		return errResp
	}

	assetRepo := repository.GetGlobalFactory().GetAssetRepository()
	assets, _ := assetRepo.GetByProjectID(project.ID, 0, 200)
	items := make([]fiber.Map, 0, len(assets))
	for i := range assets {
		url := assets[i].SourceURL
		if assets[i].MirrorURL != "" {
			url = assets[i].MirrorURL
		}
		items = append(items, fiber.Map{
			"uuid": assets[i].UUID,
			"kind": assets[i].Kind,
			"url":  url,
		})
	}

	resp := projectJSON(project)
	resp["assets"] = items
	return c.JSON(resp)
}

// HandleListProjects returns the user's projects, newest first.
// Security: API Key required via router middleware
func HandleListProjects(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	repo := repository.GetGlobalFactory().GetProjectRepository()
	projects, err := repo.GetByUserID(user.UserID, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not list projects"})
	}

	items := make([]fiber.Map, 0, len(projects))
	for i := range projects {
		items = append(items, projectJSON(&projects[i]))
	}
	return c.JSON(fiber.Map{"projects": items, "offset": offset, "limit": limit})
}

// HandleUpdateProject updates a project's title and description.
// Security: API Key required via router middleware
func HandleUpdateProject(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	project, errResp := loadOwnedProject(c, user.UserID)
	if project == nil {
		return errResp
	}

	var req CreateProjectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid JSON body"})
	}
	project.Title = strings.TrimSpace(req.Title)
	project.Description = strings.TrimSpace(req.Description)
	if err := projectValidate.Struct(project); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "title must be between 1 and 200 characters"})
	}

	repo := repository.GetGlobalFactory().GetProjectRepository()
	if err := repo.Update(project); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not update project"})
	}
	return c.JSON(projectJSON(project))
}

// HandleDeleteProject soft-deletes a project.
// Security: API Key required via router middleware
func HandleDeleteProject(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	if !user.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	project, errResp := loadOwnedProject(c, user.UserID)
	if project == nil {
		return errResp
	}

	repo := repository.GetGlobalFactory().GetProjectRepository()
	if err := repo.Delete(project.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "could not delete project"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// loadOwnedProject resolves the :uuid route param to a project owned by the
// user. On failure it returns (nil, response); ownership failures read as
// not-found so existence does not leak.
func loadOwnedProject(c *fiber.Ctx, userID uint) (*models.Project, error) {
	projectUUID := c.Params("uuid")
	if projectUUID == "" {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "uuid missing"})
	}
	repo := repository.GetGlobalFactory().GetProjectRepository()
	project, err := repo.GetByUUID(projectUUID)
	if err != nil || project == nil || project.UserID != userID {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "project not found"})
	}
	return project, nil
}

func projectJSON(p *models.Project) fiber.Map {
	return fiber.Map{
		"uuid":        p.UUID,
		"title":       p.Title,
		"description": p.Description,
		"cover_url":   p.CoverURL,
		"created_at":  p.CreatedAt,
	}
}
