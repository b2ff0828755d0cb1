package server

import (
	"io"
	"strconv"
	"strings"

	"codexverse/internal/models"
	"codexverse/internal/service"

	"github.com/gofiber/fiber/v2"
)

// projectResponse adds the public thumbnail URL to a project.
type projectResponse struct {
	*models.Project
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

func (s *Server) projectView(p *models.Project) projectResponse {
	view := projectResponse{Project: p}
	if p.Thumbnail != "" {
		view.ThumbnailURL = s.projectService.ThumbnailURL(p.Thumbnail)
	}
	return view
}

// GetProjects handles GET /api/projects
// @Summary List projects
// @Description Newest first, optionally filtered by category
// @Tags projects
// @Produce json
// @Param category_id query int false "Category ID"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} projectResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /projects [get]
func (s *Server) GetProjects(c *fiber.Ctx) error {
	var categoryID *uint
	if raw := c.Query("category_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid category ID"))
		}
		cid := uint(id)
		categoryID = &cid
	}
	page := parsePagination(c, 20)

	projects, err := s.projectService.List(c.UserContext(), categoryID, page.Limit, page.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}

	views := make([]projectResponse, len(projects))
	for i := range projects {
		views[i] = s.projectView(&projects[i])
	}
	return c.JSON(views)
}

// GetProject handles GET /api/projects/:id
// @Summary Project detail
// @Tags projects
// @Produce json
// @Param id path int true "Project ID"
// @Success 200 {object} projectResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /projects/{id} [get]
func (s *Server) GetProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	project, err := s.projectService.Get(c.UserContext(), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(s.projectView(project))
}

// DownloadProject handles POST /api/projects/:id/download
// @Summary Record a project download
// @Description Counts the download and returns the link to follow
// @Tags projects
// @Produce json
// @Security BearerAuth
// @Param id path int true "Project ID"
// @Success 200 {object} object{download_link=string}
// @Failure 404 {object} models.ErrorResponse
// @Router /projects/{id}/download [post]
func (s *Server) DownloadProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	project, err := s.projectService.Download(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"download_link": project.DownloadLink})
}

// GetCategories handles GET /api/categories
// @Summary List categories
// @Tags projects
// @Produce json
// @Success 200 {array} models.Category
// @Router /categories [get]
func (s *Server) GetCategories(c *fiber.Ctx) error {
	categories, err := s.projectService.ListCategories(c.UserContext())
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(categories)
}

// AdminCreateProject handles POST /api/admin/projects
// @Summary Create a project
// @Description Accepts JSON or multipart/form-data with an optional "thumbnail" image
// @Tags admin
// @Accept json,mpfd
// @Produce json
// @Security BearerAuth
// @Param title formData string true "Title"
// @Param description formData string false "Description"
// @Param download_link formData string true "Download URL"
// @Param category_id formData int false "Category ID"
// @Param thumbnail formData file false "Thumbnail image"
// @Success 201 {object} projectResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/projects [post]
func (s *Server) AdminCreateProject(c *fiber.Ctx) error {
	var in service.ProjectInput
	if isMultipart(c) {
		categoryID, err := formUint(c, "category_id")
		if err != nil {
			return respondServiceError(c, err)
		}
		in = service.ProjectInput{
			Title:        c.FormValue("title"),
			Description:  c.FormValue("description"),
			DownloadLink: c.FormValue("download_link"),
			CategoryID:   categoryID,
		}
	} else if err := parseBody(c, &in); err != nil {
		return nil
	}

	thumb, err := readUpload(c, "thumbnail")
	if err != nil {
		return respondServiceError(c, err)
	}

	project, err := s.projectService.Create(c.UserContext(), currentUserID(c), in, thumb)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s.projectView(project))
}

// AdminUpdateProject handles PUT /api/admin/projects/:id
// @Summary Update a project
// @Description Only the fields present are changed; a new thumbnail replaces the old one
// @Tags admin
// @Accept json,mpfd
// @Produce json
// @Security BearerAuth
// @Param id path int true "Project ID"
// @Param request body service.ProjectUpdateInput false "Fields to change"
// @Success 200 {object} projectResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/projects/{id} [put]
func (s *Server) AdminUpdateProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var in service.ProjectUpdateInput
	if isMultipart(c) {
		in.Title = formString(c, "title")
		in.Description = formString(c, "description")
		in.DownloadLink = formString(c, "download_link")
		categoryID, err := formUint(c, "category_id")
		if err != nil {
			return respondServiceError(c, err)
		}
		in.CategoryID = categoryID
		in.ClearCategory = c.FormValue("clear_category") == "true"
	} else if err := parseBody(c, &in); err != nil {
		return nil
	}

	thumb, err := readUpload(c, "thumbnail")
	if err != nil {
		return respondServiceError(c, err)
	}

	project, err := s.projectService.Update(c.UserContext(), currentUserID(c), id, in, thumb)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(s.projectView(project))
}

// AdminDeleteProject handles DELETE /api/admin/projects/:id
// @Summary Delete a project
// @Tags admin
// @Security BearerAuth
// @Param id path int true "Project ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/projects/{id} [delete]
func (s *Server) AdminDeleteProject(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.projectService.Delete(c.UserContext(), currentUserID(c), id); err != nil {
		return respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AdminCreateCategory handles POST /api/admin/categories
// @Summary Create a category
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{name=string} true "Category"
// @Success 201 {object} models.Category
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /admin/categories [post]
func (s *Server) AdminCreateCategory(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name" form:"name"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	category, err := s.projectService.CreateCategory(c.UserContext(), currentUserID(c), req.Name)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(category)
}

// AdminDeleteCategory handles DELETE /api/admin/categories/:id
// @Summary Delete a category
// @Description Projects in the category become uncategorised
// @Tags admin
// @Security BearerAuth
// @Param id path int true "Category ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/categories/{id} [delete]
func (s *Server) AdminDeleteCategory(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.projectService.DeleteCategory(c.UserContext(), currentUserID(c), id); err != nil {
		return respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm)
}

// formString returns nil for an absent or empty form field.
func formString(c *fiber.Ctx, key string) *string {
	v := c.FormValue(key)
	if v == "" {
		return nil
	}
	return &v
}

func formUint(c *fiber.Ctx, key string) (*uint, error) {
	raw := c.FormValue(key)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return nil, models.NewValidationError("Invalid " + key)
	}
	v := uint(id)
	return &v, nil
}

// readUpload returns the first file of a multipart field, or nil when absent.
func readUpload(c *fiber.Ctx, field string) (*service.Upload, error) {
	if !isMultipart(c) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, models.NewValidationError("Invalid multipart form")
	}
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}

	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, models.NewValidationError("Unable to read uploaded file")
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, models.NewValidationError("Unable to read uploaded file")
	}
	return &service.Upload{
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Content:     content,
	}, nil
}
