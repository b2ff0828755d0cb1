package service

import (
	"context"
	"strings"

	"codexverse/internal/middleware"
	"codexverse/internal/models"
	"codexverse/internal/repository"
	"codexverse/internal/validation"
)

// Audited catalogue action names.
const (
	ActionCreateProject   = "create_project"
	ActionUpdateProject   = "update_project"
	ActionDeleteProject   = "delete_project"
	ActionCreateCategory  = "create_category"
	ActionDeleteCategory  = "delete_category"
	ActionDownloadProject = "download_project"
)

// Upload is an optional file part of a multipart request.
type Upload struct {
	ContentType string
	Content     []byte
}

// ProjectInput creates a project.
type ProjectInput struct {
	Title        string `json:"title" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=10000"`
	DownloadLink string `json:"download_link" validate:"required,url,max=500"`
	CategoryID   *uint  `json:"category_id"`
}

// ProjectUpdateInput edits a project; nil fields stay unchanged. ClearCategory
// detaches the project from its category.
type ProjectUpdateInput struct {
	Title         *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description   *string `json:"description" validate:"omitempty,max=10000"`
	DownloadLink  *string `json:"download_link" validate:"omitempty,url,max=500"`
	CategoryID    *uint   `json:"category_id"`
	ClearCategory bool    `json:"clear_category"`
}

// DownloadRecorder counts project downloads; analytics.Aggregator implements it.
type DownloadRecorder interface {
	RecordDownload(userID, projectID uint)
}

// ProjectService manages the project catalogue and its categories.
type ProjectService struct {
	projects   repository.ProjectRepository
	categories repository.CategoryRepository
	thumbs     *ThumbnailService
	totals     *TotalsCounter
	audit      ActionLogger
	downloads  DownloadRecorder
}

// NewProjectService builds a ProjectService. thumbs, totals, audit and downloads may be nil.
func NewProjectService(
	projects repository.ProjectRepository,
	categories repository.CategoryRepository,
	thumbs *ThumbnailService,
	totals *TotalsCounter,
	audit ActionLogger,
	downloads DownloadRecorder,
) *ProjectService {
	if audit == nil {
		audit = nopActionLogger{}
	}
	return &ProjectService{
		projects:   projects,
		categories: categories,
		thumbs:     thumbs,
		totals:     totals,
		audit:      audit,
		downloads:  downloads,
	}
}

func (s *ProjectService) List(ctx context.Context, categoryID *uint, limit, offset int) ([]models.Project, error) {
	return s.projects.List(ctx, repository.ProjectFilter{CategoryID: categoryID, Limit: limit, Offset: offset})
}

func (s *ProjectService) Get(ctx context.Context, id uint) (*models.Project, error) {
	return s.projects.GetByID(ctx, id)
}

// Create stores a project with an optional thumbnail.
func (s *ProjectService) Create(ctx context.Context, adminID uint, in ProjectInput, thumb *Upload) (*models.Project, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.DownloadLink = strings.TrimSpace(in.DownloadLink)
	if err := validation.ValidateStruct(in); err != nil {
		return nil, validationAppError(err)
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}

	project := &models.Project{
		Title:        in.Title,
		Description:  strings.TrimSpace(in.Description),
		DownloadLink: in.DownloadLink,
		CategoryID:   in.CategoryID,
	}
	if thumb != nil {
		path, err := s.saveThumbnail(thumb)
		if err != nil {
			return nil, err
		}
		project.Thumbnail = path
	}

	if err := s.projects.Create(ctx, project); err != nil {
		s.removeThumbnail(project.Thumbnail)
		return nil, err
	}
	s.invalidateTotals(ctx)
	s.audit.LogAction(adminID, ActionCreateProject, map[string]string{"project_id": idString(project.ID)})
	return s.projects.GetByID(ctx, project.ID)
}

// Update edits a project. A new thumbnail replaces the old file.
func (s *ProjectService) Update(ctx context.Context, adminID, id uint, in ProjectUpdateInput, thumb *Upload) (*models.Project, error) {
	if err := validation.ValidateStruct(in); err != nil {
		return nil, validationAppError(err)
	}
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		project.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		project.Description = strings.TrimSpace(*in.Description)
	}
	if in.DownloadLink != nil {
		project.DownloadLink = strings.TrimSpace(*in.DownloadLink)
	}
	switch {
	case in.ClearCategory:
		project.CategoryID = nil
	case in.CategoryID != nil:
		if err := s.checkCategory(ctx, in.CategoryID); err != nil {
			return nil, err
		}
		project.CategoryID = in.CategoryID
	}
	project.Category = nil

	oldThumb := project.Thumbnail
	if thumb != nil {
		path, err := s.saveThumbnail(thumb)
		if err != nil {
			return nil, err
		}
		project.Thumbnail = path
	}

	if err := s.projects.Update(ctx, project); err != nil {
		if project.Thumbnail != oldThumb {
			s.removeThumbnail(project.Thumbnail)
		}
		return nil, err
	}
	if project.Thumbnail != oldThumb {
		s.removeThumbnail(oldThumb)
	}

	s.audit.LogAction(adminID, ActionUpdateProject, map[string]string{"project_id": idString(id)})
	return s.projects.GetByID(ctx, id)
}

// Delete removes a project and its thumbnail files.
func (s *ProjectService) Delete(ctx context.Context, adminID, id uint) error {
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.projects.Delete(ctx, id); err != nil {
		return err
	}
	s.removeThumbnail(project.Thumbnail)
	s.invalidateTotals(ctx)
	s.audit.LogAction(adminID, ActionDeleteProject, map[string]string{"project_id": idString(id)})
	return nil
}

// Download records a download of an existing project by userID.
func (s *ProjectService) Download(ctx context.Context, userID, id uint) (*models.Project, error) {
	project, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.downloads != nil {
		s.downloads.RecordDownload(userID, id)
	}
	s.audit.LogAction(userID, ActionDownloadProject, map[string]string{"project_id": idString(id)})
	return project, nil
}

func (s *ProjectService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.categories.List(ctx)
}

// CreateCategory adds a uniquely named category.
func (s *ProjectService) CreateCategory(ctx context.Context, adminID uint, name string) (*models.Category, error) {
	category := &models.Category{Name: name}
	if err := s.categories.Create(ctx, category); err != nil {
		return nil, err
	}
	s.audit.LogAction(adminID, ActionCreateCategory, map[string]string{"category_id": idString(category.ID), "name": category.Name})
	return category, nil
}

// DeleteCategory removes a category; its projects become uncategorised.
func (s *ProjectService) DeleteCategory(ctx context.Context, adminID, id uint) error {
	if err := s.categories.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.LogAction(adminID, ActionDeleteCategory, map[string]string{"category_id": idString(id)})
	return nil
}

// ThumbnailURL maps a stored thumbnail path to its public URL.
func (s *ProjectService) ThumbnailURL(path string) string {
	if s.thumbs == nil {
		return ""
	}
	return s.thumbs.URL(path)
}

func (s *ProjectService) checkCategory(ctx context.Context, id *uint) error {
	if id == nil {
		return nil
	}
	if _, err := s.categories.GetByID(ctx, *id); err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return models.NewValidationError("category_id does not name an existing category")
		}
		return err
	}
	return nil
}

func (s *ProjectService) saveThumbnail(u *Upload) (string, error) {
	if s.thumbs == nil {
		return "", models.NewValidationError("Thumbnail uploads are not enabled")
	}
	t, err := s.thumbs.Save(u.ContentType, u.Content)
	if err != nil {
		return "", err
	}
	return t.Path, nil
}

func (s *ProjectService) removeThumbnail(path string) {
	if s.thumbs == nil || path == "" {
		return
	}
	if err := s.thumbs.Remove(path); err != nil {
		middleware.Logger.Warn("failed to remove thumbnail", "path", path, "error", err)
	}
}

func (s *ProjectService) invalidateTotals(ctx context.Context) {
	if s.totals != nil {
		s.totals.Invalidate(ctx)
	}
}
