package seed

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"codexverse/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Fixtures is a hand-written catalogue loaded from YAML:
//
//	categories:
//	  - name: Tools
//	    projects:
//	      - title: Linter
//	        description: Finds bugs
//	        download_link: https://example.com/linter.zip
//	projects:
//	  - title: Uncategorised thing
//	    download_link: https://example.com/thing.zip
type Fixtures struct {
	Categories []CategoryFixture `yaml:"categories"`
	Projects   []ProjectFixture  `yaml:"projects"`
}

// CategoryFixture is a category and the projects filed under it.
type CategoryFixture struct {
	Name     string           `yaml:"name"`
	Projects []ProjectFixture `yaml:"projects"`
}

// ProjectFixture is one catalogue entry.
type ProjectFixture struct {
	Title        string `yaml:"title"`
	Description  string `yaml:"description"`
	DownloadLink string `yaml:"download_link"`
}

// LoadFixtures reads and parses a fixture file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path) // #nosec G304: operator-supplied seed file
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures decodes YAML fixtures, rejecting unknown keys and entries
// without a title, name or download link.
func ParseFixtures(data []byte) (*Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

func (fx *Fixtures) validate() error {
	var errs []error
	check := func(where string, p ProjectFixture) {
		if strings.TrimSpace(p.Title) == "" {
			errs = append(errs, fmt.Errorf("%s: project title is required", where))
		}
		if strings.TrimSpace(p.DownloadLink) == "" {
			errs = append(errs, fmt.Errorf("%s: download_link is required for %q", where, p.Title))
		}
	}
	for i, c := range fx.Categories {
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, fmt.Errorf("categories[%d]: name is required", i))
		}
		for j, p := range c.Projects {
			check(fmt.Sprintf("categories[%d].projects[%d]", i, j), p)
		}
	}
	for i, p := range fx.Projects {
		check(fmt.Sprintf("projects[%d]", i), p)
	}
	return errors.Join(errs...)
}

// Apply inserts missing fixtures. Categories are matched by name and projects
// by title, so applying the same file twice changes nothing.
func (fx *Fixtures) Apply(db *gorm.DB) (Summary, error) {
	var sum Summary
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, c := range fx.Categories {
			category, created, err := findOrCreateCategory(tx, strings.TrimSpace(c.Name))
			if err != nil {
				return err
			}
			sum.Categories += created

			for _, p := range c.Projects {
				created, err := findOrCreateProject(tx, p, &category.ID)
				if err != nil {
					return err
				}
				sum.Projects += created
			}
		}
		for _, p := range fx.Projects {
			created, err := findOrCreateProject(tx, p, nil)
			if err != nil {
				return err
			}
			sum.Projects += created
		}
		return nil
	})
	return sum, err
}

func findOrCreateCategory(tx *gorm.DB, name string) (*models.Category, int, error) {
	var category models.Category
	res := tx.Where("name = ?", name).Limit(1).Find(&category)
	if res.Error != nil {
		return nil, 0, fmt.Errorf("category %s: %w", name, res.Error)
	}
	if res.RowsAffected > 0 {
		return &category, 0, nil
	}
	category = models.Category{Name: name}
	if err := tx.Create(&category).Error; err != nil {
		return nil, 0, fmt.Errorf("category %s: %w", name, err)
	}
	return &category, 1, nil
}

func findOrCreateProject(tx *gorm.DB, p ProjectFixture, categoryID *uint) (int, error) {
	title := strings.TrimSpace(p.Title)
	var existing models.Project
	res := tx.Where("title = ?", title).Limit(1).Find(&existing)
	if res.Error != nil {
		return 0, fmt.Errorf("project %s: %w", title, res.Error)
	}
	if res.RowsAffected > 0 {
		return 0, nil
	}
	project := models.Project{
		Title:        title,
		Description:  strings.TrimSpace(p.Description),
		DownloadLink: strings.TrimSpace(p.DownloadLink),
		CategoryID:   categoryID,
	}
	if err := tx.Create(&project).Error; err != nil {
		return 0, fmt.Errorf("project %s: %w", title, err)
	}
	return 1, nil
}
