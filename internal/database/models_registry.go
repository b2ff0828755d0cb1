package database

import "codexverse/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Category{},
		&models.Project{},
		&models.Ticket{},
		&models.TicketMessage{},
	}
}
