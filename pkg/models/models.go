// Package models defines the persistent entities and domain errors shared by
// the store, the HTTP API, and the streaming pipeline.
package models

// AllModels returns every entity registered for schema migration. The store
// passes this to GORM AutoMigrate at startup.
func AllModels() []any {
	return []any{
		&User{},
		&Device{},
		&Session{},
		&AudioFile{},
		&UploadSession{},
		&Chapter{},
		&FileAccess{},
		&Checkpoint{},
	}
}
