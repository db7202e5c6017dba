package database

import (
	"gorm.io/gorm"

	"github.com/rpupo63/postzen-backend/models"
)

type Database struct {
	db       *gorm.DB
	postRepo *PostRepo
}

// New initializes a new Database struct with each repository using a shared GORM database instance
func New(db *gorm.DB) Database {
	return Database{
		db:       db,
		postRepo: NewPostRepo(db),
	}
}

func (d Database) PostRepo() *PostRepo {
	return d.postRepo
}

// Migrate creates or updates the tables backing every repository
func (d Database) Migrate() error {
	return d.db.AutoMigrate(&models.Post{})
}

func (d Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
