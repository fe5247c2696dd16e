package migrations

import (
	"github.com/jmylchreest/tunerr/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002StreamAnalysisColumns(),
	}
}

// migration001Schema creates all database tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create all database tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.StreamSource{},
				&models.Channel{},
				&models.Stream{},
				&models.GuideSource{},
				&models.GuideProgram{},
				&models.Setting{},
			)
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&models.Setting{},
				&models.GuideProgram{},
				&models.GuideSource{},
				&models.Stream{},
				&models.Channel{},
				&models.StreamSource{},
			)
		},
	}
}

// migration002StreamAnalysisColumns adds the analysis outcome columns to the
// streams table for installations created before the analyzer persisted its
// results. Fresh installations already get these columns from AutoMigrate
// in 001, so the column adds are guarded.
func migration002StreamAnalysisColumns() Migration {
	return Migration{
		Version:     "002",
		Description: "Add analysis outcome columns to streams table",
		Up: func(tx *gorm.DB) error {
			type columnAdd struct {
				name string
				ddl  string
			}
			adds := []columnAdd{
				{"last_method", "ALTER TABLE streams ADD COLUMN last_method VARCHAR(40)"},
				{"last_complexity", "ALTER TABLE streams ADD COLUMN last_complexity VARCHAR(20)"},
				{"last_analyzed_at", "ALTER TABLE streams ADD COLUMN last_analyzed_at DATETIME"},
			}
			for _, add := range adds {
				if tx.Migrator().HasColumn("streams", add.name) {
					continue
				}
				if err := tx.Exec(add.ddl).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(tx *gorm.DB) error {
			// SQLite cannot drop columns without recreating the table.
			// Leaving them in place is harmless.
			return nil
		},
	}
}
