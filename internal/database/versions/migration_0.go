package versions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Frozen copies of the schema at migration 0. The live schema lives in the
// database package; these must not change once the migration has shipped.

type DedupRecord struct {
	GeneratorName string `gorm:"primaryKey;size:255"`
	ParamHash     string `gorm:"primaryKey;size:255"`
	SampleId      string `gorm:"size:64;not null"`

	CreationTime time.Time
}

type TaskRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	GeneratorType string `gorm:"size:255;not null"`
	NumSamples    int
	StartIndex    int
	Seed          int64

	Status          string `gorm:"size:20;not null"`
	SamplesUploaded int    `gorm:"default:0"`
	Error           string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

func Migration0(db *gorm.DB) error {
	if err := db.AutoMigrate(&DedupRecord{}, &TaskRun{}); err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
