package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbeddedMigrationsListed(t *testing.T) {
	files := listMigrationFiles(Migrations)
	assert.Contains(t, files, "000001_create_properties.up.sql")
}

func TestCountApplied(t *testing.T) {
	files := []string{"000001_a.up.sql", "000002_b.up.sql", "000003_c.up.sql"}
	assert.Equal(t, 2, countApplied(files, 1, 3))
	assert.Equal(t, 0, countApplied(files, 3, 3))
	assert.Equal(t, uint64(2), parseVersion("000002_b.up.sql"))
}
