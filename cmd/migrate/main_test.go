package main

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMigrator struct {
	mock.Mock
}

func (m *MockMigrator) Up() error {
	return m.Called().Error(0)
}

func (m *MockMigrator) Steps(n int) error {
	return m.Called(n).Error(0)
}

func (m *MockMigrator) Version() (uint, bool, error) {
	args := m.Called()
	return args.Get(0).(uint), args.Bool(1), args.Error(2)
}

func TestRun(t *testing.T) {
	t.Run("Up", func(t *testing.T) {
		m := new(MockMigrator)
		m.On("Up").Return(nil)
		assert.NoError(t, run(m, "up"))
		m.AssertExpectations(t)
	})

	t.Run("Up No Change", func(t *testing.T) {
		m := new(MockMigrator)
		m.On("Up").Return(migrate.ErrNoChange)
		assert.NoError(t, run(m, "up"))
	})

	t.Run("Up Failure", func(t *testing.T) {
		m := new(MockMigrator)
		m.On("Up").Return(errors.New("syntax error"))
		err := run(m, "up")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "applying migrations")
	})

	t.Run("Down Rolls Back One Step", func(t *testing.T) {
		m := new(MockMigrator)
		m.On("Steps", -1).Return(nil)
		assert.NoError(t, run(m, "down"))
		m.AssertExpectations(t)
	})

	t.Run("Down Nothing Applied", func(t *testing.T) {
		m := new(MockMigrator)
		m.On("Steps", -1).Return(migrate.ErrNilVersion)
		assert.NoError(t, run(m, "down"))
	})

	t.Run("Version", func(t *testing.T) {
		m := new(MockMigrator)
		m.On("Version").Return(uint(3), false, nil)
		assert.NoError(t, run(m, "version"))
	})

	t.Run("Unknown Mode", func(t *testing.T) {
		err := run(new(MockMigrator), "sideways")
		assert.ErrorContains(t, err, "unknown mode")
	})
}

func TestSourceURL(t *testing.T) {
	u, err := sourceURL("migrations")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))
	assert.True(t, strings.HasSuffix(u, "/migrations"))
}

// Every migration needs a matching rollback for the down mode to work.
func TestMigrationFilesArePaired(t *testing.T) {
	ups, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	sort.Strings(ups)
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := os.Stat(down)
		assert.NoError(t, err, "missing %s", filepath.Base(down))
	}
}
