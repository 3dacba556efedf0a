package memory

import (
	"testing"
	"time"

	"regnxt-workbook-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepository(t *testing.T) {
	repo := NewSessionRepository(time.Hour, 0)

	a := store.NewSession("a", 1, "u1")
	b := store.NewSession("b", 1, "u2")
	c := store.NewSession("c", 2, "u1")
	repo.Save(a)
	repo.Save(b)
	repo.Save(c)

	got, ok := repo.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.ElementsMatch(t, []*store.Session{a, b}, repo.FindByWorkbook(1))
	assert.Empty(t, repo.FindByWorkbook(3))

	var evicted []string
	repo.OnEvicted(func(id string) { evicted = append(evicted, id) })
	repo.Delete("a")

	_, ok = repo.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, evicted)
}

func TestSessionRepositoryExpiry(t *testing.T) {
	repo := NewSessionRepository(20*time.Millisecond, 0)
	repo.Save(store.NewSession("a", 1, "u1"))

	time.Sleep(40 * time.Millisecond)
	_, ok := repo.Get("a")
	assert.False(t, ok)
}
