package service

import (
	"testing"

	"chrono-battle/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_RefreshPicksUpChanges(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{})

	sk, ok := env.catalog.Skill(skillHeavy)
	require.True(t, ok)
	assert.Equal(t, 2, sk.Cooldown)

	it, ok := env.catalog.Item(itemPotion)
	require.True(t, ok)
	assert.True(t, it.Consumable())

	_, ok = env.catalog.Skill(99)
	assert.False(t, ok)

	// возвращается копия
	sk.Cooldown = 10
	again, _ := env.catalog.Skill(skillHeavy)
	assert.Equal(t, 2, again.Cooldown)

	require.NoError(t, env.store.PutSkill(env.ctx, models.Skill{ID: 99, Name: "Fireball", Type: "attack", Cooldown: 4, Multiplier: 3}))
	_, ok = env.catalog.Skill(99)
	assert.False(t, ok, "not visible before refresh")

	require.NoError(t, env.catalog.Refresh(env.ctx))
	fb, ok := env.catalog.Skill(99)
	require.True(t, ok)
	assert.Equal(t, "Fireball", fb.Name)
}
