package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AzielCF/az-restyle/core/config"
	"github.com/AzielCF/az-restyle/pkg/admission"
)

func TestLoadSeedDefaultsToActive(t *testing.T) {
	input := `[
		{"id": "watercolor", "name": " Watercolor ", "category": "painting", "prompt": "soft washes", "tags": ["art"]},
		{"id": "noir", "name": "Noir", "category": "film", "prompt": "high contrast", "is_active": false}
	]`

	seeds, err := loadSeed(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	assert.Equal(t, "Watercolor", seeds[0].Name)
	assert.Equal(t, "soft washes", seeds[0].Prompt)
	assert.True(t, seeds[0].IsActive)
	assert.Equal(t, []string{"art"}, seeds[0].Tags)
	assert.False(t, seeds[1].IsActive)
}

func TestLoadSeedRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"unknown field": `[{"id": "a", "name": "A", "category": "c", "prompt": "p", "color": "red"}]`,
		"missing":       `[{"id": "a", "name": "A", "category": "c"}]`,
		"bad id":        `[{"id": "../a", "name": "A", "category": "c", "prompt": "p"}]`,
		"duplicate":     `[{"id": "a", "name": "A", "category": "c", "prompt": "p"}, {"id": "a", "name": "B", "category": "c", "prompt": "p"}]`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadSeed(context.Background(), strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestQuotaPoliciesCoverEveryClass(t *testing.T) {
	policies := quotaPolicies(config.QuotaConfig{
		Transform:   config.QuotaRule{MaxRequests: 5, Window: time.Minute},
		CatalogRead: config.QuotaRule{MaxRequests: 100, Window: time.Minute},
		Search:      config.QuotaRule{MaxRequests: 10, Window: time.Minute},
		Health:      config.QuotaRule{MaxRequests: 30, Window: time.Minute},
		Feedback:    config.QuotaRule{MaxRequests: 20, Window: time.Hour},
	})

	require.Len(t, policies, 5)
	assert.Equal(t, admission.Policy{Window: time.Minute, MaxRequests: 5}, policies[admission.ClassTransform])
	assert.Equal(t, admission.Policy{Window: time.Hour, MaxRequests: 20}, policies[admission.ClassFeedback])
}
