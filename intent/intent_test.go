package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedIntent() OrderIntent {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return OrderIntent{
		IntentID:    "abc-123",
		CreatedAt:   created,
		Symbol:      "BTC/JPY",
		Side:        Buy,
		Size:        0.1,
		Price:       5000000.0,
		OrderType:   "limit",
		TimeInForce: "GTC",
		Strategy:    "news_overlay",
		Confidence:  0.7,
		Rationale:   "momentum",
		ExpiresAt:   created.Add(15 * time.Minute),
		Mode:        ModePaper,
	}
}

func TestCanonicalJSONGolden(t *testing.T) {
	t.Parallel()

	want := `{"confidence":0.7,` +
		`"created_at":"2026-01-02T03:04:05+00:00",` +
		`"expires_at":"2026-01-02T03:19:05+00:00",` +
		`"intent_id":"abc-123",` +
		`"mode":"paper",` +
		`"order_type":"limit",` +
		`"price":5000000.0,` +
		`"rationale":"momentum",` +
		`"rationale_features_ref":null,` +
		`"side":"buy",` +
		`"size":0.1,` +
		`"strategy":"news_overlay",` +
		`"symbol":"BTC/JPY",` +
		`"time_in_force":"GTC"}`

	assert.Equal(t, want, fixedIntent().CanonicalJSON())
}

func TestHashStableAndContentBound(t *testing.T) {
	t.Parallel()

	oi := fixedIntent()
	h1 := oi.Hash()
	h2 := oi.Hash()
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	changed := oi
	changed.Size = 0.2
	assert.NotEqual(t, h1, changed.Hash())

	// Status is not part of the canonical content, only the stored row.
	again := fixedIntent()
	assert.Equal(t, h1, again.Hash())
}

func TestFeaturesRefSerialization(t *testing.T) {
	t.Parallel()

	oi := fixedIntent()
	assert.Contains(t, oi.CanonicalJSON(), `"rationale_features_ref":null`)

	oi.FeaturesRef = "BTC/JPY:1700000000000:news_v1"
	assert.Contains(t, oi.CanonicalJSON(), `"rationale_features_ref":"BTC/JPY:1700000000000:news_v1"`)
}

func TestFromPlan(t *testing.T) {
	t.Parallel()

	plan := TradePlan{
		Symbol:     "BTC/JPY",
		Side:       Buy,
		Size:       0.5,
		Price:      4200000,
		Confidence: 0.6,
		Rationale:  "test",
		Strategy:   "baseline",
	}
	oi := FromPlan(plan, ModePaper, 15*time.Minute, "ref-1")

	assert.NotEmpty(t, oi.IntentID)
	assert.Equal(t, "limit", oi.OrderType)
	assert.Equal(t, "GTC", oi.TimeInForce)
	assert.Equal(t, "ref-1", oi.FeaturesRef)
	assert.Equal(t, 15*time.Minute, oi.ExpiresAt.Sub(oi.CreatedAt))
	assert.Equal(t, plan, oi.Plan())
}

func TestExpired(t *testing.T) {
	t.Parallel()

	oi := fixedIntent()
	assert.False(t, oi.Expired(oi.ExpiresAt.Add(-time.Second)))
	assert.True(t, oi.Expired(oi.ExpiresAt))
	assert.True(t, oi.Expired(oi.ExpiresAt.Add(time.Hour)))
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"proposed to approved", StatusProposed, StatusApproved, true},
		{"proposed to filled", StatusProposed, StatusFilled, true},
		{"proposed to expired", StatusProposed, StatusExpired, true},
		{"approved to filled", StatusApproved, StatusFilled, true},
		{"approved back to proposed", StatusApproved, StatusProposed, false},
		{"open to filled", StatusOpen, StatusFilled, true},
		{"open to approved", StatusOpen, StatusApproved, false},
		{"filled is terminal", StatusFilled, StatusCanceled, false},
		{"expired is terminal", StatusExpired, StatusApproved, false},
		{"rejected is terminal", StatusRejected, StatusProposed, false},
		{"self transition", StatusProposed, StatusProposed, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}
