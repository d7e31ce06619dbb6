// Package entitlement resolves what a tenant's plan allows and rejects
// actions that would exceed it.
//
// There is a single table keyed by tier. Payment provider price identifiers
// are mapped onto tiers by a Catalog; anything the catalog does not recognise
// resolves to the starter tier.
package entitlement

import (
	"strings"

	"github.com/Priya8975/agency-portal/internal/domain"
)

type Tier string

const (
	TierStarter Tier = "starter"
	TierGrowth  Tier = "growth"
	TierScale   Tier = "scale"
)

// Name is the tier as shown to customers.
func (t Tier) Name() string {
	switch t {
	case TierGrowth:
		return "Growth"
	case TierScale:
		return "Scale"
	default:
		return "Starter"
	}
}

// Entitlements is the capability set granted by a tier.
type Entitlements struct {
	Tier              Tier `json:"tier"`
	MaxActiveRequests int  `json:"max_active_requests"`
	SLAHours          int  `json:"sla_hours"`
	HasUXReview       bool `json:"has_ux_review"`
	HasStrategyCalls  bool `json:"has_strategy_calls"`
	MaxSeats          int  `json:"max_seats"`
}

var tiers = map[Tier]Entitlements{
	TierStarter: {
		Tier:              TierStarter,
		MaxActiveRequests: 1,
		SLAHours:          72,
		MaxSeats:          1,
	},
	TierGrowth: {
		Tier:              TierGrowth,
		MaxActiveRequests: 2,
		SLAHours:          48,
		HasUXReview:       true,
		MaxSeats:          3,
	},
	TierScale: {
		Tier:              TierScale,
		MaxActiveRequests: 5,
		SLAHours:          24,
		HasUXReview:       true,
		HasStrategyCalls:  true,
		MaxSeats:          10,
	},
}

// ForTier returns the table entry for t, or the starter entry when t is unknown.
func ForTier(t Tier) Entitlements {
	if e, ok := tiers[t]; ok {
		return e
	}
	return tiers[TierStarter]
}

// ParseTier accepts a tier name in any case. ok is false for anything else.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	_, ok := tiers[t]
	return t, ok
}

// Catalog maps payment provider price identifiers to tiers.
type Catalog struct {
	prices map[string]Tier
}

func NewCatalog(prices map[string]Tier) *Catalog {
	c := &Catalog{prices: make(map[string]Tier, len(prices))}
	for id, tier := range prices {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		c.prices[id] = tier
	}
	return c
}

// Resolve returns the entitlements for planID. planID may be a price
// identifier known to the catalog or a bare tier name. Empty and unknown
// identifiers get the starter tier.
func (c *Catalog) Resolve(planID string) Entitlements {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return tiers[TierStarter]
	}
	if c != nil {
		if t, ok := c.prices[planID]; ok {
			return ForTier(t)
		}
	}
	if t, ok := ParseTier(planID); ok {
		return tiers[t]
	}
	return tiers[TierStarter]
}

// PlanFor returns the plan identifier a billing subscription entitles its
// owner to. Missing or lapsed subscriptions yield "".
func PlanFor(sub *domain.BillingSubscription) string {
	if sub == nil || !isEntitlingStatus(sub.Status) {
		return ""
	}
	return sub.PlanID
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}
