// Package entitlementfx wires the grants manager, hot cache and
// entitlement service together, grounded on the teacher's per-domain fx
// module convention in cmd/server/main.go, where providers are grouped
// by component rather than handed to fx.New flat.
//
// grantsmanager.SubscriptionContext (current-plan resolution) is the
// entitlement side's analogue of internal/external's out-of-scope
// collaborators: this module does not provide one. The embedding
// application must fx.Supply its own implementation backed by whatever
// subscription service it runs alongside this core.
package entitlementfx

import (
	"github.com/flexprice/flexcore/internal/config"
	"github.com/flexprice/flexcore/internal/entitlementservice"
	"github.com/flexprice/flexcore/internal/eventbus"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/grantsmanager"
	"github.com/flexprice/flexcore/internal/hotstore"
	"github.com/flexprice/flexcore/internal/store/postgres"
	"go.uber.org/fx"
)

func provideEntitlementConfig(cfg *config.Configuration) entitlementservice.Config {
	return entitlementservice.Config{
		RevalidateInterval: cfg.Entitlement.RevalidateInterval,
		SyncToDBInterval:   cfg.Entitlement.SyncToDBInterval,
		SyncMinSpacing:     cfg.Entitlement.SyncMinSpacing,
	}
}

// asAnalytics lets hotstore.New flush onto the bus-backed publisher
// instead of writing to ClickHouse synchronously (SPEC_FULL.md §3's
// eventbus row): the real ClickHouse write happens in a separately-run
// eventbus.Forwarder, decoupling it from the hot-path flush.
func asAnalytics(p *eventbus.Publisher) external.Analytics { return p }

func asHotStore(s *hotstore.Store) entitlementservice.HotStore { return s }

func asGrantStore(s *postgres.GrantStore) grantsmanager.GrantStore { return s }

func asGrantsManager(m *grantsmanager.Manager) entitlementservice.GrantsManager { return m }

func asDurableStore(r *postgres.EntitlementRepository) entitlementservice.DurableStore { return r }

var Module = fx.Module("entitlement",
	fx.Provide(
		eventbus.NewPublisher,
		asAnalytics,
		hotstore.New,
		asHotStore,
		provideEntitlementConfig,
		asGrantStore,
		asDurableStore,
		grantsmanager.NewManager,
		asGrantsManager,
		entitlementservice.NewService,
	),
)
