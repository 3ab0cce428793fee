// Package storefx wires the durable Postgres store and the DynamoDB
// subscription lock backend, grounded on the teacher's cmd/server fx
// providers for postgres.NewEntClient/NewClient and its dynamodb wiring.
package storefx

import (
	"context"

	"github.com/flexprice/flexcore/internal/config"
	"github.com/flexprice/flexcore/internal/store/dynamolock"
	"github.com/flexprice/flexcore/internal/store/postgres"
	"go.uber.org/fx"
)

func provideDynamoClient(cfg *config.Configuration) (*dynamolock.Client, error) {
	return dynamolock.NewClient(context.Background(), cfg)
}

var Module = fx.Module("store",
	fx.Provide(
		postgres.NewDB,
		postgres.NewGrantRepository,
		postgres.NewEntitlementRepository,
		postgres.NewGrantStore,
		postgres.NewBillingRepository,
		provideDynamoClient,
		dynamolock.NewStore,
	),
)
