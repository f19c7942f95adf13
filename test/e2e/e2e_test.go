// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cardtrade-workers/internal/common/config"
	"cardtrade-workers/internal/common/database"
	"cardtrade-workers/internal/common/logger"
	"cardtrade-workers/internal/engine"
	"cardtrade-workers/internal/index"
	"cardtrade-workers/internal/matching"
	"cardtrade-workers/internal/models"
	"cardtrade-workers/internal/pricing"
	"cardtrade-workers/internal/recompute"
	"cardtrade-workers/internal/scope"
	"cardtrade-workers/internal/storage"
	"cardtrade-workers/internal/trust"
)

var (
	zeebeClient zbc.Client
	zapLog      *zap.Logger
)

func TestMain(m *testing.M) {
	var err error

	// Initialize Zeebe client with real connection
	zeebeClient, err = zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         "localhost:26500",
		UsePlaintextConnection: true,
	})
	if err != nil {
		panic(fmt.Sprintf("❌ Failed to connect to Zeebe: %v", err))
	}

	zapLog, _ = zap.NewProduction()

	code := m.Run()

	zeebeClient.Close()
	os.Exit(code)
}

func TestFullE2E(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	t.Log("🚀 Starting FULL E2E Test with real services...")

	// 1. Check all external services are available
	pg, rdb := assertAllServicesConnectivity(t, cfg)
	defer pg.Close()
	defer rdb.Close()

	// 2. Create DB tables and insert test data
	createDatabaseTables(t, ctx, pg)
	seedTestData(t, ctx, pg)

	// 3. Run a full matching pass through the real pipeline
	runMatchingPipeline(t, ctx, cfg, pg, rdb)

	// 4. Exercise invalidation and the recompute queue
	runInvalidationRoundTrip(t, ctx, cfg, pg, rdb)

	t.Log("✅ ALL TESTS PASSED — Full E2E workflow successful!")
}

func assertAllServicesConnectivity(t *testing.T, cfg *config.Config) (*database.PostgresClient, *database.RedisClient) {
	t.Log("🔍 Checking service connectivity...")

	// 🔧 FORCE LOCALHOST FOR E2E TESTS
	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Redis.Address = "localhost:6379"
	cfg.Database.Elasticsearch.Addresses = []string{"http://localhost:9200"}

	// --- PostgreSQL ---
	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err, "❌ PostgreSQL connection failed")
	require.NoError(t, pg.Ping(context.Background()), "❌ PostgreSQL ping failed")
	t.Log("✅ PostgreSQL connected")

	// --- Redis ---
	rdb, err := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, err, "❌ Redis client creation failed")
	require.NoError(t, rdb.Ping(context.Background()), "❌ Redis ping failed")
	t.Log("✅ Redis connected")

	// --- Elasticsearch ---
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Database.Elasticsearch.Addresses,
	})
	require.NoError(t, err, "❌ Elasticsearch client creation failed")
	res, err := es.Info()
	require.NoError(t, err, "❌ Elasticsearch info request failed")
	assert.False(t, res.IsError(), "❌ Elasticsearch returned error")
	res.Body.Close()
	t.Log("✅ Elasticsearch connected")

	// --- Zeebe ---
	_, err = zeebeClient.NewTopologyCommand().Send(context.Background())
	assert.NoError(t, err, "❌ Zeebe topology request failed")
	t.Log("✅ Zeebe connected")

	return pg, rdb
}

func createDatabaseTables(t *testing.T, ctx context.Context, pg *database.PostgresClient) {
	t.Log("🔧 Creating database tables...")

	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS match_run_seq`,
		`CREATE TABLE IF NOT EXISTS want_entries (
			user_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			quantity INT NOT NULL DEFAULT 1,
			min_condition TEXT NOT NULL DEFAULT 'damaged',
			foil_required BOOLEAN NOT NULL DEFAULT FALSE,
			language TEXT NOT NULL DEFAULT 'any',
			max_value NUMERIC,
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (user_id, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS have_entries (
			user_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			condition TEXT NOT NULL DEFAULT 'near_mint',
			foil BOOLEAN NOT NULL DEFAULT FALSE,
			language TEXT NOT NULL DEFAULT 'en',
			min_value NUMERIC,
			matches_only BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (user_id, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS item_prices (
			item_id TEXT PRIMARY KEY,
			price NUMERIC NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_reputation (
			user_id TEXT PRIMARY KEY,
			trust_level NUMERIC NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			lat NUMERIC,
			lon NUMERIC,
			trade_radius_km INT NOT NULL DEFAULT 0,
			communities TEXT[] NOT NULL DEFAULT '{}',
			blocked TEXT[] NOT NULL DEFAULT '{}',
			last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS match_sets (
			user_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			run_sequence BIGINT NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS match_candidates (
			user_id TEXT NOT NULL,
			candidate_id TEXT NOT NULL,
			rank INT NOT NULL,
			score INT NOT NULL,
			user_value NUMERIC NOT NULL,
			candidate_value NUMERIC NOT NULL,
			offers_to_user JSONB NOT NULL,
			offers_to_candidate JSONB NOT NULL,
			factors JSONB NOT NULL,
			distance_km NUMERIC,
			local BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (user_id, candidate_id)
		)`,
	}
	for _, stmt := range stmts {
		_, err := pg.DB.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	t.Log("✅ Tables ready")
}

func seedTestData(t *testing.T, ctx context.Context, pg *database.PostgresClient) {
	t.Log("🔧 Seeding test data...")

	cleanup := []string{
		`DELETE FROM want_entries WHERE user_id LIKE 'e2e-%'`,
		`DELETE FROM have_entries WHERE user_id LIKE 'e2e-%'`,
		`DELETE FROM match_sets WHERE user_id LIKE 'e2e-%'`,
		`DELETE FROM match_candidates WHERE user_id LIKE 'e2e-%'`,
		`DELETE FROM user_profiles WHERE user_id LIKE 'e2e-%'`,
	}
	for _, stmt := range cleanup {
		_, err := pg.DB.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	seed := []string{
		`INSERT INTO user_profiles (user_id, last_active_at) VALUES
			('e2e-alice', NOW()), ('e2e-bob', NOW())
			ON CONFLICT (user_id) DO UPDATE SET last_active_at = NOW()`,
		`INSERT INTO want_entries (user_id, item_id) VALUES ('e2e-alice', 'e2e-card-b')`,
		`INSERT INTO want_entries (user_id, item_id) VALUES ('e2e-bob', 'e2e-card-a')`,
		`INSERT INTO have_entries (user_id, item_id) VALUES ('e2e-alice', 'e2e-card-a')`,
		`INSERT INTO have_entries (user_id, item_id) VALUES ('e2e-bob', 'e2e-card-b')`,
		`INSERT INTO item_prices (item_id, price) VALUES ('e2e-card-a', 10), ('e2e-card-b', 10)
			ON CONFLICT (item_id) DO UPDATE SET price = EXCLUDED.price`,
	}
	for _, stmt := range seed {
		_, err := pg.DB.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	t.Log("✅ Test data seeded")
}

func runMatchingPipeline(t *testing.T, ctx context.Context, cfg *config.Config, pg *database.PostgresClient, rdb *database.RedisClient) {
	t.Log("🚀 Running full matching pipeline...")

	log := logger.NewZapAdapter(zapLog)

	listStore := storage.NewListStore(pg.DB)
	matchSets := storage.NewMatchSetStore(pg.DB)
	userStore := storage.NewUserStore(pg.DB)
	revIndex := index.New(rdb.Client)

	// Point the reverse index at the seeded have lists.
	require.NoError(t, revIndex.RebuildForUser(ctx, "e2e-alice", []string{"e2e-card-a"}))
	require.NoError(t, revIndex.RebuildForUser(ctx, "e2e-bob", []string{"e2e-card-b"}))

	priceSource := pricing.New(pg.DB, rdb.Client, time.Duration(cfg.Matching.PriceCacheTTL)*time.Second)
	trustSource := trust.New(pg.DB, rdb.Client, time.Duration(cfg.Matching.TrustCacheTTL)*time.Second)
	evaluator := matching.NewEvaluator(priceSource, trustSource, log,
		matching.WithDefaultRadius(cfg.Matching.DefaultRadiusKM),
	)

	matchEngine := engine.New(listStore, revIndex, passthroughScope{}, userStore, matchSets, evaluator, cfg.Matching, log)

	result, err := matchEngine.FindMatchesForUser(ctx, "e2e-alice", engine.RunOptions{Trigger: "manual"})
	require.NoError(t, err)
	require.True(t, result.Persisted)
	require.Len(t, result.Candidates, 1)

	best := result.Candidates[0]
	assert.Equal(t, "e2e-bob", best.CandidateID)
	assert.Equal(t, 58, best.Score, "balanced $10/$10 trade scores 58")
	assert.Equal(t, 10.0, best.UserValue)
	assert.Equal(t, 10.0, best.CandidateValue)

	stored, status, err := matchSets.Get(ctx, "e2e-alice")
	require.NoError(t, err)
	assert.Equal(t, models.MatchSetFresh, status)
	require.Len(t, stored, 1)
	assert.Equal(t, result.RunSequence, stored[0].RunSequence)

	t.Log("✅ Matching pipeline produced and persisted the expected set")
}

func runInvalidationRoundTrip(t *testing.T, ctx context.Context, cfg *config.Config, pg *database.PostgresClient, rdb *database.RedisClient) {
	t.Log("🚀 Exercising invalidation and the recompute queue...")

	log := logger.NewZapAdapter(zapLog)
	stream := "e2e:recompute:" + uuid.NewString()[:8]

	listStore := storage.NewListStore(pg.DB)
	matchSets := storage.NewMatchSetStore(pg.DB)
	revIndex := index.New(rdb.Client)

	queue := recompute.NewQueue(rdb.Client, log, stream)
	invalidator := recompute.NewInvalidator(listStore, revIndex, matchSets, queue, log)

	require.NoError(t, invalidator.OnListMutated(ctx, "e2e-bob", models.ListKindHave))

	// Bob's own set goes stale and a recompute lands on the stream. Alice
	// references bob in her stored set, so she is fanned out too.
	_, status, err := matchSets.Get(ctx, "e2e-bob")
	require.NoError(t, err)
	assert.Equal(t, models.MatchSetStale, status)

	_, aliceStatus, err := matchSets.Get(ctx, "e2e-alice")
	require.NoError(t, err)
	assert.Equal(t, models.MatchSetStale, aliceStatus)

	consumer, err := recompute.NewConsumer(queue, log, "e2e-matchers", "e2e-consumer",
		recompute.WithBlockTime(200*time.Millisecond),
	)
	require.NoError(t, err)

	msgs, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	users := map[string]string{}
	for _, m := range msgs {
		users[m.Message.UserID] = m.Message.Reason
		require.NoError(t, consumer.Ack(ctx, m.ID))
	}
	assert.Contains(t, users, "e2e-bob")
	assert.Contains(t, users, "e2e-alice")
	assert.Equal(t, recompute.ReasonHaveChanged, users["e2e-bob"])
	assert.Equal(t, recompute.ReasonReferencing, users["e2e-alice"])

	t.Log("✅ Invalidation marked sets stale and enqueued recompute work")
}

// passthroughScope skips Elasticsearch narrowing so the e2e run does not
// depend on indexed profile documents.
type passthroughScope struct{}

func (passthroughScope) Apply(ctx context.Context, candidateIDs []string, p scope.Params) ([]string, error) {
	return candidateIDs, nil
}
