package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	s, err := New(db, nil)
	require.NoError(t, err)
	return s, mock
}

func TestSemanticSearchQueryShape(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "packet_type", "segment", "payload", "tags", "scope", "distance",
	}).
		AddRow("pkt-1", "observation", "episodic", `{"text":"deploy failed"}`, `["deploy"]`, "shared", 0.12).
		AddRow("pkt-2", "insight", "semantic", `{"text":"retry transients"}`, `[]`, "shared", 0.37)

	mock.ExpectQuery(`e\.embedding <=> (.+) AS distance`).WillReturnRows(rows)

	admin := tenancy.Scope{Role: tenancy.RoleSuperAdmin}
	results, err := s.SemanticSearch(context.Background(), admin, []float32{0.1, 0.2, 0.3}, SearchQuery{Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "pkt-1", results[0].Packet.ID)
	assert.Equal(t, "deploy failed", results[0].Packet.Payload["text"])
	assert.InDelta(t, 0.12, results[0].Distance, 1e-9)
	assert.InDelta(t, 0.37, results[1].Distance, 1e-9)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSemanticSearchAppliesTenancyPredicates(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`p\.tenant_id IS NULL OR p\.tenant_id = '' OR p\.tenant_id = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "distance"}))

	results, err := s.SemanticSearch(context.Background(), testScope(), []float32{0.5}, SearchQuery{})
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEmbeddingSupersedes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateEmbedding(ctx, &types.SemanticEmbedding{
		PacketID:      "pkt-1",
		EmbeddingType: types.EmbeddingContent,
		Vector:        []float32{0.1, 0.2},
	})
	require.NoError(t, err)

	second, err := s.CreateEmbedding(ctx, &types.SemanticEmbedding{
		PacketID:      "pkt-1",
		EmbeddingType: types.EmbeddingContent,
		Vector:        []float32{0.3, 0.4},
	})
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	var models []EmbeddingModel
	require.NoError(t, s.db.Order("created_at").Find(&models).Error)
	require.Len(t, models, 2)

	byID := map[string]EmbeddingModel{}
	for _, m := range models {
		byID[m.ID] = m
	}
	assert.True(t, byID[first].Stale)
	assert.False(t, byID[second].Stale)

	// A different embedding type for the same packet is untouched.
	third, err := s.CreateEmbedding(ctx, &types.SemanticEmbedding{
		PacketID:      "pkt-1",
		EmbeddingType: types.EmbeddingSummary,
		Vector:        []float32{0.5, 0.6},
	})
	require.NoError(t, err)

	var m EmbeddingModel
	require.NoError(t, s.db.Where("id = ?", second).First(&m).Error)
	assert.False(t, m.Stale)
	var m2 EmbeddingModel
	require.NoError(t, s.db.Where("id = ?", third).First(&m2).Error)
	assert.False(t, m2.Stale)
}
