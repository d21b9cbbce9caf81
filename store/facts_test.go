package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

func TestNormalizeEntity(t *testing.T) {
	assert.Equal(t, "acme corp", NormalizeEntity("  Acme   Corp "))
	assert.Equal(t, "postgres", NormalizeEntity("Postgres"))
	assert.Equal(t, "", NormalizeEntity("   "))
}

func TestUpsertFactInsertThenReinforce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	assertion := types.FactAssertion{
		Subject:        "Acme Corp",
		Predicate:      "uses",
		Object:         "Postgres",
		Confidence:     0.5,
		SourcePacketID: "pkt-1",
	}

	fact, err := s.UpsertFact(ctx, scope, assertion)
	require.NoError(t, err)
	assert.Equal(t, "acme corp", fact.SubjectNormalized)
	assert.Equal(t, "postgres", fact.ObjectNormalized)
	assert.Equal(t, 0.5, fact.Confidence)
	assert.Equal(t, 1, fact.SupportingPacketCount)
	assert.Equal(t, int64(1), fact.Version)
	assert.Nil(t, fact.LastReinforcedAt)

	// Same triple modulo whitespace and case reinforces, not duplicates.
	assertion.Subject = "  acme   corp"
	assertion.Object = "POSTGRES"
	again, err := s.UpsertFact(ctx, scope, assertion)
	require.NoError(t, err)
	assert.Equal(t, fact.ID, again.ID)
	assert.InDelta(t, 0.55, again.Confidence, 1e-9)
	assert.Equal(t, 2, again.SupportingPacketCount)
	assert.Equal(t, int64(2), again.Version)
	assert.NotNil(t, again.LastReinforcedAt)
}

func TestUpsertFactConfidenceCapped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	assertion := types.FactAssertion{
		Subject: "svc", Predicate: "depends_on", Object: "db", Confidence: 0.99,
	}
	_, err := s.UpsertFact(ctx, scope, assertion)
	require.NoError(t, err)

	fact, err := s.UpsertFact(ctx, scope, assertion)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fact.Confidence)
}

func TestUpsertFactValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpsertFact(context.Background(), testScope(), types.FactAssertion{
		Subject: "x", Predicate: "", Object: "y",
	})
	assert.True(t, types.IsValidation(err))
}

func TestUpsertFactTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assertion := types.FactAssertion{Subject: "svc", Predicate: "uses", Object: "redis"}

	a, err := s.UpsertFact(ctx, testScope(), assertion)
	require.NoError(t, err)

	other := tenancy.Scope{TenantID: "tenant-b", OrgID: "org-9", UserID: "user-9", Role: tenancy.RoleAgent}
	b, err := s.UpsertFact(ctx, other, assertion)
	require.NoError(t, err)

	// Same triple in a different tenant is a separate fact.
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 1, b.SupportingPacketCount)
}

func TestContradictFact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	fact, err := s.UpsertFact(ctx, scope, types.FactAssertion{
		Subject: "svc", Predicate: "uses", Object: "mysql", Confidence: 0.8,
	})
	require.NoError(t, err)

	decayed, err := s.ContradictFact(ctx, scope, fact.ID, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, decayed.Confidence, 1e-9)
	assert.Equal(t, fact.Version+1, decayed.Version)

	// Repeated contradiction floors at the minimum instead of deleting.
	for i := 0; i < 5; i++ {
		decayed, err = s.ContradictFact(ctx, scope, fact.ID, 0.9)
		require.NoError(t, err)
	}
	assert.Equal(t, 0.1, decayed.Confidence)

	_, err = s.ContradictFact(ctx, scope, "missing", 0.5)
	assert.True(t, types.IsNotFound(err))
}

func TestFactsBySubject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	_, err := s.UpsertFact(ctx, scope, types.FactAssertion{
		Subject: "Acme", Predicate: "uses", Object: "postgres", Confidence: 0.9,
	})
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, scope, types.FactAssertion{
		Subject: "acme", Predicate: "located_in", Object: "berlin", Confidence: 0.4,
	})
	require.NoError(t, err)
	_, err = s.UpsertFact(ctx, scope, types.FactAssertion{
		Subject: "other", Predicate: "uses", Object: "redis",
	})
	require.NoError(t, err)

	facts, err := s.FactsBySubject(ctx, scope, " ACME ", 10)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "uses", facts[0].Predicate)
	assert.True(t, facts[0].Confidence >= facts[1].Confidence)
}

func TestUpsertRelationshipAccumulatesWeight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	edge := &types.EntityRelationship{Subject: "Acme", Predicate: "USES", Object: "Postgres"}

	first, err := s.UpsertRelationship(ctx, scope, edge)
	require.NoError(t, err)
	assert.Equal(t, 1.0, first.Weight)
	assert.Equal(t, "acme", first.Subject)

	second, err := s.UpsertRelationship(ctx, scope, &types.EntityRelationship{
		Subject: "acme", Predicate: "USES", Object: "postgres", Weight: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 1.5, second.Weight, 1e-9)
}
