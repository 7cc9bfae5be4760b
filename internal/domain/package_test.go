package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageTransitions(t *testing.T) {
	assert.True(t, PackageUploaded.CanTransition(PackageValidating))
	assert.True(t, PackageValidated.CanTransition(PackageDuplicatesDetected))
	assert.True(t, PackageAwaitingResolution.CanTransition(PackageApproved))
	assert.True(t, PackageApproved.CanTransition(PackageCommitting))
	assert.True(t, PackageCommitting.CanTransition(PackageCommitted))
	assert.True(t, PackageCommitting.CanTransition(PackageFailed))

	// a failed package can be re-validated after a fix
	assert.True(t, PackageFailed.CanTransition(PackageValidating))

	// no shortcuts into commit
	assert.False(t, PackageUploaded.CanTransition(PackageCommitting))
	assert.False(t, PackageValidated.CanTransition(PackageCommitted))
	assert.False(t, PackageAwaitingResolution.CanTransition(PackageCommitting))

	// commit in flight cannot be cancelled
	assert.False(t, PackageCommitting.CanTransition(PackageCancelled))
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []PackageStatus{PackageCommitted, PackageCancelled, PackageQuarantined} {
		assert.True(t, s.Terminal(), "expected %s to be terminal", s)
		assert.False(t, s.CanTransition(PackageValidating))
	}
	assert.False(t, PackageUploaded.Terminal())
	assert.False(t, PackageCommitting.Terminal())
}

func TestMakePairKeyOrderIndependent(t *testing.T) {
	a := EntityRef{Source: SourceStaging, ID: "p-001"}
	b := EntityRef{Source: SourceProduction, ID: "7f0a"}
	k1 := MakePairKey(EntityPerson, a, b)
	k2 := MakePairKey(EntityPerson, b, a)
	require.Equal(t, k1, k2)

	// same pair, different entity type, different key
	k3 := MakePairKey(EntityPropertyUnit, a, b)
	assert.NotEqual(t, k1, k3)
}

func TestCommitOrderParentsFirst(t *testing.T) {
	order := CommitOrder()
	pos := map[EntityType]int{}
	for i, et := range order {
		pos[et] = i
	}
	// every ref target must commit before its referrer
	for _, et := range order {
		for _, target := range RefFields(et) {
			assert.Less(t, pos[target], pos[et],
				"%s references %s, target must come first", et, target)
		}
	}
}

func TestCommitReportCounts(t *testing.T) {
	r := NewCommitReport("pkg-1")
	r.Counts(EntityPerson).Committed = 3
	r.Counts(EntityPerson).Failed = 1
	r.Counts(EntityClaim).Skipped = 2
	assert.Equal(t, 3, r.TotalFailed())
}
