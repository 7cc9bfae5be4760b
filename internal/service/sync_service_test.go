package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"landrec-import/internal/domain"
	"landrec-import/internal/repository"
	"landrec-import/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type syncEnv struct {
	sessions *repository.MemorySyncRepository
	packages *repository.MemoryPackagesRepository
	content  *store.MemoryContentStore
	vocab    *StaticVocabulary
	sync     *SyncService
}

func newSyncEnv(t *testing.T) *syncEnv {
	t.Helper()
	logger := zap.NewNop()
	e := &syncEnv{
		sessions: repository.NewMemorySyncRepository(),
		packages: repository.NewMemoryPackagesRepository(),
		content:  store.NewMemoryContentStore(),
		vocab:    &StaticVocabulary{Snap: testVocabulary()},
	}
	audit := NewAuditRecorder(repository.NewMemoryAuditRepository(), nil, "", logger)
	intake := NewIntakeService(e.packages, e.content, audit, "", logger)
	e.sync = NewSyncService(e.sessions, intake, e.vocab, audit, logger)
	return e
}

func (e *syncEnv) open(t *testing.T, collectorID string) *domain.SyncSession {
	t.Helper()
	sess, err := e.sync.OpenSession(context.Background(), OpenSessionRequest{CollectorID: collectorID, DeviceID: "tab-07"})
	require.NoError(t, err)
	return sess
}

func syncUploadRequest(t *testing.T, sessionID, collectorID, packageID string) SessionUploadRequest {
	t.Helper()
	raw, err := json.Marshal(fixturePayload(packageID))
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	return SessionUploadRequest{
		SessionID:   sessionID,
		CollectorID: collectorID,
		Upload: UploadRequest{
			Manifest: UploadManifest{
				PackageID: packageID,
				FileName:  packageID + ".lrpkg",
				Checksum:  hex.EncodeToString(sum[:]),
			},
			Body:       bytes.NewReader(raw),
			UploadedBy: collectorID,
		},
	}
}

func TestOpenSessionRequiresCollector(t *testing.T) {
	e := newSyncEnv(t)
	_, err := e.sync.OpenSession(context.Background(), OpenSessionRequest{DeviceID: "tab-07"})
	assert.Error(t, err)
}

func TestSessionRejectsForeignCollector(t *testing.T) {
	e := newSyncEnv(t)
	sess := e.open(t, "col-1")

	_, err := e.sync.FetchAssignments(context.Background(), FetchRequest{SessionID: sess.SessionID, CollectorID: "col-2"})
	assert.ErrorIs(t, err, domain.ErrSessionOwnership)

	_, err = e.sync.Upload(context.Background(), syncUploadRequest(t, sess.SessionID, "col-2", "pkg-foreign"))
	assert.ErrorIs(t, err, domain.ErrSessionOwnership)

	_, err = e.sync.Acknowledge(context.Background(), AcknowledgeRequest{SessionID: sess.SessionID, CollectorID: "col-2", AssignmentIDs: []string{"x"}})
	assert.ErrorIs(t, err, domain.ErrSessionOwnership)
}

func TestSessionUploadStampsCollectorAndDedupes(t *testing.T) {
	e := newSyncEnv(t)
	sess := e.open(t, "col-1")

	res, err := e.sync.Upload(context.Background(), syncUploadRequest(t, sess.SessionID, "col-1", "pkg-sync"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	// The session, not the manifest, decides attribution.
	assert.Equal(t, "col-1", res.Package.CollectorID)
	assert.Equal(t, "tab-07", res.Package.DeviceID)

	again, err := e.sync.Upload(context.Background(), syncUploadRequest(t, sess.SessionID, "col-1", "pkg-sync"))
	require.NoError(t, err)
	assert.False(t, again.Accepted)
	assert.Equal(t, res.Package.PackageNumber, again.Package.PackageNumber)

	stored, err := e.sessions.GetSession(context.Background(), sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.PackagesUploaded)
}

func TestFetchAssignmentsAndAcknowledgeIdempotent(t *testing.T) {
	e := newSyncEnv(t)
	sess := e.open(t, "col-1")

	a1, err := e.sync.CreateAssignment(context.Background(), "col-1", "ADM-01", "survey riverside block")
	require.NoError(t, err)
	a2, err := e.sync.CreateAssignment(context.Background(), "col-1", "ADM-02", "revisit parcel PC-204")
	require.NoError(t, err)
	// Another collector's work never shows up in this session.
	_, err = e.sync.CreateAssignment(context.Background(), "col-2", "ADM-09", "other area")
	require.NoError(t, err)

	fetched, err := e.sync.FetchAssignments(context.Background(), FetchRequest{SessionID: sess.SessionID, CollectorID: "col-1"})
	require.NoError(t, err)
	require.Len(t, fetched.Assignments, 2)

	ack, err := e.sync.Acknowledge(context.Background(), AcknowledgeRequest{
		SessionID:     sess.SessionID,
		CollectorID:   "col-1",
		AssignmentIDs: []string{a1.AssignmentID, a2.AssignmentID},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Acknowledged)
	assert.Equal(t, 0, ack.AlreadyDone)

	// A retried acknowledge is a counted no-op.
	ack, err = e.sync.Acknowledge(context.Background(), AcknowledgeRequest{
		SessionID:     sess.SessionID,
		CollectorID:   "col-1",
		AssignmentIDs: []string{a1.AssignmentID, a2.AssignmentID},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, ack.Acknowledged)
	assert.Equal(t, 2, ack.AlreadyDone)

	fetched, err = e.sync.FetchAssignments(context.Background(), FetchRequest{SessionID: sess.SessionID, CollectorID: "col-1"})
	require.NoError(t, err)
	assert.Empty(t, fetched.Assignments)

	got, ok := e.sessions.Assignment(a1.AssignmentID)
	require.True(t, ok)
	assert.Equal(t, domain.TransferTransferred, got.Status)
	assert.True(t, got.TransferredAt.Valid)
}

func TestFetchVocabularySnapshotThenDelta(t *testing.T) {
	e := newSyncEnv(t)
	sess := e.open(t, "col-1")

	// First sync: no cursor, the whole snapshot ships.
	first, err := e.sync.FetchAssignments(context.Background(), FetchRequest{SessionID: sess.SessionID, CollectorID: "col-1"})
	require.NoError(t, err)
	require.NotNil(t, first.Vocabulary)
	assert.Equal(t, "vocab-test-1", first.VocabularyVersion)
	assert.Empty(t, first.VocabularyDelta)

	// A later sync with a cursor gets only codes updated after it.
	e.vocab.Snap.Codes["claim_type"] = append(e.vocab.Snap.Codes["claim_type"], domain.VocabularyCode{
		Domain: "claim_type", Code: "customary", Label: "customary", Active: true,
		UpdatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	second, err := e.sync.FetchAssignments(context.Background(), FetchRequest{SessionID: sess.SessionID, CollectorID: "col-1", VocabSince: since})
	require.NoError(t, err)
	assert.Nil(t, second.Vocabulary)
	require.Len(t, second.VocabularyDelta, 1)
	assert.Equal(t, "customary", second.VocabularyDelta[0].Code)
}
