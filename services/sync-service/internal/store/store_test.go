package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoik/mailroom/internal/models"
)

// runStoreTests runs the behaviour shared by every Store backend. newStore
// must return an empty store.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		run  func(t *testing.T, s Store)
	}{
		{"AccountCursor", testAccountCursor},
		{"UpsertAddressMergesByLowercasedAddress", testUpsertAddressMerges},
		{"UpsertThreadAggregates", testUpsertThreadAggregates},
		{"UpsertThreadRejectsForeignAccount", testUpsertThreadRejectsForeignAccount},
		{"UpdateThreadStatusKeepsFirstDeletion", testUpdateThreadStatusKeepsFirstDeletion},
		{"UpsertEmailRoundTripAndRekey", testUpsertEmailRoundTripAndRekey},
		{"UpsertEmailDeletionTimestampIsStable", testUpsertEmailDeletionTimestampIsStable},
		{"UpsertEmailIgnoresOlderVersion", testUpsertEmailIgnoresOlderVersion},
		{"SameMessageInTwoAccounts", testSameMessageInTwoAccounts},
		{"GetMissingRows", testGetMissingRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run(t, newStore(t))
		})
	}
}

func strPtr(s string) *string { return &s }

func seedAccount(t *testing.T, s Store) *models.Account {
	return seedAccountEmail(t, s, "owner@example.com")
}

func seedAccountEmail(t *testing.T, s Store, email string) *models.Account {
	t.Helper()
	acct := &models.Account{Email: email, AccessToken: "token"}
	require.NoError(t, s.CreateAccount(context.Background(), acct))
	return acct
}

func seedEmail(t *testing.T, s Store, acct *models.Account, threadID, imid string) *models.Email {
	t.Helper()
	ctx := context.Background()

	from, err := s.UpsertAddress(ctx, acct.ID, models.EmailAddress{Address: "sender@example.com"})
	require.NoError(t, err)

	sent := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertThread(ctx, ThreadUpsert{
		ID:              threadID,
		AccountID:       acct.ID,
		Subject:         "subject",
		LastMessageDate: sent,
		ParticipantIDs:  []string{from.ID},
	}))

	e := &models.Email{
		ID:                "provider-" + threadID + "-" + imid,
		AccountID:         acct.ID,
		ThreadID:          threadID,
		InternetMessageID: imid,
		CreatedTime:       sent,
		LastModifiedTime:  sent,
		SentAt:            sent,
		ReceivedAt:        sent,
		Subject:           "subject",
		SysLabels:         []models.SysLabel{models.LabelInbox, models.LabelUnread},
		Sensitivity:       models.SensitivityNormal,
		FromID:            from.ID,
		ToIDs:             []string{from.ID},
		InternetHeaders:   []models.EmailHeader{{Name: "X-Test", Value: "1"}},
		NativeProperties:  map[string]string{"k": "v"},
		Body:              strPtr("<p>hi</p>"),
		EmailLabel:        models.EmailLabelInbox,
	}
	require.NoError(t, s.UpsertEmail(ctx, e))
	return e
}

func testAccountCursor(t *testing.T, s Store) {
	ctx := context.Background()

	acct := seedAccount(t, s)
	assert.NotEmpty(t, acct.ID)
	assert.Equal(t, models.InitialSyncPending, acct.InitialSyncStatus)
	assert.Nil(t, acct.NextDeltaToken)

	require.NoError(t, s.CompleteInitialSync(ctx, acct.ID, "delta-1"))
	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InitialSyncCompleted, got.InitialSyncStatus)
	require.NotNil(t, got.NextDeltaToken)
	assert.Equal(t, "delta-1", *got.NextDeltaToken)

	require.NoError(t, s.SetDeltaToken(ctx, acct.ID, "delta-2"))
	got, err = s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "delta-2", *got.NextDeltaToken)

	assert.ErrorIs(t, s.SetDeltaToken(ctx, "missing", "x"), ErrNotFound)
	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testUpsertAddressMerges(t *testing.T, s Store) {
	ctx := context.Background()
	acct := seedAccount(t, s)

	first, err := s.UpsertAddress(ctx, acct.ID, models.EmailAddress{Address: "Bob@Example.com", Name: strPtr("Bob")})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", first.Address)

	// An undefined name must not erase the stored one
	second, err := s.UpsertAddress(ctx, acct.ID, models.EmailAddress{Address: "bob@example.com", Raw: strPtr("Bob <bob@example.com>")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.Name)
	assert.Equal(t, "Bob", *second.Name)
	require.NotNil(t, second.Raw)

	third, err := s.UpsertAddress(ctx, acct.ID, models.EmailAddress{Address: "BOB@example.com", Name: strPtr("Robert")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "Robert", *third.Name)

	addrs, err := s.ListAddresses(ctx, acct.ID)
	require.NoError(t, err)
	assert.Len(t, addrs, 1)
}

func testUpsertThreadAggregates(t *testing.T, s Store) {
	ctx := context.Background()
	acct := seedAccount(t, s)

	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	require.NoError(t, s.UpsertThread(ctx, ThreadUpsert{
		ID: "t1", AccountID: acct.ID, Subject: "first", LastMessageDate: late, ParticipantIDs: []string{"a", "b"},
	}))
	require.NoError(t, s.UpsertThread(ctx, ThreadUpsert{
		ID: "t1", AccountID: acct.ID, Subject: "second", LastMessageDate: early, ParticipantIDs: []string{"b", "c"},
	}))

	th, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "second", th.Subject)
	assert.True(t, th.LastMessageDate.Equal(late))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, th.ParticipantIDs)
}

func testUpsertThreadRejectsForeignAccount(t *testing.T, s Store) {
	ctx := context.Background()
	owner := seedAccount(t, s)
	other := seedAccountEmail(t, s, "other@example.com")

	sent := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertThread(ctx, ThreadUpsert{
		ID: "t1", AccountID: owner.ID, Subject: "mine", LastMessageDate: sent, ParticipantIDs: []string{"a"},
	}))

	err := s.UpsertThread(ctx, ThreadUpsert{
		ID: "t1", AccountID: other.ID, Subject: "theirs", LastMessageDate: sent.Add(time.Hour), ParticipantIDs: []string{"z"},
	})
	assert.ErrorIs(t, err, ErrForeignThread)

	th, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, th.AccountID)
	assert.Equal(t, "mine", th.Subject)
	assert.Equal(t, []string{"a"}, th.ParticipantIDs)
}

func testUpdateThreadStatusKeepsFirstDeletion(t *testing.T, s Store) {
	ctx := context.Background()
	acct := seedAccount(t, s)
	require.NoError(t, s.UpsertThread(ctx, ThreadUpsert{ID: "t1", AccountID: acct.ID, LastMessageDate: time.Now()}))

	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateThreadStatus(ctx, "t1", models.ThreadStatus{SentStatus: true, IsDeleted: true, DeletedAt: &first}))

	later := first.Add(time.Hour)
	require.NoError(t, s.UpdateThreadStatus(ctx, "t1", models.ThreadStatus{SentStatus: true, IsDeleted: true, DeletedAt: &later}))

	th, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, th.IsDeleted)
	require.NotNil(t, th.DeletedAt)
	assert.True(t, th.DeletedAt.Equal(first))

	require.NoError(t, s.UpdateThreadStatus(ctx, "t1", models.ThreadStatus{InboxStatus: true}))
	th, err = s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, th.IsDeleted)
	assert.Nil(t, th.DeletedAt)
	assert.True(t, th.InboxStatus)

	assert.ErrorIs(t, s.UpdateThreadStatus(ctx, "missing", models.ThreadStatus{}), ErrNotFound)
}

func testUpsertEmailRoundTripAndRekey(t *testing.T, s Store) {
	ctx := context.Background()
	acct := seedAccount(t, s)

	e := seedEmail(t, s, acct, "t1", "<m1@example.com>")
	require.NoError(t, s.UpsertAttachment(ctx, &models.Attachment{
		ID: "att1", EmailID: e.ID, Name: "a.pdf", MimeType: "application/pdf", Size: 10,
	}))

	got, err := s.GetEmail(ctx, acct.ID, "<m1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, acct.ID, got.AccountID)
	assert.Equal(t, []models.SysLabel{models.LabelInbox, models.LabelUnread}, got.SysLabels)
	assert.Equal(t, e.InternetHeaders, got.InternetHeaders)
	assert.Equal(t, "v", got.NativeProperties["k"])
	assert.Equal(t, "<p>hi</p>", *got.Body)
	assert.True(t, got.SentAt.Equal(e.SentAt))

	// The provider re-keys the message; the row follows its internet message id
	e.ID = "provider-new"
	e.Subject = "edited"
	require.NoError(t, s.UpsertEmail(ctx, e))

	got, err = s.GetEmail(ctx, acct.ID, "<m1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, "provider-new", got.ID)
	assert.Equal(t, "edited", got.Subject)

	n, err := s.CountEmails(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	atts, err := s.ListAttachments(ctx, "provider-new")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "att1", atts[0].ID)
}

func testUpsertEmailDeletionTimestampIsStable(t *testing.T, s Store) {
	ctx := context.Background()
	acct := seedAccount(t, s)

	e := seedEmail(t, s, acct, "t1", "<m1@example.com>")

	first := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	e.IsDeleted = true
	e.EmailLabel = models.EmailLabelTrash
	e.DeletedAt = &first
	require.NoError(t, s.UpsertEmail(ctx, e))

	later := first.Add(24 * time.Hour)
	e.DeletedAt = &later
	require.NoError(t, s.UpsertEmail(ctx, e))

	got, err := s.GetEmail(ctx, acct.ID, "<m1@example.com>")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(first))

	states, err := s.ThreadEmailStates(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []models.ThreadEmailState{{EmailLabel: models.EmailLabelTrash, IsDeleted: true}}, states)
}

func testUpsertEmailIgnoresOlderVersion(t *testing.T, s Store) {
	ctx := context.Background()
	acct := seedAccount(t, s)

	e := seedEmail(t, s, acct, "t1", "<m1@example.com>")

	newer := *e
	newer.LastModifiedTime = e.LastModifiedTime.Add(time.Hour)
	newer.Subject = "newer"
	newer.SysLabels = []models.SysLabel{models.LabelTrash}
	newer.EmailLabel = models.EmailLabelTrash
	newer.IsDeleted = true
	require.NoError(t, s.UpsertEmail(ctx, &newer))

	// The seeded version arrives again after the newer one
	assert.ErrorIs(t, s.UpsertEmail(ctx, e), ErrStaleEmail)

	got, err := s.GetEmail(ctx, acct.ID, "<m1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, "newer", got.Subject)
	assert.True(t, got.IsDeleted)
	assert.True(t, got.LastModifiedTime.Equal(newer.LastModifiedTime))
}

func testSameMessageInTwoAccounts(t *testing.T, s Store) {
	ctx := context.Background()
	alice := seedAccountEmail(t, s, "alice@example.com")
	bob := seedAccountEmail(t, s, "bob@example.com")

	// An internal mail lands in both mailboxes with its own provider ids
	seedEmail(t, s, alice, "alice-t1", "<shared@example.com>")
	seedEmail(t, s, bob, "bob-t1", "<shared@example.com>")

	fromAlice, err := s.GetEmail(ctx, alice.ID, "<shared@example.com>")
	require.NoError(t, err)
	assert.Equal(t, "alice-t1", fromAlice.ThreadID)

	fromBob, err := s.GetEmail(ctx, bob.ID, "<shared@example.com>")
	require.NoError(t, err)
	assert.Equal(t, "bob-t1", fromBob.ThreadID)
	assert.NotEqual(t, fromAlice.FromID, fromBob.FromID)

	for _, threadID := range []string{"alice-t1", "bob-t1"} {
		n, err := s.CountEmails(ctx, threadID)
		require.NoError(t, err)
		assert.Equal(t, 1, n, threadID)
	}
}

func testGetMissingRows(t *testing.T, s Store) {
	ctx := context.Background()
	acct := seedAccount(t, s)

	_, err := s.GetEmail(ctx, acct.ID, "<nope>")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetThread(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
