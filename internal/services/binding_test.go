package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gift-journal-backend/internal/config"
	"gift-journal-backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestConnectPendingState(t *testing.T) {
	t.Parallel()

	request := func(requester, target string) *models.BindingRequest {
		return &models.BindingRequest{RequesterUserID: requester, TargetUserID: target}
	}

	cases := []struct {
		name             string
		requesterPending *models.BindingRequest
		targetPending    *models.BindingRequest
		want             string
	}{
		{name: "no pending rows", want: pendingNone},
		{name: "same request already pending", requesterPending: request("a", "b"), want: pendingSamePair},
		{name: "requester pending elsewhere", requesterPending: request("a", "c"), want: pendingRequesterBusy},
		{name: "reverse direction pending", targetPending: request("a", "b"), want: pendingSamePair},
		{name: "target pending from someone else", targetPending: request("c", "b"), want: pendingTargetBusy},
		{
			name:             "requester row wins over target row",
			requesterPending: request("a", "c"),
			targetPending:    request("d", "b"),
			want:             pendingRequesterBusy,
		},
	}

	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			got := connectPendingState(testCase.requesterPending, testCase.targetPending, "a", "b")
			if got != testCase.want {
				t.Fatalf("state = %q, want %q", got, testCase.want)
			}
		})
	}
}

type fakeBindingUsers struct {
	users map[string]*models.User
	// bindErrs injects a failure for BindPartner on the given user id.
	bindErrs   map[string]error
	bindCalls  []string
	clearCalls [][]string
}

func (f *fakeBindingUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	return f.users[id], nil
}

func (f *fakeBindingUsers) GetByInviteCode(_ context.Context, code string) (*models.User, error) {
	for _, user := range f.users {
		if user.InvitationCode == code {
			return user, nil
		}
	}
	return nil, nil
}

func (f *fakeBindingUsers) GetManyByIDs(_ context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if user, ok := f.users[id]; ok {
			out[id] = user
		}
	}
	return out, nil
}

func (f *fakeBindingUsers) BindPartner(_ context.Context, userID, partnerID, partnerInviteCode string) (*models.User, error) {
	f.bindCalls = append(f.bindCalls, userID)
	if err := f.bindErrs[userID]; err != nil {
		return nil, err
	}
	user := f.users[userID]
	if user == nil || user.PartnerID != nil || user.BoundInvitationCode != nil {
		return nil, nil
	}
	bound := *user
	bound.PartnerID = &partnerID
	bound.BoundInvitationCode = &partnerInviteCode
	f.users[userID] = &bound
	return &bound, nil
}

func (f *fakeBindingUsers) ClearPartner(_ context.Context, userIDs ...string) ([]*models.User, error) {
	f.clearCalls = append(f.clearCalls, userIDs)
	var cleared []*models.User
	for _, id := range userIDs {
		if user, ok := f.users[id]; ok {
			unbound := *user
			unbound.PartnerID = nil
			unbound.BoundInvitationCode = nil
			f.users[id] = &unbound
			cleared = append(cleared, &unbound)
		}
	}
	return cleared, nil
}

type fakeBindingRequests struct {
	pending      map[string]*models.BindingRequest
	statusCalls  []string
	lastStatusBy map[string]string
	// createErrs are consumed one per Create call before any row is stored.
	createErrs []error
	// persistOnCreateErr stores the row despite the injected error, as if
	// the insert landed but its acknowledgement was lost.
	persistOnCreateErr bool
	createCalls        int
	sweepCalls         [][2]string
}

func newFakeBindingRequests(requests ...*models.BindingRequest) *fakeBindingRequests {
	f := &fakeBindingRequests{
		pending:      make(map[string]*models.BindingRequest),
		lastStatusBy: make(map[string]string),
	}
	for _, request := range requests {
		f.pending[request.ID] = request
	}
	return f
}

func (f *fakeBindingRequests) Create(_ context.Context, request *models.BindingRequest) (*models.BindingRequest, error) {
	f.createCalls++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			if f.persistOnCreateErr {
				stored := *request
				stored.Status = models.BindingStatusPending
				f.pending[stored.ID] = &stored
			}
			return nil, err
		}
	}
	stored := *request
	stored.Status = models.BindingStatusPending
	f.pending[stored.ID] = &stored
	return &stored, nil
}

func (f *fakeBindingRequests) LatestPendingByRequester(_ context.Context, userID string) (*models.BindingRequest, error) {
	for _, request := range f.pending {
		if request.Status == models.BindingStatusPending && request.RequesterUserID == userID &&
			request.ExpiresAt.After(time.Now()) {
			return request, nil
		}
	}
	return nil, nil
}

func (f *fakeBindingRequests) LatestPendingByTarget(_ context.Context, userID string) (*models.BindingRequest, error) {
	for _, request := range f.pending {
		if request.Status == models.BindingStatusPending && request.TargetUserID == userID &&
			request.ExpiresAt.After(time.Now()) {
			return request, nil
		}
	}
	return nil, nil
}

func (f *fakeBindingRequests) PendingForTarget(_ context.Context, targetUserID string, limit int) ([]*models.BindingRequest, error) {
	var out []*models.BindingRequest
	for _, request := range f.pending {
		if request.Status == models.BindingStatusPending && request.TargetUserID == targetUserID {
			out = append(out, request)
		}
	}
	return out, nil
}

func (f *fakeBindingRequests) GetPendingForTarget(_ context.Context, id, targetUserID string) (*models.BindingRequest, error) {
	request, ok := f.pending[id]
	if !ok || request.Status != models.BindingStatusPending || request.TargetUserID != targetUserID {
		return nil, nil
	}
	return request, nil
}

func (f *fakeBindingRequests) GetPendingByToken(_ context.Context, token string) (*models.BindingRequest, error) {
	for _, request := range f.pending {
		if request.Status == models.BindingStatusPending && request.ConfirmToken == token {
			return request, nil
		}
	}
	return nil, nil
}

func (f *fakeBindingRequests) SetStatus(_ context.Context, id, status string, confirmed bool) error {
	f.statusCalls = append(f.statusCalls, id+":"+status)
	f.lastStatusBy[id] = status
	if request, ok := f.pending[id]; ok {
		request.Status = status
	}
	return nil
}

func (f *fakeBindingRequests) ExpireStaleForPair(_ context.Context, requesterID, targetID string) error {
	f.sweepCalls = append(f.sweepCalls, [2]string{requesterID, targetID})
	for _, request := range f.pending {
		if request.Status == models.BindingStatusPending && !request.ExpiresAt.After(time.Now()) &&
			(request.RequesterUserID == requesterID || request.TargetUserID == targetID) {
			request.Status = models.BindingStatusExpired
		}
	}
	return nil
}

func (f *fakeBindingRequests) ExpireStaleForTarget(context.Context, string) error { return nil }

type fakeSettingsSync struct{}

func (fakeSettingsSync) Ensure(_ context.Context, userID string, isConnected bool) (*models.UserSettings, error) {
	return &models.UserSettings{UserID: userID, IsConnected: isConnected}, nil
}

func (fakeSettingsSync) SyncConnection(context.Context, string, bool) error { return nil }

type fakeNotifier struct{}

func (fakeNotifier) NotifyDetached(string, string, string, string) {}

func bindingFixture(t *testing.T, users *fakeBindingUsers, requests *fakeBindingRequests) *BindingService {
	t.Helper()
	return &BindingService{
		userRepo:      users,
		bindingRepo:   requests,
		settingsRepo:  fakeSettingsSync{},
		notifications: fakeNotifier{},
		mailer:        NewMailer(config.SMTPConfig{}),
		bindingCfg:    config.BindingConfig{RequestTTLHours: 24},
	}
}

func unboundUser(id, code string) *models.User {
	return &models.User{ID: id, Email: id + "@example.com", InvitationCode: code, EmailVerified: true, Name: id}
}

func pendingRequest(id, requester, target string) *models.BindingRequest {
	return &models.BindingRequest{
		ID:              id,
		RequesterUserID: requester,
		TargetUserID:    target,
		Status:          models.BindingStatusPending,
		ExpiresAt:       time.Now().Add(time.Hour),
		CreatedAt:       time.Now(),
	}
}

func TestConnectSamePairReplay(t *testing.T) {
	t.Parallel()

	users := &fakeBindingUsers{users: map[string]*models.User{
		"alice": unboundUser("alice", "GIFT-AB12"),
		"bob":   unboundUser("bob", "GIFT-CD34"),
	}}
	requests := newFakeBindingRequests(pendingRequest("req1", "alice", "bob"))
	service := bindingFixture(t, users, requests)

	result, err := service.Connect(context.Background(), "alice", "GIFT-CD34")
	require.NoError(t, err)
	require.True(t, result.Pending)
	require.True(t, result.SamePair)
	require.Equal(t, "req1", result.RequestID)
	require.NotNil(t, result.ExpiresAt)
	require.Zero(t, requests.createCalls, "a replay must not insert a new row")
}

func TestConnectSweepsExpiredSlotAndRetries(t *testing.T) {
	t.Parallel()

	users := &fakeBindingUsers{users: map[string]*models.User{
		"alice": unboundUser("alice", "GIFT-AB12"),
		"bob":   unboundUser("bob", "GIFT-CD34"),
	}}
	stale := pendingRequest("req0", "alice", "bob")
	stale.ExpiresAt = time.Now().Add(-time.Hour)
	requests := newFakeBindingRequests(stale)
	// The stale row still holds the pending slot, so the first insert trips
	// the partial unique index.
	requests.createErrs = []error{&pgconn.PgError{Code: "23505", ConstraintName: "binding_requests_requester_pending_idx"}}
	service := bindingFixture(t, users, requests)

	result, err := service.Connect(context.Background(), "alice", "GIFT-CD34")
	require.NoError(t, err)
	require.True(t, result.Pending)
	require.False(t, result.SamePair)
	require.NotEmpty(t, result.RequestID)
	require.Equal(t, 2, requests.createCalls)
	require.Equal(t, [][2]string{{"alice", "bob"}}, requests.sweepCalls)
	require.Equal(t, models.BindingStatusExpired, requests.pending["req0"].Status)
	require.Equal(t, models.BindingStatusPending, requests.pending[result.RequestID].Status)
}

func TestConnectRecoversLostAck(t *testing.T) {
	t.Parallel()

	users := &fakeBindingUsers{users: map[string]*models.User{
		"alice": unboundUser("alice", "GIFT-AB12"),
		"bob":   unboundUser("bob", "GIFT-CD34"),
	}}
	requests := newFakeBindingRequests()
	// The row lands but the acknowledgement is lost in transit.
	requests.createErrs = []error{errors.New("conn closed")}
	requests.persistOnCreateErr = true
	service := bindingFixture(t, users, requests)

	result, err := service.Connect(context.Background(), "alice", "GIFT-CD34")
	require.NoError(t, err)
	require.True(t, result.Pending)
	require.Equal(t, 1, requests.createCalls)
	require.Contains(t, requests.pending, result.RequestID)
	require.Equal(t, models.BindingStatusPending, requests.pending[result.RequestID].Status)
	require.Empty(t, requests.sweepCalls)
}

func TestRespondAcceptBindsBothSides(t *testing.T) {
	t.Parallel()

	users := &fakeBindingUsers{users: map[string]*models.User{
		"alice": unboundUser("alice", "GIFT-AB12"),
		"bob":   unboundUser("bob", "GIFT-CD34"),
	}}
	requests := newFakeBindingRequests(pendingRequest("req1", "alice", "bob"))
	service := bindingFixture(t, users, requests)

	result, err := service.Respond(context.Background(), "req1", "bob", "accept")
	require.NoError(t, err)
	require.Equal(t, models.BindingStatusAccepted, result.Status)

	require.NotNil(t, users.users["alice"].PartnerID)
	require.Equal(t, "bob", *users.users["alice"].PartnerID)
	require.NotNil(t, users.users["bob"].PartnerID)
	require.Equal(t, "alice", *users.users["bob"].PartnerID)
	require.Equal(t, models.BindingStatusAccepted, requests.lastStatusBy["req1"])
	require.Empty(t, users.clearCalls)
}

func TestRespondAcceptRollsBackOnSecondBindFailure(t *testing.T) {
	t.Parallel()

	transportErr := errors.New("conn closed")
	users := &fakeBindingUsers{
		users: map[string]*models.User{
			"alice": unboundUser("alice", "GIFT-AB12"),
			"bob":   unboundUser("bob", "GIFT-CD34"),
		},
		bindErrs: map[string]error{"bob": transportErr},
	}
	requests := newFakeBindingRequests(pendingRequest("req1", "alice", "bob"))
	service := bindingFixture(t, users, requests)

	_, err := service.Respond(context.Background(), "req1", "bob", "accept")
	require.ErrorIs(t, err, transportErr)

	// The requester's half-applied bind must be compensated and the request
	// rejected so a retry starts clean.
	require.Equal(t, [][]string{{"alice"}}, users.clearCalls)
	require.Nil(t, users.users["alice"].PartnerID)
	require.Nil(t, users.users["alice"].BoundInvitationCode)
	require.Equal(t, models.BindingStatusRejected, requests.lastStatusBy["req1"])
}

func TestRespondAcceptLostRaceOnTarget(t *testing.T) {
	t.Parallel()

	partner := "carol"
	users := &fakeBindingUsers{users: map[string]*models.User{
		"alice": unboundUser("alice", "GIFT-AB12"),
		"bob":   unboundUser("bob", "GIFT-CD34"),
	}}
	requests := newFakeBindingRequests(pendingRequest("req1", "alice", "bob"))
	service := bindingFixture(t, users, requests)

	// Bob connects elsewhere between the re-read and the guarded write.
	users.bindErrs = map[string]error{}
	users.users["bob"].PartnerID = &partner

	_, err := service.Respond(context.Background(), "req1", "bob", "accept")
	require.Error(t, err)
	require.Equal(t, models.BindingStatusRejected, requests.lastStatusBy["req1"])
}

func TestRespondRejectNeverTouchesUsers(t *testing.T) {
	t.Parallel()

	users := &fakeBindingUsers{users: map[string]*models.User{
		"alice": unboundUser("alice", "GIFT-AB12"),
		"bob":   unboundUser("bob", "GIFT-CD34"),
	}}
	requests := newFakeBindingRequests(pendingRequest("req1", "alice", "bob"))
	service := bindingFixture(t, users, requests)

	result, err := service.Respond(context.Background(), "req1", "bob", "reject")
	require.NoError(t, err)
	require.Equal(t, models.BindingStatusRejected, result.Status)
	require.Empty(t, users.bindCalls)
	require.Nil(t, users.users["alice"].PartnerID)
}

func TestRespondExpiredRequestLazilyMarked(t *testing.T) {
	t.Parallel()

	expired := pendingRequest("req1", "alice", "bob")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	users := &fakeBindingUsers{users: map[string]*models.User{
		"alice": unboundUser("alice", "GIFT-AB12"),
		"bob":   unboundUser("bob", "GIFT-CD34"),
	}}
	requests := newFakeBindingRequests(expired)
	service := bindingFixture(t, users, requests)

	_, err := service.Respond(context.Background(), "req1", "bob", "accept")
	require.Error(t, err)
	require.Equal(t, models.BindingStatusExpired, requests.lastStatusBy["req1"])
	require.Empty(t, users.bindCalls)
}

func TestRespondInvalidAction(t *testing.T) {
	t.Parallel()

	service := bindingFixture(t, &fakeBindingUsers{users: map[string]*models.User{}}, newFakeBindingRequests())
	_, err := service.Respond(context.Background(), "req1", "bob", "maybe")
	require.Error(t, err)
}
