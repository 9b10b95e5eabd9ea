package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gift-journal-backend/internal/config"
	"gift-journal-backend/internal/httperr"
	"gift-journal-backend/internal/models"
	"gift-journal-backend/internal/repository"
	"gift-journal-backend/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Pending-ledger states for a (requester, target) pair. Derived from the two
// live pending rows, never stored.
const (
	pendingNone          = "none"
	pendingSamePair      = "same_pair"
	pendingRequesterBusy = "requester_busy"
	pendingTargetBusy    = "target_busy"
)

// connectPendingState classifies the pair's current pending state from the
// requester's newest outgoing pending row and the target's newest incoming
// pending row. Pure; exercised directly by tests.
func connectPendingState(requesterPending, targetPending *models.BindingRequest, requesterID, targetID string) string {
	if requesterPending != nil {
		if requesterPending.TargetUserID == targetID {
			return pendingSamePair
		}
		return pendingRequesterBusy
	}
	if targetPending != nil {
		if targetPending.RequesterUserID == requesterID {
			return pendingSamePair
		}
		return pendingTargetBusy
	}
	return pendingNone
}

// ConnectResult is the response for a connect attempt. SamePair marks the
// idempotent replay of an already-sent request.
type ConnectResult struct {
	Pending   bool       `json:"pending"`
	SamePair  bool       `json:"samePair,omitempty"`
	Message   string     `json:"message"`
	RequestID string     `json:"requestId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// BindingResult is the response for accept/reject/disconnect.
type BindingResult struct {
	Status  string       `json:"status"`
	User    *models.User `json:"user,omitempty"`
	Partner *models.User `json:"partner,omitempty"`
}

// PendingBinding is one incoming request joined with the requester's public
// profile.
type PendingBinding struct {
	ID        string         `json:"id"`
	Requester *models.Author `json:"requester"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// bindingUserStore is the slice of the user repository the protocol needs.
// Narrowed to an interface so saga tests can inject transport failures.
type bindingUserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByInviteCode(ctx context.Context, code string) (*models.User, error)
	GetManyByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
	BindPartner(ctx context.Context, userID, partnerID, partnerInviteCode string) (*models.User, error)
	ClearPartner(ctx context.Context, userIDs ...string) ([]*models.User, error)
}

type bindingRequestStore interface {
	Create(ctx context.Context, request *models.BindingRequest) (*models.BindingRequest, error)
	LatestPendingByRequester(ctx context.Context, userID string) (*models.BindingRequest, error)
	LatestPendingByTarget(ctx context.Context, userID string) (*models.BindingRequest, error)
	PendingForTarget(ctx context.Context, targetUserID string, limit int) ([]*models.BindingRequest, error)
	GetPendingForTarget(ctx context.Context, id, targetUserID string) (*models.BindingRequest, error)
	GetPendingByToken(ctx context.Context, token string) (*models.BindingRequest, error)
	SetStatus(ctx context.Context, id, status string, confirmed bool) error
	ExpireStaleForPair(ctx context.Context, requesterUserID, targetUserID string) error
	ExpireStaleForTarget(ctx context.Context, targetUserID string) error
}

type connectionSettingsStore interface {
	Ensure(ctx context.Context, userID string, isConnected bool) (*models.UserSettings, error)
	SyncConnection(ctx context.Context, userID string, connected bool) error
}

type notifier interface {
	NotifyDetached(userID, title, message, notificationType string)
}

// BindingService implements the mutual invite-code binding protocol.
type BindingService struct {
	userRepo      bindingUserStore
	bindingRepo   bindingRequestStore
	settingsRepo  connectionSettingsStore
	notifications notifier
	mailer        *Mailer
	serverCfg     config.ServerConfig
	bindingCfg    config.BindingConfig
}

// NewBindingService creates a new binding service
func NewBindingService(
	userRepo *repository.UserRepository,
	bindingRepo *repository.BindingRepository,
	settingsRepo *repository.SettingsRepository,
	notifications notifier,
	mailer *Mailer,
	serverCfg config.ServerConfig,
	bindingCfg config.BindingConfig,
) *BindingService {
	return &BindingService{
		userRepo:      userRepo,
		bindingRepo:   bindingRepo,
		settingsRepo:  settingsRepo,
		notifications: notifications,
		mailer:        mailer,
		serverCfg:     serverCfg,
		bindingCfg:    bindingCfg,
	}
}

// pairState reloads both pending rows and classifies the pair.
func (s *BindingService) pairState(ctx context.Context, requesterID, targetID string) (string, *models.BindingRequest, error) {
	requesterPending, err := s.bindingRepo.LatestPendingByRequester(ctx, requesterID)
	if err != nil {
		return "", nil, err
	}
	targetPending, err := s.bindingRepo.LatestPendingByTarget(ctx, targetID)
	if err != nil {
		return "", nil, err
	}
	state := connectPendingState(requesterPending, targetPending, requesterID, targetID)
	if state == pendingSamePair && requesterPending != nil {
		return state, requesterPending, nil
	}
	return state, targetPending, nil
}

func samePairResult(existing *models.BindingRequest) *ConnectResult {
	result := &ConnectResult{
		Pending:  true,
		SamePair: true,
		Message:  "binding request already sent",
	}
	if existing != nil {
		result.RequestID = existing.ID
		result.ExpiresAt = &existing.ExpiresAt
	}
	return result
}

// Connect starts a binding attempt against the given invite code. Repeats of
// an in-flight request replay idempotently; racing inserts recover through
// the pending-unique constraints.
func (s *BindingService) Connect(ctx context.Context, requesterID, inviteCode string) (*ConnectResult, error) {
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	if !ValidInviteCode(inviteCode) {
		return nil, httperr.New(http.StatusBadRequest, "invalid invite code format")
	}

	requester, err := s.userRepo.GetByID(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if requester == nil {
		return nil, httperr.New(http.StatusUnauthorized, "unauthorized")
	}
	if !requester.EmailVerified {
		return nil, httperr.New(http.StatusForbidden, "email is not verified")
	}
	if requester.PartnerID != nil {
		return nil, httperr.New(http.StatusConflict, "you are already connected to a partner")
	}
	if inviteCode == requester.InvitationCode {
		return nil, httperr.New(http.StatusBadRequest, "you cannot use your own invite code")
	}

	target, err := s.userRepo.GetByInviteCode(ctx, inviteCode)
	if err != nil {
		return nil, err
	}
	if target == nil || !target.EmailVerified {
		return nil, httperr.New(http.StatusNotFound, "no account found for this invite code")
	}
	if target.PartnerID != nil {
		return nil, httperr.New(http.StatusConflict, "this account is already connected to a partner")
	}

	state, existing, err := s.pairState(ctx, requesterID, target.ID)
	if err != nil {
		return nil, err
	}
	switch state {
	case pendingSamePair:
		return samePairResult(existing), nil
	case pendingRequesterBusy:
		return nil, httperr.New(http.StatusConflict, "you already have a pending request")
	case pendingTargetBusy:
		return nil, httperr.New(http.StatusConflict, "this account already has a pending request")
	}

	created, err := s.insertRequest(ctx, requester, target, inviteCode)
	if err != nil {
		return nil, err
	}

	s.announceRequest(requester, target, created)

	return &ConnectResult{
		Pending:   true,
		Message:   "binding request sent",
		RequestID: created.ID,
		ExpiresAt: &created.ExpiresAt,
	}, nil
}

// insertRequest performs the guarded insert with one sweep-and-retry on a
// pending-slot collision and a state recompute after a transport failure, so
// a write whose acknowledgement was lost is not reported as an error.
func (s *BindingService) insertRequest(ctx context.Context, requester, target *models.User, inviteCode string) (*models.BindingRequest, error) {
	request := &models.BindingRequest{
		ID:              uuid.New().String(),
		RequesterUserID: requester.ID,
		TargetUserID:    target.ID,
		InviteCode:      inviteCode,
		ConfirmToken:    uuid.New().String(),
		ExpiresAt:       time.Now().Add(s.bindingCfg.RequestTTL()),
	}

	created, err := s.bindingRepo.Create(ctx, request)
	if err == nil {
		return created, nil
	}

	if store.IsUniqueViolation(err, "") {
		// A stale expired row may still hold a pending slot. Sweep, recheck,
		// and try exactly once more.
		if sweepErr := s.bindingRepo.ExpireStaleForPair(ctx, requester.ID, target.ID); sweepErr != nil {
			return nil, sweepErr
		}
		state, existing, stateErr := s.pairState(ctx, requester.ID, target.ID)
		if stateErr != nil {
			return nil, stateErr
		}
		if state == pendingSamePair && existing != nil {
			return existing, nil
		}
		if state != pendingNone {
			return nil, httperr.New(http.StatusConflict, "a conflicting request already exists")
		}
		request.ID = uuid.New().String()
		created, err = s.bindingRepo.Create(ctx, request)
		if err == nil {
			return created, nil
		}
		if store.IsUniqueViolation(err, "") {
			return nil, httperr.New(http.StatusConflict, "a conflicting request already exists")
		}
		return nil, err
	}

	if store.IsTransient(err) {
		// The insert may have landed even though its acknowledgement was
		// lost. Recompute before surfacing the failure.
		state, existing, stateErr := s.pairState(ctx, requester.ID, target.ID)
		if stateErr == nil && state == pendingSamePair && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return nil, err
}

// announceRequest fires the side effects of a freshly created request. None
// of them can affect the response.
func (s *BindingService) announceRequest(requester, target *models.User, request *models.BindingRequest) {
	s.notifications.NotifyDetached(target.ID, "Partner request",
		fmt.Sprintf("%s wants to connect with you.", requester.Name), models.NotificationInteraction)
	s.notifications.NotifyDetached(requester.ID, "Request sent",
		fmt.Sprintf("Your request to %s is waiting for their confirmation.", target.Name), models.NotificationSystem)

	settingsRepo, requesterID := s.settingsRepo, requester.ID
	fireAndForget("binding-settings-ensure", func(ctx context.Context) error {
		_, err := settingsRepo.Ensure(ctx, requesterID, false)
		return err
	})

	if s.mailer.Enabled() {
		mailer := s.mailer
		confirmURL := fmt.Sprintf("%s/api/bindings/confirm?token=%s",
			strings.TrimSuffix(s.serverCfg.PublicURL, "/"), request.ConfirmToken)
		targetEmail, requesterName := target.Email, requester.Name
		fireAndForget("binding-invite-email", func(ctx context.Context) error {
			return mailer.SendBindingInvite(ctx, targetEmail, requesterName, confirmURL)
		})
	}
}

// Respond resolves a pending request aimed at the responder.
func (s *BindingService) Respond(ctx context.Context, requestID, responderID, action string) (*BindingResult, error) {
	if action != "accept" && action != "reject" {
		return nil, httperr.New(http.StatusBadRequest, "action must be accept or reject")
	}

	request, err := s.bindingRepo.GetPendingForTarget(ctx, requestID, responderID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, httperr.New(http.StatusNotFound, "binding request not found")
	}
	if time.Now().After(request.ExpiresAt) {
		if err := s.bindingRepo.SetStatus(ctx, request.ID, models.BindingStatusExpired, false); err != nil {
			log.Warn().Err(err).Str("request_id", request.ID).Msg("failed to mark binding request expired")
		}
		return nil, httperr.New(http.StatusBadRequest, "binding request has expired")
	}

	if action == "reject" {
		if err := s.bindingRepo.SetStatus(ctx, request.ID, models.BindingStatusRejected, true); err != nil {
			return nil, err
		}
		s.notifications.NotifyDetached(request.RequesterUserID, "Request declined",
			"Your partner request was declined.", models.NotificationInteraction)
		return &BindingResult{Status: models.BindingStatusRejected}, nil
	}

	return s.accept(ctx, request)
}

// accept runs the acceptance saga: guarded forward writes in order, explicit
// one-shot compensations on failure. The store offers no multi-row
// transaction, so a lost race surfaces as 409 after rollback rather than
// blocking for atomicity.
func (s *BindingService) accept(ctx context.Context, request *models.BindingRequest) (*BindingResult, error) {
	requester, err := s.userRepo.GetByID(ctx, request.RequesterUserID)
	if err != nil {
		return nil, err
	}
	target, err := s.userRepo.GetByID(ctx, request.TargetUserID)
	if err != nil {
		return nil, err
	}
	if requester == nil || target == nil {
		if err := s.bindingRepo.SetStatus(ctx, request.ID, models.BindingStatusExpired, false); err != nil {
			log.Warn().Err(err).Str("request_id", request.ID).Msg("failed to expire orphaned binding request")
		}
		return nil, httperr.New(http.StatusNotFound, "binding request is no longer valid")
	}

	if requester.PartnerID != nil || requester.BoundInvitationCode != nil ||
		target.PartnerID != nil || target.BoundInvitationCode != nil {
		if err := s.bindingRepo.SetStatus(ctx, request.ID, models.BindingStatusRejected, true); err != nil {
			log.Warn().Err(err).Str("request_id", request.ID).Msg("failed to reject conflicted binding request")
		}
		return nil, httperr.New(http.StatusConflict, "one of the accounts is already connected")
	}

	boundRequester, err := s.userRepo.BindPartner(ctx, requester.ID, target.ID, target.InvitationCode)
	if err != nil {
		return nil, err
	}
	if boundRequester == nil {
		if err := s.bindingRepo.SetStatus(ctx, request.ID, models.BindingStatusRejected, true); err != nil {
			log.Warn().Err(err).Str("request_id", request.ID).Msg("failed to reject binding request after lost race")
		}
		return nil, httperr.New(http.StatusConflict, "the requester connected elsewhere")
	}

	boundTarget, err := s.userRepo.BindPartner(ctx, target.ID, requester.ID, requester.InvitationCode)
	if err != nil || boundTarget == nil {
		s.compensate(request.ID, requester.ID)
		if err != nil {
			return nil, err
		}
		return nil, httperr.New(http.StatusConflict, "the account connected elsewhere")
	}

	if err := s.bindingRepo.SetStatus(ctx, request.ID, models.BindingStatusAccepted, true); err != nil {
		s.compensate(request.ID, requester.ID, target.ID)
		return nil, err
	}

	s.announceAccepted(boundRequester, boundTarget)
	return &BindingResult{
		Status:  models.BindingStatusAccepted,
		User:    boundTarget,
		Partner: boundRequester,
	}, nil
}

// compensate clears partner fields and rejects the request in a single
// best-effort attempt. Failure is logged and never retried; a later
// disconnect or reconnect re-validates the rows.
func (s *BindingService) compensate(requestID string, userIDs ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), detachedTimeout)
	defer cancel()
	if _, err := s.userRepo.ClearPartner(ctx, userIDs...); err != nil {
		log.Error().Err(err).Strs("user_ids", userIDs).Msg("binding compensation failed")
	}
	if err := s.bindingRepo.SetStatus(ctx, requestID, models.BindingStatusRejected, true); err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("failed to reject binding request during compensation")
	}
}

// announceAccepted syncs the denormalized connection flags and notifies both
// parties. All best-effort.
func (s *BindingService) announceAccepted(requester, target *models.User) {
	settingsRepo := s.settingsRepo
	for _, id := range []string{requester.ID, target.ID} {
		userID := id
		fireAndForget("binding-settings-sync", func(ctx context.Context) error {
			return settingsRepo.SyncConnection(ctx, userID, true)
		})
	}
	s.notifications.NotifyDetached(requester.ID, "Connected",
		fmt.Sprintf("You are now connected with %s.", target.Name), models.NotificationInteraction)
	s.notifications.NotifyDetached(target.ID, "Connected",
		fmt.Sprintf("You are now connected with %s.", requester.Name), models.NotificationInteraction)
}

// Disconnect clears both holders' partner fields in one multi-row write.
func (s *BindingService) Disconnect(ctx context.Context, userID string) (*BindingResult, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, httperr.New(http.StatusUnauthorized, "unauthorized")
	}
	if user.PartnerID == nil {
		return nil, httperr.New(http.StatusBadRequest, "you are not connected to a partner")
	}
	partnerID := *user.PartnerID

	updated, err := s.userRepo.ClearPartner(ctx, userID, partnerID)
	if err != nil {
		return nil, err
	}

	settingsRepo := s.settingsRepo
	for _, id := range []string{userID, partnerID} {
		cleared := id
		fireAndForget("disconnect-settings-sync", func(ctx context.Context) error {
			return settingsRepo.SyncConnection(ctx, cleared, false)
		})
	}
	s.notifications.NotifyDetached(partnerID, "Disconnected",
		fmt.Sprintf("%s has disconnected from you.", user.Name), models.NotificationInteraction)

	result := &BindingResult{Status: "disconnected"}
	for _, row := range updated {
		if row.ID == userID {
			result.User = row
		}
	}
	return result, nil
}

// PendingForTarget lists incoming live requests joined with requester
// profiles, deduplicated per requester. Stale rows are swept from a detached
// task rather than a background job.
func (s *BindingService) PendingForTarget(ctx context.Context, targetID string) ([]*PendingBinding, error) {
	bindingRepo := s.bindingRepo
	fireAndForget("binding-expiry-sweep", func(ctx context.Context) error {
		return bindingRepo.ExpireStaleForTarget(ctx, targetID)
	})

	requests, err := s.bindingRepo.PendingForTarget(ctx, targetID, 30)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(requests))
	deduped := requests[:0]
	requesterIDs := make([]string, 0, len(requests))
	for _, request := range requests {
		if seen[request.RequesterUserID] {
			continue
		}
		seen[request.RequesterUserID] = true
		deduped = append(deduped, request)
		requesterIDs = append(requesterIDs, request.RequesterUserID)
	}

	requesters, err := s.userRepo.GetManyByIDs(ctx, requesterIDs)
	if err != nil {
		return nil, err
	}

	items := make([]*PendingBinding, 0, len(deduped))
	for _, request := range deduped {
		items = append(items, &PendingBinding{
			ID:        request.ID,
			Requester: models.PublicAuthor(requesters[request.RequesterUserID]),
			CreatedAt: request.CreatedAt,
			ExpiresAt: request.ExpiresAt,
		})
	}
	return items, nil
}

// ConfirmByToken resolves a request through its email confirmation link and
// runs the same acceptance saga.
func (s *BindingService) ConfirmByToken(ctx context.Context, token string) (*BindingResult, error) {
	if token == "" {
		return nil, httperr.New(http.StatusBadRequest, "confirmation token is required")
	}
	request, err := s.bindingRepo.GetPendingByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, httperr.New(http.StatusNotFound, "binding request not found or already resolved")
	}
	if time.Now().After(request.ExpiresAt) {
		if err := s.bindingRepo.SetStatus(ctx, request.ID, models.BindingStatusExpired, false); err != nil {
			log.Warn().Err(err).Str("request_id", request.ID).Msg("failed to mark binding request expired")
		}
		return nil, httperr.New(http.StatusBadRequest, "binding request has expired")
	}
	return s.accept(ctx, request)
}
