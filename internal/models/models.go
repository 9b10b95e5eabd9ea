package models

import "time"

// Gender values accepted for a user profile.
const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// User represents an account row. PartnerID and BoundInvitationCode are
// always set or cleared together; binding code treats any other combination
// as a conflict to be repaired.
type User struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	PasswordHash        string    `json:"-"`
	InvitationCode      string    `json:"invitationCode"`
	BoundInvitationCode *string   `json:"boundInvitationCode,omitempty"`
	PartnerID           *string   `json:"partnerId,omitempty"`
	EmailVerified       bool      `json:"emailVerified"`
	TokenVersion        int       `json:"-"`
	Name                string    `json:"name"`
	Avatar              string    `json:"avatar"`
	Gender              string    `json:"gender"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Binding request lifecycle states.
const (
	BindingStatusPending  = "pending"
	BindingStatusAccepted = "accepted"
	BindingStatusRejected = "rejected"
	BindingStatusExpired  = "expired"
)

// BindingRequest is one pending or terminal attempt to pair two users.
type BindingRequest struct {
	ID              string     `json:"id"`
	RequesterUserID string     `json:"requesterUserId"`
	TargetUserID    string     `json:"targetUserId"`
	InviteCode      string     `json:"inviteCode"`
	ConfirmToken    string     `json:"-"`
	Status          string     `json:"status"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	ConfirmedAt     *time.Time `json:"confirmedAt,omitempty"`
}

// Verification purposes.
const (
	PurposeSignup        = "signup"
	PurposeResetPassword = "reset_password"
)

// EmailVerification is the ephemeral ledger row for one (email, purpose).
// Only hashes are stored, never the plaintext code.
type EmailVerification struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Purpose      string    `json:"purpose"`
	CodeHash     string    `json:"-"`
	PasswordHash string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Attempts     int       `json:"attempts"`
	LastSentAt   time.Time `json:"lastSentAt"`
}

// Memory is a dated photo post owned by a single user and visible to the
// owner plus their live partner.
type Memory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	Image     string    `json:"image"`
	Rotation  string    `json:"rotation"`
	CreatedAt time.Time `json:"createdAt"`
	Author    *Author   `json:"author,omitempty"`
}

// Event is an anniversary entry with the same ownership rule as Memory.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle"`
	Date      string    `json:"date"`
	Type      string    `json:"type"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"createdAt"`
	Author    *Author   `json:"author,omitempty"`
}

// Author is the public slice of a user attached to shared content.
type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
	Gender string `json:"gender"`
}

// Notification types.
const (
	NotificationSystem      = "system"
	NotificationInteraction = "interaction"
)

// Notification is a user-scoped message.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserSettings carries the couple-level preferences plus a denormalized
// is_connected flag kept in sync by the binding code on a best-effort basis.
type UserSettings struct {
	UserID       string    `json:"userId"`
	TogetherDate string    `json:"togetherDate"`
	IsConnected  bool      `json:"isConnected"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FocusStats is one row per user, mutated only by the complete-session
// transition and the stale-day reset on read.
type FocusStats struct {
	UserID            string    `json:"userId"`
	TodayFocusMinutes int       `json:"todayFocusTime"`
	TodaySessions     int       `json:"todaySessions"`
	Streak            int       `json:"streak"`
	TotalSessions     int       `json:"totalSessions"`
	LastFocusDate     *string   `json:"lastFocusDate"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Period flow levels.
const (
	FlowLight  = "light"
	FlowMedium = "medium"
	FlowHeavy  = "heavy"
)

// PeriodEntry is one row per (user, calendar date). A row with no period
// flag, mood, or flow is deleted rather than stored empty.
type PeriodEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	EntryDate string    `json:"date"`
	IsPeriod  bool      `json:"isPeriod"`
	Mood      *string   `json:"mood"`
	Flow      *string   `json:"flow"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Author    *Author   `json:"author,omitempty"`
}

// PublicAuthor converts a full user row into its shareable author view.
func PublicAuthor(u *User) *Author {
	if u == nil {
		return nil
	}
	gender := u.Gender
	if gender == "" {
		gender = GenderMale
	}
	return &Author{
		ID:     u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Avatar: u.Avatar,
		Gender: gender,
	}
}
