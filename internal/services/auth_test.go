package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"gift-journal-backend/internal/config"
	"gift-journal-backend/internal/models"
)

func TestValidInviteCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code string
		want bool
	}{
		{"GIFT-AB12", true},
		{"GIFT-ZZZZ", true},
		{"GIFT-9999", true},
		{"XHB-LLQ", true},
		{"LLQ-XHB", true},
		{"gift-ab12", false},
		{"GIFT-AB1", false},
		{"GIFT-AB123", false},
		{"GIFTAB12", false},
		{"", false},
		{"XHB-llq", false},
	}

	for _, testCase := range cases {
		if got := ValidInviteCode(testCase.code); got != testCase.want {
			t.Fatalf("ValidInviteCode(%q) = %v, want %v", testCase.code, got, testCase.want)
		}
	}
}

func TestGenerateInviteCodeShape(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		code := generateInviteCode()
		if !ValidInviteCode(code) {
			t.Fatalf("generated code %q fails its own validation", code)
		}
		body := strings.TrimPrefix(code, inviteCodePrefix)
		for _, c := range body {
			if !strings.ContainsRune(inviteCodeChars, c) {
				t.Fatalf("code %q contains excluded character %q", code, c)
			}
		}
	}
}

func TestGenerateNumericCodeShape(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		code := generateNumericCode()
		if len(code) != 6 {
			t.Fatalf("code %q has length %d, want 6", code, len(code))
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("code %q contains non-digit %q", code, c)
			}
		}
	}
}

func TestCodeMatches(t *testing.T) {
	t.Parallel()

	hash := hashCode("483920")
	if !codeMatches(hash, "483920") {
		t.Fatal("expected matching code to verify")
	}
	if codeMatches(hash, "483921") {
		t.Fatal("expected mismatching code to fail")
	}
	if codeMatches(hash, "") {
		t.Fatal("expected empty code to fail")
	}
}

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	if got := normalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Fatalf("normalizeEmail = %q", got)
	}
}

type fakeLedger struct {
	record         *models.EmailVerification
	incrementCalls int
	deleteCalls    int
}

func (f *fakeLedger) Get(_ context.Context, email, purpose string) (*models.EmailVerification, error) {
	if f.record == nil || f.record.Email != email || f.record.Purpose != purpose {
		return nil, nil
	}
	return f.record, nil
}

func (f *fakeLedger) Upsert(_ context.Context, record *models.EmailVerification) error {
	f.record = record
	return nil
}

func (f *fakeLedger) IncrementAttempts(_ context.Context, id string) error {
	f.incrementCalls++
	if f.record != nil && f.record.ID == id {
		f.record.Attempts++
	}
	return nil
}

func (f *fakeLedger) Delete(_ context.Context, id string) error {
	f.deleteCalls++
	if f.record != nil && f.record.ID == id {
		f.record = nil
	}
	return nil
}

func ledgerFixture(ledger *fakeLedger) *AuthService {
	return &AuthService{
		verifRepo: ledger,
		verifCfg:  config.VerificationConfig{MaxAttempts: 5},
	}
}

func validRecord(code string) *models.EmailVerification {
	return &models.EmailVerification{
		ID:        "rec1",
		Email:     "alice@example.com",
		Purpose:   models.PurposeSignup,
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
}

func TestCheckLedgerAcceptsValidCode(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{record: validRecord("483920")}
	service := ledgerFixture(ledger)

	record, err := service.checkLedger(context.Background(), "alice@example.com", models.PurposeSignup, "483920")
	if err != nil {
		t.Fatalf("checkLedger: %v", err)
	}
	if record == nil || record.ID != "rec1" {
		t.Fatalf("record = %+v", record)
	}
	if ledger.incrementCalls != 0 {
		t.Fatalf("valid code must not count as an attempt, got %d increments", ledger.incrementCalls)
	}
}

func TestCheckLedgerUniformFailures(t *testing.T) {
	t.Parallel()

	expired := validRecord("483920")
	expired.ExpiresAt = time.Now().Add(-time.Minute)

	cases := []struct {
		name   string
		record *models.EmailVerification
		code   string
	}{
		{name: "absent record", record: nil, code: "483920"},
		{name: "expired record", record: expired, code: "483920"},
		{name: "wrong code", record: validRecord("483920"), code: "111111"},
	}

	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			service := ledgerFixture(&fakeLedger{record: testCase.record})
			_, err := service.checkLedger(context.Background(), "alice@example.com", models.PurposeSignup, testCase.code)
			if err != errCodeInvalid {
				t.Fatalf("err = %v, want the uniform invalid-code error", err)
			}
		})
	}
}

func TestCheckLedgerWrongCodeCountsAttempt(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{record: validRecord("483920")}
	service := ledgerFixture(ledger)

	if _, err := service.checkLedger(context.Background(), "alice@example.com", models.PurposeSignup, "000000"); err != errCodeInvalid {
		t.Fatalf("err = %v", err)
	}
	if ledger.incrementCalls != 1 {
		t.Fatalf("increments = %d, want 1", ledger.incrementCalls)
	}
}

func TestCheckLedgerCeilingBlocksCorrectCode(t *testing.T) {
	t.Parallel()

	record := validRecord("483920")
	record.Attempts = 5
	ledger := &fakeLedger{record: record}
	service := ledgerFixture(ledger)

	// At the ceiling even the right code is rejected, and no further
	// attempt is recorded.
	if _, err := service.checkLedger(context.Background(), "alice@example.com", models.PurposeSignup, "483920"); err != errCodeInvalid {
		t.Fatalf("err = %v, want the uniform invalid-code error", err)
	}
	if ledger.incrementCalls != 0 {
		t.Fatalf("exhausted record must not be incremented, got %d", ledger.incrementCalls)
	}
}

func TestCheckLedgerExhaustionViaRetries(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{record: validRecord("483920")}
	service := ledgerFixture(ledger)

	for i := 0; i < 5; i++ {
		if _, err := service.checkLedger(context.Background(), "alice@example.com", models.PurposeSignup, "000000"); err != errCodeInvalid {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	// The fifth wrong guess consumed the last attempt; the real code is now
	// locked out.
	if _, err := service.checkLedger(context.Background(), "alice@example.com", models.PurposeSignup, "483920"); err != errCodeInvalid {
		t.Fatalf("post-exhaustion err = %v", err)
	}
}

func TestSignAndParseToken(t *testing.T) {
	t.Parallel()

	service := &AuthService{jwtCfg: config.JWTConfig{
		Secret:       "0123456789abcdef0123456789abcdef",
		Issuer:       "gift-journal-backend",
		Audience:     "gift-journal-app",
		ExpiresHours: 1,
	}}

	token, err := service.SignToken("user-1", 3)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	sub, version, err := service.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if sub != "user-1" || version != 3 {
		t.Fatalf("claims = (%q, %d), want (user-1, 3)", sub, version)
	}

	other := &AuthService{jwtCfg: config.JWTConfig{
		Secret:       "another-secret-another-secret-32",
		Issuer:       "gift-journal-backend",
		Audience:     "gift-journal-app",
		ExpiresHours: 1,
	}}
	if _, _, err := other.ParseToken(token); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}

	wrongIssuer := &AuthService{jwtCfg: config.JWTConfig{
		Secret:       "0123456789abcdef0123456789abcdef",
		Issuer:       "someone-else",
		Audience:     "gift-journal-app",
		ExpiresHours: 1,
	}}
	if _, _, err := wrongIssuer.ParseToken(token); err == nil {
		t.Fatal("expected issuer mismatch to be rejected")
	}
}
