package services

import (
	"errors"
	"testing"

	"invest-settlement-system/models"

	"github.com/google/uuid"
)

func newActivationFixture(t *testing.T, verifier PaymentVerifier) (*ActivationService, *LedgerService) {
	t.Helper()

	db := newTestDB(t)
	ledger := NewLedgerService(db)
	commission := NewCommissionService(db, ledger)
	rank := NewRankService(db)
	if verifier == nil {
		verifier = &fakeVerifier{result: &VerifyResult{Verified: true, Confirmations: 20}}
	}
	return NewActivationService(db, ledger, commission, rank, verifier, 12), ledger
}

func pendingSub(t *testing.T, s *ActivationService, userID string, tier *models.Tier, amount float64, isUpgrade bool) *models.Subscription {
	t.Helper()

	sub := &models.Subscription{
		ID:         uuid.NewString(),
		UserID:     userID,
		TierID:     tier.ID,
		AmountPaid: amount,
		Status:     models.SubscriptionPendingVerification,
		IsUpgrade:  isUpgrade,
	}
	if err := s.DB.Create(sub).Error; err != nil {
		t.Fatalf("create pending subscription: %v", err)
	}
	return sub
}

func TestActivateFreshReferralTier(t *testing.T) {
	s, ledger := newActivationFixture(t, nil)

	sponsor := createUser(t, s.DB, nil, 0)
	user := createUser(t, s.DB, &sponsor.ID, 0)
	tier := createTier(t, s.DB, 1, 1000, true, false)
	sub := pendingSub(t, s, user.ID, tier, tier.InvestmentAmount, false)

	if err := s.Activate(sub.ID, false, false); err != nil {
		t.Fatalf("activate: %v", err)
	}

	var fresh models.Subscription
	if err := s.DB.First(&fresh, "id = ?", sub.ID).Error; err != nil {
		t.Fatal(err)
	}
	if fresh.Status != models.SubscriptionActive {
		t.Errorf("status = %s, want ACTIVE", fresh.Status)
	}
	if fresh.ActivatedAt == nil {
		t.Error("ActivatedAt not stamped")
	}
	if fresh.RunningCapital != 1000 {
		t.Errorf("running capital = %v, want 1000", fresh.RunningCapital)
	}

	byKind, err := ledger.BalanceByKind(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byKind[models.LedgerInvestmentCredit] != 1000 {
		t.Errorf("investment credit = %v, want 1000", byKind[models.LedgerInvestmentCredit])
	}
	// Sponsor: 8.5% direct + whole 1.5% pool (sole direct referral).
	if got := userBalance(t, ledger, sponsor.ID); !almostEqual(got, 85) {
		t.Errorf("sponsor commission = %v, want 85", got)
	}
	// The activator is the sponsor's sole direct, so the whole pool
	// lands on them.
	if !almostEqual(byKind[models.LedgerReferralBonus], 15) {
		t.Errorf("activator pool share = %v, want 15", byKind[models.LedgerReferralBonus])
	}
}

func TestActivateIdempotent(t *testing.T) {
	s, ledger := newActivationFixture(t, nil)

	user := createUser(t, s.DB, nil, 0)
	tier := createTier(t, s.DB, 1, 500, true, false)
	sub := pendingSub(t, s, user.ID, tier, 500, false)

	if err := s.Activate(sub.ID, false, false); err != nil {
		t.Fatal(err)
	}
	if err := s.Activate(sub.ID, false, false); err != nil {
		t.Fatalf("second activation must be a reported success: %v", err)
	}

	if n := countEntries(t, s.DB, user.ID, models.LedgerInvestmentCredit); n != 1 {
		t.Errorf("investment credit count = %d, want exactly 1", n)
	}
	if got := userBalance(t, ledger, user.ID); !almostEqual(got, 500) {
		t.Errorf("balance = %v, want 500 (single credit)", got)
	}
}

func TestActivateSecondPendingDepositLosesSlot(t *testing.T) {
	s, _ := newActivationFixture(t, nil)

	user := createUser(t, s.DB, nil, 0)
	tier := createTier(t, s.DB, 1, 100, false, false)

	// Both submissions pass the no-ACTIVE check because neither is
	// verified yet. Only one of them may ever occupy the slot.
	first, err := s.CreateDeposit(user.ID, tier.ID, "0x"+repeatHex(63)+"a", false)
	if err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	second, err := s.CreateDeposit(user.ID, tier.ID, "0x"+repeatHex(63)+"b", false)
	if err != nil {
		t.Fatalf("second deposit while first is unverified: %v", err)
	}

	if err := s.Activate(first.ID, false, false); err != nil {
		t.Fatalf("first activation: %v", err)
	}
	if err := s.Activate(second.ID, false, false); !errors.Is(err, ErrAlreadyHasActive) {
		t.Errorf("second activation = %v, want ErrAlreadyHasActive", err)
	}

	var active int64
	if err := s.DB.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", user.ID, models.SubscriptionActive).
		Count(&active).Error; err != nil {
		t.Fatal(err)
	}
	if active != 1 {
		t.Errorf("ACTIVE subscriptions = %d, want exactly 1", active)
	}

	// Settling the loser through verification rejects it terminally
	// instead of leaving it for the sweep to retry forever.
	if err := s.VerifyAndSettle(second); err != nil {
		t.Fatalf("settle losing deposit: %v", err)
	}
	var fresh models.Subscription
	if err := s.DB.First(&fresh, "id = ?", second.ID).Error; err != nil {
		t.Fatal(err)
	}
	if fresh.Status != models.SubscriptionRejected {
		t.Errorf("losing deposit status = %s, want REJECTED", fresh.Status)
	}
}

func TestActivateWrongStateRejected(t *testing.T) {
	s, _ := newActivationFixture(t, nil)

	user := createUser(t, s.DB, nil, 0)
	tier := createTier(t, s.DB, 1, 500, false, false)
	sub := pendingSub(t, s, user.ID, tier, 500, false)

	if err := s.DB.Model(&models.Subscription{}).Where("id = ?", sub.ID).
		Update("status", models.SubscriptionRejected).Error; err != nil {
		t.Fatal(err)
	}

	if err := s.Activate(sub.ID, false, false); !errors.Is(err, ErrWrongState) {
		t.Errorf("activating a REJECTED subscription = %v, want ErrWrongState", err)
	}

	// The admin force path may revive it.
	if err := s.Activate(sub.ID, false, true); err != nil {
		t.Errorf("forced activation from REJECTED: %v", err)
	}
}

func TestUpgradePaysDeltaOnlyAndSkipsBonuses(t *testing.T) {
	s, ledger := newActivationFixture(t, nil)

	sponsor := createUser(t, s.DB, nil, 0)
	user := createUser(t, s.DB, &sponsor.ID, 0)
	tier1 := createTier(t, s.DB, 1, 1000, true, true)
	tier2 := createTier(t, s.DB, 2, 2500, true, true)

	prior := createActiveSub(t, s.DB, user.ID, tier1, 1000)

	up := pendingSub(t, s, user.ID, tier2, 1500, true) // delta
	if err := s.Activate(up.ID, true, false); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	var old models.Subscription
	if err := s.DB.First(&old, "id = ?", prior.ID).Error; err != nil {
		t.Fatal(err)
	}
	if old.Status != models.SubscriptionCancelled {
		t.Errorf("superseded subscription status = %s, want CANCELLED", old.Status)
	}

	var current models.Subscription
	if err := s.DB.First(&current, "id = ?", up.ID).Error; err != nil {
		t.Fatal(err)
	}
	if current.Status != models.SubscriptionActive {
		t.Errorf("upgrade status = %s, want ACTIVE", current.Status)
	}
	if current.RunningCapital != 2500 {
		t.Errorf("running capital after upgrade = %v, want 2500 (prior + delta)", current.RunningCapital)
	}

	byKind, err := ledger.BalanceByKind(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byKind[models.LedgerInvestmentCredit] != 1500 {
		t.Errorf("investment credit = %v, want 1500 (delta only)", byKind[models.LedgerInvestmentCredit])
	}
	if byKind[models.LedgerReferralBonus] != 0 || byKind[models.LedgerReturnBonus] != 0 {
		t.Errorf("upgrade produced bonus entries: referral=%v return=%v",
			byKind[models.LedgerReferralBonus], byKind[models.LedgerReturnBonus])
	}
	if got := userBalance(t, ledger, sponsor.ID); got != 0 {
		t.Errorf("sponsor received %v from an upgrade, want 0", got)
	}
}

func TestFreshActivationIntoEntryTierResetsBonuses(t *testing.T) {
	s, ledger := newActivationFixture(t, nil)

	sponsor := createUser(t, s.DB, nil, 0)
	user := createUser(t, s.DB, &sponsor.ID, 0)
	entryTier := createTier(t, s.DB, 1, 100, true, false) // outside return-bonus program

	// Stale bonus accrual from a previous life.
	if err := ledger.Credit(s.DB, user.ID, models.LedgerReferralBonus, 77, "old"); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Credit(s.DB, user.ID, models.LedgerReturnBonus, 11, "old"); err != nil {
		t.Fatal(err)
	}

	sub := pendingSub(t, s, user.ID, entryTier, 100, false)
	if err := s.Activate(sub.ID, false, false); err != nil {
		t.Fatal(err)
	}

	byKind, err := ledger.BalanceByKind(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byKind[models.LedgerInvestmentCredit] != 100 {
		t.Errorf("investment credit = %v, want 100", byKind[models.LedgerInvestmentCredit])
	}
	if byKind[models.LedgerReturnBonus] != 0 {
		t.Errorf("return bonus after reset = %v, want 0", byKind[models.LedgerReturnBonus])
	}
	// The reset ran before the new payout: the fresh pool share from
	// this activation survives, the stale 77 does not.
	if !almostEqual(byKind[models.LedgerReferralBonus], 1.5) {
		t.Errorf("referral bonus = %v, want 1.5 (new pool share only)", byKind[models.LedgerReferralBonus])
	}
}

func TestReturnBonusTierPaysActivator(t *testing.T) {
	s, ledger := newActivationFixture(t, nil)

	user := createUser(t, s.DB, nil, 0)
	tier := createTier(t, s.DB, 3, 1000, false, true)
	sub := pendingSub(t, s, user.ID, tier, 1000, false)

	if err := s.Activate(sub.ID, false, false); err != nil {
		t.Fatal(err)
	}

	byKind, err := ledger.BalanceByKind(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(byKind[models.LedgerReturnBonus], 85) {
		t.Errorf("return bonus = %v, want 85 (8.5%% of 1000)", byKind[models.LedgerReturnBonus])
	}
}

func TestCreateDepositValidation(t *testing.T) {
	s, _ := newActivationFixture(t, nil)

	user := createUser(t, s.DB, nil, 0)
	other := createUser(t, s.DB, nil, 0)
	tier := createTier(t, s.DB, 1, 100, true, false)

	proof := "0x" + repeatHex(64)

	if _, err := s.CreateDeposit(user.ID, tier.ID, "not-a-hash", false); !errors.Is(err, ErrBadProofFormat) {
		t.Errorf("malformed proof = %v, want ErrBadProofFormat", err)
	}

	if _, err := s.CreateDeposit(user.ID, tier.ID, proof, false); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	// Same proof, different user, regardless of first outcome.
	if _, err := s.CreateDeposit(other.ID, tier.ID, proof, false); !errors.Is(err, ErrDuplicateProof) {
		t.Errorf("duplicate proof = %v, want ErrDuplicateProof", err)
	}
}

func TestUpgradeRequiresStrictlyHigherTier(t *testing.T) {
	s, _ := newActivationFixture(t, nil)

	user := createUser(t, s.DB, nil, 0)
	tier2 := createTier(t, s.DB, 2, 500, true, false)
	tier1 := createTier(t, s.DB, 1, 100, true, false)
	createActiveSub(t, s.DB, user.ID, tier2, 500)

	proof := "0x" + repeatHex(64)

	if _, err := s.CreateDeposit(user.ID, tier2.ID, proof, true); !errors.Is(err, ErrTierNotHigher) {
		t.Errorf("equal tier upgrade = %v, want ErrTierNotHigher", err)
	}
	if _, err := s.CreateDeposit(user.ID, tier1.ID, proof, true); !errors.Is(err, ErrTierNotHigher) {
		t.Errorf("lower tier upgrade = %v, want ErrTierNotHigher", err)
	}

	// No subscription rows may exist after rejected attempts.
	var n int64
	if err := s.DB.Model(&models.Subscription{}).Where("user_id = ? AND is_upgrade = ?", user.ID, true).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rejected upgrades left %d subscription rows", n)
	}
}

func TestVerifyAndSettleVerdicts(t *testing.T) {
	cases := []struct {
		name       string
		verifier   *fakeVerifier
		wantStatus models.SubscriptionStatus
	}{
		{
			name:       "success activates",
			verifier:   &fakeVerifier{result: &VerifyResult{Verified: true, Confirmations: 20}},
			wantStatus: models.SubscriptionActive,
		},
		{
			name:       "terminal failure rejects",
			verifier:   &fakeVerifier{err: &VerifyError{Tag: VerifyWrongRecipient, Detail: "x"}},
			wantStatus: models.SubscriptionRejected,
		},
		{
			name:       "retryable failure waits",
			verifier:   &fakeVerifier{err: &VerifyError{Tag: VerifyInsufficientConfirmations, Detail: "x"}},
			wantStatus: models.SubscriptionPendingVerification,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newActivationFixture(t, tc.verifier)

			user := createUser(t, s.DB, nil, 0)
			tier := createTier(t, s.DB, 1, 100, false, false)

			sub, err := s.CreateDeposit(user.ID, tier.ID, "0x"+repeatHex(64), false)
			if err != nil {
				t.Fatal(err)
			}

			_ = s.VerifyAndSettle(sub) // retryable verdicts surface as errors by design

			var fresh models.Subscription
			if err := s.DB.First(&fresh, "id = ?", sub.ID).Error; err != nil {
				t.Fatal(err)
			}
			if fresh.Status != tc.wantStatus {
				t.Errorf("status = %s, want %s", fresh.Status, tc.wantStatus)
			}
		})
	}
}

func TestForceActivateAdminPath(t *testing.T) {
	s, ledger := newActivationFixture(t, nil)

	user := createUser(t, s.DB, nil, 0)
	tier := createTier(t, s.DB, 2, 500, true, false)

	sub, err := s.ForceActivate(user.ID, tier.ID, false)
	if err != nil {
		t.Fatalf("force activate: %v", err)
	}
	if sub.Status != models.SubscriptionActive {
		t.Errorf("status = %s, want ACTIVE", sub.Status)
	}
	if sub.TxProof != nil {
		t.Error("admin activation must carry no payment proof")
	}
	if got := userBalance(t, ledger, user.ID); !almostEqual(got, 500) {
		t.Errorf("balance = %v, want 500", got)
	}
}

func repeatHex(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = "0123456789abcdef"[i%16]
	}
	return string(out)
}
