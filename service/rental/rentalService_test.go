package rentalsvc_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MightySuz/community-library-project-sub000/model"
	notifysvc "github.com/MightySuz/community-library-project-sub000/service/notify"
	rentalsvc "github.com/MightySuz/community-library-project-sub000/service/rental"
	"github.com/MightySuz/community-library-project-sub000/util/errs"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

// passthrough runs the transactional closure without a database.
func passthrough(ctx context.Context, fn func(*sql.Tx) error) error { return fn(nil) }

type repoMock struct {
	insertFn         func(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error
	getFn            func(ctx context.Context, id uuid.UUID) (*model.RentalRecord, error)
	getForUpdateFn   func(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.RentalRecord, error)
	updateFn         func(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error
	hasLiveFn        func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) (bool, error)
	listByBorrowerFn func(ctx context.Context, borrowerID uuid.UUID) ([]model.RentalRecord, error)
}

func (m *repoMock) Insert(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
	return m.insertFn(ctx, tx, rec)
}
func (m *repoMock) Get(ctx context.Context, id uuid.UUID) (*model.RentalRecord, error) {
	return m.getFn(ctx, id)
}
func (m *repoMock) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.RentalRecord, error) {
	return m.getForUpdateFn(ctx, tx, id)
}
func (m *repoMock) Update(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
	return m.updateFn(ctx, tx, rec)
}
func (m *repoMock) HasLive(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) (bool, error) {
	return m.hasLiveFn(ctx, tx, copyID)
}
func (m *repoMock) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]model.RentalRecord, error) {
	return m.listByBorrowerFn(ctx, borrowerID)
}

type copiesMock struct {
	getFn          func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error)
	placeHoldFn    func(ctx context.Context, tx *sql.Tx, copyID, userID uuid.UUID) error
	releaseHoldFn  func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error
	markActiveFn   func(ctx context.Context, tx *sql.Tx, copyID, borrowerID uuid.UUID) error
	markReturnedFn func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error
}

func (m *copiesMock) Register(ctx context.Context, publisherID uuid.UUID, title string, dailyRate, bookValue decimal.Decimal, maxRentalDays int) (*model.BookCopy, error) {
	panic("not used")
}
func (m *copiesMock) Get(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) {
	return m.getFn(ctx, copyID)
}
func (m *copiesMock) PlaceHold(ctx context.Context, tx *sql.Tx, copyID, userID uuid.UUID) error {
	return m.placeHoldFn(ctx, tx, copyID, userID)
}
func (m *copiesMock) ReleaseHold(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error {
	return m.releaseHoldFn(ctx, tx, copyID)
}
func (m *copiesMock) MarkActive(ctx context.Context, tx *sql.Tx, copyID, borrowerID uuid.UUID) error {
	return m.markActiveFn(ctx, tx, copyID, borrowerID)
}
func (m *copiesMock) MarkReturned(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error {
	return m.markReturnedFn(ctx, tx, copyID)
}
func (m *copiesMock) SetMaintenance(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error {
	panic("not used")
}

type walletMock struct {
	accountByUserFn func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error)
	creditTxFn      func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error)
	debitTxFn       func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error)
}

func (m *walletMock) CreateAccount(ctx context.Context, userID uuid.UUID, currency string, maxBalance, dailySpendLimit decimal.Decimal) (*model.WalletAccount, error) {
	panic("not used")
}
func (m *walletMock) AccountByUser(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
	return m.accountByUserFn(ctx, userID)
}
func (m *walletMock) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	panic("not used")
}
func (m *walletMock) Ledger(ctx context.Context, accountID uuid.UUID) ([]model.LedgerEntry, error) {
	panic("not used")
}
func (m *walletMock) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
	panic("not used")
}
func (m *walletMock) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
	panic("not used")
}
func (m *walletMock) CreditTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
	return m.creditTxFn(ctx, tx, accountID, amount, entryType, rentalID)
}
func (m *walletMock) DebitTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
	return m.debitTxFn(ctx, tx, accountID, amount, entryType, rentalID)
}

type schedMock struct{ s model.FeeSchedule }

func (m *schedMock) Load(ctx context.Context) (*model.FeeSchedule, error) {
	s := m.s
	return &s, nil
}

type eventSink struct{ events []notifysvc.Event }

func (s *eventSink) Publish(e notifysvc.Event) { s.events = append(s.events, e) }

func defaultSchedule() *schedMock {
	return &schedMock{s: model.FeeSchedule{
		OverdueFinePerDay: decimal.RequireFromString("0.50"),
		GraceDays:         1,
		DamagePct:         decimal.RequireFromString("25"),
		LostMultiplier:    decimal.RequireFromString("1.5"),
		CommissionPct:     decimal.RequireFromString("10"),
	}}
}

type env struct {
	repo   *repoMock
	copies *copiesMock
	wallet *walletMock
	sched  *schedMock
	events *eventSink
}

func (e *env) service() rentalsvc.Service {
	return rentalsvc.New(nil, e.repo, e.copies, e.wallet, e.sched, e.events,
		rentalsvc.WithTxRunner(passthrough),
		rentalsvc.WithClock(func() time.Time { return testNow }),
	)
}

func newEnv() *env {
	return &env{
		repo:   &repoMock{},
		copies: &copiesMock{},
		wallet: &walletMock{},
		sched:  defaultSchedule(),
		events: &eventSink{},
	}
}

func testCopy(publisher uuid.UUID) *model.BookCopy {
	return &model.BookCopy{
		ID:            uuid.New(),
		PublisherID:   publisher,
		Title:         "The Go Programming Language",
		DailyRate:     decimal.RequireFromString("2.50"),
		BookValue:     decimal.RequireFromString("40.00"),
		MaxRentalDays: 14,
		Status:        model.CopyAvailable,
		Version:       1,
	}
}

func borrower() model.Actor { return model.Actor{ID: uuid.New(), Role: model.RoleBorrower} }

func holdCmd(copyID uuid.UUID) rentalsvc.PlaceHoldCmd {
	return rentalsvc.PlaceHoldCmd{
		CopyID:         copyID,
		HoldDays:       2,
		RequestedStart: testNow.Add(24 * time.Hour),
		RequestedEnd:   testNow.Add(8 * 24 * time.Hour),
	}
}

func TestPlaceHold_Success(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	c := testCopy(pub)
	b := borrower()

	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) { return c, nil }
	e.copies.placeHoldFn = func(ctx context.Context, tx *sql.Tx, copyID, userID uuid.UUID) error {
		if userID != b.ID {
			t.Fatal("hold must be claimed by the borrower")
		}
		return nil
	}
	e.wallet.accountByUserFn = func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
		return &model.WalletAccount{ID: uuid.New(), UserID: userID, Balance: decimal.RequireFromString("10.00")}, nil
	}
	e.repo.hasLiveFn = func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) (bool, error) { return false, nil }
	var inserted *model.RentalRecord
	e.repo.insertFn = func(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
		inserted = rec
		return nil
	}

	rec, err := e.service().PlaceHold(context.Background(), b, holdCmd(c.ID))
	if err != nil {
		t.Fatalf("PlaceHold: %v", err)
	}
	if rec != inserted || rec.Status != model.RentalHold {
		t.Fatalf("want inserted HOLD record, got %+v", rec)
	}
	if rec.PublisherID != pub || rec.BorrowerID != b.ID {
		t.Fatal("parties not recorded")
	}
	wantExpiry := testNow.Add(48 * time.Hour)
	if rec.HoldExpiry == nil || !rec.HoldExpiry.Equal(wantExpiry) {
		t.Fatalf("hold expiry = %v; want %v", rec.HoldExpiry, wantExpiry)
	}
	if len(e.events.events) != 1 || e.events.events[0].ToState != model.RentalHold {
		t.Fatalf("want one HOLD event, got %+v", e.events.events)
	}
}

func TestPlaceHold_Validation(t *testing.T) {
	e := newEnv()
	s := e.service()
	b := borrower()
	ctx := context.Background()

	cmd := holdCmd(uuid.New())
	cmd.HoldDays = 4
	if _, err := s.PlaceHold(ctx, b, cmd); errs.Code(err) != errs.ErrValidation {
		t.Fatalf("hold days over cap: want VALIDATION, got %v", err)
	}

	cmd = holdCmd(uuid.New())
	cmd.RequestedEnd = cmd.RequestedStart.Add(-time.Hour)
	if _, err := s.PlaceHold(ctx, b, cmd); errs.Code(err) != errs.ErrValidation {
		t.Fatalf("end before start: want VALIDATION, got %v", err)
	}
}

func TestPlaceHold_ExceedsMaxRentalDays(t *testing.T) {
	e := newEnv()
	c := testCopy(uuid.New())
	c.MaxRentalDays = 5
	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) { return c, nil }

	_, err := e.service().PlaceHold(context.Background(), borrower(), holdCmd(c.ID))
	if errs.Code(err) != errs.ErrValidation {
		t.Fatalf("want VALIDATION, got %v", err)
	}
}

func TestPlaceHold_InsufficientBalance(t *testing.T) {
	e := newEnv()
	c := testCopy(uuid.New())
	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) { return c, nil }
	e.wallet.accountByUserFn = func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
		return &model.WalletAccount{ID: uuid.New(), Balance: decimal.RequireFromString("1.00")}, nil
	}

	_, err := e.service().PlaceHold(context.Background(), borrower(), holdCmd(c.ID))
	if errs.Code(err) != errs.ErrInsufficientFunds {
		t.Fatalf("want INSUFFICIENT_FUNDS, got %v", err)
	}
}

func TestPlaceHold_CopyAlreadyLive(t *testing.T) {
	e := newEnv()
	c := testCopy(uuid.New())
	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) { return c, nil }
	e.wallet.accountByUserFn = func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
		return &model.WalletAccount{ID: uuid.New(), Balance: decimal.RequireFromString("10.00")}, nil
	}
	attempts := 0
	e.repo.hasLiveFn = func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) (bool, error) {
		attempts++
		return true, nil
	}

	_, err := e.service().PlaceHold(context.Background(), borrower(), holdCmd(c.ID))
	if errs.Code(err) != errs.ErrStateConflict {
		t.Fatalf("want STATE_CONFLICT, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("conflict retried %d times; want 3", attempts)
	}
}

func record(status model.RentalStatus, b, pub uuid.UUID) *model.RentalRecord {
	start := testNow.Add(-7 * 24 * time.Hour)
	end := testNow.Add(24 * time.Hour)
	expiry := testNow.Add(24 * time.Hour)
	return &model.RentalRecord{
		ID:             uuid.New(),
		CopyID:         uuid.New(),
		BorrowerID:     b,
		PublisherID:    pub,
		Status:         status,
		RequestedStart: start,
		RequestedEnd:   end,
		ActualStart:    &start,
		ActualEnd:      &end,
		HoldExpiry:     &expiry,
	}
}

func (e *env) locked(rec *model.RentalRecord) {
	e.repo.getForUpdateFn = func(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.RentalRecord, error) {
		return rec, nil
	}
	e.repo.updateFn = func(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error { return nil }
}

func TestCancelHold(t *testing.T) {
	e := newEnv()
	b := borrower()
	rec := record(model.RentalHold, b.ID, uuid.New())
	e.locked(rec)
	released := false
	e.copies.releaseHoldFn = func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error {
		released = true
		return nil
	}

	if err := e.service().CancelHold(context.Background(), b, rec.ID); err != nil {
		t.Fatalf("CancelHold: %v", err)
	}
	if !released || rec.Status != model.RentalCancelled {
		t.Fatalf("want released copy and CANCELLED record, got %s", rec.Status)
	}
}

func TestCancelHold_NotOwner(t *testing.T) {
	e := newEnv()
	rec := record(model.RentalHold, uuid.New(), uuid.New())
	e.locked(rec)

	err := e.service().CancelHold(context.Background(), borrower(), rec.ID)
	if errs.Code(err) != errs.ErrUnauthorized {
		t.Fatalf("want UNAUTHORIZED, got %v", err)
	}
}

func TestConvertHold(t *testing.T) {
	e := newEnv()
	b := borrower()
	rec := record(model.RentalHold, b.ID, uuid.New())
	e.locked(rec)

	if err := e.service().ConvertHoldToRequest(context.Background(), b, rec.ID); err != nil {
		t.Fatalf("ConvertHoldToRequest: %v", err)
	}
	if rec.Status != model.RentalPending {
		t.Fatalf("status = %s; want PENDING", rec.Status)
	}
}

func TestConvertHold_Expired(t *testing.T) {
	e := newEnv()
	b := borrower()
	rec := record(model.RentalHold, b.ID, uuid.New())
	past := testNow.Add(-time.Minute)
	rec.HoldExpiry = &past
	e.locked(rec)

	err := e.service().ConvertHoldToRequest(context.Background(), b, rec.ID)
	if errs.Code(err) != errs.ErrStateConflict {
		t.Fatalf("want STATE_CONFLICT, got %v", err)
	}
}

func TestApprove(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	b := borrower()
	rec := record(model.RentalPending, b.ID, pub)
	e.locked(rec)
	c := testCopy(pub)
	c.Status = model.CopyHeld
	c.CurrentClaimant = &b.ID
	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) { return c, nil }

	cmd := rentalsvc.ApproveCmd{RentalID: rec.ID}
	if err := e.service().Approve(context.Background(), model.Actor{ID: pub, Role: model.RolePublisher}, cmd); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if rec.Status != model.RentalApproved {
		t.Fatalf("status = %s; want APPROVED", rec.Status)
	}
	if !rec.ActualStart.Equal(rec.RequestedStart) || !rec.ActualEnd.Equal(rec.RequestedEnd) {
		t.Fatal("actual dates must default to the requested span")
	}
}

func TestApprove_NotPublisher(t *testing.T) {
	e := newEnv()
	rec := record(model.RentalPending, uuid.New(), uuid.New())
	e.locked(rec)

	err := e.service().Approve(context.Background(), borrower(), rentalsvc.ApproveCmd{RentalID: rec.ID})
	if errs.Code(err) != errs.ErrUnauthorized {
		t.Fatalf("want UNAUTHORIZED, got %v", err)
	}
}

func TestApprove_CopyNoLongerClaimable(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	rec := record(model.RentalPending, uuid.New(), pub)
	e.locked(rec)
	other := uuid.New()
	c := testCopy(pub)
	c.Status = model.CopyActive
	c.CurrentClaimant = &other
	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) { return c, nil }

	err := e.service().Approve(context.Background(), model.Actor{ID: pub, Role: model.RolePublisher},
		rentalsvc.ApproveCmd{RentalID: rec.ID})
	if errs.Code(err) != errs.ErrStateConflict {
		t.Fatalf("want STATE_CONFLICT, got %v", err)
	}
}

func TestReject_RecordsReason(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	rec := record(model.RentalPending, uuid.New(), pub)
	e.locked(rec)
	e.copies.releaseHoldFn = func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error { return nil }

	if err := e.service().Reject(context.Background(), model.Actor{ID: pub, Role: model.RolePublisher}, rec.ID, "copy is damaged"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rec.Status != model.RentalRejected {
		t.Fatalf("status = %s; want REJECTED", rec.Status)
	}
	if rec.Notes == nil || *rec.Notes != "copy is damaged" {
		t.Fatal("rejection reason not recorded")
	}
}

func TestCheckout_MovesMoneyAtomically(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	b := borrower()
	rec := record(model.RentalApproved, b.ID, pub)
	start := testNow
	end := testNow.Add(7 * 24 * time.Hour)
	rec.ActualStart = &start
	rec.ActualEnd = &end
	e.locked(rec)

	c := testCopy(pub)
	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) { return c, nil }
	marked := false
	e.copies.markActiveFn = func(ctx context.Context, tx *sql.Tx, copyID, borrowerID uuid.UUID) error {
		marked = true
		return nil
	}

	borrowerAcc := uuid.New()
	publisherAcc := uuid.New()
	e.wallet.accountByUserFn = func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
		id := borrowerAcc
		if userID == pub {
			id = publisherAcc
		}
		return &model.WalletAccount{ID: id, UserID: userID, Balance: decimal.RequireFromString("100.00")}, nil
	}
	var debited, credited decimal.Decimal
	e.wallet.debitTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		if accountID != borrowerAcc || entryType != model.EntryDebit {
			t.Fatalf("debit %s on account %s", entryType, accountID)
		}
		debited = amount
		return decimal.Zero, nil
	}
	e.wallet.creditTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		if accountID != publisherAcc || entryType != model.EntryCredit {
			t.Fatalf("credit %s on account %s", entryType, accountID)
		}
		credited = amount
		return decimal.Zero, nil
	}

	if err := e.service().Checkout(context.Background(), model.Actor{ID: pub, Role: model.RolePublisher}, rec.ID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// 7 days at 2.50 is 17.50 gross; 10% commission leaves 15.75.
	if !debited.Equal(decimal.RequireFromString("17.50")) {
		t.Fatalf("borrower debit = %s; want 17.50", debited)
	}
	if !credited.Equal(decimal.RequireFromString("15.75")) {
		t.Fatalf("publisher credit = %s; want 15.75", credited)
	}
	if !marked || rec.Status != model.RentalActive || !rec.Fees.BasePaid {
		t.Fatalf("want ACTIVE with base paid, got %+v", rec)
	}
	if !rec.Fees.BaseCost.Equal(decimal.RequireFromString("17.50")) {
		t.Fatalf("base cost = %s; want 17.50", rec.Fees.BaseCost)
	}
	ev := e.events.events[len(e.events.events)-1]
	if !ev.Amounts["platform_share"].Equal(decimal.RequireFromString("1.75")) {
		t.Fatalf("platform share = %s; want 1.75", ev.Amounts["platform_share"])
	}
}

func TestCheckout_InsufficientFundsRollsBack(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	rec := record(model.RentalApproved, uuid.New(), pub)
	e.locked(rec)
	updated := false
	e.repo.updateFn = func(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
		updated = true
		return nil
	}
	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) {
		return testCopy(pub), nil
	}
	e.wallet.accountByUserFn = func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
		return &model.WalletAccount{ID: uuid.New(), UserID: userID}, nil
	}
	credited := false
	e.wallet.debitTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		return decimal.Zero, errs.New(errs.ErrInsufficientFunds, "balance too low")
	}
	e.wallet.creditTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		credited = true
		return decimal.Zero, nil
	}

	err := e.service().Checkout(context.Background(), model.Actor{ID: pub, Role: model.RolePublisher}, rec.ID)
	if errs.Code(err) != errs.ErrInsufficientFunds {
		t.Fatalf("want INSUFFICIENT_FUNDS, got %v", err)
	}
	if credited || updated {
		t.Fatal("failed debit must not be followed by a credit or a record update")
	}
	if len(e.events.events) != 0 {
		t.Fatal("no event on a failed transition")
	}
}

func TestCheckout_FreeCopyMovesNoFunds(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	b := borrower()
	rec := record(model.RentalApproved, b.ID, pub)
	e.locked(rec)

	c := testCopy(pub)
	c.DailyRate = decimal.Zero
	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) { return c, nil }
	e.copies.markActiveFn = func(ctx context.Context, tx *sql.Tx, copyID, borrowerID uuid.UUID) error {
		return nil
	}
	e.wallet.accountByUserFn = func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
		t.Fatal("zero-cost checkout must not look up wallets")
		return nil, nil
	}
	e.wallet.debitTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		t.Fatal("zero-cost checkout must not debit")
		return decimal.Zero, nil
	}
	e.wallet.creditTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		t.Fatal("zero-cost checkout must not credit")
		return decimal.Zero, nil
	}

	if err := e.service().Checkout(context.Background(), model.Actor{ID: pub, Role: model.RolePublisher}, rec.ID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if rec.Status != model.RentalActive || !rec.Fees.BaseCost.IsZero() || !rec.Fees.BasePaid {
		t.Fatalf("want ACTIVE with zero base cost settled, got %+v", rec)
	}
}

func TestCheckout_FullCommissionSkipsPublisherCredit(t *testing.T) {
	e := newEnv()
	e.sched.s.CommissionPct = decimal.RequireFromString("100")
	pub := uuid.New()
	b := borrower()
	rec := record(model.RentalApproved, b.ID, pub)
	start := testNow
	end := testNow.Add(7 * 24 * time.Hour)
	rec.ActualStart = &start
	rec.ActualEnd = &end
	e.locked(rec)

	e.copies.getFn = func(ctx context.Context, copyID uuid.UUID) (*model.BookCopy, error) {
		return testCopy(pub), nil
	}
	e.copies.markActiveFn = func(ctx context.Context, tx *sql.Tx, copyID, borrowerID uuid.UUID) error {
		return nil
	}
	e.wallet.accountByUserFn = func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
		return &model.WalletAccount{ID: uuid.New(), UserID: userID, Balance: decimal.RequireFromString("100.00")}, nil
	}
	var debited decimal.Decimal
	e.wallet.debitTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		debited = amount
		return decimal.Zero, nil
	}
	e.wallet.creditTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		t.Fatal("nothing to credit when the platform keeps the whole amount")
		return decimal.Zero, nil
	}

	if err := e.service().Checkout(context.Background(), model.Actor{ID: pub, Role: model.RolePublisher}, rec.ID); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if !debited.Equal(decimal.RequireFromString("17.50")) {
		t.Fatalf("borrower debit = %s; want 17.50", debited)
	}
}

func TestReturn_OnTime(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	b := borrower()
	rec := record(model.RentalActive, b.ID, pub)
	due := testNow.Add(24 * time.Hour)
	rec.ActualEnd = &due
	e.locked(rec)
	e.copies.markReturnedFn = func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error { return nil }
	e.wallet.debitTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		t.Fatal("on-time return must not touch wallets")
		return decimal.Zero, nil
	}

	if err := e.service().Return(context.Background(), b, rec.ID); err != nil {
		t.Fatalf("Return: %v", err)
	}
	if rec.Status != model.RentalReturned || !rec.Fees.LateFee.IsZero() {
		t.Fatalf("want RETURNED with zero late fee, got %s %s", rec.Status, rec.Fees.LateFee)
	}
}

func TestReturn_LateChargesFullFineToPublisher(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	b := borrower()
	rec := record(model.RentalOverdue, b.ID, pub)
	due := testNow.Add(-5 * 24 * time.Hour)
	rec.ActualEnd = &due
	e.locked(rec)
	e.copies.markReturnedFn = func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error { return nil }
	e.wallet.accountByUserFn = func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
		return &model.WalletAccount{ID: uuid.New(), UserID: userID, Balance: decimal.RequireFromString("50.00")}, nil
	}
	var fined, credited decimal.Decimal
	e.wallet.debitTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		if entryType != model.EntryFine {
			t.Fatalf("late fee debit type = %s; want FINE", entryType)
		}
		fined = amount
		return decimal.Zero, nil
	}
	e.wallet.creditTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		credited = amount
		return decimal.Zero, nil
	}

	if err := e.service().Return(context.Background(), b, rec.ID); err != nil {
		t.Fatalf("Return: %v", err)
	}

	// 5 days past due, 1 grace day, 0.50 per day: 4 x 0.50 = 2.00,
	// credited to the publisher in full with no commission taken.
	want := decimal.RequireFromString("2.00")
	if !fined.Equal(want) || !credited.Equal(want) {
		t.Fatalf("fine %s / credit %s; want both 2.00", fined, credited)
	}
	if !rec.Fees.LateFee.Equal(want) || !rec.Fees.LateFeePaid {
		t.Fatalf("ledger late fee = %s paid=%v; want 2.00 paid", rec.Fees.LateFee, rec.Fees.LateFeePaid)
	}
}

func TestReturn_InsufficientFundsBlocks(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	b := borrower()
	rec := record(model.RentalOverdue, b.ID, pub)
	due := testNow.Add(-5 * 24 * time.Hour)
	rec.ActualEnd = &due
	e.locked(rec)
	updated := false
	e.repo.updateFn = func(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
		updated = true
		return nil
	}
	e.wallet.accountByUserFn = func(ctx context.Context, userID uuid.UUID) (*model.WalletAccount, error) {
		return &model.WalletAccount{ID: uuid.New(), UserID: userID}, nil
	}
	e.wallet.debitTxFn = func(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount decimal.Decimal, entryType model.EntryType, rentalID *uuid.UUID) (decimal.Decimal, error) {
		return decimal.Zero, errs.New(errs.ErrInsufficientFunds, "balance too low")
	}

	err := e.service().Return(context.Background(), b, rec.ID)
	if errs.Code(err) != errs.ErrInsufficientFunds {
		t.Fatalf("want INSUFFICIENT_FUNDS, got %v", err)
	}
	if updated || rec.Status == model.RentalReturned {
		t.Fatal("return must stay blocked until the fine is payable")
	}
}

func TestReturn_WrongActor(t *testing.T) {
	e := newEnv()
	rec := record(model.RentalActive, uuid.New(), uuid.New())
	e.locked(rec)

	err := e.service().Return(context.Background(), borrower(), rec.ID)
	if errs.Code(err) != errs.ErrUnauthorized {
		t.Fatalf("want UNAUTHORIZED, got %v", err)
	}
}

func TestStep_NotFound(t *testing.T) {
	e := newEnv()
	e.repo.getForUpdateFn = func(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.RentalRecord, error) {
		return nil, sql.ErrNoRows
	}

	err := e.service().CancelHold(context.Background(), borrower(), uuid.New())
	if errs.Code(err) != errs.ErrNotFound {
		t.Fatalf("want NOT_FOUND, got %v", err)
	}
}

func TestStep_FinishedRentalRefusesTransitions(t *testing.T) {
	e := newEnv()
	pub := uuid.New()
	b := borrower()
	rec := record(model.RentalReturned, b.ID, pub)
	e.locked(rec)
	e.repo.updateFn = func(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
		t.Fatal("finished rental must not be written")
		return nil
	}

	err := e.service().Return(context.Background(), model.Actor{ID: pub, Role: model.RolePublisher}, rec.ID)
	if errs.Code(err) != errs.ErrStateConflict {
		t.Fatalf("want STATE_CONFLICT, got %v", err)
	}
	if len(e.events.events) != 0 {
		t.Fatalf("no event expected, got %d", len(e.events.events))
	}
}

func TestVersionConflictRetriesAreBounded(t *testing.T) {
	e := newEnv()
	b := borrower()
	attempts := 0
	e.repo.getForUpdateFn = func(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.RentalRecord, error) {
		attempts++
		rec := record(model.RentalHold, b.ID, uuid.New())
		return rec, nil
	}
	e.copies.releaseHoldFn = func(ctx context.Context, tx *sql.Tx, copyID uuid.UUID) error { return nil }
	e.repo.updateFn = func(ctx context.Context, tx *sql.Tx, rec *model.RentalRecord) error {
		return errs.New(errs.ErrStateConflict, "row version moved")
	}

	err := e.service().CancelHold(context.Background(), b, uuid.New())
	if errs.Code(err) != errs.ErrStateConflict {
		t.Fatalf("want STATE_CONFLICT, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d; want 3", attempts)
	}
}
