package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const operator = "op-1"

type fixture struct {
	store    *memStore
	notifier *mockNotifier
	locks    *MemoryLocker
	manager  *RecordManager
	clock    time.Time
}

func newFixture(t *testing.T, recs ...models.ServiceRecord) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(recs...),
		notifier: &mockNotifier{},
		locks:    NewMemoryLocker(),
		clock:    time.Date(2025, 6, 22, 10, 0, 0, 0, time.UTC),
	}
	f.manager = NewRecordManager(f.store, f.notifier, f.locks, time.Second)
	f.manager.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func record(bike string, created time.Time) models.ServiceRecord {
	return models.ServiceRecord{
		ID:             uuid.New(),
		BikeNumber:     bike,
		CustomerName:   "Ravi Kumar",
		Phone:          "9876543210",
		ServiceType:    "Full Service",
		ServiceCost:    500,
		ServiceItems:   models.ServiceItems{},
		TotalCost:      500,
		PendingAmount:  500,
		PaymentHistory: models.PaymentHistory{},
		ServiceStatus:  models.StatusInProgress,
		CreatedAt:      created,
	}
}

func assertInvariants(t *testing.T, r models.ServiceRecord) {
	t.Helper()
	assert.Equal(t, models.ComputeTotal(r.ServiceCost, r.ServiceItems), r.TotalCost)
	assert.Equal(t, models.ComputePending(r.TotalCost, r.AmountPaid), r.PendingAmount)
}

func TestRecordManager_FullLifecycle(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	f := newFixture(t, rec)
	ctx := context.Background()

	res, err := f.manager.AddServiceItem(ctx, operator, rec.ID, "  Chain set ", 150)
	require.NoError(t, err)
	assert.Equal(t, 650.0, res.Record.TotalCost)
	require.Len(t, res.Record.ServiceItems, 1)
	assert.Equal(t, "Chain set", res.Record.ServiceItems[0].ItemName)
	assert.NotEmpty(t, res.Record.ServiceItems[0].ID)

	res, err = f.manager.PostPayment(ctx, operator, rec.ID, 400, "UPI", "advance")
	require.NoError(t, err)
	assert.Equal(t, 400.0, res.Record.AmountPaid)
	assert.Equal(t, 250.0, res.Record.PendingAmount)

	res, err = f.manager.SetStatus(ctx, operator, rec.ID, models.StatusDelivered)
	require.NoError(t, err)
	require.NotNil(t, res.Confirmation)
	assert.Equal(t, ActionDeliverWithPending, res.Confirmation.Action)
	assert.Equal(t, KindWarning, res.Confirmation.Kind)
	assert.Contains(t, res.Confirmation.Message, "₹250.00")
	assert.Equal(t, models.StatusInProgress, f.store.get(rec.ID).ServiceStatus)

	f.notifier.On("NotifyDelivered", mock.Anything, mock.MatchedBy(func(n DeliveryNotice) bool {
		return n.RecordID == rec.ID && n.TotalCost == 650 && n.BikeNumber == "HP17A1234" && n.Phone == "9876543210"
	})).Return(nil).Once()

	res, err = f.manager.Confirm(ctx, operator, res.Confirmation.Token)
	require.NoError(t, err)
	assert.Empty(t, res.Warning)
	assert.Equal(t, models.StatusDelivered, res.Record.ServiceStatus)
	require.NotNil(t, res.Record.DeliveryDate)
	assert.True(t, res.Record.DeliveryDate.Equal(f.clock))
	f.notifier.AssertExpectations(t)

	f.advance(2 * time.Hour)
	res, err = f.manager.PostPayment(ctx, operator, rec.ID, 250, "", "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Record.PendingAmount)
	require.Len(t, res.Record.PaymentHistory, 2)
	last := res.Record.PaymentHistory[1]
	assert.Equal(t, "Cash", last.PaymentMethod)
	assert.True(t, res.Record.IsPostDelivery(last))
	assert.False(t, res.Record.IsPostDelivery(res.Record.PaymentHistory[0]))

	stored := f.store.get(rec.ID)
	assertInvariants(t, stored)
	assert.Equal(t, 650.0, stored.AmountPaid)
}

func TestRecordManager_DeliverWithoutPendingUsesPlainPrompt(t *testing.T) {
	rec := record("KA01AB0001", time.Now())
	rec.AmountPaid = 500
	rec.PendingAmount = 0
	f := newFixture(t, rec)

	res, err := f.manager.SetStatus(context.Background(), operator, rec.ID, models.StatusDelivered)
	require.NoError(t, err)
	require.NotNil(t, res.Confirmation)
	assert.Equal(t, ActionDeliver, res.Confirmation.Action)
	assert.Equal(t, KindSuccess, res.Confirmation.Kind)
	assert.Equal(t, "Cancel", res.Confirmation.CancelText)
}

func TestRecordManager_SearchSuffixAndExactReturnNewestFirst(t *testing.T) {
	now := time.Now()
	older := record("HP17A1234", now.Add(-72*time.Hour))
	newer := record("HP17A1234", now.Add(-1*time.Hour))
	other := record("DL01B5678", now)
	otherSameDigits := record("MH12ZZ1234", now.Add(-30*time.Hour))
	f := newFixture(t, older, newer, other, otherSameDigits)
	ctx := context.Background()

	res, err := f.manager.Search(ctx, operator, "1234")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Len(t, res.History, 3)
	assert.Equal(t, newer.ID, res.History[0].ID)
	assert.Equal(t, otherSameDigits.ID, res.History[1].ID)
	assert.Equal(t, older.ID, res.History[2].ID)
	assert.Equal(t, newer.ID, res.Selected.ID)

	res, err = f.manager.Search(ctx, operator, "  hp17a1234 ")
	require.NoError(t, err)
	require.Len(t, res.History, 2)
	assert.Equal(t, newer.ID, res.History[0].ID)
	assert.Equal(t, older.ID, res.History[1].ID)

	desk := f.manager.Desk(operator)
	require.NotNil(t, desk.Active)
	assert.Equal(t, newer.ID, desk.Active.ID)
	assert.Equal(t, newer.ID, desk.Selected.ID)
}

func TestRecordManager_SearchMissClearsDesk(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	f := newFixture(t, rec)
	ctx := context.Background()

	_, err := f.manager.Search(ctx, operator, "HP17A1234")
	require.NoError(t, err)

	res, err := f.manager.Search(ctx, operator, "XX00X0000")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.History)

	desk := f.manager.Desk(operator)
	assert.Nil(t, desk.Selected)
	assert.Nil(t, desk.Active)
	assert.Empty(t, desk.History)
}

func TestRecordManager_SearchRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Search(context.Background(), operator, "   ")
	assert.True(t, IsValidation(err))
}

func TestRecordManager_SearchRepairsDriftBeforeShowing(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	rec.AmountPaid = 200
	rec.PendingAmount = 500
	f := newFixture(t, rec)

	res, err := f.manager.Search(context.Background(), operator, "HP17A1234")
	require.NoError(t, err)
	assert.Equal(t, 300.0, res.Selected.PendingAmount)
	assert.Equal(t, 300.0, f.store.get(rec.ID).PendingAmount)
	assert.Equal(t, 1, f.store.updateCount())
}

func TestRecordManager_AddItemOnDeliveredIsRejected(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	rec.ServiceStatus = models.StatusDelivered
	rec.ServiceItems = models.ServiceItems{{ID: "i1", ItemName: "Oil", ItemCost: 300}}
	rec.TotalCost = 800
	rec.PendingAmount = 800
	f := newFixture(t, rec)

	_, err := f.manager.AddServiceItem(context.Background(), operator, rec.ID, "Brake pads", 90)
	assert.ErrorIs(t, err, ErrItemsFrozen)
	assert.True(t, IsValidation(err))
	assert.Equal(t, rec.ServiceItems, f.store.get(rec.ID).ServiceItems)
	assert.Equal(t, 0, f.store.updateCount())

	_, err = f.manager.RemoveServiceItem(context.Background(), operator, rec.ID, "i1")
	assert.ErrorIs(t, err, ErrItemsFrozen)
}

func TestRecordManager_ValidationRejectsBeforeMutation(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	f := newFixture(t, rec)
	ctx := context.Background()

	_, err := f.manager.AddServiceItem(ctx, operator, rec.ID, "   ", 100)
	assert.True(t, IsValidation(err))
	_, err = f.manager.AddServiceItem(ctx, operator, rec.ID, "Chain", 0)
	assert.True(t, IsValidation(err))
	_, err = f.manager.PostPayment(ctx, operator, rec.ID, -5, "Cash", "")
	assert.True(t, IsValidation(err))
	_, err = f.manager.AddServiceItem(ctx, operator, rec.ID, "Chain", 10.005)
	assert.True(t, IsValidation(err))
	_, err = f.manager.PostPayment(ctx, operator, rec.ID, 0.001, "Cash", "")
	assert.True(t, IsValidation(err))
	_, err = f.manager.SetStatus(ctx, operator, rec.ID, "Completed")
	assert.True(t, IsValidation(err))

	assert.Equal(t, 0, f.store.updateCount())
}

func TestRecordManager_RemoveMissingItemIsNoop(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	rec.ServiceItems = models.ServiceItems{{ID: "i1", ItemName: "Chain", ItemCost: 150}}
	rec.TotalCost = 650
	rec.PendingAmount = 650
	f := newFixture(t, rec)

	res, err := f.manager.RemoveServiceItem(context.Background(), operator, rec.ID, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, res.Confirmation)
	assert.Equal(t, rec.ServiceItems, res.Record.ServiceItems)
	assert.Equal(t, 0, f.store.updateCount())
	_, err = f.manager.PendingConfirmation(operator)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)
}

func TestRecordManager_RemoveItemAfterConfirmation(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	rec.ServiceItems = models.ServiceItems{
		{ID: "i1", ItemName: "Chain", ItemCost: 150},
		{ID: "i2", ItemName: "Oil", ItemCost: 50},
	}
	rec.TotalCost = 700
	rec.AmountPaid = 650
	rec.PendingAmount = 50
	f := newFixture(t, rec)
	ctx := context.Background()

	res, err := f.manager.RemoveServiceItem(ctx, operator, rec.ID, "i1")
	require.NoError(t, err)
	require.NotNil(t, res.Confirmation)
	assert.Equal(t, KindDanger, res.Confirmation.Kind)
	assert.Equal(t, ActionRemoveItem, res.Confirmation.Action)
	assert.Len(t, f.store.get(rec.ID).ServiceItems, 2)

	pending, err := f.manager.PendingConfirmation(operator)
	require.NoError(t, err)
	assert.Equal(t, res.Confirmation.Token, pending.Token)

	res, err = f.manager.Confirm(ctx, operator, res.Confirmation.Token)
	require.NoError(t, err)
	require.Len(t, res.Record.ServiceItems, 1)
	assert.Equal(t, "i2", res.Record.ServiceItems[0].ID)
	assert.Equal(t, 550.0, res.Record.TotalCost)
	assert.Equal(t, 0.0, res.Record.PendingAmount)

	stored := f.store.get(rec.ID)
	assertInvariants(t, stored)
	require.Len(t, f.store.updates, 1)
	assert.Contains(t, f.store.updates[0], models.ColServiceItems)
	assert.Contains(t, f.store.updates[0], models.ColTotalCost)
	assert.Contains(t, f.store.updates[0], models.ColPendingAmount)
}

func TestRecordManager_CancelDropsConfirmation(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	f := newFixture(t, rec)
	ctx := context.Background()

	res, err := f.manager.SetStatus(ctx, operator, rec.ID, models.StatusDelivered)
	require.NoError(t, err)
	token := res.Confirmation.Token

	require.NoError(t, f.manager.Cancel(operator, token))
	assert.ErrorIs(t, f.manager.Cancel(operator, token), ErrNoPendingConfirmation)

	_, err = f.manager.Confirm(ctx, operator, token)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)
	assert.Equal(t, models.StatusInProgress, f.store.get(rec.ID).ServiceStatus)
	f.notifier.AssertNotCalled(t, "NotifyDelivered", mock.Anything, mock.Anything)
}

func TestRecordManager_NewRequestReplacesPendingConfirmation(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	rec.ServiceItems = models.ServiceItems{{ID: "i1", ItemName: "Chain", ItemCost: 150}}
	rec.TotalCost = 650
	rec.PendingAmount = 650
	f := newFixture(t, rec)
	ctx := context.Background()

	first, err := f.manager.SetStatus(ctx, operator, rec.ID, models.StatusDelivered)
	require.NoError(t, err)
	second, err := f.manager.RemoveServiceItem(ctx, operator, rec.ID, "i1")
	require.NoError(t, err)

	_, err = f.manager.Confirm(ctx, operator, first.Confirmation.Token)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)

	pending, err := f.manager.PendingConfirmation(operator)
	require.NoError(t, err)
	assert.Equal(t, second.Confirmation.Token, pending.Token)
}

func TestRecordManager_ConfirmationsArePerOperator(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	f := newFixture(t, rec)
	ctx := context.Background()

	res, err := f.manager.SetStatus(ctx, operator, rec.ID, models.StatusDelivered)
	require.NoError(t, err)

	_, err = f.manager.Confirm(ctx, "someone-else", res.Confirmation.Token)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)
}

func TestRecordManager_OtherStatusesApplyImmediately(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	rec.ServiceStatus = models.StatusDelivered
	f := newFixture(t, rec)
	ctx := context.Background()

	res, err := f.manager.SetStatus(ctx, operator, rec.ID, models.StatusPending)
	require.NoError(t, err)
	assert.Nil(t, res.Confirmation)
	assert.Equal(t, models.StatusPending, res.Record.ServiceStatus)
	assert.Equal(t, models.StatusPending, f.store.get(rec.ID).ServiceStatus)
	f.notifier.AssertNotCalled(t, "NotifyDelivered", mock.Anything, mock.Anything)
}

func TestRecordManager_NotificationFailureIsWarning(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	rec.AmountPaid = 500
	rec.PendingAmount = 0
	f := newFixture(t, rec)
	ctx := context.Background()
	f.notifier.On("NotifyDelivered", mock.Anything, mock.Anything).
		Return(&NotificationError{Err: errors.New("twilio unavailable")})

	res, err := f.manager.SetStatus(ctx, operator, rec.ID, models.StatusDelivered)
	require.NoError(t, err)
	res, err = f.manager.Confirm(ctx, operator, res.Confirmation.Token)
	require.NoError(t, err)

	assert.Contains(t, res.Warning, "twilio unavailable")
	assert.Equal(t, models.StatusDelivered, f.store.get(rec.ID).ServiceStatus)
	assert.NotNil(t, f.store.get(rec.ID).DeliveryDate)
}

func TestRecordManager_PaymentsAreAppendOnly(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	f := newFixture(t, rec)
	ctx := context.Background()

	for i, amount := range []float64{100, 0.5, 1000} {
		before := f.store.get(rec.ID)
		res, err := f.manager.PostPayment(ctx, operator, rec.ID, amount, "Card", "")
		require.NoError(t, err)
		assert.Len(t, res.Record.PaymentHistory, i+1)
		assert.Equal(t, before.AmountPaid+amount, res.Record.AmountPaid)
		assert.Equal(t, before.PaymentHistory, res.Record.PaymentHistory[:i])
		assertInvariants(t, f.store.get(rec.ID))
	}
	assert.Equal(t, 0.0, f.store.get(rec.ID).PendingAmount)
}

func TestRecordManager_BusyRecordFailsFast(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	f := newFixture(t, rec)
	ctx := context.Background()

	unlock, err := f.locks.TryLock(ctx, rec.ID)
	require.NoError(t, err)

	_, err = f.manager.PostPayment(ctx, operator, rec.ID, 100, "Cash", "")
	assert.ErrorIs(t, err, ErrRecordBusy)
	assert.Equal(t, 0, f.store.updateCount())

	unlock()
	_, err = f.manager.PostPayment(ctx, operator, rec.ID, 100, "Cash", "")
	assert.NoError(t, err)
}

func TestRecordManager_PersistenceFailureLeavesDeskUnchanged(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	f := newFixture(t, rec)
	ctx := context.Background()

	_, err := f.manager.Search(ctx, operator, "HP17A1234")
	require.NoError(t, err)
	before := f.manager.Desk(operator)

	f.store.failWrite = errStoreDown
	_, err = f.manager.PostPayment(ctx, operator, rec.ID, 100, "Cash", "")
	assert.True(t, IsPersistence(err))
	assert.ErrorIs(t, err, errStoreDown)

	after := f.manager.Desk(operator)
	assert.Equal(t, before, after)
	assert.Equal(t, 0.0, f.store.get(rec.ID).AmountPaid)
}

func TestRecordManager_MutationSyncsEveryDeskCopy(t *testing.T) {
	older := record("HP17A1234", time.Now().Add(-time.Hour))
	newer := record("HP17A1234", time.Now())
	f := newFixture(t, older, newer)
	ctx := context.Background()

	_, err := f.manager.Search(ctx, operator, "HP17A1234")
	require.NoError(t, err)

	_, err = f.manager.AddServiceItem(ctx, operator, newer.ID, "Chain", 150)
	require.NoError(t, err)

	desk := f.manager.Desk(operator)
	assert.Equal(t, 650.0, desk.Selected.TotalCost)
	assert.Equal(t, 650.0, desk.Active.TotalCost)
	assert.Equal(t, 650.0, desk.History[0].TotalCost)
	assert.Equal(t, 500.0, desk.History[1].TotalCost)
}

func TestRecordManager_SelectFromHistory(t *testing.T) {
	older := record("HP17A1234", time.Now().Add(-time.Hour))
	newer := record("HP17A1234", time.Now())
	f := newFixture(t, older, newer)
	ctx := context.Background()

	_, err := f.manager.Search(ctx, operator, "HP17A1234")
	require.NoError(t, err)

	got, err := f.manager.Select(ctx, operator, older.ID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)

	desk := f.manager.Desk(operator)
	assert.Equal(t, older.ID, desk.Selected.ID)
	assert.Equal(t, older.ID, desk.Active.ID)

	_, err = f.manager.Select(ctx, operator, uuid.New())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRecordManager_UnknownRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.PostPayment(context.Background(), operator, uuid.New(), 10, "Cash", "")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRecordManager_RecalculateWritesOnlyOnDrift(t *testing.T) {
	healthy := record("HP17A1234", time.Now())
	drifted := record("KA05MN4321", time.Now())
	drifted.ServiceItems = models.ServiceItems{{ID: "i1", ItemName: "Chain", ItemCost: 150}}
	drifted.AmountPaid = 100
	f := newFixture(t, healthy, drifted)
	ctx := context.Background()

	res, err := f.manager.Recalculate(ctx, operator, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, res.Record.PendingAmount)
	assert.Equal(t, 0, f.store.updateCount())

	res, err = f.manager.Recalculate(ctx, operator, drifted.ID)
	require.NoError(t, err)
	assert.Equal(t, 650.0, res.Record.TotalCost)
	assert.Equal(t, 550.0, res.Record.PendingAmount)
	assert.Equal(t, 1, f.store.updateCount())

	_, err = f.manager.Recalculate(ctx, operator, drifted.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.updateCount())
}

func TestRecordManager_IdleDesksAreDropped(t *testing.T) {
	rec := record("HP17A1234", time.Now())
	f := newFixture(t, rec)
	ctx := context.Background()

	res, err := f.manager.SetStatus(ctx, "op-2", rec.ID, models.StatusDelivered)
	require.NoError(t, err)
	require.NotNil(t, res.Confirmation)

	f.advance(deskIdleTTL - time.Minute)
	f.manager.Desk(operator)
	assert.Len(t, f.manager.desks, 2)

	f.advance(2 * time.Minute)
	f.manager.Desk(operator)
	assert.Len(t, f.manager.desks, 1)

	_, err = f.manager.PendingConfirmation("op-2")
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)
}
