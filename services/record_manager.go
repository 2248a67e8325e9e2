package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/maverickdeepak/mahadev-auto/repository"
	log "github.com/sirupsen/logrus"
)

// Prompt kinds understood by the confirm dialog.
const (
	KindWarning = "warning"
	KindSuccess = "success"
	KindDanger  = "danger"
)

// Confirmable actions.
const (
	ActionDeliver            = "deliver"
	ActionDeliverWithPending = "deliver-with-pending"
	ActionRemoveItem         = "remove-item"
)

// Prompt describes a pending confirmation to the operator.
type Prompt struct {
	Token       string    `json:"token"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	ConfirmText string    `json:"confirmText"`
	CancelText  string    `json:"cancelText"`
	Kind        string    `json:"kind"`
	Action      string    `json:"action"`
	RecordID    uuid.UUID `json:"recordId"`
}

type confirmation struct {
	prompt Prompt
	resume func(ctx context.Context) (*Result, error)
}

// Result is returned by every lifecycle call. Exactly one of Record or
// Confirmation is the thing to show; Warning is set when a non-fatal side
// effect failed.
type Result struct {
	Record       *models.ServiceRecord `json:"record,omitempty"`
	Confirmation *Prompt               `json:"confirmation,omitempty"`
	Warning      string                `json:"warning,omitempty"`
}

type SearchResult struct {
	Query    string                 `json:"query"`
	Found    bool                   `json:"found"`
	Selected *models.ServiceRecord  `json:"selected,omitempty"`
	History  []models.ServiceRecord `json:"history"`
}

// DeskView is a snapshot of one operator's working state.
type DeskView struct {
	Selected            *models.ServiceRecord  `json:"selected"`
	Active              *models.ServiceRecord  `json:"active"`
	History             []models.ServiceRecord `json:"history"`
	PendingConfirmation *Prompt                `json:"pendingConfirmation,omitempty"`
}

// desk holds what one operator is looking at. mu is held for the whole of
// each call so an operator's actions run one after another.
type desk struct {
	mu       sync.Mutex
	lastUsed time.Time
	selected *models.ServiceRecord
	active   *models.ServiceRecord
	history  []models.ServiceRecord
	pending  *confirmation
}

func (d *desk) clear() {
	d.selected = nil
	d.active = nil
	d.history = nil
}

// sync writes rec into every place the desk keeps a copy of it.
func (d *desk) sync(rec models.ServiceRecord) {
	if d.selected != nil && d.selected.ID == rec.ID {
		c := rec.Clone()
		d.selected = &c
	}
	if d.active != nil && d.active.ID == rec.ID {
		c := rec.Clone()
		d.active = &c
	}
	for i := range d.history {
		if d.history[i].ID == rec.ID {
			d.history[i] = rec.Clone()
		}
	}
}

func (d *desk) view() DeskView {
	v := DeskView{History: make([]models.ServiceRecord, 0, len(d.history))}
	if d.selected != nil {
		c := d.selected.Clone()
		v.Selected = &c
	}
	if d.active != nil {
		c := d.active.Clone()
		v.Active = &c
	}
	for _, r := range d.history {
		v.History = append(v.History, r.Clone())
	}
	if d.pending != nil {
		p := d.pending.prompt
		v.PendingConfirmation = &p
	}
	return v
}

// RecordManager mediates every change to a service record so the derived
// totals stay consistent, and keeps each operator's desk in step with the store.
type RecordManager struct {
	store        Store
	notifier     Notifier
	locks        RecordLocker
	storeTimeout time.Duration

	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	desks map[string]*desk
}

func NewRecordManager(store Store, notifier Notifier, locks RecordLocker, storeTimeout time.Duration) *RecordManager {
	return &RecordManager{
		store:        store,
		notifier:     notifier,
		locks:        locks,
		storeTimeout: storeTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
		desks:        make(map[string]*desk),
	}
}

// deskIdleTTL is how long an operator's desk survives without any call.
const deskIdleTTL = 12 * time.Hour

// desk returns the operator's desk, dropping desks left idle past deskIdleTTL.
func (m *RecordManager) desk(operator string) *desk {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for op, d := range m.desks {
		if op != operator && now.Sub(d.lastUsed) > deskIdleTTL {
			delete(m.desks, op)
		}
	}
	d, ok := m.desks[operator]
	if !ok {
		d = &desk{}
		m.desks[operator] = d
	}
	d.lastUsed = now
	return d
}

func (m *RecordManager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.storeTimeout)
}

var suffixQuery = regexp.MustCompile(`^[0-9]{4}$`)

// NormalizeBikeNumber trims and upper-cases a bike number or search query.
func NormalizeBikeNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Search finds the visit history for a bike. Four digits match on the
// plate's trailing digits and may return several vehicles.
func (m *RecordManager) Search(ctx context.Context, operator, query string) (*SearchResult, error) {
	q := NormalizeBikeNumber(query)
	if q == "" {
		return nil, invalid("q", "enter a bike number or its last 4 digits")
	}

	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()

	recs, err := m.lookup(ctx, q)
	if err != nil {
		return nil, err
	}

	for i := range recs {
		if err := m.heal(ctx, &recs[i]); err != nil {
			return nil, err
		}
	}

	if len(recs) == 0 {
		d.clear()
		return &SearchResult{Query: q, Found: false, History: []models.ServiceRecord{}}, nil
	}

	d.history = recs
	selected := recs[0].Clone()
	active := recs[0].Clone()
	d.selected = &selected
	d.active = &active

	v := d.view()
	return &SearchResult{Query: q, Found: true, Selected: v.Selected, History: v.History}, nil
}

func (m *RecordManager) lookup(ctx context.Context, q string) ([]models.ServiceRecord, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	var (
		recs []models.ServiceRecord
		err  error
	)
	if suffixQuery.MatchString(q) {
		recs, err = m.store.FindByBikeSuffix(sctx, q)
	} else {
		recs, err = m.store.FindByBikeNumber(sctx, q)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "search records", Err: err}
	}

	out := make([]models.ServiceRecord, 0, len(recs))
	for _, r := range recs {
		bike := strings.ToUpper(r.BikeNumber)
		if suffixQuery.MatchString(q) {
			if strings.HasSuffix(bike, q) {
				out = append(out, r)
			}
			continue
		}
		if r.BikeNumber == q {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// heal repairs drifted totals on a freshly loaded record before it is shown.
// A record that is mid-update elsewhere is shown repaired but not rewritten.
func (m *RecordManager) heal(ctx context.Context, rec *models.ServiceRecord) error {
	if !rec.Drifted() {
		return nil
	}
	fixed := rec.Clone()
	fields := applyDerived(&fixed)

	unlock, err := m.locks.TryLock(ctx, rec.ID)
	if errors.Is(err, ErrRecordBusy) {
		*rec = fixed
		return nil
	}
	if err != nil {
		return err
	}
	defer unlock()

	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	if err := m.store.UpdateFields(sctx, rec.ID, fields); err != nil {
		return &PersistenceError{Op: "repair record totals", Err: err}
	}
	log.WithFields(log.Fields{"record_id": rec.ID, "bike_number": rec.BikeNumber}).Info("Repaired drifted record totals")
	*rec = fixed
	return nil
}

// Select makes one visit from the cached history the selected and active record.
func (m *RecordManager) Select(ctx context.Context, operator string, id uuid.UUID) (*models.ServiceRecord, error) {
	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	for i := range d.history {
		if d.history[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrRecordNotFound
	}

	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.heal(ctx, rec); err != nil {
		return nil, err
	}

	d.history[idx] = rec.Clone()
	selected := rec.Clone()
	active := rec.Clone()
	d.selected = &selected
	d.active = &active
	out := rec.Clone()
	return &out, nil
}

// Desk returns the operator's current working state.
func (m *RecordManager) Desk(operator string) DeskView {
	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view()
}

// PendingConfirmation returns the prompt waiting on the operator, if any.
func (m *RecordManager) PendingConfirmation(operator string) (*Prompt, error) {
	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return nil, ErrNoPendingConfirmation
	}
	p := d.pending.prompt
	return &p, nil
}

// Confirm runs the action behind a pending prompt. The prompt is consumed
// whether or not the action succeeds.
func (m *RecordManager) Confirm(ctx context.Context, operator, token string) (*Result, error) {
	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil || d.pending.prompt.Token != token {
		return nil, ErrNoPendingConfirmation
	}
	c := d.pending
	d.pending = nil
	return c.resume(ctx)
}

// Cancel drops a pending prompt without touching the record.
func (m *RecordManager) Cancel(operator, token string) error {
	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil || d.pending.prompt.Token != token {
		return ErrNoPendingConfirmation
	}
	d.pending = nil
	return nil
}

func (m *RecordManager) ask(d *desk, p Prompt, resume func(ctx context.Context) (*Result, error)) *Prompt {
	p.Token = m.newID()
	if p.CancelText == "" {
		p.CancelText = "Cancel"
	}
	d.pending = &confirmation{prompt: p, resume: resume}
	out := p
	return &out
}

// SetStatus moves a record to status. Delivery needs confirmation; every
// other status applies at once.
func (m *RecordManager) SetStatus(ctx context.Context, operator string, id uuid.UUID, status models.ServiceStatus) (*Result, error) {
	if !models.IsValidStatus(status) {
		return nil, invalid("serviceStatus", fmt.Sprintf("unknown status %q", status))
	}

	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()

	if status != models.StatusDelivered {
		rec, err := m.mutate(ctx, d, id, func(rec *models.ServiceRecord) (map[string]interface{}, error) {
			if rec.ServiceStatus == status {
				return nil, nil
			}
			rec.ServiceStatus = status
			return map[string]interface{}{models.ColServiceStatus: status}, nil
		})
		if err != nil {
			return nil, err
		}
		return &Result{Record: rec}, nil
	}

	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ServiceStatus == models.StatusDelivered {
		return &Result{Record: rec}, nil
	}

	p := Prompt{
		Title:       "Mark as Delivered",
		Message:     fmt.Sprintf("Mark bike %s as delivered? The customer will be notified.", rec.BikeNumber),
		ConfirmText: "Yes, Deliver",
		Kind:        KindSuccess,
		Action:      ActionDeliver,
		RecordID:    id,
	}
	if pending := models.ComputePending(rec.TotalCost, rec.AmountPaid); pending > 0 {
		p = Prompt{
			Title:       "Pending Payment",
			Message:     fmt.Sprintf("Bike %s still has ₹%.2f pending. Deliver anyway?", rec.BikeNumber, pending),
			ConfirmText: "Deliver Anyway",
			Kind:        KindWarning,
			Action:      ActionDeliverWithPending,
			RecordID:    id,
		}
	}

	prompt := m.ask(d, p, func(ctx context.Context) (*Result, error) {
		return m.deliver(ctx, d, id)
	})
	return &Result{Record: rec, Confirmation: prompt}, nil
}

func (m *RecordManager) deliver(ctx context.Context, d *desk, id uuid.UUID) (*Result, error) {
	rec, err := m.mutate(ctx, d, id, func(rec *models.ServiceRecord) (map[string]interface{}, error) {
		now := m.now()
		rec.ServiceStatus = models.StatusDelivered
		rec.DeliveryDate = &now
		return map[string]interface{}{
			models.ColServiceStatus: models.StatusDelivered,
			models.ColDeliveryDate:  now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Record: rec}
	if m.notifier != nil {
		err := m.notifier.NotifyDelivered(ctx, DeliveryNotice{
			RecordID:     rec.ID,
			Phone:        rec.Phone,
			CustomerName: rec.CustomerName,
			ServiceType:  rec.ServiceType,
			BikeNumber:   rec.BikeNumber,
			TotalCost:    rec.TotalCost,
		})
		if err != nil {
			res.Warning = fmt.Sprintf("Marked as delivered, but the customer could not be notified: %v", err)
		}
	}
	return res, nil
}

// AddServiceItem bills an extra item on a record that is not yet delivered.
func (m *RecordManager) AddServiceItem(ctx context.Context, operator string, id uuid.UUID, itemName string, itemCost float64) (*Result, error) {
	name := strings.TrimSpace(itemName)
	if name == "" {
		return nil, invalid("itemName", "item name is required")
	}
	if !positive(itemCost) {
		return nil, invalid("itemCost", "item cost must be greater than 0")
	}
	if err := checkPaise("itemCost", itemCost); err != nil {
		return nil, err
	}

	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := m.mutate(ctx, d, id, func(rec *models.ServiceRecord) (map[string]interface{}, error) {
		if rec.ServiceStatus == models.StatusDelivered {
			return nil, ErrItemsFrozen
		}
		rec.ServiceItems = append(rec.ServiceItems, models.ServiceItem{
			ID:       m.newID(),
			ItemName: name,
			ItemCost: itemCost,
		})
		return itemFields(rec), nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Record: rec}, nil
}

// RemoveServiceItem asks for confirmation before dropping an item. An id the
// record does not carry is a no-op.
func (m *RecordManager) RemoveServiceItem(ctx context.Context, operator string, id uuid.UUID, itemID string) (*Result, error) {
	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ServiceStatus == models.StatusDelivered {
		return nil, ErrItemsFrozen
	}

	var item *models.ServiceItem
	for i := range rec.ServiceItems {
		if rec.ServiceItems[i].ID == itemID {
			item = &rec.ServiceItems[i]
			break
		}
	}
	if item == nil {
		return &Result{Record: rec}, nil
	}

	prompt := m.ask(d, Prompt{
		Title:       "Remove Service Item",
		Message:     fmt.Sprintf("Remove %q (₹%.2f) from bike %s?", item.ItemName, item.ItemCost, rec.BikeNumber),
		ConfirmText: "Remove",
		Kind:        KindDanger,
		Action:      ActionRemoveItem,
		RecordID:    id,
	}, func(ctx context.Context) (*Result, error) {
		rec, err := m.mutate(ctx, d, id, func(rec *models.ServiceRecord) (map[string]interface{}, error) {
			if rec.ServiceStatus == models.StatusDelivered {
				return nil, ErrItemsFrozen
			}
			if !rec.HasItem(itemID) {
				return nil, nil
			}
			kept := make(models.ServiceItems, 0, len(rec.ServiceItems))
			for _, it := range rec.ServiceItems {
				if it.ID != itemID {
					kept = append(kept, it)
				}
			}
			rec.ServiceItems = kept
			return itemFields(rec), nil
		})
		if err != nil {
			return nil, err
		}
		return &Result{Record: rec}, nil
	})
	return &Result{Record: rec, Confirmation: prompt}, nil
}

// PostPayment records money received. Payments are accepted at any status.
func (m *RecordManager) PostPayment(ctx context.Context, operator string, id uuid.UUID, amount float64, method, notes string) (*Result, error) {
	if !positive(amount) {
		return nil, invalid("amount", "payment amount must be greater than 0")
	}
	if err := checkPaise("amount", amount); err != nil {
		return nil, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = models.DefaultPaymentMethod
	}

	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := m.mutate(ctx, d, id, func(rec *models.ServiceRecord) (map[string]interface{}, error) {
		rec.AmountPaid += amount
		rec.PaymentHistory = append(rec.PaymentHistory, models.PaymentEntry{
			ID:            m.newID(),
			Amount:        amount,
			Date:          m.now(),
			Notes:         strings.TrimSpace(notes),
			PaymentMethod: method,
		})
		applyDerived(rec)
		return map[string]interface{}{
			models.ColAmountPaid:     rec.AmountPaid,
			models.ColPendingAmount:  rec.PendingAmount,
			models.ColPaymentHistory: rec.PaymentHistory,
			models.ColTotalCost:      rec.TotalCost,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Record: rec}, nil
}

// Recalculate repairs the derived totals and writes them only if they drifted.
func (m *RecordManager) Recalculate(ctx context.Context, operator string, id uuid.UUID) (*Result, error) {
	d := m.desk(operator)
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := m.mutate(ctx, d, id, func(*models.ServiceRecord) (map[string]interface{}, error) {
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Record: rec}, nil
}

// mutate is the single write path: lock, load fresh, apply fn to a copy,
// restore the derived totals, persist in one update, then refresh the desk.
// On any error the desk is left as it was.
func (m *RecordManager) mutate(ctx context.Context, d *desk, id uuid.UUID, fn func(*models.ServiceRecord) (map[string]interface{}, error)) (*models.ServiceRecord, error) {
	unlock, err := m.locks.TryLock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	next := stored.Clone()
	fields, err := fn(&next)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	applyDerived(&next)
	if next.TotalCost != stored.TotalCost {
		fields[models.ColTotalCost] = next.TotalCost
	}
	if next.PendingAmount != stored.PendingAmount {
		fields[models.ColPendingAmount] = next.PendingAmount
	}

	if len(fields) > 0 {
		sctx, cancel := m.storeCtx(ctx)
		defer cancel()
		if err := m.store.UpdateFields(sctx, id, fields); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrRecordNotFound
			}
			return nil, &PersistenceError{Op: "update record", Err: err}
		}
	}

	d.sync(next)
	out := next.Clone()
	return &out, nil
}

func (m *RecordManager) load(ctx context.Context, id uuid.UUID) (*models.ServiceRecord, error) {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	rec, err := m.store.FindByID(sctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, &PersistenceError{Op: "load record", Err: err}
	}
	return rec, nil
}

// applyDerived recomputes totalCost and pendingAmount in place and returns
// them as update fields.
func applyDerived(rec *models.ServiceRecord) map[string]interface{} {
	rec.TotalCost = models.ComputeTotal(rec.ServiceCost, rec.ServiceItems)
	rec.PendingAmount = models.ComputePending(rec.TotalCost, rec.AmountPaid)
	return map[string]interface{}{
		models.ColTotalCost:     rec.TotalCost,
		models.ColPendingAmount: rec.PendingAmount,
	}
}

func itemFields(rec *models.ServiceRecord) map[string]interface{} {
	fields := applyDerived(rec)
	fields[models.ColServiceItems] = rec.ServiceItems
	return fields
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func checkPaise(field string, v float64) error {
	if !models.InPaise(v) {
		return invalid(field, "amount cannot have more than 2 decimal places")
	}
	return nil
}
