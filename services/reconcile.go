package services

import (
	"context"
	"errors"
	"time"

	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const reconcileBatchSize = 200

// Reconciler periodically repairs records whose derived totals drifted,
// e.g. after direct edits in the database console.
type Reconciler struct {
	store   Store
	locks   RecordLocker
	timeout time.Duration
	cron    *cron.Cron
}

func NewReconciler(store Store, locks RecordLocker, timeout time.Duration) *Reconciler {
	return &Reconciler{store: store, locks: locks, timeout: timeout, cron: cron.New()}
}

// Start schedules the sweep. An empty schedule disables it.
func (r *Reconciler) Start(schedule string) error {
	if schedule == "" {
		log.Info("Reconcile sweep disabled")
		return nil
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.ReconcileAll(context.Background()); err != nil {
			log.WithError(err).Error("Reconcile sweep failed")
		}
	}); err != nil {
		return err
	}
	r.cron.Start()
	log.WithField("schedule", schedule).Info("Reconcile scheduler started")
	return nil
}

// Stop waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// ReconcileAll walks every record and rewrites drifted totals. Records locked
// by an in-flight mutation are skipped; that mutation restores them anyway.
func (r *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	start := time.Now()
	repaired, skipped := 0, 0

	err := r.store.EachBatch(ctx, reconcileBatchSize, func(batch []models.ServiceRecord) error {
		for i := range batch {
			rec := batch[i]
			if !rec.Drifted() {
				continue
			}
			ok, err := r.repair(ctx, &rec)
			if err != nil {
				return err
			}
			if ok {
				repaired++
			} else {
				skipped++
			}
		}
		return nil
	})

	entry := log.WithFields(log.Fields{
		"repaired": repaired,
		"skipped":  skipped,
		"took":     time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Error("Reconcile sweep stopped early")
		return repaired, &PersistenceError{Op: "reconcile records", Err: err}
	}
	entry.Info("Reconcile sweep finished")
	return repaired, nil
}

func (r *Reconciler) repair(ctx context.Context, rec *models.ServiceRecord) (bool, error) {
	unlock, err := r.locks.TryLock(ctx, rec.ID)
	if errors.Is(err, ErrRecordBusy) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer unlock()

	fields := applyDerived(rec)
	sctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.store.UpdateFields(sctx, rec.ID, fields); err != nil {
		return false, err
	}
	log.WithFields(log.Fields{"record_id": rec.ID, "bike_number": rec.BikeNumber}).Info("Repaired drifted record totals")
	return true, nil
}
