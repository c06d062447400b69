package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"reviewpilot-backend/config"
	"reviewpilot-backend/logging"
	"reviewpilot-backend/models"
	"reviewpilot-backend/monitoring"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	reconcileBatchSize = 50
	notifyRetryAfter   = 10 * time.Minute
	notifyMaxAge       = 24 * time.Hour
	outletTimeout      = 3 * time.Minute
)

var (
	ErrReviewNotFound   = errors.New("review not found")
	ErrNotAwaitingReply = errors.New("review is not awaiting a manual reply")
)

// ReviewPlatform is the slice of the review-platform client the engine uses.
type ReviewPlatform interface {
	FetchReviews(ctx context.Context, locationName, refreshToken string, since *time.Time) ([]ExternalReview, error)
	PostReply(ctx context.Context, locationName, reviewID, comment, refreshToken string) error
}

// ReplyGenerator produces reply text for positive reviews.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, reviewText string, rating int, outletName string) (string, error)
}

// MessageSender delivers owner and admin notifications.
type MessageSender interface {
	SendCriticalAlert(ctx context.Context, recipient, outletName string, review *models.Review) error
	SendAutoReplyNotice(ctx context.Context, recipient, outletName string, review *models.Review, reply string) error
	SendReminder(ctx context.Context, recipient, outletName string, review *models.Review, reminderNumber int, pendingFor time.Duration) error
	SendEscalation(ctx context.Context, recipient, outletName string, review *models.Review, reminderCount int, pendingFor time.Duration) error
	ResendPending(ctx context.Context, olderThan, maxAge time.Duration) (int, error)
}

// CycleStats summarizes one automation cycle for logs and the status API.
type CycleStats struct {
	StartedAt           time.Time     `json:"startedAt"`
	Duration            time.Duration `json:"duration"`
	OutletsProcessed    int           `json:"outletsProcessed"`
	OutletsSkipped      int           `json:"outletsSkipped"`
	OutletsFailed       int           `json:"outletsFailed"`
	ReviewsFetched      int           `json:"reviewsFetched"`
	ReviewsCreated      int           `json:"reviewsCreated"`
	AutoReplied         int           `json:"autoReplied"`
	RepliesPosted       int           `json:"repliesPosted"`
	CriticalQueued      int           `json:"criticalQueued"`
	RemindersSent       int           `json:"remindersSent"`
	Escalations         int           `json:"escalations"`
	NotificationsResent int           `json:"notificationsResent"`
	Errors              int           `json:"errors"`
}

// EngineStatus is the snapshot served by the ops API.
type EngineStatus struct {
	Running     bool        `json:"running"`
	CycleActive bool        `json:"cycleActive"`
	LastCycle   *CycleStats `json:"lastCycle,omitempty"`
}

// AutomationEngine drives the whole review pipeline: it polls reviews for
// eligible outlets, auto-replies to positive ones, queues critical ones and
// walks the reminder ladder. One cycle runs at a time.
type AutomationEngine struct {
	db          *gorm.DB
	cfg         config.AutomationConfig
	reviews     *ReviewStore
	workflows   *WorkflowStore
	queue       *ManualQueueStore
	eligibility *EligibilityService
	platform    ReviewPlatform
	generator   ReplyGenerator
	notifier    MessageSender
	log         *logrus.Entry

	mu          sync.Mutex
	cron        *cron.Cron
	cycleActive atomic.Bool

	statsMu   sync.RWMutex
	lastStats *CycleStats
}

func NewAutomationEngine(
	db *gorm.DB,
	cfg config.AutomationConfig,
	reviews *ReviewStore,
	workflows *WorkflowStore,
	queue *ManualQueueStore,
	eligibility *EligibilityService,
	platform ReviewPlatform,
	generator ReplyGenerator,
	notifier MessageSender,
) *AutomationEngine {
	return &AutomationEngine{
		db:          db,
		cfg:         cfg,
		reviews:     reviews,
		workflows:   workflows,
		queue:       queue,
		eligibility: eligibility,
		platform:    platform,
		generator:   generator,
		notifier:    notifier,
		log:         logging.Component("automation"),
	}
}

// Start schedules the repeating cycle and kicks off an immediate first run.
// Calling Start on a running engine does nothing.
func (e *AutomationEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron != nil {
		e.log.Debug("engine already running")
		return
	}
	if !e.cfg.Enabled {
		e.log.Info("automation disabled, engine not started")
		return
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", e.cfg.PollInterval)
	if _, err := c.AddFunc(spec, func() { e.RunCycle(context.Background()) }); err != nil {
		e.log.WithError(err).Error("failed to schedule automation cycle")
		return
	}
	c.Start()
	e.cron = c

	go e.RunCycle(context.Background())
	e.log.WithField("interval", e.cfg.PollInterval.String()).Info("automation engine started")
}

// Stop halts the schedule. An in-flight cycle finishes on its own; cycles are
// short next to the poll interval so Stop does not wait on it.
func (e *AutomationEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cron == nil {
		return
	}
	e.cron.Stop()
	e.cron = nil
	e.log.Info("automation engine stopped")
}

func (e *AutomationEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cron != nil
}

// TriggerCycle starts an out-of-schedule cycle unless one is already running.
// Reports whether a cycle was started.
func (e *AutomationEngine) TriggerCycle() bool {
	if e.cycleActive.Load() {
		return false
	}
	go e.RunCycle(context.Background())
	return true
}

func (e *AutomationEngine) Status() EngineStatus {
	status := EngineStatus{
		Running:     e.Running(),
		CycleActive: e.cycleActive.Load(),
	}
	e.statsMu.RLock()
	if e.lastStats != nil {
		copied := *e.lastStats
		status.LastCycle = &copied
	}
	e.statsMu.RUnlock()
	return status
}

// RunCycle executes one full pass: reconcile leftovers from earlier cycles,
// fetch and classify new reviews, then work the reminder ladder. Overlapping
// invocations are dropped, not queued.
func (e *AutomationEngine) RunCycle(ctx context.Context) {
	if !e.cycleActive.CompareAndSwap(false, true) {
		e.log.Warn("cycle already in progress, skipping")
		monitoring.CyclesTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer e.cycleActive.Store(false)

	stats := &CycleStats{StartedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).Error("cycle aborted by panic")
			monitoring.CyclesTotal.WithLabelValues("panic").Inc()
			stats.Errors++
		}
		stats.Duration = time.Since(stats.StartedAt)
		monitoring.CycleDuration.Observe(stats.Duration.Seconds())
		e.statsMu.Lock()
		e.lastStats = stats
		e.statsMu.Unlock()
		e.log.WithFields(logrus.Fields{
			"duration":  stats.Duration.String(),
			"outlets":   stats.OutletsProcessed,
			"fetched":   stats.ReviewsFetched,
			"created":   stats.ReviewsCreated,
			"replied":   stats.AutoReplied,
			"queued":    stats.CriticalQueued,
			"reminders": stats.RemindersSent,
			"escalated": stats.Escalations,
			"errors":    stats.Errors,
		}).Info("cycle complete")
	}()

	e.log.Debug("cycle started")
	e.reconcile(ctx, stats)
	e.fetchAndClassify(ctx, stats)
	e.processReminders(ctx, stats)
	monitoring.CyclesTotal.WithLabelValues("ok").Inc()
}

// reconcile retries work left behind by earlier cycles before any new work
// is taken on, so each item gets at most one attempt per cycle.
func (e *AutomationEngine) reconcile(ctx context.Context, stats *CycleStats) {
	stuck, err := e.reviews.ListPendingPositives(reconcileBatchSize)
	if err != nil {
		e.log.WithError(err).Error("failed to list stuck positive reviews")
		stats.Errors++
	} else {
		for i := range stuck {
			review := &stuck[i]
			outlet, err := e.eligibility.EligibleOutletByID(ctx, review.OutletID)
			if err != nil {
				e.log.WithError(err).Error("failed to load outlet for stuck review")
				stats.Errors++
				continue
			}
			if outlet == nil {
				continue
			}
			e.processPositive(ctx, outlet, review, stats)
		}
	}

	unposted, err := e.reviews.ListUnpostedAutoReplies(reconcileBatchSize)
	if err != nil {
		e.log.WithError(err).Error("failed to list unposted auto replies")
		stats.Errors++
	} else {
		for i := range unposted {
			review := &unposted[i]
			outlet, err := e.eligibility.EligibleOutletByID(ctx, review.OutletID)
			if err != nil {
				e.log.WithError(err).Error("failed to load outlet for unposted reply")
				stats.Errors++
				continue
			}
			if outlet == nil {
				continue
			}
			e.finishAutoReply(ctx, outlet, review, stats)
		}
	}

	resent, err := e.notifier.ResendPending(ctx, notifyRetryAfter, notifyMaxAge)
	if err != nil {
		e.log.WithError(err).Error("failed to resend pending notifications")
		stats.Errors++
	}
	stats.NotificationsResent = resent
}

// fetchAndClassify polls every eligible outlet. One outlet failing never
// touches the others.
func (e *AutomationEngine) fetchAndClassify(ctx context.Context, stats *CycleStats) {
	outlets, err := e.eligibility.ListEligibleOutlets(ctx)
	if err != nil {
		e.log.WithError(err).Error("failed to list eligible outlets")
		stats.Errors++
		return
	}
	for i := range outlets {
		outlet := &outlets[i]
		if outlet.GoogleLocationName == "" || outlet.OwnerRefreshToken == "" {
			e.log.WithField("outlet", outlet.ID).Debug("outlet has no platform credentials, skipping")
			stats.OutletsSkipped++
			continue
		}
		outletCtx, cancel := context.WithTimeout(ctx, outletTimeout)
		err := e.processOutlet(outletCtx, outlet, stats)
		cancel()
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"outlet": outlet.ID,
				"name":   outlet.Name,
			}).WithError(err).Error("outlet processing failed")
			stats.OutletsFailed++
			stats.Errors++
			continue
		}
		stats.OutletsProcessed++
	}
}

func (e *AutomationEngine) processOutlet(ctx context.Context, outlet *EligibleOutlet, stats *CycleStats) error {
	fetchStart := time.Now()
	since, err := e.reviews.Checkpoint(outlet.ID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	fetched, err := e.platform.FetchReviews(ctx, outlet.GoogleLocationName, outlet.OwnerRefreshToken, since)
	if err != nil {
		monitoring.FetchFailures.WithLabelValues(errorClass(err)).Inc()
		return fmt.Errorf("fetch reviews: %w", err)
	}
	stats.ReviewsFetched += len(fetched)

	for i := range fetched {
		if err := e.classifyReview(ctx, outlet, &fetched[i], stats); err != nil {
			e.log.WithFields(logrus.Fields{
				"outlet":      outlet.ID,
				"external_id": fetched[i].ID,
			}).WithError(err).Error("failed to classify review")
			stats.Errors++
		}
	}

	// The checkpoint moves only after a successful fetch; a failed cycle
	// re-reads from the previous mark and idempotency absorbs the overlap.
	if err := e.reviews.SaveCheckpoint(outlet.ID, fetchStart); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// classifyReview persists one fetched review and routes it down the positive
// or critical path. Already-seen reviews are dropped here.
func (e *AutomationEngine) classifyReview(ctx context.Context, outlet *EligibleOutlet, ext *ExternalReview, stats *CycleStats) error {
	if ext.ID != "" {
		existing, err := e.reviews.FindByExternalID(ext.ID)
		if err != nil {
			return fmt.Errorf("dedupe by external id: %w", err)
		}
		if existing != nil {
			return nil
		}
	} else {
		existing, err := e.reviews.FindByTuple(outlet.ID, ext.Reviewer, ext.Rating)
		if err != nil {
			return fmt.Errorf("dedupe by tuple: %w", err)
		}
		if existing != nil {
			return nil
		}
	}

	review := &models.Review{
		OutletID:     outlet.ID,
		Rating:       ext.Rating,
		CustomerName: ext.Reviewer,
		ReviewText:   ext.Comment,
		Status:       models.ReviewStatusPending,
	}
	if ext.ID != "" {
		id := ext.ID
		review.ExternalReviewID = &id
	}

	critical := ext.Rating <= 3
	now := time.Now()
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.reviews.WithTx(tx).Create(review); err != nil {
			return err
		}
		if err := e.workflows.WithTx(tx).Init(review.ID, now); err != nil {
			return err
		}
		if critical {
			if _, err := e.queue.WithTx(tx).AddToQueue(review.ID, outlet.ID); err != nil {
				return err
			}
			if err := e.reviews.WithTx(tx).SetStatus(review.ID, models.ReviewStatusManualPending); err != nil {
				return err
			}
			if err := e.workflows.WithTx(tx).Advance(review.ID, models.StateManualPending); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist review: %w", err)
	}
	stats.ReviewsCreated++

	if critical {
		review.Status = models.ReviewStatusManualPending
		monitoring.ReviewsIngested.WithLabelValues("critical").Inc()
		stats.CriticalQueued++
		e.log.WithFields(logrus.Fields{
			"outlet":   outlet.Name,
			"rating":   review.Rating,
			"customer": review.CustomerName,
		}).Info("critical review queued for manual response")
		if outlet.OwnerPhone != "" {
			if err := e.notifier.SendCriticalAlert(ctx, outlet.OwnerPhone, outlet.Name, review); err != nil {
				e.log.WithError(err).Warn("critical alert not delivered")
			}
		}
		return nil
	}

	monitoring.ReviewsIngested.WithLabelValues("positive").Inc()
	e.processPositive(ctx, outlet, review, stats)
	return nil
}

// processPositive generates the reply if the review does not have one yet,
// then posts it. A generation failure leaves the review PENDING for the next
// cycle's reconciliation pass.
func (e *AutomationEngine) processPositive(ctx context.Context, outlet *EligibleOutlet, review *models.Review, stats *CycleStats) {
	if review.AIReplyText == nil {
		reply, err := e.generator.GenerateReply(ctx, review.ReviewText, review.Rating, outlet.Name)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"review":      review.ID,
				"error_class": "transient",
			}).WithError(err).Error("reply generation failed, review stays pending")
			stats.Errors++
			return
		}
		err = e.db.Transaction(func(tx *gorm.DB) error {
			if err := e.reviews.WithTx(tx).SetAutoReply(review.ID, reply); err != nil {
				return err
			}
			return e.workflows.WithTx(tx).Advance(review.ID, models.StateAutoReplied)
		})
		if err != nil {
			e.log.WithError(err).Error("failed to store generated reply")
			stats.Errors++
			return
		}
		review.AIReplyText = &reply
		review.Status = models.ReviewStatusAutoReplied
		stats.AutoReplied++
	}
	e.finishAutoReply(ctx, outlet, review, stats)
}

// finishAutoReply posts the stored reply to the platform, closes the review
// and tells the owner. A post failure leaves the review AUTO_REPLIED so the
// next cycle retries it.
func (e *AutomationEngine) finishAutoReply(ctx context.Context, outlet *EligibleOutlet, review *models.Review, stats *CycleStats) {
	if review.AIReplyText == nil {
		e.log.WithField("review", review.ID).Error("auto-replied review has no reply text")
		stats.Errors++
		return
	}

	if review.ExternalReviewID == nil {
		// No platform id, nothing to post against. Close it locally so the
		// reconciliation batch is not clogged with unpostable rows.
		e.log.WithFields(logrus.Fields{
			"review":      review.ID,
			"error_class": "integrity",
		}).Warn("review has no external id, closing without posting")
	} else {
		err := e.platform.PostReply(ctx, outlet.GoogleLocationName, *review.ExternalReviewID, *review.AIReplyText, outlet.OwnerRefreshToken)
		if err != nil {
			monitoring.RepliesPosted.WithLabelValues("failed").Inc()
			e.log.WithFields(logrus.Fields{
				"review":      review.ID,
				"error_class": errorClass(err),
			}).WithError(err).Error("failed to post reply, will retry next cycle")
			stats.Errors++
			return
		}
		monitoring.RepliesPosted.WithLabelValues("ok").Inc()
		stats.RepliesPosted++
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.reviews.WithTx(tx).SetStatus(review.ID, models.ReviewStatusClosed); err != nil {
			return err
		}
		return e.workflows.WithTx(tx).Advance(review.ID, models.StateClosed)
	})
	if err != nil {
		e.log.WithError(err).Error("failed to close auto-replied review")
		stats.Errors++
		return
	}
	review.Status = models.ReviewStatusClosed

	if outlet.OwnerPhone != "" {
		if err := e.notifier.SendAutoReplyNotice(ctx, outlet.OwnerPhone, outlet.Name, review, *review.AIReplyText); err != nil {
			e.log.WithError(err).Warn("auto-reply notice not delivered")
		}
	}
}

// processReminders walks due queue entries, sends their reminders and
// escalates the ones that ran out of attempts.
func (e *AutomationEngine) processReminders(ctx context.Context, stats *CycleStats) {
	due, err := e.queue.GetPendingReminders(time.Now())
	if err != nil {
		e.log.WithError(err).Error("failed to load due reminders")
		stats.Errors++
		return
	}
	for i := range due {
		if err := e.processReminder(ctx, &due[i], stats); err != nil {
			e.log.WithFields(logrus.Fields{
				"entry":  due[i].ID,
				"review": due[i].ReviewID,
			}).WithError(err).Error("reminder processing failed")
			stats.Errors++
		}
	}
}

func (e *AutomationEngine) processReminder(ctx context.Context, entry *models.ManualQueueEntry, stats *CycleStats) error {
	wf, err := e.workflows.Get(entry.ReviewID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf != nil && wf.CurrentState.IsReminderTerminal() {
		// A stale timer on a finished review; warn and leave the entry alone.
		e.log.WithFields(logrus.Fields{
			"review": entry.ReviewID,
			"state":  wf.CurrentState,
		}).Warn("reminder due for terminal review, skipping")
		return nil
	}

	review, err := e.reviews.FindByID(entry.ReviewID)
	if err != nil {
		return fmt.Errorf("load review: %w", err)
	}
	if review == nil {
		e.log.WithFields(logrus.Fields{
			"entry":       entry.ID,
			"review":      entry.ReviewID,
			"error_class": "integrity",
		}).Error("queue entry references a missing review")
		return nil
	}
	outlet, err := e.eligibility.Outlet(ctx, entry.OutletID)
	if err != nil {
		return fmt.Errorf("load outlet: %w", err)
	}
	if outlet == nil {
		e.log.WithFields(logrus.Fields{
			"entry":       entry.ID,
			"outlet":      entry.OutletID,
			"error_class": "integrity",
		}).Error("queue entry references a missing outlet")
		return nil
	}

	recipient := ""
	if entry.AssignedAdminID != nil {
		recipient, err = e.eligibility.AdminPhone(ctx, *entry.AssignedAdminID)
		if err != nil {
			e.log.WithError(err).Warn("failed to resolve assigned admin, falling back to owner")
		}
	}
	if recipient == "" {
		recipient = outlet.OwnerPhone
	}

	now := time.Now()
	pendingFor := now.Sub(entry.CreatedAt)
	if recipient == "" {
		// Nobody to remind; the attempt still counts so the entry eventually
		// escalates to the super-admins instead of spinning forever.
		e.log.WithField("entry", entry.ID).Warn("no reminder recipient, advancing without send")
	} else {
		if err := e.notifier.SendReminder(ctx, recipient, outlet.Name, review, entry.ReminderCount+1, pendingFor); err != nil {
			return fmt.Errorf("send reminder: %w", err)
		}
		monitoring.RemindersSent.Inc()
		stats.RemindersSent++
	}

	updated, err := e.queue.UpdateReminderSent(entry.ID, now)
	if err != nil {
		return fmt.Errorf("advance reminder ladder: %w", err)
	}
	if err := e.workflows.SyncReminderState(entry.ReviewID, updated.ReminderCount, now, updated.NextReminderAt); err != nil {
		e.log.WithError(err).Error("failed to mirror reminder state onto workflow")
	}

	if updated.Status == models.QueueStatusEscalated {
		e.escalate(ctx, outlet, review, updated, recipient, stats)
	}
	return nil
}

// escalate flips the review to ESCALATED and fans the alarm out to the
// primary recipient plus every super-admin.
func (e *AutomationEngine) escalate(ctx context.Context, outlet *EligibleOutlet, review *models.Review, entry *models.ManualQueueEntry, primary string, stats *CycleStats) {
	err := e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.reviews.WithTx(tx).SetStatus(review.ID, models.ReviewStatusEscalated); err != nil {
			return err
		}
		return e.workflows.WithTx(tx).Advance(review.ID, models.StateEscalated)
	})
	if err != nil {
		e.log.WithError(err).Error("failed to mark review escalated")
		stats.Errors++
		return
	}
	review.Status = models.ReviewStatusEscalated
	monitoring.EscalationsTotal.Inc()
	stats.Escalations++
	e.log.WithFields(logrus.Fields{
		"review":    review.ID,
		"outlet":    outlet.Name,
		"reminders": entry.ReminderCount,
	}).Warn("review escalated after exhausting reminders")

	recipients := make([]string, 0, 4)
	seen := make(map[string]bool)
	if primary != "" {
		recipients = append(recipients, primary)
		seen[primary] = true
	}
	supers, err := e.eligibility.SuperAdminPhones(ctx)
	if err != nil {
		e.log.WithError(err).Error("failed to list super-admins for escalation")
		stats.Errors++
	}
	for _, phone := range supers {
		if !seen[phone] {
			recipients = append(recipients, phone)
			seen[phone] = true
		}
	}

	pendingFor := time.Since(entry.CreatedAt)
	for _, recipient := range recipients {
		if err := e.notifier.SendEscalation(ctx, recipient, outlet.Name, review, entry.ReminderCount, pendingFor); err != nil {
			e.log.WithFields(logrus.Fields{
				"recipient": recipient,
			}).WithError(err).Warn("escalation notice not delivered")
		}
	}
}

// RespondManually records a human reply for a queued review, posts it to the
// platform best-effort and completes the workflow. Used by the ops API.
func (e *AutomationEngine) RespondManually(ctx context.Context, reviewID uuid.UUID, replyText string, adminID *uuid.UUID) error {
	review, err := e.reviews.FindByID(reviewID)
	if err != nil {
		return err
	}
	if review == nil {
		return ErrReviewNotFound
	}
	if review.Status != models.ReviewStatusManualPending && review.Status != models.ReviewStatusEscalated {
		return fmt.Errorf("%w: status %s", ErrNotAwaitingReply, review.Status)
	}

	outlet, err := e.eligibility.Outlet(ctx, review.OutletID)
	if err != nil {
		return err
	}

	if review.ExternalReviewID != nil && outlet != nil &&
		outlet.GoogleLocationName != "" && outlet.OwnerRefreshToken != "" {
		if err := e.platform.PostReply(ctx, outlet.GoogleLocationName, *review.ExternalReviewID, replyText, outlet.OwnerRefreshToken); err != nil {
			// The reply is still recorded; the owner can publish it by hand.
			e.log.WithFields(logrus.Fields{
				"review":      review.ID,
				"error_class": errorClass(err),
			}).WithError(err).Warn("manual reply not posted to platform")
		}
	}

	err = e.db.Transaction(func(tx *gorm.DB) error {
		if err := e.reviews.WithTx(tx).SetManualReply(review.ID, replyText); err != nil {
			return err
		}
		entry, err := e.queue.WithTx(tx).FindByReviewID(review.ID)
		if err != nil {
			return err
		}
		if entry != nil {
			if _, err := e.queue.WithTx(tx).MarkAsResponded(entry.ID); err != nil {
				return err
			}
			if adminID != nil && entry.AssignedAdminID == nil {
				entry.AssignedAdminID = adminID
				if err := tx.Save(entry).Error; err != nil {
					return err
				}
			}
		}
		return e.workflows.WithTx(tx).Advance(review.ID, models.StateCompleted)
	})
	if err != nil {
		return fmt.Errorf("record manual reply: %w", err)
	}
	e.log.WithField("review", review.ID).Info("manual reply recorded")
	return nil
}

// errorClass extracts the taxonomy bucket for metrics labels from an error
// chain produced by the outbound clients.
func errorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return "transient"
	case errors.Is(err, ErrRateLimited):
		return "transient"
	default:
		msg := err.Error()
		switch {
		case containsAny(msg, "status 401", "status 403", "refresh credentials", "token rejected"):
			return "auth"
		case containsAny(msg, "status 429", "status 5", "timeout", "connection refused", "no such host"):
			return "transient"
		default:
			return "unexpected"
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
