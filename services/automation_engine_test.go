package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reviewpilot-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePlatform struct {
	mu         sync.Mutex
	reviews    map[string][]ExternalReview
	fetchErr   map[string]error
	postErr    error
	posted     map[string]string
	fetchCalls int
	lastSince  map[string]*time.Time
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		reviews:   make(map[string][]ExternalReview),
		fetchErr:  make(map[string]error),
		posted:    make(map[string]string),
		lastSince: make(map[string]*time.Time),
	}
}

func (f *fakePlatform) FetchReviews(_ context.Context, locationName, _ string, since *time.Time) ([]ExternalReview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	f.lastSince[locationName] = since
	if err := f.fetchErr[locationName]; err != nil {
		return nil, err
	}
	out := make([]ExternalReview, len(f.reviews[locationName]))
	copy(out, f.reviews[locationName])
	return out, nil
}

func (f *fakePlatform) PostReply(_ context.Context, _, reviewID, comment, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posted[reviewID] = comment
	return nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) GenerateReply(_ context.Context, _ string, _ int, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type sentMessage struct {
	Recipient string
	ReviewID  uuid.UUID
	Number    int
}

type fakeNotifier struct {
	mu          sync.Mutex
	alerts      []sentMessage
	notices     []sentMessage
	reminders   []sentMessage
	escalations []sentMessage
	reminderErr error
}

func (f *fakeNotifier) SendCriticalAlert(_ context.Context, recipient, _ string, review *models.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, sentMessage{Recipient: recipient, ReviewID: review.ID})
	return nil
}

func (f *fakeNotifier) SendAutoReplyNotice(_ context.Context, recipient, _ string, review *models.Review, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, sentMessage{Recipient: recipient, ReviewID: review.ID})
	return nil
}

func (f *fakeNotifier) SendReminder(_ context.Context, recipient, _ string, review *models.Review, reminderNumber int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reminderErr != nil {
		return f.reminderErr
	}
	f.reminders = append(f.reminders, sentMessage{Recipient: recipient, ReviewID: review.ID, Number: reminderNumber})
	return nil
}

func (f *fakeNotifier) SendEscalation(_ context.Context, recipient, _ string, review *models.Review, reminderCount int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, sentMessage{Recipient: recipient, ReviewID: review.ID, Number: reminderCount})
	return nil
}

func (f *fakeNotifier) ResendPending(_ context.Context, _, _ time.Duration) (int, error) {
	return 0, nil
}

func newTestEngine(t *testing.T, db *gorm.DB, platform *fakePlatform, gen *fakeGenerator, notifier *fakeNotifier) *AutomationEngine {
	t.Helper()
	cfg := testAutomationConfig()
	return NewAutomationEngine(db, cfg,
		NewReviewStore(db),
		NewWorkflowStore(db),
		NewManualQueueStore(db, cfg),
		NewEligibilityService(db),
		platform, gen, notifier)
}

func positiveReview(id string) ExternalReview {
	return ExternalReview{
		ID:         id,
		Reviewer:   "Priya",
		Rating:     5,
		Comment:    "Loved the butter chicken, will be back!",
		CreateTime: time.Now().Add(-time.Hour),
		UpdateTime: time.Now().Add(-time.Hour),
	}
}

func criticalReview(id string) ExternalReview {
	return ExternalReview{
		ID:         id,
		Reviewer:   "Dana",
		Rating:     2,
		Comment:    "Cold food, long wait.",
		CreateTime: time.Now().Add(-time.Hour),
		UpdateTime: time.Now().Add(-time.Hour),
	}
}

func TestCycleAutoRepliesToPositiveReview(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	platform := newFakePlatform()
	platform.reviews[outlet.GoogleLocationName] = []ExternalReview{positiveReview("r-100")}
	gen := &fakeGenerator{reply: "Thank you Priya, see you soon!"}
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, db, platform, gen, notifier)

	engine.RunCycle(context.Background())

	review, err := NewReviewStore(db).FindByExternalID("r-100")
	require.NoError(t, err)
	require.NotNil(t, review)
	assert.Equal(t, models.ReviewStatusClosed, review.Status)
	require.NotNil(t, review.AIReplyText)
	assert.Equal(t, gen.reply, *review.AIReplyText)

	wf, err := NewWorkflowStore(db).Get(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, wf.CurrentState)

	assert.Equal(t, gen.reply, platform.posted["r-100"])
	require.Len(t, notifier.notices, 1)
	assert.Equal(t, outlet.OwnerPhone, notifier.notices[0].Recipient)

	var queued int64
	require.NoError(t, db.Model(&models.ManualQueueEntry{}).Count(&queued).Error)
	assert.EqualValues(t, 0, queued)
}

func TestCycleQueuesCriticalReview(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	platform := newFakePlatform()
	platform.reviews[outlet.GoogleLocationName] = []ExternalReview{criticalReview("r-200")}
	gen := &fakeGenerator{reply: "should never be used"}
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, db, platform, gen, notifier)

	engine.RunCycle(context.Background())

	review, err := NewReviewStore(db).FindByExternalID("r-200")
	require.NoError(t, err)
	require.NotNil(t, review)
	assert.Equal(t, models.ReviewStatusManualPending, review.Status)
	assert.Nil(t, review.AIReplyText)
	assert.Equal(t, 0, gen.calls)
	assert.Empty(t, platform.posted)

	entry, err := NewManualQueueStore(db, testAutomationConfig()).FindByReviewID(review.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 0, entry.ReminderCount)
	require.NotNil(t, entry.NextReminderAt)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), *entry.NextReminderAt, time.Minute)

	wf, err := NewWorkflowStore(db).Get(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateManualPending, wf.CurrentState)

	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, outlet.OwnerPhone, notifier.alerts[0].Recipient)
}

func TestCycleIgnoresAlreadySeenReviews(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	platform := newFakePlatform()
	platform.reviews[outlet.GoogleLocationName] = []ExternalReview{criticalReview("r-300")}
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, db, platform, &fakeGenerator{reply: "x"}, notifier)

	engine.RunCycle(context.Background())
	engine.RunCycle(context.Background())

	var count int64
	require.NoError(t, db.Model(&models.Review{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Len(t, notifier.alerts, 1)
}

func TestCycleDeduplicatesByTupleWithoutExternalID(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	platform := newFakePlatform()
	anon := positiveReview("")
	platform.reviews[outlet.GoogleLocationName] = []ExternalReview{anon}
	engine := newTestEngine(t, db, platform, &fakeGenerator{reply: "Thanks!"}, &fakeNotifier{})

	engine.RunCycle(context.Background())
	engine.RunCycle(context.Background())

	var count int64
	require.NoError(t, db.Model(&models.Review{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGenerationFailureLeavesReviewPendingUntilNextCycle(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	platform := newFakePlatform()
	platform.reviews[outlet.GoogleLocationName] = []ExternalReview{positiveReview("r-400")}
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	engine := newTestEngine(t, db, platform, gen, &fakeNotifier{})

	engine.RunCycle(context.Background())

	store := NewReviewStore(db)
	review, err := store.FindByExternalID("r-400")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusPending, review.Status)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, platform.posted)

	// Next cycle the generator is healthy again; reconciliation finishes the
	// review without re-ingesting it.
	gen.mu.Lock()
	gen.err = nil
	gen.reply = "Thank you!"
	gen.mu.Unlock()

	engine.RunCycle(context.Background())

	review, err = store.FindByExternalID("r-400")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusClosed, review.Status)
	assert.Equal(t, 2, gen.calls)
	assert.Equal(t, "Thank you!", platform.posted["r-400"])

	var count int64
	require.NoError(t, db.Model(&models.Review{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPostFailureRetriedWithoutRegenerating(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	platform := newFakePlatform()
	platform.reviews[outlet.GoogleLocationName] = []ExternalReview{positiveReview("r-500")}
	platform.postErr = errors.New("platform 503")
	gen := &fakeGenerator{reply: "Thanks a lot!"}
	engine := newTestEngine(t, db, platform, gen, &fakeNotifier{})

	engine.RunCycle(context.Background())

	store := NewReviewStore(db)
	review, err := store.FindByExternalID("r-500")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusAutoReplied, review.Status)

	platform.mu.Lock()
	platform.postErr = nil
	platform.mu.Unlock()

	engine.RunCycle(context.Background())

	review, err = store.FindByExternalID("r-500")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusClosed, review.Status)
	assert.Equal(t, "Thanks a lot!", platform.posted["r-500"])
	assert.Equal(t, 1, gen.calls)
}

func TestCycleSendsDueReminderAndReschedules(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	review, entry := seedQueuedReview(t, db, outlet.ID, 0, timePtr(time.Now().Add(-time.Minute)))
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, db, newFakePlatform(), &fakeGenerator{}, notifier)

	engine.RunCycle(context.Background())

	require.Len(t, notifier.reminders, 1)
	assert.Equal(t, outlet.OwnerPhone, notifier.reminders[0].Recipient)
	assert.Equal(t, 1, notifier.reminders[0].Number)
	assert.Equal(t, review.ID, notifier.reminders[0].ReviewID)

	reloaded, err := NewManualQueueStore(db, testAutomationConfig()).FindByReviewID(entry.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.ReminderCount)
	assert.Equal(t, models.QueueStatusPending, reloaded.Status)
	require.NotNil(t, reloaded.NextReminderAt)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), *reloaded.NextReminderAt, time.Minute)

	wf, err := NewWorkflowStore(db).Get(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateManualPending, wf.CurrentState)
	assert.Equal(t, 1, wf.ReminderCount)
}

func TestCycleEscalatesAfterFinalReminder(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	seedSuperAdmin(t, db, "+19995550001")
	review, _ := seedQueuedReview(t, db, outlet.ID, 4, timePtr(time.Now().Add(-time.Minute)))
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, db, newFakePlatform(), &fakeGenerator{}, notifier)

	engine.RunCycle(context.Background())

	// The fifth reminder still goes out, then the entry escalates.
	require.Len(t, notifier.reminders, 1)
	assert.Equal(t, 5, notifier.reminders[0].Number)

	reloaded, err := NewManualQueueStore(db, testAutomationConfig()).FindByReviewID(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusEscalated, reloaded.Status)
	assert.Equal(t, 5, reloaded.ReminderCount)
	assert.Nil(t, reloaded.NextReminderAt)

	got, err := NewReviewStore(db).FindByID(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusEscalated, got.Status)

	wf, err := NewWorkflowStore(db).Get(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateEscalated, wf.CurrentState)

	recipients := make([]string, 0, len(notifier.escalations))
	for _, m := range notifier.escalations {
		recipients = append(recipients, m.Recipient)
	}
	assert.ElementsMatch(t, []string{outlet.OwnerPhone, "+19995550001"}, recipients)
}

func TestEscalatedEntryGetsNoFurtherReminders(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	review, entry := seedQueuedReview(t, db, outlet.ID, 4, timePtr(time.Now().Add(-time.Minute)))
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, db, newFakePlatform(), &fakeGenerator{}, notifier)

	engine.RunCycle(context.Background())
	require.Len(t, notifier.reminders, 1)

	// Force a stale deadline onto the terminal entry; the next cycle must not
	// pick it up.
	require.NoError(t, db.Model(&models.ManualQueueEntry{}).Where("id = ?", entry.ID).
		Update("next_reminder_at", time.Now().Add(-time.Minute)).Error)

	engine.RunCycle(context.Background())
	assert.Len(t, notifier.reminders, 1)
	assert.Len(t, notifier.escalations, 1)

	got, err := NewReviewStore(db).FindByID(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusEscalated, got.Status)
}

func TestStaleTimerOnFinishedReviewIsSkipped(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	review, entry := seedQueuedReview(t, db, outlet.ID, 1, timePtr(time.Now().Add(-time.Minute)))
	require.NoError(t, NewWorkflowStore(db).Advance(review.ID, models.StateCompleted))
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, db, newFakePlatform(), &fakeGenerator{}, notifier)

	engine.RunCycle(context.Background())

	assert.Empty(t, notifier.reminders)
	reloaded, err := NewManualQueueStore(db, testAutomationConfig()).FindByReviewID(entry.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.ReminderCount)
}

func TestReminderSendFailureLeavesEntryForNextCycle(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	due := time.Now().Add(-time.Minute)
	_, entry := seedQueuedReview(t, db, outlet.ID, 1, &due)
	notifier := &fakeNotifier{reminderErr: errors.New("provider down")}
	engine := newTestEngine(t, db, newFakePlatform(), &fakeGenerator{}, notifier)

	engine.RunCycle(context.Background())

	reloaded, err := NewManualQueueStore(db, testAutomationConfig()).FindByReviewID(entry.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.ReminderCount)
	require.NotNil(t, reloaded.NextReminderAt)
	assert.WithinDuration(t, due, *reloaded.NextReminderAt, time.Second)

	notifier.mu.Lock()
	notifier.reminderErr = nil
	notifier.mu.Unlock()

	engine.RunCycle(context.Background())
	reloaded, err = NewManualQueueStore(db, testAutomationConfig()).FindByReviewID(entry.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.ReminderCount)
}

func TestManualReplyCompletesReviewAndStopsReminders(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	review, entry := seedQueuedReview(t, db, outlet.ID, 2, timePtr(time.Now().Add(time.Hour)))
	platform := newFakePlatform()
	notifier := &fakeNotifier{}
	engine := newTestEngine(t, db, platform, &fakeGenerator{}, notifier)

	err := engine.RespondManually(context.Background(), review.ID, "So sorry, please give us another chance.", nil)
	require.NoError(t, err)

	got, err := NewReviewStore(db).FindByID(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusCompleted, got.Status)
	require.NotNil(t, got.ManualReplyText)
	assert.Equal(t, "So sorry, please give us another chance.", *got.ManualReplyText)
	assert.Equal(t, "So sorry, please give us another chance.", platform.posted[*review.ExternalReviewID])

	reloaded, err := NewManualQueueStore(db, testAutomationConfig()).FindByReviewID(entry.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusResponded, reloaded.Status)
	assert.Nil(t, reloaded.NextReminderAt)

	wf, err := NewWorkflowStore(db).Get(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, wf.CurrentState)

	// Even with a stale deadline forced back on, nothing fires.
	require.NoError(t, db.Model(&models.ManualQueueEntry{}).Where("id = ?", entry.ID).
		Update("next_reminder_at", time.Now().Add(-time.Minute)).Error)
	engine.RunCycle(context.Background())
	assert.Empty(t, notifier.reminders)
}

func TestManualReplyOnEscalatedReview(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	review, entry := seedQueuedReview(t, db, outlet.ID, 5, nil)
	require.NoError(t, db.Model(&models.ManualQueueEntry{}).Where("id = ?", entry.ID).
		Update("status", models.QueueStatusEscalated).Error)
	require.NoError(t, db.Model(&models.Review{}).Where("id = ?", review.ID).
		Update("status", models.ReviewStatusEscalated).Error)
	require.NoError(t, NewWorkflowStore(db).Advance(review.ID, models.StateEscalated))

	engine := newTestEngine(t, db, newFakePlatform(), &fakeGenerator{}, &fakeNotifier{})
	require.NoError(t, engine.RespondManually(context.Background(), review.ID, "We made it right.", nil))

	got, err := NewReviewStore(db).FindByID(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusCompleted, got.Status)

	wf, err := NewWorkflowStore(db).Get(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, wf.CurrentState)

	reloaded, err := NewManualQueueStore(db, testAutomationConfig()).FindByReviewID(review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusEscalated, reloaded.Status)
}

func TestManualReplyValidation(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	engine := newTestEngine(t, db, newFakePlatform(), &fakeGenerator{}, &fakeNotifier{})

	err := engine.RespondManually(context.Background(), uuid.New(), "hi", nil)
	assert.ErrorIs(t, err, ErrReviewNotFound)

	closed := &models.Review{OutletID: outlet.ID, Rating: 5, CustomerName: "A", Status: models.ReviewStatusClosed}
	require.NoError(t, db.Create(closed).Error)
	err = engine.RespondManually(context.Background(), closed.ID, "hi", nil)
	assert.ErrorIs(t, err, ErrNotAwaitingReply)
}

func TestCycleSkipsOutletsWithoutCredentials(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	require.NoError(t, db.Model(&models.Outlet{}).Where("id = ?", outlet.ID).
		Update("google_location_name", "").Error)
	platform := newFakePlatform()
	engine := newTestEngine(t, db, platform, &fakeGenerator{}, &fakeNotifier{})

	engine.RunCycle(context.Background())

	assert.Equal(t, 0, platform.fetchCalls)
	status := engine.Status()
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, 1, status.LastCycle.OutletsSkipped)
}

func TestCycleIsolatesOutletFailures(t *testing.T) {
	db := setupTestDB(t)
	broken := seedOutlet(t, db)
	healthy := &models.Outlet{
		Name:               "Harbor View",
		GoogleLocationName: "accounts/1065/locations/119",
		APIStatus:          models.APIStatusConnected,
		SubscriptionStatus: models.SubscriptionTrial,
		OnboardingStatus:   models.OnboardingCompleted,
		OwnerRefreshToken:  "refresh-token-2",
		OwnerPhone:         "+14155550101",
	}
	require.NoError(t, db.Create(healthy).Error)

	platform := newFakePlatform()
	platform.fetchErr[broken.GoogleLocationName] = errors.New("status 503")
	platform.reviews[healthy.GoogleLocationName] = []ExternalReview{positiveReview("r-900")}
	engine := newTestEngine(t, db, platform, &fakeGenerator{reply: "Thanks!"}, &fakeNotifier{})

	engine.RunCycle(context.Background())

	review, err := NewReviewStore(db).FindByExternalID("r-900")
	require.NoError(t, err)
	require.NotNil(t, review)
	assert.Equal(t, models.ReviewStatusClosed, review.Status)

	status := engine.Status()
	require.NotNil(t, status.LastCycle)
	assert.Equal(t, 1, status.LastCycle.OutletsFailed)
	assert.Equal(t, 1, status.LastCycle.OutletsProcessed)
}

func TestCheckpointAdvancesOnlyAfterSuccessfulFetch(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	platform := newFakePlatform()
	platform.fetchErr[outlet.GoogleLocationName] = errors.New("status 500")
	engine := newTestEngine(t, db, platform, &fakeGenerator{}, &fakeNotifier{})
	store := NewReviewStore(db)

	engine.RunCycle(context.Background())
	cp, err := store.Checkpoint(outlet.ID)
	require.NoError(t, err)
	assert.Nil(t, cp)

	platform.mu.Lock()
	delete(platform.fetchErr, outlet.GoogleLocationName)
	platform.mu.Unlock()
	beforeFetch := time.Now()

	engine.RunCycle(context.Background())
	cp, err = store.Checkpoint(outlet.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.WithinDuration(t, beforeFetch, *cp, time.Minute)

	// The third cycle fetches strictly after the stored mark.
	engine.RunCycle(context.Background())
	platform.mu.Lock()
	since := platform.lastSince[outlet.GoogleLocationName]
	platform.mu.Unlock()
	require.NotNil(t, since)
	assert.WithinDuration(t, *cp, *since, time.Second)
}

func TestOverlappingCycleIsDropped(t *testing.T) {
	db := setupTestDB(t)
	seedOutlet(t, db)
	platform := newFakePlatform()
	engine := newTestEngine(t, db, platform, &fakeGenerator{}, &fakeNotifier{})

	engine.cycleActive.Store(true)
	engine.RunCycle(context.Background())
	assert.Equal(t, 0, platform.fetchCalls)

	engine.cycleActive.Store(false)
	engine.RunCycle(context.Background())
	assert.Equal(t, 1, platform.fetchCalls)
}

func TestEngineStartStop(t *testing.T) {
	db := setupTestDB(t)
	engine := newTestEngine(t, db, newFakePlatform(), &fakeGenerator{}, &fakeNotifier{})

	engine.Start()
	assert.True(t, engine.Running())
	engine.Start() // second Start is a no-op
	assert.True(t, engine.Running())

	require.Eventually(t, func() bool { return !engine.cycleActive.Load() },
		5*time.Second, 10*time.Millisecond)

	assert.True(t, engine.TriggerCycle())
	require.Eventually(t, func() bool { return !engine.cycleActive.Load() },
		5*time.Second, 10*time.Millisecond)

	engine.Stop()
	assert.False(t, engine.Running())
	engine.Stop() // stopping twice is fine
}

func TestEngineDisabledByConfig(t *testing.T) {
	db := setupTestDB(t)
	cfg := testAutomationConfig()
	cfg.Enabled = false
	engine := NewAutomationEngine(db, cfg,
		NewReviewStore(db), NewWorkflowStore(db), NewManualQueueStore(db, cfg),
		NewEligibilityService(db), newFakePlatform(), &fakeGenerator{}, &fakeNotifier{})

	engine.Start()
	assert.False(t, engine.Running())
}

func TestCycleIgnoresIneligibleOutlets(t *testing.T) {
	db := setupTestDB(t)
	outlet := seedOutlet(t, db)
	require.NoError(t, db.Model(&models.Outlet{}).Where("id = ?", outlet.ID).
		Update("subscription_status", models.SubscriptionExpired).Error)
	platform := newFakePlatform()
	platform.reviews[outlet.GoogleLocationName] = []ExternalReview{positiveReview("r-950")}
	engine := newTestEngine(t, db, platform, &fakeGenerator{reply: "x"}, &fakeNotifier{})

	engine.RunCycle(context.Background())

	assert.Equal(t, 0, platform.fetchCalls)
	var count int64
	require.NoError(t, db.Model(&models.Review{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}
