package analytics_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/repository/memory"
	"github.com/ignite/engagement-tracker/internal/service/analytics"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCampaign = "camp-1"

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// seed registers n recipients (tokens tok-0..tok-n-1) for testCampaign.
func seed(n int) (*memory.Store, *engagement.Recorder) {
	store := memory.New()
	for i := 0; i < n; i++ {
		store.PutToken(domain.TokenTarget{
			Token:       fmt.Sprintf("tok-%d", i),
			CampaignID:  testCampaign,
			RecipientID: fmt.Sprintf("r-%d", i),
		})
	}
	return store, engagement.NewRecorder(store, store)
}

func apply(t *testing.T, rec *engagement.Recorder, token string, et domain.EventType, at time.Time) {
	t.Helper()
	require.NoError(t, rec.Apply(context.Background(), domain.Capture{Token: token, EventType: et, ReceivedAt: at}))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type failingRepo struct {
	analytics.Repository
	saveErr error
}

func (f failingRepo) SaveAnalytics(context.Context, domain.CampaignAnalytics) (*domain.CampaignAnalytics, error) {
	return nil, f.saveErr
}

type recordingArchiver struct {
	rows []domain.CampaignAnalytics
	err  error
}

func (a *recordingArchiver) Archive(_ context.Context, row domain.CampaignAnalytics) error {
	a.rows = append(a.rows, row)
	return a.err
}

func TestRecompute_ScenarioContribution(t *testing.T) {
	store, rec := seed(3)
	apply(t, rec, "tok-0", domain.EventSent, t0)
	apply(t, rec, "tok-0", domain.EventOpened, t0.Add(time.Minute))
	apply(t, rec, "tok-0", domain.EventOpened, t0.Add(2*time.Minute))
	apply(t, rec, "tok-0", domain.EventOpened, t0.Add(3*time.Minute))
	apply(t, rec, "tok-0", domain.EventClicked, t0.Add(4*time.Minute))

	svc := analytics.NewService(store)
	row, err := svc.Recompute(context.Background(), testCampaign)
	require.NoError(t, err)

	assert.EqualValues(t, 3, row.TotalRecipients)
	assert.EqualValues(t, 1, row.SentCount)
	assert.EqualValues(t, 3, row.OpenedCount)
	assert.EqualValues(t, 1, row.UniqueOpenedCount)
	assert.EqualValues(t, 1, row.ClickedCount)
	assert.EqualValues(t, 1, row.UniqueClickedCount)
	require.NotNil(t, row.LastEventAt)
	assert.Equal(t, t0.Add(4*time.Minute), *row.LastEventAt)
}

func TestRecompute_Idempotent(t *testing.T) {
	store, rec := seed(2)
	apply(t, rec, "tok-0", domain.EventOpened, t0)
	apply(t, rec, "tok-1", domain.EventBounced, t0)

	clock := &fakeClock{t: t0}
	svc := analytics.NewService(store, analytics.WithClock(clock.Now))
	ctx := context.Background()

	first, err := svc.Recompute(ctx, testCampaign)
	require.NoError(t, err)
	second, err := svc.Recompute(ctx, testCampaign)
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, string(a), string(b), "back-to-back recomputes must be byte-identical")

	apply(t, rec, "tok-0", domain.EventOpened, t0.Add(time.Hour))
	third, err := svc.Recompute(ctx, testCampaign)
	require.NoError(t, err)
	assert.EqualValues(t, 2, third.OpenedCount)
	assert.True(t, third.UpdatedAt.After(first.UpdatedAt))
}

func TestRecompute_DuplicateOpensKeepUniqueCount(t *testing.T) {
	store, rec := seed(1)
	for i := 0; i < 5; i++ {
		apply(t, rec, "tok-0", domain.EventOpened, t0.Add(time.Duration(i)*time.Minute))
	}

	row, err := analytics.NewService(store).Recompute(context.Background(), testCampaign)
	require.NoError(t, err)
	assert.EqualValues(t, 5, row.OpenedCount)
	assert.EqualValues(t, 1, row.UniqueOpenedCount)

	st, err := store.RecipientState(context.Background(), testCampaign, "r-0")
	require.NoError(t, err)
	assert.Equal(t, t0, *st.FirstOpenedAt)
}

func TestRecompute_InvariantsUnderConcurrency(t *testing.T) {
	store, rec := seed(20)
	svc := analytics.NewService(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				et := domain.EventOpened
				if j%2 == 1 {
					et = domain.EventClicked
				}
				rec.Record(ctx, domain.Capture{Token: fmt.Sprintf("tok-%d", i), EventType: et, ReceivedAt: t0.Add(time.Duration(j) * time.Second)})
			}(i, j)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, err := svc.Recompute(ctx, testCampaign)
			if assert.NoError(t, err) {
				assert.True(t, row.Consistent(), "%+v", row)
			}
		}()
	}
	wg.Wait()

	row, err := svc.Recompute(ctx, testCampaign)
	require.NoError(t, err)
	assert.EqualValues(t, 60, row.OpenedCount)
	assert.EqualValues(t, 40, row.ClickedCount)
	assert.EqualValues(t, 20, row.UniqueOpenedCount)
	assert.EqualValues(t, 20, row.UniqueClickedCount)
	assert.True(t, row.Consistent())
}

func TestRecompute_SentAbsentStillCountsOpens(t *testing.T) {
	store, rec := seed(1)
	apply(t, rec, "tok-0", domain.EventOpened, t0)

	row, err := analytics.NewService(store).Recompute(context.Background(), testCampaign)
	require.NoError(t, err)
	assert.Zero(t, row.SentCount)
	assert.EqualValues(t, 1, row.UniqueOpenedCount)
}

func TestRecompute_TerminalCounts(t *testing.T) {
	store, rec := seed(3)
	apply(t, rec, "tok-0", domain.EventBounced, t0)
	apply(t, rec, "tok-1", domain.EventComplained, t0)
	apply(t, rec, "tok-2", domain.EventClicked, t0)
	apply(t, rec, "tok-2", domain.EventUnsubscribed, t0.Add(time.Minute))

	row, err := analytics.NewService(store).Recompute(context.Background(), testCampaign)
	require.NoError(t, err)
	assert.EqualValues(t, 1, row.BouncedCount)
	assert.EqualValues(t, 1, row.ComplainedCount)
	assert.EqualValues(t, 1, row.UnsubscribedCount)
	assert.EqualValues(t, 1, row.UniqueClickedCount)
}

func TestRecompute_EmptyCampaignCreatesRow(t *testing.T) {
	store, _ := seed(4)
	svc := analytics.NewService(store)

	_, err := svc.Get(context.Background(), testCampaign)
	assert.ErrorIs(t, err, analytics.ErrAnalyticsNotFound)

	row, err := svc.Recompute(context.Background(), testCampaign)
	require.NoError(t, err)
	assert.EqualValues(t, 4, row.TotalRecipients)
	assert.Nil(t, row.LastEventAt)

	got, err := svc.Get(context.Background(), testCampaign)
	require.NoError(t, err)
	assert.Equal(t, row.TotalRecipients, got.TotalRecipients)
}

func TestRecompute_Errors(t *testing.T) {
	store, _ := seed(1)
	svc := analytics.NewService(store)
	ctx := context.Background()

	_, err := svc.Recompute(ctx, "  ")
	assert.ErrorIs(t, err, analytics.ErrMissingCampaignID)

	_, err = svc.Recompute(ctx, "unknown")
	assert.ErrorIs(t, err, analytics.ErrCampaignNotFound)

	store.DeleteCampaign(testCampaign)
	_, err = svc.Recompute(ctx, testCampaign)
	assert.ErrorIs(t, err, analytics.ErrCampaignNotFound)
}

func TestRecompute_FailedSaveLeavesPreviousRow(t *testing.T) {
	store, rec := seed(1)
	apply(t, rec, "tok-0", domain.EventOpened, t0)
	ctx := context.Background()

	good, err := analytics.NewService(store).Recompute(ctx, testCampaign)
	require.NoError(t, err)

	apply(t, rec, "tok-0", domain.EventOpened, t0.Add(time.Minute))
	broken := analytics.NewService(failingRepo{Repository: store, saveErr: errors.New("disk full")})
	_, err = broken.Recompute(ctx, testCampaign)
	require.Error(t, err)

	stored, err := store.GetAnalytics(ctx, testCampaign)
	require.NoError(t, err)
	assert.Equal(t, good.OpenedCount, stored.OpenedCount)
}

func TestRecompute_ArchiverFailureIsNotFatal(t *testing.T) {
	store, rec := seed(1)
	apply(t, rec, "tok-0", domain.EventOpened, t0)
	arch := &recordingArchiver{err: errors.New("s3 down")}

	row, err := analytics.NewService(store, analytics.WithArchiver(arch)).Recompute(context.Background(), testCampaign)
	require.NoError(t, err)
	require.Len(t, arch.rows, 1)
	assert.Equal(t, row.OpenedCount, arch.rows[0].OpenedCount)
}

func TestRecipients_Paging(t *testing.T) {
	store, rec := seed(3)
	for i := 0; i < 3; i++ {
		apply(t, rec, fmt.Sprintf("tok-%d", i), domain.EventDelivered, t0)
	}
	svc := analytics.NewService(store)

	page, total, err := svc.Recipients(context.Background(), testCampaign, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "r-0", page[0].RecipientID)

	page, _, err = svc.Recipients(context.Background(), testCampaign, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "r-2", page[0].RecipientID)
}

func TestFold_TotalNeverBelowStates(t *testing.T) {
	at := t0
	snap := analytics.Snapshot{
		CampaignID:      testCampaign,
		TotalRecipients: 0,
		States: []domain.RecipientState{
			{RecipientID: "a", OpenCount: 2, FirstOpenedAt: &at},
			{RecipientID: "b", OpenCount: 1, FirstOpenedAt: &at},
		},
	}
	row := analytics.Fold(snap, t0)
	assert.EqualValues(t, 2, row.TotalRecipients)
	assert.True(t, row.Consistent())
}
