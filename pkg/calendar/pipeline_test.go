package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/calendar-server/internal/testutil"
	"github.com/Sternrassler/calendar-server/pkg/fetch"
	"github.com/Sternrassler/calendar-server/pkg/ics"
	"github.com/Sternrassler/calendar-server/pkg/month"
)

type stubFetcher struct {
	body []byte
	err  error
	urls []string
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.urls = append(s.urls, url)
	return s.body, s.err
}

type stubNormalizer struct {
	events []ics.Event
	err    error
}

func (s *stubNormalizer) Normalize(body []byte, m month.Month) ([]ics.Event, error) {
	return s.events, s.err
}

func newFeedPipeline(t *testing.T, feed *testutil.MockFeed, cfg ics.Config) *Pipeline {
	t.Helper()

	fetcher, err := fetch.New(fetch.DefaultConfig("calendar-server-test/1.0"))
	require.NoError(t, err)
	normalizer, err := ics.NewNormalizer(cfg)
	require.NoError(t, err)

	p, err := NewPipeline(feed.Template(), fetcher, normalizer)
	require.NoError(t, err)
	return p
}

func TestNewPipeline_Validation(t *testing.T) {
	f := &stubFetcher{}
	n := &stubNormalizer{}

	_, err := NewPipeline("", f, n)
	assert.Error(t, err)

	_, err = NewPipeline("http://x/$$", nil, n)
	assert.Error(t, err)

	_, err = NewPipeline("http://x/$$", f, nil)
	assert.Error(t, err)

	_, err = NewPipeline("http://x/$$", f, n)
	assert.NoError(t, err)
}

func TestPipeline_Compute(t *testing.T) {
	feed := testutil.NewMockFeed()
	defer feed.Close()

	start := time.Date(2024, 8, 5, 9, 0, 0, 0, time.UTC)
	feed.SetMonthResponse("2024-08", testutil.NewCalendarResponse(testutil.Calendar(
		testutil.Event{UID: "a@test", Summary: "Standup", Start: start, End: start.Add(30 * time.Minute), Category: "Work"},
		testutil.Event{UID: "b@test", Summary: "Private", Start: start.Add(24 * time.Hour)},
	)))

	p := newFeedPipeline(t, feed, ics.Config{HiddenPattern: "Private"})

	body, err := p.Compute(context.Background(), month.Month{Year: 2024, Month: 8})
	require.NoError(t, err)

	var events []map[string]any
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 2)

	assert.Equal(t, "Standup", events[0]["summary"])
	assert.Equal(t, false, events[0]["hidden"])
	assert.Equal(t, float64(start.UnixMilli()), events[0]["start"])
	assert.Equal(t, float64(30*time.Minute/time.Millisecond), events[0]["duration"])
	assert.Equal(t, []any{"Work"}, events[0]["categories"])

	assert.Equal(t, true, events[1]["hidden"])

	assert.Equal(t, 1, feed.GetPathCount(testutil.MonthPath("2024-08")))
}

func TestPipeline_EmptyCalendar(t *testing.T) {
	feed := testutil.NewMockFeed()
	defer feed.Close()

	p := newFeedPipeline(t, feed, ics.Config{})

	body, err := p.Compute(context.Background(), month.Month{Year: 2024, Month: 1})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestPipeline_UpstreamFailure(t *testing.T) {
	feed := testutil.NewMockFeed()
	defer feed.Close()

	feed.SetMonthResponse("2024-08", testutil.NewServerErrorResponse())
	p := newFeedPipeline(t, feed, ics.Config{})

	_, err := p.Compute(context.Background(), month.Month{Year: 2024, Month: 8})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fetch.ErrBadStatus))
	assert.Contains(t, err.Error(), "2024-08")
}

func TestPipeline_MalformedFeed(t *testing.T) {
	feed := testutil.NewMockFeed()
	defer feed.Close()

	feed.SetMonthResponse("2024-08", testutil.NewCalendarResponse("this is not a calendar"))
	p := newFeedPipeline(t, feed, ics.Config{})

	_, err := p.Compute(context.Background(), month.Month{Year: 2024, Month: 8})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ics.ErrParse))
}

func TestPipeline_FormatsURL(t *testing.T) {
	f := &stubFetcher{body: []byte("x")}
	n := &stubNormalizer{}

	p, err := NewPipeline("https://feed.example/events/$$/?ical=1", f, n)
	require.NoError(t, err)

	body, err := p.Compute(context.Background(), month.Month{Year: 2023, Month: 2})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body), "nil event list encodes as an empty array")
	assert.Equal(t, []string{"https://feed.example/events/2023-02/?ical=1"}, f.urls)
}

func TestPipeline_NormalizeErrorIsWrapped(t *testing.T) {
	wantErr := errors.New("bad feed")
	p, err := NewPipeline("http://x/$$", &stubFetcher{body: []byte("x")}, &stubNormalizer{err: wantErr})
	require.NoError(t, err)

	_, err = p.Compute(context.Background(), month.Month{Year: 2024, Month: 3})
	assert.ErrorIs(t, err, wantErr)
}
