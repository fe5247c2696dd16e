package epg

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/pkg/xmltv"
)

type stubChannels struct {
	channels []*models.Channel
	err      error
}

func (s *stubChannels) GetEnabled(context.Context) ([]*models.Channel, error) {
	return s.channels, s.err
}

type stubPrograms struct {
	count    int64
	countErr error
	programs []*models.GuideProgram
	current  *models.GuideProgram
}

func (s *stubPrograms) Count(context.Context) (int64, error) {
	return s.count, s.countErr
}

func (s *stubPrograms) GetCurrent(context.Context, string, time.Time) (*models.GuideProgram, error) {
	return s.current, nil
}

func (s *stubPrograms) GetUpcoming(context.Context, string, time.Time, int) ([]*models.GuideProgram, error) {
	return s.programs, nil
}

func (s *stubPrograms) ForEach(_ context.Context, callback func(*models.GuideProgram) error) error {
	for _, p := range s.programs {
		if err := callback(p); err != nil {
			return err
		}
	}
	return nil
}

func lineupChannel(number int, name, epgID string) *models.Channel {
	return &models.Channel{
		Number: number,
		Name:   name,
		EpgID:  epgID,
	}
}

func guideProgram(epgID, title string, start time.Time) *models.GuideProgram {
	return &models.GuideProgram{
		ChannelEpgID: epgID,
		Start:        start,
		Stop:         start.Add(time.Hour),
		Title:        title,
	}
}

func TestGuideStatus(t *testing.T) {
	tests := []struct {
		name      string
		count     int64
		countErr  error
		available bool
	}{
		{name: "programs loaded", count: 42, available: true},
		{name: "empty guide", count: 0, available: false},
		{name: "count error reports unavailable", countErr: errors.New("db down"), available: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(Options{
				Channels: &stubChannels{},
				Programs: &stubPrograms{count: tt.count, countErr: tt.countErr},
				DataDir:  t.TempDir(),
			})

			available, programs := svc.GuideStatus(context.Background())
			assert.Equal(t, tt.available, available)
			if tt.countErr == nil {
				assert.Equal(t, tt.count, programs)
			} else {
				assert.Zero(t, programs)
			}
		})
	}
}

func TestExportRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	svc := New(Options{
		Channels: &stubChannels{channels: []*models.Channel{
			lineupChannel(1, "News  Channel", "news.example"),
			lineupChannel(2, "No Guide", ""),
		}},
		Programs: &stubPrograms{programs: []*models.GuideProgram{
			guideProgram("news.example", "Evening News", base),
			guideProgram("orphan.example", "Dropped", base),
		}},
		DataDir: t.TempDir(),
	})

	require.NoError(t, svc.Export(context.Background()))

	data, err := os.ReadFile(svc.ExportPath())
	require.NoError(t, err)

	var channels []*xmltv.Channel
	var programmes []*xmltv.Programme
	parser := &xmltv.Parser{
		OnChannel: func(ch *xmltv.Channel) error {
			channels = append(channels, ch)
			return nil
		},
		OnProgramme: func(p *xmltv.Programme) error {
			programmes = append(programmes, p)
			return nil
		},
	}
	require.NoError(t, parser.Parse(strings.NewReader(string(data))))

	require.Len(t, channels, 2)
	assert.Equal(t, "news.example", channels[0].ID)
	// Whitespace runs collapse in display names.
	assert.Equal(t, "News Channel", channels[0].DisplayName)
	// Channels without guide data get a synthetic id.
	assert.Equal(t, "tunerr.2", channels[1].ID)

	// Programmes outside the lineup are dropped.
	require.Len(t, programmes, 1)
	assert.Equal(t, "Evening News", programmes[0].Title)
	assert.Equal(t, "news.example", programmes[0].Channel)
	assert.Equal(t, base, programmes[0].Start.UTC())
}

func TestHandleExportServesXML(t *testing.T) {
	svc := New(Options{
		Channels: &stubChannels{channels: []*models.Channel{
			lineupChannel(1, "News", "news.example"),
		}},
		Programs: &stubPrograms{},
		DataDir:  t.TempDir(),
	})

	router := chi.NewRouter()
	svc.RegisterRoutes(router)

	for _, path := range []string{ExportRoute, "/guide.xml"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "xml")
		assert.Contains(t, rec.Body.String(), `<tv generator-info-name="tunerr"`)
		assert.Contains(t, rec.Body.String(), `<channel id="news.example">`)
	}
}

func TestHandleExportRebuildsWhenStale(t *testing.T) {
	programs := &stubPrograms{}
	svc := New(Options{
		Channels: &stubChannels{channels: []*models.Channel{
			lineupChannel(1, "News", "news.example"),
		}},
		Programs: programs,
		DataDir:  t.TempDir(),
	})

	router := chi.NewRouter()
	svc.RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ExportRoute, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<programme")

	// New guide data plus MarkStale shows up on the next request.
	programs.programs = []*models.GuideProgram{
		guideProgram("news.example", "Breaking News", time.Now().UTC().Truncate(time.Second)),
	}
	svc.MarkStale()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ExportRoute, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Breaking News")
}

func TestHandleExportUnavailableWithoutData(t *testing.T) {
	svc := New(Options{
		Channels: &stubChannels{err: errors.New("db down")},
		Programs: &stubPrograms{},
		DataDir:  t.TempDir(),
	})

	router := chi.NewRouter()
	svc.RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ExportRoute, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleExportFallsBackToPreviousFile(t *testing.T) {
	channels := &stubChannels{channels: []*models.Channel{
		lineupChannel(1, "News", "news.example"),
	}}
	svc := New(Options{
		Channels: channels,
		Programs: &stubPrograms{},
		DataDir:  t.TempDir(),
	})

	require.NoError(t, svc.Export(context.Background()))

	// Lineup load starts failing; the stale file still serves.
	channels.err = errors.New("db down")
	svc.MarkStale()

	router := chi.NewRouter()
	svc.RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ExportRoute, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<channel id="news.example">`)
}

func TestCurrentEmptyChannelID(t *testing.T) {
	svc := New(Options{
		Channels: &stubChannels{},
		Programs: &stubPrograms{current: guideProgram("x", "X", time.Now())},
		DataDir:  t.TempDir(),
	})

	program, err := svc.Current(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, program)
}

func TestXMLTVURL(t *testing.T) {
	svc := New(Options{Channels: &stubChannels{}, Programs: &stubPrograms{}, DataDir: t.TempDir()})
	assert.Equal(t, "/epg/xmltv.xml", svc.XMLTVURL())
}
