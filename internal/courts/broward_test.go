package courts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/JustJay7/court-lead-harvester/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const browardCaseJSON = `{
  "caseNumber": "24-001234-TI20A",
  "filingDate": "2024-05-03",
  "caseType": "Civil Traffic Infraction",
  "caseStatus": "Open",
  "defendant": {
    "fullName": "JOHN Q PUBLIC",
    "dateOfBirth": "1979-02-11",
    "address": {"line1": "789 Las Olas Blvd", "city": "Fort Lauderdale", "state": "Florida", "zip": "33301"}
  },
  "charges": [
    {"description": "Driving While License Suspended", "statute": "322.34", "degree": "M2", "offenseDate": "2024-05-01", "fine": 300}
  ],
  "documents": [{"title": "Citation", "url": "https://api.broward.test/docs/citation.pdf"}]
}`

func browardAPI(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		switch r.URL.Path {
		case "/api/v1/cases/search":
			q := r.URL.Query()
			assert.Equal(t, "2024-05-01", q.Get("filedFrom"))
			assert.Equal(t, "2024-05-03", q.Get("filedTo"))
			page, _ := strconv.Atoi(q.Get("page"))
			switch {
			case q.Get("lastName") == "A" && page == 1:
				w.Write([]byte(`{"results":[{"caseNumber":"A-1"},{"caseNumber":"A-2"}],"total":3}`))
			case q.Get("lastName") == "A" && page == 2:
				w.Write([]byte(`{"results":[{"caseNumber":"A-3"}],"total":3}`))
			case q.Get("lastName") == "C":
				w.Write([]byte(`{"results":[{"caseNumber":"C-1"}],"total":1}`))
			default:
				w.Write([]byte(`{"results":[],"total":0}`))
			}
		case "/api/v1/cases/24-001234-TI20A":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(browardCaseJSON))
		case "/api/v1/cases/RATE-LIMITED":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/api/v1/cases/FORBIDDEN":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestBroward(t *testing.T, baseURL string) *Broward {
	t.Helper()
	cfg := testConfig()
	cfg.BrowardBaseURL = baseURL
	b, err := NewBroward(testDeps(cfg), browardCourt, Options{
		From:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		Terms:    []string{"A", "B", "C"},
		PageSize: 2,
	})
	require.NoError(t, err)
	return b
}

func collect(t *testing.T, src scraper.IdentifierSource) []scraper.Identifier {
	t.Helper()
	var ids []scraper.Identifier
	for {
		id, err := src.Next(context.Background())
		if errors.Is(err, scraper.ErrExhausted) {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, id)
	}
}

func TestBrowardSearchPaginates(t *testing.T) {
	srv := browardAPI(t)
	defer srv.Close()
	b := newTestBroward(t, srv.URL)

	ids := collect(t, b.Identifiers(scraper.NewState(nil)))
	require.Len(t, ids, 4)
	assert.Equal(t, "A-1", ids[0].CaseID)
	assert.Equal(t, "A-3", ids[2].CaseID)
	assert.Equal(t, "C-1", ids[3].CaseID)
	assert.Equal(t, 3, ids[3].Cursor.Int("term_index", -1))
	assert.Equal(t, "2024-05-01/2024-05-03", ids[3].Cursor.String("window", ""))
}

func TestBrowardResumesWithinWindow(t *testing.T) {
	srv := browardAPI(t)
	defer srv.Close()
	b := newTestBroward(t, srv.URL)

	resumed := collect(t, b.Identifiers(scraper.NewState(map[string]any{
		"window":     "2024-05-01/2024-05-03",
		"term_index": 2,
	})))
	require.Len(t, resumed, 1)
	assert.Equal(t, "C-1", resumed[0].CaseID)

	// a new window starts the prefixes over
	restarted := collect(t, b.Identifiers(scraper.NewState(map[string]any{
		"window":     "2024-04-01/2024-04-03",
		"term_index": 2,
	})))
	assert.Len(t, restarted, 4)
}

func TestBrowardFetchOutcomes(t *testing.T) {
	srv := browardAPI(t)
	defer srv.Close()
	b := newTestBroward(t, srv.URL)
	ctx := context.Background()

	out := b.Fetch(ctx, scraper.Identifier{CaseID: "24-001234-TI20A"})
	require.Equal(t, scraper.KindFound, out.Kind, "%v", out.Err)

	assert.Equal(t, scraper.KindNotFound, b.Fetch(ctx, scraper.Identifier{CaseID: "missing"}).Kind)
	assert.Equal(t, scraper.KindTransient, b.Fetch(ctx, scraper.Identifier{CaseID: "RATE-LIMITED"}).Kind)
	assert.Equal(t, scraper.KindFatal, b.Fetch(ctx, scraper.Identifier{CaseID: "FORBIDDEN"}).Kind)

	c, err := b.Normalize(out.Record)
	require.NoError(t, err)
	assert.Equal(t, "FL_BROWARD", c.CourtCode)
	assert.Equal(t, []string{"John", "Q", "Public"}, []string{c.FirstName, c.MiddleName, c.LastName})
	assert.Equal(t, []string{"789 Las Olas Blvd", "Fort Lauderdale", "FL", "33301"}, []string{c.AddressLine1, c.City, c.State, c.Zip})
	assert.Equal(t, 1979, c.YearOfBirth)
	assert.Equal(t, "major", c.ChargesTag)
	assert.Equal(t, 300.0, c.Charges[0].Fine)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), c.OffenseDate)
	require.Len(t, c.Documents, 1)
	assert.False(t, c.Documents[0].Downloaded)
}
