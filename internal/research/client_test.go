package research

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trendpost/internal/apperr"
)

const resultsPage = `<html><body>
<div class="result results_links results_links_deep result--ad">
  <a class="result__a" href="https://ads.example/">Sponsored</a>
</div>
<div class="result results_links results_links_deep web-result">
  <h2 class="result__title">
    <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fblog%2Fgo1.22&amp;rut=abc">Go 1.22 is <b>released</b></a>
  </h2>
  <a class="result__snippet" href="#">Range over   integers and
    better loop variables.</a>
</div>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="https://example.com/two">Second hit</a>
  <a class="result__snippet">Second snippet</a>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="https://example.com/three">Third hit</a>
</div>
</body></html>`

func TestParseResults(t *testing.T) {
	got, err := ParseResults(resultsPage, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Go 1.22 is released", got[0].Title)
	require.Equal(t, "https://go.dev/blog/go1.22", got[0].URL)
	require.Equal(t, "Range over integers and better loop variables.", got[0].Snippet)
	require.Equal(t, "https://example.com/two", got[1].URL)
}

func TestQueryUsesFirstLine(t *testing.T) {
	require.Equal(t, "Go 1.22 released", Query("  Go   1.22 released\n\nlong body here"))
	require.Len(t, []rune(Query(strings.Repeat("a", 500))), 120)
}

func TestResearchTopic(t *testing.T) {
	var q string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer ts.Close()

	c := NewClient(5)
	c.SetBaseURL(ts.URL + "/html/")
	c.HTTP().SetHTTPClient(ts.Client())

	res, err := c.ResearchTopic(context.Background(), "Go 1.22 released\nbody")
	require.NoError(t, err)
	require.Equal(t, "Go 1.22 released", q)
	require.Equal(t, "Go 1.22 released", res.Topic)
	require.Len(t, res.Sources, 3)
	require.Contains(t, res.Summary, "1. Go 1.22 is released")
	require.Contains(t, res.Summary, "https://example.com/three")
}

func TestResearchTopicNoResults(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="no-results">No results.</div></body></html>`))
	}))
	defer ts.Close()

	c := NewClient(5)
	c.SetBaseURL(ts.URL)
	c.HTTP().SetHTTPClient(ts.Client())

	_, err := c.ResearchTopic(context.Background(), "nothing at all")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestResearchTopicServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewClient(5)
	c.SetBaseURL(ts.URL)
	c.HTTP().SetHTTPClient(ts.Client())
	c.HTTP().SetRetry(2, time.Millisecond)

	_, err := c.ResearchTopic(context.Background(), "topic")
	var te *apperr.TransientError
	require.ErrorAs(t, err, &te)
}
