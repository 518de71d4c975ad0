package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mfukuda/fleawatch/internal/tracker"
)

type fakeTracker struct {
	trackResult tracker.TrackResult
	trackErr    error
	searchItems []tracker.CollectedItem
	searchErr   error
	checkSum    tracker.Summary
	checkErr    error
	products    []tracker.ProductSummary
	history     []tracker.PricePoint
	deleteErr   error

	deletedID int64
}

func (f *fakeTracker) Track(context.Context, string) (tracker.TrackResult, error) {
	return f.trackResult, f.trackErr
}

func (f *fakeTracker) Search(context.Context, string) ([]tracker.CollectedItem, error) {
	return f.searchItems, f.searchErr
}

func (f *fakeTracker) CheckAll(context.Context) (tracker.Summary, error) {
	return f.checkSum, f.checkErr
}

func (f *fakeTracker) ListProducts(context.Context) ([]tracker.ProductSummary, error) {
	return f.products, nil
}

func (f *fakeTracker) History(context.Context, int64) ([]tracker.PricePoint, error) {
	return f.history, nil
}

func (f *fakeTracker) Delete(_ context.Context, id int64) error {
	f.deletedID = id
	return f.deleteErr
}

func newTestServer(t *testing.T, fake *fakeTracker) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(fake, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeTracker{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestTrackSuccess(t *testing.T) {
	t.Parallel()

	fake := &fakeTracker{
		trackResult: tracker.TrackResult{
			Product: tracker.Product{ID: 1, ItemID: "m12345678901", Name: "vintage lens"},
			Price:   4800,
		},
	}
	srv := newTestServer(t, fake)

	resp, err := http.Post(srv.URL+"/v1/track", "application/json",
		strings.NewReader(`{"url":"https://jp.mercari.com/item/m12345678901"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Price int `json:"price"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 4800, body.Price)
}

func TestTrackErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid url", tracker.ErrInvalidListingURL, http.StatusBadRequest},
		{"sold out", tracker.ErrSoldOutListing, http.StatusConflict},
		{"extraction failed", &tracker.ExtractionError{Missing: []string{"price"}}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, &fakeTracker{trackErr: tt.err})
			resp, err := http.Post(srv.URL+"/v1/track", "application/json",
				strings.NewReader(`{"url":"https://jp.mercari.com/item/m12345678901"}`))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestTrackRejectsEmptyBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeTracker{})
	resp, err := http.Post(srv.URL+"/v1/track", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchRequiresKeyword(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeTracker{})
	resp, err := http.Get(srv.URL + "/v1/search")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchReturnsItems(t *testing.T) {
	t.Parallel()

	fake := &fakeTracker{searchItems: []tracker.CollectedItem{
		{ID: "m11111111111", Name: "lens", Price: 5000},
	}}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/v1/search?keyword=lens")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Items []tracker.CollectedItem `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Items, 1)
	require.Equal(t, "m11111111111", body.Items[0].ID)
}

func TestCheckBusyReturnsConflict(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeTracker{checkErr: tracker.ErrCheckInProgress})
	resp, err := http.Post(srv.URL+"/v1/check", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCheckReturnsSummary(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeTracker{checkSum: tracker.Summary{Checked: 3, Updated: 1, Deleted: 1}})
	resp, err := http.Post(srv.URL+"/v1/check", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sum tracker.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	require.Equal(t, 3, sum.Checked)
}

func TestListProductsEmptyIsArray(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeTracker{})
	resp, err := http.Get(srv.URL + "/v1/products")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.JSONEq(t, `[]`, string(body["products"]))
}

func TestHistoryReturnsPoints(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	fake := &fakeTracker{history: []tracker.PricePoint{
		{ID: 1, ProductID: 7, Price: 5000, ScrapedAt: now},
	}}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/v1/products/7/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHistoryRejectsBadID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeTracker{})
	resp, err := http.Get(srv.URL + "/v1/products/abc/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteProduct(t *testing.T) {
	t.Parallel()

	fake := &fakeTracker{}
	srv := newTestServer(t, fake)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/products/7", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(7), fake.deletedID)
}

func TestDeleteUnknownProduct(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeTracker{deleteErr: tracker.ErrNotFound})
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/products/7", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
