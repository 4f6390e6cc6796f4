package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/huangang/reviewiq/internal/config"
)

func newTestPlacesClient(t *testing.T) *PlacesClient {
	t.Helper()
	c := NewPlacesClient(config.SyncConfig{PlacesAPIKey: "k", PlacesBaseURL: "https://places.test/v1/"})
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestPlacesClient_FetchReviews(t *testing.T) {
	c := newTestPlacesClient(t)

	httpmock.RegisterResponder(http.MethodGet, "https://places.test/v1/places/abc",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("X-Goog-Api-Key") != "k" {
				return httpmock.NewStringResponse(http.StatusForbidden, "no key"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{
				"id": "abc",
				"reviews": [
					{"rating": 2, "text": {"text": "slow service"}, "authorAttribution": {"displayName": "Ana"}, "publishTime": "2026-03-01T10:00:00.5Z"},
					{"rating": 5}
				]
			}`), nil
		})

	got, err := c.FetchReviews(context.Background(), "abc")
	if err != nil {
		t.Fatalf("FetchReviews() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, expected 2", len(got))
	}

	first := got[0]
	if first.AuthorName != "Ana" || first.Rating != 2 || first.Text != "slow service" {
		t.Errorf("first = %+v", first)
	}
	if key := first.ExternalKey(); key != "Ana~1772359200500" {
		t.Errorf("ExternalKey() = %q, expected %q", key, "Ana~1772359200500")
	}

	second := got[1]
	if second.AuthorName != defaultPlacesAuthor || second.Text != defaultPlacesText || !second.PublishedAt.IsZero() {
		t.Errorf("second = %+v, expected listing defaults", second)
	}
}

func TestPlacesClient_Errors(t *testing.T) {
	c := newTestPlacesClient(t)
	httpmock.RegisterResponder(http.MethodGet, "https://places.test/v1/places/gone",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":"not found"}`))

	if _, err := c.FetchReviews(context.Background(), "gone"); err == nil {
		t.Error("FetchReviews() should fail on a non-200 response")
	}

	unconfigured := NewPlacesClient(config.SyncConfig{})
	if _, err := unconfigured.FetchReviews(context.Background(), "abc"); !errors.Is(err, ErrSyncUnavailable) {
		t.Errorf("FetchReviews() error = %v, expected ErrSyncUnavailable", err)
	}
}
