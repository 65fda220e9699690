package modelapi_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/events"
	"github.com/lfelipe/argus/internal/modelapi"
)

func TestAPI_CreateDetector(t *testing.T) {
	t.Run("creates a detector with a server-generated uuid", func(t *testing.T) {
		f := newFixture(t)

		rr := f.doJSON(t, http.MethodPost, "/api/v1/detectors", modelapi.CreateDetectorRequest{
			Type:      "  Constant-Detector  ",
			CreatedBy: "  ops  ",
			Enabled:   true,
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		var created detector.Detector
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
		assert.NotEqual(t, uuid.Nil, created.UUID)
		assert.Equal(t, "constant-detector", created.Type)
		assert.Equal(t, "ops", created.CreatedBy)
		assert.True(t, created.Enabled)
		assert.False(t, created.CreatedAt.IsZero())

		rr = f.doJSON(t, http.MethodGet, "/api/v1/detectors/"+created.UUID.String(), nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		// A brand-new detector has no mapping, so nothing is published.
		assert.Empty(t, f.publisher.published())
	})

	t.Run("enabled defaults to false", func(t *testing.T) {
		f := newFixture(t)

		rr := f.doJSON(t, http.MethodPost, "/api/v1/detectors", modelapi.CreateDetectorRequest{
			Type:      "ewma-detector",
			CreatedBy: "ops",
		})
		require.Equal(t, http.StatusCreated, rr.Code)

		var created detector.Detector
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
		assert.False(t, created.Enabled)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		f := newFixture(t)

		testCases := []struct {
			name string
			req  modelapi.CreateDetectorRequest
		}{
			{
				name: "missing type",
				req:  modelapi.CreateDetectorRequest{CreatedBy: "ops"},
			},
			{
				name: "type with invalid characters",
				req:  modelapi.CreateDetectorRequest{Type: "Not A Slug!", CreatedBy: "ops"},
			},
			{
				name: "type too long",
				req:  modelapi.CreateDetectorRequest{Type: strings.Repeat("a", 101), CreatedBy: "ops"},
			},
			{
				name: "missing createdBy",
				req:  modelapi.CreateDetectorRequest{Type: "constant-detector"},
			},
			{
				name: "createdBy too long",
				req: modelapi.CreateDetectorRequest{
					Type:      "constant-detector",
					CreatedBy: strings.Repeat("a", 256),
				},
			},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				rr := f.doJSON(t, http.MethodPost, "/api/v1/detectors", tc.req)
				assert.Equal(t, http.StatusBadRequest, rr.Code)
				assert.Equal(t, "ERR_INVALID_INPUT", decodeError(t, rr).Code)
			})
		}
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		f := newFixture(t)

		testCases := []struct {
			name string
			body string
		}{
			{name: "broken json", body: `{"type": "constant-detector"`},
			{name: "wrong field type", body: `{"type": 123, "createdBy": "ops"}`},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				rr := f.doRaw(t, http.MethodPost, "/api/v1/detectors", tc.body)
				assert.Equal(t, http.StatusBadRequest, rr.Code)
				assert.Equal(t, "ERR_INVALID_JSON", decodeError(t, rr).Code)
			})
		}
	})
}

func TestAPI_GetDetector(t *testing.T) {
	t.Run("returns a stored detector", func(t *testing.T) {
		f := newFixture(t)
		d := f.seedDetector(t, true, "ops")

		rr := f.doJSON(t, http.MethodGet, "/api/v1/detectors/"+d.UUID.String(), nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var got detector.Detector
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, d.UUID, got.UUID)
		assert.Equal(t, d.Type, got.Type)
		assert.True(t, got.Enabled)
	})

	t.Run("unknown detectors yield 404", func(t *testing.T) {
		f := newFixture(t)

		testCases := []struct {
			name string
			id   string
		}{
			{name: "unknown uuid", id: uuid.NewString()},
			{name: "malformed uuid", id: "not-a-uuid"},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				rr := f.doJSON(t, http.MethodGet, "/api/v1/detectors/"+tc.id, nil)
				assert.Equal(t, http.StatusNotFound, rr.Code)

				errResp := decodeError(t, rr)
				assert.Equal(t, "ERR_NOT_FOUND", errResp.Code)
				assert.Contains(t, errResp.Message, tc.id)
			})
		}
	})
}

type detectorPage struct {
	Data       []detector.Detector `json:"data"`
	Pagination modelapi.Pagination `json:"pagination"`
}

func TestAPI_ListDetectors(t *testing.T) {
	newListFixture := func(t *testing.T) *apiFixture {
		f := newFixture(t)
		for i := 0; i < 12; i++ {
			f.seedDetector(t, true, "ops")
		}
		for i := 0; i < 3; i++ {
			f.seedDetector(t, true, "core")
		}
		return f
	}

	listPage := func(t *testing.T, f *apiFixture, query string) detectorPage {
		t.Helper()
		rr := f.doJSON(t, http.MethodGet, "/api/v1/detectors"+query, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var page detectorPage
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
		return page
	}

	t.Run("defaults to the first page of ten", func(t *testing.T) {
		f := newListFixture(t)

		page := listPage(t, f, "")
		assert.Len(t, page.Data, 10)
		assert.Equal(t, int64(15), page.Pagination.TotalItems)
		assert.Equal(t, 2, page.Pagination.TotalPages)
		assert.Equal(t, 1, page.Pagination.CurrentPage)
		assert.Equal(t, 10, page.Pagination.PageSize)
	})

	t.Run("serves subsequent pages", func(t *testing.T) {
		f := newListFixture(t)

		page := listPage(t, f, "?page=2")
		assert.Len(t, page.Data, 5)
		assert.Equal(t, 2, page.Pagination.CurrentPage)
	})

	t.Run("honors a custom page size", func(t *testing.T) {
		f := newListFixture(t)

		page := listPage(t, f, "?page_size=5")
		assert.Len(t, page.Data, 5)
		assert.Equal(t, 3, page.Pagination.TotalPages)
	})

	t.Run("filters by creator", func(t *testing.T) {
		f := newListFixture(t)

		page := listPage(t, f, "?createdBy=core")
		assert.Len(t, page.Data, 3)
		assert.Equal(t, int64(3), page.Pagination.TotalItems)
		for _, d := range page.Data {
			assert.Equal(t, "core", d.CreatedBy)
		}
	})

	t.Run("clamps out-of-range paging values", func(t *testing.T) {
		f := newListFixture(t)

		page := listPage(t, f, "?page=-5&page_size=1000")
		assert.Equal(t, 1, page.Pagination.CurrentPage)
		assert.Equal(t, 100, page.Pagination.PageSize)
	})

	t.Run("rejects non-numeric paging values", func(t *testing.T) {
		f := newListFixture(t)

		for _, query := range []string{"?page=banana", "?page_size=banana"} {
			rr := f.doJSON(t, http.MethodGet, "/api/v1/detectors"+query, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "ERR_INVALID_QUERY_PARAM", decodeError(t, rr).Code)
		}
	})
}

func TestAPI_ToggleDetector(t *testing.T) {
	togglePath := func(id uuid.UUID, enabled bool) string {
		return fmt.Sprintf("/api/v1/detectors/%s/toggle?enabled=%t", id, enabled)
	}

	t.Run("disabling a mapped detector publishes detectors_disabled", func(t *testing.T) {
		f := newFixture(t)
		d := f.seedDetector(t, true, "ops")
		f.seedMapping(t, d, true, map[string]string{"app": "mall-web"})

		rr := f.doJSON(t, http.MethodPost, togglePath(d.UUID, false), nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var updated detector.Detector
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
		assert.False(t, updated.Enabled)

		published := requireEvents(t, f.publisher, 1)
		assert.Equal(t, events.TypeDetectorsDisabled, published[0].Type)
		require.Len(t, published[0].Mappings, 1)
		assert.Equal(t, d.UUID, published[0].Mappings[0].Detector.UUID)
		assert.False(t, published[0].Mappings[0].Detector.Enabled)
	})

	t.Run("re-enabling a mapped detector publishes mappings_changed", func(t *testing.T) {
		f := newFixture(t)
		d := f.seedDetector(t, false, "ops")
		f.seedMapping(t, d, true, map[string]string{"app": "mall-web"})

		rr := f.doJSON(t, http.MethodPost, togglePath(d.UUID, true), nil)
		require.Equal(t, http.StatusOK, rr.Code)

		published := requireEvents(t, f.publisher, 1)
		assert.Equal(t, events.TypeMappingsChanged, published[0].Type)
		require.Len(t, published[0].Mappings, 1)
		assert.True(t, published[0].Mappings[0].Detector.Enabled)
	})

	t.Run("toggling an unmapped detector publishes nothing", func(t *testing.T) {
		f := newFixture(t)
		unmapped := f.seedDetector(t, true, "ops")
		mapped := f.seedDetector(t, true, "ops")
		f.seedMapping(t, mapped, true, map[string]string{"app": "mall-web"})

		rr := f.doJSON(t, http.MethodPost, togglePath(unmapped.UUID, false), nil)
		require.Equal(t, http.StatusOK, rr.Code)

		// The second toggle pins the publisher at one event, proving the
		// first one published nothing.
		rr = f.doJSON(t, http.MethodPost, togglePath(mapped.UUID, false), nil)
		require.Equal(t, http.StatusOK, rr.Code)

		published := requireEvents(t, f.publisher, 1)
		assert.Equal(t, mapped.UUID, published[0].Mappings[0].Detector.UUID)
	})

	t.Run("rejects a missing or malformed enabled parameter", func(t *testing.T) {
		f := newFixture(t)
		d := f.seedDetector(t, true, "ops")

		for _, query := range []string{"", "?enabled=banana"} {
			rr := f.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/detectors/%s/toggle%s", d.UUID, query), nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "ERR_INVALID_QUERY_PARAM", decodeError(t, rr).Code)
		}
	})

	t.Run("unknown detectors yield 404", func(t *testing.T) {
		f := newFixture(t)

		rr := f.doJSON(t, http.MethodPost, togglePath(uuid.New(), true), nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "ERR_NOT_FOUND", decodeError(t, rr).Code)
	})
}

func TestAPI_DeleteDetector(t *testing.T) {
	t.Run("deletes and publishes the detector's mapping as disabled", func(t *testing.T) {
		f := newFixture(t)
		d := f.seedDetector(t, true, "ops")
		m := f.seedMapping(t, d, true, map[string]string{"app": "mall-web"})

		rr := f.doJSON(t, http.MethodDelete, "/api/v1/detectors/"+d.UUID.String(), nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.doJSON(t, http.MethodGet, "/api/v1/detectors/"+d.UUID.String(), nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		published := requireEvents(t, f.publisher, 1)
		assert.Equal(t, events.TypeDetectorsDisabled, published[0].Type)
		require.Len(t, published[0].Mappings, 1)
		assert.Equal(t, m.ID, published[0].Mappings[0].ID)
	})

	t.Run("unmapped detectors delete without publishing", func(t *testing.T) {
		f := newFixture(t)
		unmapped := f.seedDetector(t, true, "ops")
		mapped := f.seedDetector(t, true, "ops")
		f.seedMapping(t, mapped, true, map[string]string{"app": "mall-web"})

		rr := f.doJSON(t, http.MethodDelete, "/api/v1/detectors/"+unmapped.UUID.String(), nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = f.doJSON(t, http.MethodDelete, "/api/v1/detectors/"+mapped.UUID.String(), nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		published := requireEvents(t, f.publisher, 1)
		assert.Equal(t, mapped.UUID, published[0].Mappings[0].Detector.UUID)
	})

	t.Run("unknown detectors yield 404", func(t *testing.T) {
		f := newFixture(t)

		for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
			rr := f.doJSON(t, http.MethodDelete, "/api/v1/detectors/"+id, nil)
			assert.Equal(t, http.StatusNotFound, rr.Code)
			assert.Contains(t, decodeError(t, rr).Message, id)
		}
	})
}

func TestAPI_ListUpdatedDetectors(t *testing.T) {
	t.Run("returns only detectors updated inside the window", func(t *testing.T) {
		f := newFixture(t)
		fresh := f.seedDetector(t, true, "ops")
		stale := f.seedDetector(t, true, "ops")
		f.detectors.setUpdatedAt(stale.UUID, time.Now().Add(-2*time.Hour))

		rr := f.doJSON(t, http.MethodGet, "/api/v1/detectors/updated?intervalSecs=3600", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Detectors []detector.Detector `json:"detectors"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Detectors, 1)
		assert.Equal(t, fresh.UUID, resp.Detectors[0].UUID)
	})

	t.Run("rejects missing or invalid windows", func(t *testing.T) {
		f := newFixture(t)

		for _, query := range []string{"", "?intervalSecs=0", "?intervalSecs=-60", "?intervalSecs=abc"} {
			rr := f.doJSON(t, http.MethodGet, "/api/v1/detectors/updated"+query, nil)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "ERR_INVALID_QUERY_PARAM", decodeError(t, rr).Code)
		}
	})
}
