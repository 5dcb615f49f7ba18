package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
	"github.com/fieldtrace/fieldtrace/internal/middleware"
	"github.com/fieldtrace/fieldtrace/internal/recorder"
)

var changeSetCols = []string{
	"id", "kind", "entity_id", "actor", "source", "request_id", "metadata", "recorded_at",
}

func newChangeSetFixture(t *testing.T) (*ChangeSetHandlers, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := repositories.NewChangeSetRepository(sqlx.NewDb(db, "postgres"))
	return NewChangeSetHandlers(repo, recorder.New(repo, nil)), mock
}

// testAuthContext stands in for the auth middleware: it stamps a fixed actor
// onto the context the way AuthMiddleware would after verifying credentials.
func testAuthContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextActorKey, "tester")
		c.Next()
	}
}

func changeSetRouter(h *ChangeSetHandlers) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	r.Use(testAuthContext())
	r.POST("/api/v1/changesets", h.Ingest)
	r.GET("/api/v1/changesets", h.List)
	r.GET("/api/v1/changesets/stats", h.Stats)
	r.GET("/api/v1/changesets/:id", h.Get)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing kind", map[string]interface{}{
			"entity_id": "p-1",
			"changes":   []map[string]interface{}{{"field": "email"}},
		}},
		{"missing entity_id", map[string]interface{}{
			"kind":    "profile",
			"changes": []map[string]interface{}{{"field": "email"}},
		}},
		{"no changes", map[string]interface{}{
			"kind":      "profile",
			"entity_id": "p-1",
		}},
		{"empty field name", map[string]interface{}{
			"kind":      "profile",
			"entity_id": "p-1",
			"changes":   []map[string]interface{}{{"field": ""}},
		}},
		{"duplicate field", map[string]interface{}{
			"kind":      "profile",
			"entity_id": "p-1",
			"changes": []map[string]interface{}{
				{"field": "email", "new_value": "a"},
				{"field": "email", "new_value": "b"},
			},
		}},
	}

	h, mock := newChangeSetFixture(t)
	r := changeSetRouter(h)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/changesets", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("rejected requests reached the database: %v", err)
	}
}

func TestIngest_Success(t *testing.T) {
	h, mock := newChangeSetFixture(t)
	r := changeSetRouter(h)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO change_sets").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO change_records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	w := doJSON(t, r, http.MethodPost, "/api/v1/changesets", map[string]interface{}{
		"kind":      "profile",
		"entity_id": "p-42",
		"metadata":  map[string]interface{}{"origin": "sync"},
		"changes": []map[string]interface{}{
			{"field": "email", "old_value": "a@example.com", "new_value": "b@example.com"},
		},
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["id"] == "" {
		t.Error("response missing change set id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIngest_NormalizesKind(t *testing.T) {
	h, mock := newChangeSetFixture(t)
	r := changeSetRouter(h)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO change_sets").
		WithArgs(sqlmock.AnyArg(), "user_profile", "p-1", "tester", "api",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO change_records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	w := doJSON(t, r, http.MethodPost, "/api/v1/changesets", map[string]interface{}{
		"kind":      "UserProfiles",
		"entity_id": "p-1",
		"changes": []map[string]interface{}{
			{"field": "email", "new_value": "x"},
		},
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestList_WithFilters(t *testing.T) {
	h, mock := newChangeSetFixture(t)
	r := changeSetRouter(h)

	recordedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM change_sets`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT id, kind, entity_id").
		WillReturnRows(sqlmock.NewRows(changeSetCols).
			AddRow("cs-1", "profile", "p-42", "tester", "api", nil, []byte(`{"origin":"sync"}`), recordedAt))

	w := doJSON(t, r, http.MethodGet, "/api/v1/changesets?kind=profile&entity_id=p-42&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ChangeSets []changeSetResponse `json:"change_sets"`
		Total      int                 `json:"total"`
		Limit      int                 `json:"limit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || len(resp.ChangeSets) != 1 {
		t.Fatalf("total = %d, sets = %d, want 1/1", resp.Total, len(resp.ChangeSets))
	}
	if resp.Limit != 10 {
		t.Errorf("limit = %d, want 10", resp.Limit)
	}
	if resp.ChangeSets[0].ID != "cs-1" {
		t.Errorf("id = %q, want cs-1", resp.ChangeSets[0].ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestList_BadSince(t *testing.T) {
	h, _ := newChangeSetFixture(t)
	r := changeSetRouter(h)

	w := doJSON(t, r, http.MethodGet, "/api/v1/changesets?since=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGet_NotFound(t *testing.T) {
	h, mock := newChangeSetFixture(t)
	r := changeSetRouter(h)

	mock.ExpectQuery("SELECT id, kind, entity_id").
		WillReturnRows(sqlmock.NewRows(changeSetCols))

	w := doJSON(t, r, http.MethodGet, "/api/v1/changesets/cs-missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

func TestGet_WithRecords(t *testing.T) {
	h, mock := newChangeSetFixture(t)
	r := changeSetRouter(h)

	recordedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, kind, entity_id").
		WillReturnRows(sqlmock.NewRows(changeSetCols).
			AddRow("cs-1", "profile", "p-42", "tester", "tracked", nil, nil, recordedAt))
	mock.ExpectQuery("SELECT field, old_value, new_value, position").
		WillReturnRows(sqlmock.NewRows([]string{"field", "old_value", "new_value", "position"}).
			AddRow("email", []byte(`"a@example.com"`), []byte(`"b@example.com"`), 0).
			AddRow("status", []byte(`"active"`), []byte(`"disabled"`), 1))

	w := doJSON(t, r, http.MethodGet, "/api/v1/changesets/cs-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp changeSetResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(resp.Records))
	}
	if resp.Records[0].Field != "email" || resp.Records[1].Field != "status" {
		t.Errorf("record order wrong: %+v", resp.Records)
	}
}

func TestStats(t *testing.T) {
	h, mock := newChangeSetFixture(t)
	r := changeSetRouter(h)

	mock.ExpectQuery("SELECT s.kind").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "sets", "records"}).
			AddRow("profile", 12, 30).
			AddRow("invoice", 3, 4))

	w := doJSON(t, r, http.MethodGet, "/api/v1/changesets/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Kinds []struct {
			Kind string `json:"kind"`
			Sets int64  `json:"sets"`
		} `json:"kinds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Kinds) != 2 || resp.Kinds[0].Kind != "profile" {
		t.Errorf("unexpected stats: %+v", resp.Kinds)
	}
}
