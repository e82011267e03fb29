package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func newSpaceRouter(env *testEnv) *mux.Router {
	h := NewSpaceHandler(env.manager, nil)
	r := mux.NewRouter()
	r.HandleFunc("/spaces", h.List).Methods(http.MethodGet)
	r.HandleFunc("/spaces", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/spaces/active", h.Activate).Methods(http.MethodPut)
	r.HandleFunc("/spaces/{id}", h.Rename).Methods(http.MethodPatch)
	r.HandleFunc("/spaces/{id}", h.Delete).Methods(http.MethodDelete)
	return r
}

func listSpaces(t *testing.T, router *mux.Router) SpacesResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/spaces", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp SpacesResponse
	decodeData(t, rec, &resp)
	return resp
}

// waitForDefaultSpace blocks until the seeded "Personal" space shows up. The
// space reconciler seeds it asynchronously after the first empty snapshot.
func waitForDefaultSpace(t *testing.T, router *mux.Router) SpacesResponse {
	t.Helper()
	var resp SpacesResponse
	waitFor(t, "default space", func() bool {
		resp = listSpaces(t, router)
		return len(resp.Spaces) > 0 && resp.ActiveID != ""
	})
	return resp
}

func TestSpacesListSeedsDefault(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router := newSpaceRouter(env)

	resp := waitForDefaultSpace(t, router)
	if resp.Spaces[0].Name != "Personal" {
		t.Errorf("default space name = %q, want Personal", resp.Spaces[0].Name)
	}
	if resp.ActiveID != resp.Spaces[0].ID {
		t.Errorf("active id %q does not point at the seeded space", resp.ActiveID)
	}
}

func TestSpacesCreateRenameDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router := newSpaceRouter(env)
	waitForDefaultSpace(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/spaces", CreateSpaceRequest{Name: "  Work  "}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created spaceView
	decodeData(t, rec, &created)
	if created.Name != "Work" {
		t.Errorf("created name = %q, want trimmed Work", created.Name)
	}

	var resp SpacesResponse
	waitFor(t, "two spaces", func() bool {
		resp = listSpaces(t, router)
		return len(resp.Spaces) == 2
	})
	if resp.Spaces[1].ID != created.ID {
		t.Errorf("new space not appended last: %+v", resp.Spaces)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPatch, "/spaces/"+created.ID, RenameSpaceRequest{Name: "Deep Work"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("rename status = %d, body = %s", rec.Code, rec.Body.String())
	}
	waitFor(t, "rename visible", func() bool {
		resp = listSpaces(t, router)
		return len(resp.Spaces) == 2 && resp.Spaces[1].Name == "Deep Work"
	})

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodDelete, "/spaces/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}
	waitFor(t, "one space left", func() bool {
		return len(listSpaces(t, router).Spaces) == 1
	})
}

func TestSpacesDeleteLastRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router := newSpaceRouter(env)
	resp := waitForDefaultSpace(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodDelete, "/spaces/"+resp.Spaces[0].ID, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestSpacesRenameUnknownIs404(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router := newSpaceRouter(env)
	waitForDefaultSpace(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPatch, "/spaces/nope", RenameSpaceRequest{Name: "X"}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSpacesActivateSwitchesPartition(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router := newSpaceRouter(env)
	waitForDefaultSpace(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPost, "/spaces", CreateSpaceRequest{Name: "Work"}))
	var created spaceView
	decodeData(t, rec, &created)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/spaces/active", ActivateSpaceRequest{SpaceID: created.ID}))
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var result map[string]string
	decodeData(t, rec, &result)
	if result["activeId"] != created.ID {
		t.Errorf("activeId = %q, want %q", result["activeId"], created.ID)
	}

	// Unknown space is rejected.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/spaces/active", ActivateSpaceRequest{SpaceID: "nope"}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown space status = %d, want 404", rec.Code)
	}
}

func TestSpacesRequireAuth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	router := newSpaceRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/spaces", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	if envelope.Success {
		t.Error("error envelope marked successful")
	}
}
