package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/config"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/storage"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/strava"
	syncer "github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/sync"
)

func newTestServer(t *testing.T, apiBaseURL, authBaseURL string) (*Server, *storage.Store, *syncer.Supervisor) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	client := &strava.Client{
		APIBaseURL:   apiBaseURL,
		AuthBaseURL:  authBaseURL,
		ClientID:     "id",
		ClientSecret: "secret",
	}
	supervisor := &syncer.Supervisor{}
	s := &syncer.Syncer{Store: store, Client: client}
	server := NewServer(store, client, s, supervisor, config.Config{
		SessionSecret:     "test-secret",
		StravaClientID:    "id",
		StravaAuthBaseURL: authBaseURL,
	})
	return server, store, supervisor
}

func authedRequest(t *testing.T, server *Server, method, path, body, athleteID string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if athleteID != "" {
		seed := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		session, _ := server.sessions.Get(seed, sessionName)
		session.Values["athlete_id"] = athleteID
		if err := session.Save(seed, rec); err != nil {
			t.Fatalf("save session: %v", err)
		}
		for _, c := range rec.Result().Cookies() {
			req.AddCookie(c)
		}
	}
	return req
}

func seedUser(t *testing.T, store *storage.Store, id, first, last string, admin, ogAdmin bool) {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertUser(ctx, storage.User{AthleteID: id, FirstName: first, LastName: last}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := store.SetRoleFlags(ctx, id, admin, ogAdmin); err != nil {
		t.Fatalf("set roles: %v", err)
	}
}

func TestStatsRequiresSession(t *testing.T) {
	server, _, _ := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	server.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStatsReturnsUserAndActivities(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", false, true)
	if err := store.UpsertActivities(context.Background(), []storage.Activity{{
		ID: "1001", AthleteID: "42", AthleteName: "Ada Lovelace", ActivityName: "Ride",
		Type: "Cycling", DistanceMiles: 12.4, StartDate: "2025-03-12T08:30:00Z", WeekCommencing: "10/03/2025",
	}}); err != nil {
		t.Fatalf("seed activity: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Stats(rec, authedRequest(t, server, http.MethodGet, "/api/stats", "", "42"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		User struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			IsAdmin   bool   `json:"is_admin"`
			IsOgAdmin bool   `json:"is_og_admin"`
		} `json:"user"`
		Activities []activityView `json:"activities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.User.ID != "42" || payload.User.Name != "Ada" {
		t.Fatalf("unexpected user: %+v", payload.User)
	}
	// og admin implies admin
	if !payload.User.IsAdmin || !payload.User.IsOgAdmin {
		t.Fatalf("expected admin flags set: %+v", payload.User)
	}
	if len(payload.Activities) != 1 || payload.Activities[0].ID != "1001" {
		t.Fatalf("unexpected activities: %+v", payload.Activities)
	}
}

func TestManualActivityCreateRequiresAdmin(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", false, false)

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodPost, "/api/manual-activity",
		`{"athlete_name":"Grace Hopper","activity_name":"Walk","club":"Walking","miles":2.5,"date":"2025-03-14"}`, "42")
	server.ManualActivity(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestManualActivityCreatesPlaceholderUser(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", true, false)

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodPost, "/api/manual-activity",
		`{"athlete_name":"Grace Hopper","activity_name":"Club Walk","club":"Walking","miles":2.5,"date":"2025-03-14"}`, "42")
	server.ManualActivity(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	var placeholder *storage.User
	for i := range users {
		if strings.HasPrefix(users[i].AthleteID, "manual_") {
			placeholder = &users[i]
		}
	}
	if placeholder == nil {
		t.Fatalf("expected placeholder user, got %+v", users)
	}
	if placeholder.FirstName != "Grace" || placeholder.LastName != "Hopper" {
		t.Fatalf("unexpected placeholder names: %+v", placeholder)
	}
	if placeholder.RefreshToken != "" {
		t.Fatalf("placeholder must not be syncable")
	}

	activities, err := store.ListActivities(ctx)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(activities))
	}
	a := activities[0]
	if !a.ManualEntry || a.Type != "Walking" || a.WeekCommencing != "10/03/2025" {
		t.Fatalf("unexpected manual activity: %+v", a)
	}
}

func TestManualActivityMatchesExistingUser(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", true, false)
	seedUser(t, store, "77", "Grace", "Hopper", false, false)

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodPost, "/api/manual-activity",
		`{"athlete_name":"Grace Hopper","activity_name":"Walk","club":"Walking","miles":2.5,"date":"2025-03-14"}`, "42")
	server.ManualActivity(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	activities, _ := store.ListActivities(context.Background())
	if len(activities) != 1 || activities[0].AthleteID != "77" {
		t.Fatalf("expected activity attached to existing user: %+v", activities)
	}
}

func TestDeleteManualActivityRejectsAutomatedRows(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", false, true)
	ctx := context.Background()
	if err := store.UpsertActivities(ctx, []storage.Activity{{
		ID: "1001", AthleteID: "42", AthleteName: "Ada Lovelace", ActivityName: "Ride",
		Type: "Cycling", DistanceMiles: 12.4, StartDate: "2025-03-12T08:30:00Z", WeekCommencing: "10/03/2025",
	}}); err != nil {
		t.Fatalf("seed activity: %v", err)
	}

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodDelete, "/api/manual-activity", `{"id":"1001"}`, "42")
	server.ManualActivity(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for automated row, got %d", rec.Code)
	}

	// Storage untouched.
	if _, err := store.GetActivity(ctx, "1001"); err != nil {
		t.Fatalf("automated activity deleted: %v", err)
	}
}

func TestDeleteManualActivity(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", false, true)
	ctx := context.Background()
	if err := store.InsertManualActivity(ctx, storage.Activity{
		ID: "m-1", AthleteID: "manual_x", AthleteName: "Grace Hopper", ActivityName: "Walk",
		Type: "Walking", DistanceMiles: 2.5, StartDate: "2025-03-14", WeekCommencing: "10/03/2025",
	}); err != nil {
		t.Fatalf("seed manual: %v", err)
	}

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodDelete, "/api/manual-activity", `{"id":"m-1"}`, "42")
	server.ManualActivity(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := store.GetActivity(ctx, "m-1"); err != storage.ErrNotFound {
		t.Fatalf("expected activity deleted, got %v", err)
	}
}

func TestDeleteManualActivityRequiresOgAdmin(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", true, false)

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodDelete, "/api/manual-activity", `{"id":"m-1"}`, "42")
	server.ManualActivity(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for plain admin, got %d", rec.Code)
	}
}

func TestDeleteUserRejectsSelf(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", false, true)

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodDelete, "/api/user", `{"id":"42"}`, "42")
	server.DeleteUser(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on self-delete, got %d", rec.Code)
	}
	if _, err := store.GetUser(context.Background(), "42"); err != nil {
		t.Fatalf("self user deleted: %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", false, true)
	seedUser(t, store, "77", "Grace", "Hopper", false, false)
	ctx := context.Background()
	if err := store.UpsertActivities(ctx, []storage.Activity{{
		ID: "1001", AthleteID: "77", AthleteName: "Grace Hopper", ActivityName: "Ride",
		Type: "Cycling", DistanceMiles: 12.4, StartDate: "2025-03-12T08:30:00Z", WeekCommencing: "10/03/2025",
	}}); err != nil {
		t.Fatalf("seed activity: %v", err)
	}

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodDelete, "/api/user", `{"id":"77"}`, "42")
	server.DeleteUser(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := store.GetUser(ctx, "77"); err != storage.ErrNotFound {
		t.Fatalf("expected user deleted, got %v", err)
	}
	count, _ := store.CountActivities(ctx)
	if count != 0 {
		t.Fatalf("expected activities cascade-deleted, got %d", count)
	}
}

func TestForceSyncRespondsImmediately(t *testing.T) {
	strvSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer strvSrv.Close()

	server, store, supervisor := newTestServer(t, strvSrv.URL, strvSrv.URL)
	seedUser(t, store, "42", "Ada", "Lovelace", false, true)
	seedUser(t, store, "77", "Grace", "Hopper", false, false)

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodGet, "/api/force-sync", "", "42")
	server.ForceSync(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Sync started for 2 users.") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	supervisor.Wait()
}

func TestDebugInfoCounters(t *testing.T) {
	server, store, _ := newTestServer(t, "", "")
	seedUser(t, store, "42", "Ada", "Lovelace", false, true)
	ctx := context.Background()
	if err := store.InsertManualActivity(ctx, storage.Activity{
		ID: "m-1", AthleteID: "42", AthleteName: "Ada Lovelace", ActivityName: "Walk",
		Type: "Walking", DistanceMiles: 2.5, StartDate: "2025-03-14", WeekCommencing: "10/03/2025",
	}); err != nil {
		t.Fatalf("seed manual: %v", err)
	}

	rec := httptest.NewRecorder()
	req := authedRequest(t, server, http.MethodGet, "/api/admin/debug-info", "", "42")
	server.DebugInfo(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload debugInfoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "Active" {
		t.Fatalf("unexpected status: %s", payload.Status)
	}
	if payload.Database.Users != 1 || payload.Database.TotalActivities != 1 || payload.Database.ManualActivities != 1 {
		t.Fatalf("unexpected counters: %+v", payload.Database)
	}
}

func TestCallbackCreatesUserSessionAndInitialSync(t *testing.T) {
	strvSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			_, _ = w.Write([]byte(`{
  "access_token":"access-1",
  "refresh_token":"refresh-1",
  "expires_at":4102444800,
  "athlete":{"id":42,"firstname":"Ada","lastname":"Lovelace"}
}`))
		case "/athlete/activities":
			if r.URL.Query().Get("page") == "1" {
				_, _ = w.Write([]byte(`[{"id":1001,"name":"Ride","distance":1609.34,"type":"Ride","start_date":"2025-03-12T08:30:00Z"}]`))
				return
			}
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer strvSrv.Close()

	server, store, supervisor := newTestServer(t, strvSrv.URL, strvSrv.URL)

	rec := httptest.NewRecorder()
	server.Callback(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Fatalf("expected session cookie set")
	}

	supervisor.Wait()

	ctx := context.Background()
	user, err := store.GetUser(ctx, "42")
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.FirstName != "Ada" || user.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected user: %+v", user)
	}

	a, err := store.GetActivity(ctx, "1001")
	if err != nil {
		t.Fatalf("initial sync did not store activity: %v", err)
	}
	if a.Type != "Cycling" || a.DistanceMiles != 1.00 {
		t.Fatalf("unexpected activity: %+v", a)
	}
}

func TestCallbackMissingCode(t *testing.T) {
	server, _, _ := newTestServer(t, "", "")
	rec := httptest.NewRecorder()
	server.Callback(rec, httptest.NewRequest(http.MethodGet, "/auth/callback", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
