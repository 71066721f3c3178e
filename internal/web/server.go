// Package web exposes the session-gated JSON surface: OAuth login, stats,
// manual activity management and the admin tools.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/activity"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/config"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/storage"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/strava"
	syncer "github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/sync"
)

const sessionName = "tracker-session"

type Server struct {
	store      *storage.Store
	strava     *strava.Client
	syncer     *syncer.Syncer
	supervisor *syncer.Supervisor
	sessions   *sessions.CookieStore
	oauth      *oauth2.Config
}

func NewServer(store *storage.Store, client *strava.Client, s *syncer.Syncer, supervisor *syncer.Supervisor, cfg config.Config) *Server {
	cookieStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   60 * 60 * 24 * 7,
		HttpOnly: true,
		Secure:   strings.HasPrefix(cfg.BaseURL, "https://"),
	}

	authBase := cfg.StravaAuthBaseURL
	if authBase == "" {
		authBase = "https://www.strava.com"
	}

	return &Server{
		store:      store,
		strava:     client,
		syncer:     s,
		supervisor: supervisor,
		sessions:   cookieStore,
		oauth: &oauth2.Config{
			ClientID:     cfg.StravaClientID,
			ClientSecret: cfg.StravaClientSecret,
			RedirectURL:  cfg.StravaRedirectURL,
			Scopes:       []string{"activity:read_all"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  authBase + "/oauth/authorize",
				TokenURL: authBase + "/oauth/token",
			},
		},
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/login", s.Login)
	mux.HandleFunc("/auth/callback", s.Callback)
	mux.HandleFunc("/api/stats", s.Stats)
	mux.HandleFunc("/api/manual-activity", s.ManualActivity)
	mux.HandleFunc("/api/force-sync", s.ForceSync)
	mux.HandleFunc("/api/admin/debug-info", s.DebugInfo)
	mux.HandleFunc("/api/admin/users", s.AdminUsers)
	mux.HandleFunc("/api/user", s.DeleteUser)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	url := s.oauth.AuthCodeURL("state", oauth2.SetAuthURLParam("approval_prompt", "force"))
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing code", http.StatusBadRequest)
		return
	}

	token, err := s.strava.ExchangeAuthorizationCode(r.Context(), code)
	if err != nil {
		log.Printf("oauth exchange failed: %v", err)
		http.Error(w, "Failed to exchange token", http.StatusInternalServerError)
		return
	}

	athleteID := strconv.FormatInt(token.Athlete.ID, 10)
	profileJSON, _ := json.Marshal(token.Athlete)
	user := storage.User{
		AthleteID:    athleteID,
		FirstName:    token.Athlete.FirstName,
		LastName:     token.Athlete.LastName,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		ProfileJSON:  string(profileJSON),
	}
	if err := s.store.UpsertUser(r.Context(), user); err != nil {
		log.Printf("save user %s: %v", athleteID, err)
		http.Error(w, "Failed to save user", http.StatusInternalServerError)
		return
	}

	session, _ := s.sessions.Get(r, sessionName)
	session.Values["athlete_id"] = athleteID
	if err := session.Save(r, w); err != nil {
		log.Printf("save session: %v", err)
	}

	// Initial history pull happens off the request; the supervisor keeps
	// the process alive until it finishes.
	s.supervisor.Go("initial-sync-"+athleteID, func() {
		if err := s.syncer.SyncAthlete(context.Background(), user); err != nil {
			log.Printf("initial sync %s: %v", athleteID, err)
		}
	})

	http.Redirect(w, r, "/", http.StatusFound)
}

type statsUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsAdmin   bool   `json:"is_admin"`
	IsOgAdmin bool   `json:"is_og_admin"`
}

type activityView struct {
	ID             string  `json:"id"`
	AthleteID      string  `json:"athlete_id"`
	AthleteName    string  `json:"athlete_name"`
	ActivityName   string  `json:"activity_name"`
	Type           string  `json:"type"`
	DistanceMiles  float64 `json:"distance_miles"`
	StartDate      string  `json:"start_date"`
	WeekCommencing string  `json:"week_commencing"`
	StravaLink     string  `json:"strava_link,omitempty"`
	ManualEntry    bool    `json:"manual_entry"`
}

func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	activities, err := s.store.ListActivities(r.Context())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to load activities")
		return
	}

	views := make([]activityView, 0, len(activities))
	for _, a := range activities {
		views = append(views, newActivityView(a))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user": statsUser{
			ID:        user.AthleteID,
			Name:      user.FirstName,
			IsAdmin:   user.IsAdmin || user.IsOgAdmin,
			IsOgAdmin: user.IsOgAdmin,
		},
		"activities": views,
	})
}

func (s *Server) ManualActivity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createManualActivity(w, r)
	case http.MethodDelete:
		s.deleteManualActivity(w, r)
	default:
		jsonError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type manualActivityRequest struct {
	AthleteName  string  `json:"athlete_name"`
	ActivityName string  `json:"activity_name"`
	Club         string  `json:"club"`
	Miles        float64 `json:"miles"`
	Date         string  `json:"date"`
}

func (s *Server) createManualActivity(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !user.IsAdmin && !user.IsOgAdmin {
		jsonError(w, http.StatusForbidden, "Forbidden")
		return
	}

	var body manualActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	body.AthleteName = strings.TrimSpace(body.AthleteName)
	if body.AthleteName == "" || body.Date == "" {
		jsonError(w, http.StatusBadRequest, "Missing fields")
		return
	}

	targetID, err := s.resolveAthlete(r, body.AthleteName)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to resolve athlete")
		return
	}

	if err := s.store.InsertManualActivity(r.Context(), storage.Activity{
		ID:             uuid.NewString(),
		AthleteID:      targetID,
		AthleteName:    body.AthleteName,
		ActivityName:   body.ActivityName,
		Type:           body.Club,
		DistanceMiles:  body.Miles,
		StartDate:      body.Date,
		WeekCommencing: activity.WeekStart(body.Date),
	}); err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to save activity")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// resolveAthlete matches a submitted display name against known users;
// unmatched names get a placeholder user that sync will never touch.
func (s *Server) resolveAthlete(r *http.Request, athleteName string) (string, error) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		return "", err
	}
	for _, u := range users {
		fullName := strings.TrimSpace(u.FirstName + " " + u.LastName)
		if fullName == athleteName {
			return u.AthleteID, nil
		}
	}

	targetID := "manual_" + uuid.NewString()
	first := athleteName
	last := ""
	if idx := strings.Index(athleteName, " "); idx >= 0 {
		first = athleteName[:idx]
		last = strings.TrimSpace(athleteName[idx+1:])
	}
	if err := s.store.CreateManualUser(r.Context(), targetID, first, last); err != nil {
		return "", err
	}
	return targetID, nil
}

func (s *Server) deleteManualActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireOgAdmin(w, r); !ok {
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		jsonError(w, http.StatusBadRequest, "Missing ID")
		return
	}

	stored, err := s.store.GetActivity(r.Context(), body.ID)
	if err == storage.ErrNotFound {
		jsonError(w, http.StatusNotFound, "Activity not found")
		return
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to load activity")
		return
	}
	if !stored.ManualEntry {
		jsonError(w, http.StatusBadRequest, "Cannot delete automated Strava activities.")
		return
	}

	if err := s.store.DeleteActivity(r.Context(), body.ID); err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to delete activity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) ForceSync(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireOgAdmin(w, r); !ok {
		return
	}

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	s.supervisor.Go("force-sync", func() {
		s.syncer.SyncAll(context.Background())
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Sync started for " + strconv.Itoa(len(users)) + " users.",
	})
}

type debugDatabase struct {
	Users            int `json:"users"`
	TotalActivities  int `json:"total_activities"`
	ManualActivities int `json:"manual_activities"`
}

type debugInfoResponse struct {
	Status    string        `json:"status"`
	LastSync  int64         `json:"last_sync"`
	Database  debugDatabase `json:"database"`
	Timestamp string        `json:"timestamp"`
}

func (s *Server) DebugInfo(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireOgAdmin(w, r); !ok {
		return
	}

	ctx := r.Context()
	lastSync, err := s.store.LastFetchTime(ctx)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to load debug info")
		return
	}
	users, _ := s.store.CountUsers(ctx)
	total, _ := s.store.CountActivities(ctx)
	manual, _ := s.store.CountManualActivities(ctx)

	writeJSON(w, http.StatusOK, debugInfoResponse{
		Status:   "Active",
		LastSync: lastSync,
		Database: debugDatabase{
			Users:            users,
			TotalActivities:  total,
			ManualActivities: manual,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type userView struct {
	AthleteID string `json:"athlete_id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	IsAdmin   bool   `json:"is_admin"`
	IsOgAdmin bool   `json:"is_og_admin"`
	LastFetch int64  `json:"last_fetch_time"`
}

func (s *Server) AdminUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireOgAdmin(w, r); !ok {
		return
	}

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{
			AthleteID: u.AthleteID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			IsAdmin:   u.IsAdmin,
			IsOgAdmin: u.IsOgAdmin,
			LastFetch: u.LastFetch,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": views})
}

func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		jsonError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	caller, ok := s.requireOgAdmin(w, r)
	if !ok {
		return
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		jsonError(w, http.StatusBadRequest, "Missing Target ID")
		return
	}
	if body.ID == caller.AthleteID {
		jsonError(w, http.StatusBadRequest, "Cannot delete yourself")
		return
	}

	if err := s.store.DeleteUser(r.Context(), body.ID); err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (storage.User, bool) {
	session, _ := s.sessions.Get(r, sessionName)
	athleteID, _ := session.Values["athlete_id"].(string)
	if athleteID == "" {
		jsonError(w, http.StatusUnauthorized, "Unauthorized")
		return storage.User{}, false
	}
	user, err := s.store.GetUser(r.Context(), athleteID)
	if err == storage.ErrNotFound {
		jsonError(w, http.StatusUnauthorized, "User not found")
		return storage.User{}, false
	}
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to load user")
		return storage.User{}, false
	}
	return user, true
}

func (s *Server) requireOgAdmin(w http.ResponseWriter, r *http.Request) (storage.User, bool) {
	user, ok := s.requireSession(w, r)
	if !ok {
		return storage.User{}, false
	}
	if !user.IsOgAdmin {
		jsonError(w, http.StatusForbidden, "Forbidden")
		return storage.User{}, false
	}
	return user, true
}

func newActivityView(a storage.Activity) activityView {
	return activityView{
		ID:             a.ID,
		AthleteID:      a.AthleteID,
		AthleteName:    a.AthleteName,
		ActivityName:   a.ActivityName,
		Type:           a.Type,
		DistanceMiles:  a.DistanceMiles,
		StartDate:      a.StartDate,
		WeekCommencing: a.WeekCommencing,
		StravaLink:     a.StravaLink,
		ManualEntry:    a.ManualEntry,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
