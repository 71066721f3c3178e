package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

type User struct {
	AthleteID    string
	FirstName    string
	LastName     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	IsAdmin      bool
	IsOgAdmin    bool
	LastFetch    int64
	ProfileJSON  string
}

type Activity struct {
	ID             string
	AthleteID      string
	AthleteName    string
	ActivityName   string
	Type           string
	DistanceMiles  float64
	StartDate      string
	WeekCommencing string
	StravaLink     string
	ManualEntry    bool
}

var ErrNotFound = errors.New("not found")

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time; a single pooled connection also
	// keeps :memory: databases shared across concurrent callers.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	athlete_id TEXT PRIMARY KEY,
	firstname TEXT NOT NULL,
	lastname TEXT NOT NULL,
	access_token TEXT,
	refresh_token TEXT,
	expires_at INTEGER,
	is_admin INTEGER NOT NULL DEFAULT 0,
	is_og_admin INTEGER NOT NULL DEFAULT 0,
	last_fetch_time INTEGER,
	profile_json TEXT
);
CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	athlete_id TEXT NOT NULL,
	athlete_name TEXT NOT NULL,
	activity_name TEXT NOT NULL,
	type TEXT NOT NULL,
	distance_miles REAL NOT NULL,
	start_date TEXT NOT NULL,
	week_commencing TEXT NOT NULL,
	strava_link TEXT,
	manual_entry INTEGER NOT NULL DEFAULT 0
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// UpsertUser inserts a user keyed by athlete id, updating only the token
// fields on conflict so role flags survive repeat OAuth callbacks.
func (s *Store) UpsertUser(ctx context.Context, user User) error {
	if user.AthleteID == "" {
		return errors.New("athlete id required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (athlete_id, firstname, lastname, access_token, refresh_token, expires_at, profile_json)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(athlete_id) DO UPDATE SET
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	expires_at = excluded.expires_at
`, user.AthleteID, user.FirstName, user.LastName, user.AccessToken, user.RefreshToken, user.ExpiresAt, user.ProfileJSON)
	return err
}

// CreateManualUser inserts a placeholder user with no Strava linkage. Role
// flags default to 0 and the missing refresh token keeps it out of sync.
func (s *Store) CreateManualUser(ctx context.Context, athleteID, firstName, lastName string) error {
	if athleteID == "" {
		return errors.New("athlete id required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (athlete_id, firstname, lastname, is_admin, is_og_admin, last_fetch_time)
VALUES (?, ?, ?, 0, 0, ?)
`, athleteID, firstName, lastName, time.Now().Unix())
	return err
}

func (s *Store) GetUser(ctx context.Context, athleteID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT athlete_id, firstname, lastname, access_token, refresh_token, expires_at, is_admin, is_og_admin, last_fetch_time, profile_json
FROM users
WHERE athlete_id = ?
`, athleteID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT athlete_id, firstname, lastname, access_token, refresh_token, expires_at, is_admin, is_og_admin, last_fetch_time, profile_json
FROM users
ORDER BY firstname
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserTokens(ctx context.Context, athleteID, accessToken, refreshToken string, expiresAt int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE users
SET access_token = ?, refresh_token = ?, expires_at = ?
WHERE athlete_id = ?
`, accessToken, refreshToken, expiresAt, athleteID)
	return err
}

// SetRoleFlags updates a user's admin flags.
func (s *Store) SetRoleFlags(ctx context.Context, athleteID string, isAdmin, isOgAdmin bool) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE users
SET is_admin = ?, is_og_admin = ?
WHERE athlete_id = ?
`, boolToInt(isAdmin), boolToInt(isOgAdmin), athleteID)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (s *Store) UpdateLastFetch(ctx context.Context, athleteID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE users
SET last_fetch_time = ?
WHERE athlete_id = ?
`, at.Unix(), athleteID)
	return err
}

// DeleteUser removes a user and all of their activities.
func (s *Store) DeleteUser(ctx context.Context, athleteID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM activities
WHERE athlete_id = ?
`, athleteID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM users
WHERE athlete_id = ?
`, athleteID); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertActivities writes one batch of synced activities in a single
// transaction. On conflict only the mutable fields change; identity and the
// manual-entry flag are never touched.
func (s *Store) UpsertActivities(ctx context.Context, batch []Activity) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO activities (id, athlete_id, athlete_name, activity_name, type, distance_miles, start_date, week_commencing, strava_link, manual_entry)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
ON CONFLICT(id) DO UPDATE SET
	activity_name = excluded.activity_name,
	type = excluded.type,
	distance_miles = excluded.distance_miles,
	week_commencing = excluded.week_commencing
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range batch {
		if _, err := stmt.ExecContext(ctx, a.ID, a.AthleteID, a.AthleteName, a.ActivityName, a.Type, a.DistanceMiles, a.StartDate, a.WeekCommencing, a.StravaLink); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) InsertManualActivity(ctx context.Context, a Activity) error {
	if a.ID == "" {
		return errors.New("activity id required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO activities (id, athlete_id, athlete_name, activity_name, type, distance_miles, start_date, week_commencing, manual_entry)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
`, a.ID, a.AthleteID, a.AthleteName, a.ActivityName, a.Type, a.DistanceMiles, a.StartDate, a.WeekCommencing)
	return err
}

func (s *Store) GetActivity(ctx context.Context, id string) (Activity, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, athlete_id, athlete_name, activity_name, type, distance_miles, start_date, week_commencing, strava_link, manual_entry
FROM activities
WHERE id = ?
`, id)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Activity{}, ErrNotFound
	}
	return a, err
}

func (s *Store) ListActivities(ctx context.Context) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, athlete_id, athlete_name, activity_name, type, distance_miles, start_date, week_commencing, strava_link, manual_entry
FROM activities
ORDER BY start_date DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM activities
WHERE id = ?
`, id)
	return err
}

// DeleteActivitiesByTypes removes every activity, manual or synced, whose
// classified type is in the given set. Used by the scheduled cleanup.
func (s *Store) DeleteActivitiesByTypes(ctx context.Context, types []string) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	placeholders := "?"
	args := []interface{}{types[0]}
	for _, t := range types[1:] {
		placeholders += ", ?"
		args = append(args, t)
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM activities
WHERE type IN (`+placeholders+`)
`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (s *Store) CountActivities(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM activities`)
}

func (s *Store) CountManualActivities(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM activities WHERE manual_entry = 1`)
}

// LastFetchTime returns the most recent fetch timestamp across all users,
// or zero when no sync has run yet.
func (s *Store) LastFetchTime(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT MAX(last_fetch_time)
FROM users
`)
	var last sql.NullInt64
	if err := row.Scan(&last); err != nil {
		return 0, err
	}
	return last.Int64, nil
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var accessToken, refreshToken, profileJSON sql.NullString
	var expiresAt, lastFetch sql.NullInt64
	var isAdmin, isOgAdmin int
	if err := row.Scan(&user.AthleteID, &user.FirstName, &user.LastName, &accessToken, &refreshToken, &expiresAt, &isAdmin, &isOgAdmin, &lastFetch, &profileJSON); err != nil {
		return User{}, err
	}
	user.AccessToken = accessToken.String
	user.RefreshToken = refreshToken.String
	user.ExpiresAt = expiresAt.Int64
	user.IsAdmin = isAdmin == 1
	user.IsOgAdmin = isOgAdmin == 1
	user.LastFetch = lastFetch.Int64
	user.ProfileJSON = profileJSON.String
	return user, nil
}

func scanActivity(row rowScanner) (Activity, error) {
	var a Activity
	var link sql.NullString
	var manual int
	if err := row.Scan(&a.ID, &a.AthleteID, &a.AthleteName, &a.ActivityName, &a.Type, &a.DistanceMiles, &a.StartDate, &a.WeekCommencing, &link, &manual); err != nil {
		return Activity{}, err
	}
	a.StravaLink = link.String
	a.ManualEntry = manual == 1
	return a, nil
}
