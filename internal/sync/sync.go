// Package sync pulls each athlete's Strava history, normalizes it and
// upserts it into storage. One athlete's failure never aborts the others.
package sync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/activity"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/observability"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/storage"
	"github.com/kieran-tanner-9/Strava-Activity-And-Group-Tracker/internal/strava"
)

const (
	perPage = 200
	// batchSize caps one storage write; the backing store limits batched
	// statement size.
	batchSize = 50
	// refreshLeeway forces a token refresh when expiry is this close.
	refreshLeeway = 300 * time.Second
)

// Cutoff is the fixed epoch activities are fetched from.
var Cutoff = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type Syncer struct {
	Store  *storage.Store
	Client *strava.Client
	Cutoff time.Time

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

// SyncAll runs one sync per known user concurrently and waits for all of
// them. Errors are logged per athlete and never propagated.
func (s *Syncer) SyncAll(ctx context.Context) {
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		log.Printf("sync all: list users: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(user storage.User) {
			defer wg.Done()
			if err := s.SyncAthlete(ctx, user); err != nil {
				observability.RecordSyncError()
				log.Printf("sync athlete %s: %v", user.AthleteID, err)
			}
		}(user)
	}
	wg.Wait()
}

// SyncAthlete refreshes the athlete's token when needed, fetches their
// activity history from the cutoff and upserts the kept activities.
func (s *Syncer) SyncAthlete(ctx context.Context, user storage.User) error {
	// Manually created users have no refresh token and are never synced.
	if user.RefreshToken == "" {
		return nil
	}
	observability.RecordSyncRun()

	accessToken, err := s.ensureToken(ctx, user)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}

	fetched := s.fetchActivities(ctx, accessToken)
	if len(fetched) == 0 {
		return nil
	}

	batch := make([]storage.Activity, 0, len(fetched))
	skipped := 0
	for _, act := range fetched {
		rawType := act.Type
		if rawType == "" {
			rawType = act.SportType
		}
		classified := activity.ClassifySport(rawType)
		if activity.IsExcluded(classified) {
			skipped++
			continue
		}
		batch = append(batch, storage.Activity{
			ID:             fmt.Sprintf("%d", act.ID),
			AthleteID:      user.AthleteID,
			AthleteName:    user.FirstName + " " + user.LastName,
			ActivityName:   act.Name,
			Type:           classified,
			DistanceMiles:  activity.MilesFromMeters(act.Distance),
			StartDate:      act.StartDate,
			WeekCommencing: activity.WeekStart(act.StartDate),
			StravaLink:     fmt.Sprintf("https://www.strava.com/activities/%d", act.ID),
		})
	}
	observability.RecordActivitiesSkipped(skipped)

	for start := 0; start < len(batch); start += batchSize {
		end := start + batchSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := s.Store.UpsertActivities(ctx, batch[start:end]); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
	}

	now := s.now()
	if err := s.Store.UpdateLastFetch(ctx, user.AthleteID, now); err != nil {
		return fmt.Errorf("update last fetch: %w", err)
	}
	observability.RecordActivitiesUpserted(len(batch))
	observability.RecordSyncCompleted(now)
	log.Printf("synced %d activities for %s", len(batch), user.FirstName)
	return nil
}

// ensureToken returns a valid access token, refreshing and persisting the
// pair when the stored one is expired or about to expire.
func (s *Syncer) ensureToken(ctx context.Context, user storage.User) (string, error) {
	now := s.now()
	if user.ExpiresAt > 0 && time.Unix(user.ExpiresAt, 0).After(now.Add(refreshLeeway)) {
		return user.AccessToken, nil
	}

	refreshed, err := s.Client.RefreshToken(ctx, user.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := s.Store.UpdateUserTokens(ctx, user.AthleteID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.ExpiresAt); err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// fetchActivities pages through the listing endpoint from the cutoff. A
// failed page truncates the fetch; whatever was gathered is kept.
func (s *Syncer) fetchActivities(ctx context.Context, accessToken string) []strava.ActivitySummary {
	cutoff := s.Cutoff
	if cutoff.IsZero() {
		cutoff = Cutoff
	}

	var all []strava.ActivitySummary
	for page := 1; ; page++ {
		activities, err := s.Client.ListActivities(ctx, accessToken, cutoff, page, perPage)
		if err != nil {
			log.Printf("list activities page %d: %v", page, err)
			break
		}
		if len(activities) == 0 {
			break
		}
		all = append(all, activities...)
		if len(activities) < perPage {
			break
		}
	}
	return all
}

// CleanupExcluded sweeps out any stored activity, manual or synced, whose
// type is in the excluded set.
func (s *Syncer) CleanupExcluded(ctx context.Context) {
	deleted, err := s.Store.DeleteActivitiesByTypes(ctx, activity.ExcludedTypes)
	if err != nil {
		log.Printf("cleanup excluded types: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("cleanup removed %d excluded activities", deleted)
	}
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
