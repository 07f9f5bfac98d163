// README: Firebase RTDB live feed for route position snapshots.
package notify

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"lifeline/internal/modules/tracking"
)

// rtdbRouteEntry mirrors the snapshot stored under /route_positions/{routeID}.
// Observer UIs subscribe to the node directly; the backend only writes.
type rtdbRouteEntry struct {
	Status             string  `json:"status"`
	OnRoute            bool    `json:"on_route"`
	DistanceFromRouteM float64 `json:"distance_from_route_m"`
	ProgressPct        float64 `json:"progress_pct"`
	RemainingDistanceM int     `json:"remaining_distance_m"`
	ETA                int64   `json:"eta"`
	ShouldReroute      bool    `json:"should_reroute"`
	Timestamp          int64   `json:"timestamp"`
}

// FirebaseFeed publishes tracking updates to Firebase RTDB. It implements
// the tracking LiveFeed port; writes happen on a background goroutine so the
// ingest path never waits on Firebase.
type FirebaseFeed struct {
	dbClient *db.Client
	log      *zap.Logger
}

// NewFirebaseFeed initialises the Firebase Admin SDK. credentialsFile may be
// empty, in which case application-default credentials are used.
func NewFirebaseFeed(ctx context.Context, projectID, credentialsFile, databaseURL string, log *zap.Logger) (*FirebaseFeed, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	dbClient, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase RTDB client: %w", err)
	}
	return &FirebaseFeed{dbClient: dbClient, log: log}, nil
}

func (f *FirebaseFeed) PublishPosition(_ context.Context, u *tracking.Update) {
	entry := rtdbRouteEntry{
		Status:             string(u.Status),
		OnRoute:            u.OnRoute,
		DistanceFromRouteM: u.DistanceFromRouteM,
		ProgressPct:        u.ProgressPct,
		RemainingDistanceM: u.RemainingDistanceM,
		ETA:                u.CurrentETA.Unix(),
		ShouldReroute:      u.ShouldReroute,
		Timestamp:          time.Now().Unix(),
	}
	routeID := string(u.RouteID)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ref := f.dbClient.NewRef("route_positions/" + routeID)
		if err := ref.Set(ctx, entry); err != nil {
			f.log.Warn("publish route position", zap.String("route_id", routeID), zap.Error(err))
		}
	}()
}
