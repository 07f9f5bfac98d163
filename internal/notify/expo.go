// README: Expo push dispatcher behind the lifecycle notification hooks.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"go.uber.org/zap"

	"lifeline/internal/modules/request"
	"lifeline/internal/types"
)

// TokenStore resolves a user's registered Expo push tokens.
type TokenStore interface {
	ExpoTokens(ctx context.Context, userID types.ID) ([]string, error)
}

// ExpoDispatcher implements the lifecycle Notifier port. Delivery runs on
// background goroutines so the lifecycle manager never blocks on push I/O;
// failures are logged and dropped.
type ExpoDispatcher struct {
	client *expo.PushClient
	tokens TokenStore
	log    *zap.Logger
	wg     sync.WaitGroup
}

func NewExpoDispatcher(tokens TokenStore, log *zap.Logger) *ExpoDispatcher {
	return &ExpoDispatcher{
		client: expo.NewPushClient(nil),
		tokens: tokens,
		log:    log,
	}
}

func (d *ExpoDispatcher) RequestApproved(_ context.Context, r *request.Request) {
	d.dispatch([]types.ID{r.RequesterID},
		"Request approved",
		fmt.Sprintf("Your request for %d unit(s) of %s is approved and being matched", r.Units, r.Group))
}

func (d *ExpoDispatcher) AssignmentCreated(_ context.Context, r *request.Request, a *request.Assignment) {
	body := "You have been assigned to an escort request"
	if a.Role == request.RoleDonor {
		body = fmt.Sprintf("You have been matched to donate %s blood", r.Group)
	}
	d.dispatch([]types.ID{a.CandidateID}, "New assignment", body)
}

func (d *ExpoDispatcher) AssignmentResponded(_ context.Context, r *request.Request, a *request.Assignment) {
	verb := "accepted"
	if a.Status == request.AssignmentRejected {
		verb = "declined"
	}
	d.dispatch([]types.ID{r.RequesterID},
		"Assignment update",
		fmt.Sprintf("A %s has %s your request", a.Role, verb))
}

func (d *ExpoDispatcher) DonationCompleted(_ context.Context, r *request.Request, a *request.Assignment) {
	d.dispatch([]types.ID{r.RequesterID, a.CandidateID},
		"Donation recorded",
		"Thank you, the donation has been recorded")
}

// Flush waits for in-flight deliveries, for shutdown.
func (d *ExpoDispatcher) Flush() {
	d.wg.Wait()
}

func (d *ExpoDispatcher) dispatch(userIDs []types.ID, title, body string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var tokens []expo.ExponentPushToken
		for _, userID := range userIDs {
			raw, err := d.tokens.ExpoTokens(ctx, userID)
			if err != nil {
				d.log.Warn("load expo tokens", zap.String("user_id", string(userID)), zap.Error(err))
				continue
			}
			for _, t := range raw {
				token, err := expo.NewExponentPushToken(t)
				if err != nil {
					d.log.Warn("invalid expo token", zap.String("user_id", string(userID)))
					continue
				}
				tokens = append(tokens, token)
			}
		}
		if len(tokens) == 0 {
			return
		}

		response, err := d.client.Publish(&expo.PushMessage{
			To:       tokens,
			Title:    title,
			Body:     body,
			Sound:    "default",
			Priority: expo.DefaultPriority,
		})
		if err != nil {
			d.log.Warn("expo publish", zap.Error(err))
			return
		}
		if err := response.ValidateResponse(); err != nil {
			d.log.Warn("expo delivery failed", zap.Error(err))
		}
	}()
}
