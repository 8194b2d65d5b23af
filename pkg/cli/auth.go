package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/slack-go/slack"
)

const authMaxElapsed = 2 * time.Minute

// AuthTester is implemented by *slack.Client.
type AuthTester interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// CheckAuth calls auth.test until it succeeds, retrying network failures
// with exponential backoff. Errors reported by the Slack API itself, such as
// invalid_auth, are returned at once.
func CheckAuth(ctx context.Context, api AuthTester, log *slog.Logger) (*slack.AuthTestResponse, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = authMaxElapsed
	return checkAuth(ctx, api, bo, log)
}

func checkAuth(ctx context.Context, api AuthTester, bo backoff.BackOff, log *slog.Logger) (*slack.AuthTestResponse, error) {
	var resp *slack.AuthTestResponse
	err := backoff.Retry(func() error {
		r, err := api.AuthTestContext(ctx)
		if err != nil {
			var apiErr slack.SlackErrorResponse
			if errors.As(err, &apiErr) {
				return backoff.Permanent(err)
			}
			log.Warn("auth.test failed, retrying", slog.String("error", err.Error()))
			return err
		}
		resp = r
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}

	log.Info("authenticated",
		slog.String("team", resp.Team),
		slog.String("user", resp.User),
		slog.String("user_id", resp.UserID),
	)
	return resp, nil
}
