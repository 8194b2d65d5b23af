package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// Endpoint serves the Events API request URL. Callback events are
// acknowledged at once and handled in the background, bound to the
// endpoint's context rather than the request's.
type Endpoint struct {
	ctx           context.Context
	handler       *Handler
	signingSecret string
	log           *slog.Logger
	wg            sync.WaitGroup
}

// NewEndpoint returns an Endpoint that verifies requests with signingSecret.
func NewEndpoint(ctx context.Context, h *Handler, signingSecret string, log *slog.Logger) *Endpoint {
	if log == nil {
		log = slog.Default()
	}
	return &Endpoint{ctx: ctx, handler: h, signingSecret: signingSecret, log: log}
}

func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	verifier, err := slack.NewSecretsVerifier(r.Header, e.signingSecret)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		e.log.WarnContext(r.Context(), "failed to create secrets verifier", slog.String("error", err.Error()))
		return
	}

	body, err := io.ReadAll(io.TeeReader(r.Body, &verifier))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		e.log.WarnContext(r.Context(), "failed to read request", slog.String("error", err.Error()))
		return
	}

	if err = verifier.Ensure(); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		e.log.WarnContext(r.Context(), "failed to verify request", slog.String("error", err.Error()))
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		e.log.WarnContext(r.Context(), "failed to parse event", slog.String("error", err.Error()))
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))

	case slackevents.CallbackEvent:
		w.WriteHeader(http.StatusOK)

		// We always answer within the deadline, so a timeout retry is a
		// duplicate of an event that is already being handled.
		if r.Header.Get("X-Slack-Retry-Reason") == "http_timeout" {
			e.log.DebugContext(r.Context(), "skipping retried event", slog.String("retry", r.Header.Get("X-Slack-Retry-Num")))
			return
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handler.HandleEventsAPI(e.ctx, event)
		}()

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (e *Endpoint) Wait() {
	e.wg.Wait()
}
