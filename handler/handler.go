package handler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/walkure/duckdb-acp-slack/pkg/logger"
	"github.com/walkure/duckdb-acp-slack/pkg/query"
	"github.com/walkure/duckdb-acp-slack/pkg/telemetry"
)

const (
	// EmptyMentionReply is posted when a mention carries no prompt.
	EmptyMentionReply = "Please include a question or query after mentioning me."

	AckReaction   = "eyes"
	CSVFilename   = "results.csv"
	CSVTitle      = "Query Results"
	promptLogSize = 80
)

var (
	leadingMention = regexp.MustCompile(`^\s*<@[A-Z0-9]+(?:\|[^>]*)?>\s*`)
	anyMention     = regexp.MustCompile(`<@[A-Z0-9]+(?:\|[^>]*)?>`)
)

// SlackAPI is the part of *slack.Client the handler needs.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

var _ SlackAPI = (*slack.Client)(nil)

// Executor answers a prompt. *query.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, prompt string) query.Answer
}

// Handler turns Slack events into queries and replies.
type Handler struct {
	api     SlackAPI
	exec    Executor
	log     *slog.Logger
	metrics *telemetry.Metrics
}

// New returns a Handler. metrics may be nil.
func New(api SlackAPI, exec Executor, log *slog.Logger, metrics *telemetry.Metrics) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{api: api, exec: exec, log: log, metrics: metrics}
}

// ExtractPrompt removes the leading mention token and the whitespace after
// it, then trims the rest.
func ExtractPrompt(text string) string {
	return strings.TrimSpace(leadingMention.ReplaceAllString(text, ""))
}

func HasMention(text string) bool {
	return anyMention.MatchString(text)
}

type request struct {
	channel  string
	threadTS string
	prompt   string
}

func threadOf(ts, threadTS string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}

// HandleEventsAPI routes callback events to the mention and message handlers.
func (h *Handler) HandleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		h.HandleMention(ctx, ev)
	case *slackevents.MessageEvent:
		h.HandleMessage(ctx, ev)
	}
}

// HandleMention answers an app_mention event.
func (h *Handler) HandleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	const kind = string(slackevents.AppMention)

	err := h.api.AddReactionContext(ctx, AckReaction, slack.NewRefToMessage(ev.Channel, ev.TimeStamp))
	if err != nil {
		h.log.Debug("reaction failed", slog.String("channel", ev.Channel), slog.String("error", err.Error()))
	}

	req := request{
		channel:  ev.Channel,
		threadTS: threadOf(ev.TimeStamp, ev.ThreadTimeStamp),
		prompt:   ExtractPrompt(ev.Text),
	}

	if req.prompt == "" {
		_, _, err := h.api.PostMessageContext(ctx, req.channel,
			slack.MsgOptionText(EmptyMentionReply, false),
			slack.MsgOptionTS(req.threadTS),
		)
		if err != nil {
			h.log.Error("failed to post reply", slog.String("channel", req.channel), slog.String("error", err.Error()))
		}
		h.metrics.Event(ctx, kind, telemetry.OutcomeEmpty)
		return
	}

	h.finish(ctx, kind, h.respond(ctx, req))
}

// HandleMessage answers a plain message event. Bot messages, messages with
// a subtype and messages that mention someone are left alone; mentions
// arrive separately as app_mention events.
func (h *Handler) HandleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	const kind = string(slackevents.Message)

	if ev.BotID != "" || ev.SubType != "" || HasMention(ev.Text) {
		h.metrics.Event(ctx, kind, telemetry.OutcomeIgnored)
		return
	}

	req := request{
		channel:  ev.Channel,
		threadTS: threadOf(ev.TimeStamp, ev.ThreadTimeStamp),
		prompt:   strings.TrimSpace(ev.Text),
	}
	if req.prompt == "" {
		h.metrics.Event(ctx, kind, telemetry.OutcomeEmpty)
		return
	}

	h.finish(ctx, kind, h.respond(ctx, req))
}

func (h *Handler) finish(ctx context.Context, kind string, err error) {
	if err != nil {
		h.log.Error("failed to handle event", slog.String("event", kind), slog.String("error", err.Error()))
		h.metrics.Event(ctx, kind, telemetry.OutcomeFailed)
		return
	}
	h.metrics.Event(ctx, kind, telemetry.OutcomeAnswered)
}

// respond posts a placeholder, runs the prompt, edits the placeholder with
// the summary and uploads the CSV into the thread when there is one.
func (h *Handler) respond(ctx context.Context, req request) error {
	log := h.log.With(slog.String("channel", req.channel))
	log.Info("prompt received", slog.String("prompt", logger.Truncate(req.prompt, promptLogSize)))

	_, ackTS, err := h.api.PostMessageContext(ctx, req.channel,
		slack.MsgOptionText(fmt.Sprintf("Working on: _%s_", req.prompt), false),
		slack.MsgOptionTS(req.threadTS),
	)
	if err != nil {
		return fmt.Errorf("posting acknowledgement: %w", err)
	}

	answer := h.exec.Execute(ctx, req.prompt)

	_, _, _, err = h.api.UpdateMessageContext(ctx, req.channel, ackTS,
		slack.MsgOptionText(fmt.Sprintf("*Query:* _%s_\n\n%s", req.prompt, answer.Summary), false),
	)
	if err != nil {
		return fmt.Errorf("updating acknowledgement: %w", err)
	}

	if !answer.HasCSV() {
		log.Info("done")
		return nil
	}

	_, err = h.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Reader:          strings.NewReader(answer.CSV),
		FileSize:        len(answer.CSV),
		Filename:        CSVFilename,
		Title:           CSVTitle,
		Channel:         req.channel,
		ThreadTimestamp: req.threadTS,
	})
	if err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	log.Info("answered", slog.String("summary", answer.Summary))
	return nil
}
