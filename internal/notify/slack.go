package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts messages with chat.postMessage.
type SlackNotifier struct {
	api    *slack.Client
	logger *zap.Logger
}

// NewSlackNotifier builds a notifier for the bot token. apiURL overrides the
// Slack endpoint and must end with a slash; empty keeps the default.
func NewSlackNotifier(token, apiURL string, logger *zap.Logger) *SlackNotifier {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &SlackNotifier{api: slack.New(token, opts...), logger: logger}
}

// Notify posts the rendered message, threaded when ThreadTS is set.
func (s *SlackNotifier) Notify(ctx context.Context, n Notification) error {
	channel := n.Recipient()
	if channel == "" {
		return ErrNoRecipient
	}
	text := Render(n)
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks(n, text)...),
	}
	if n.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(n.ThreadTS))
	}
	_, ts, err := s.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return fmt.Errorf("slack post %s: %w", n.Kind, err)
	}
	s.logger.Debug("slack message posted",
		zap.String("ticket_id", n.TicketID),
		zap.String("kind", string(n.Kind)),
		zap.String("ts", ts))
	return nil
}

func blocks(n Notification, text string) []slack.Block {
	out := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}
	if !Interactive(n.Kind) {
		return out
	}
	button := func(actionID, label string) slack.BlockElement {
		return slack.NewButtonBlockElement(actionID, actionID+"_"+n.TicketID,
			slack.NewTextBlockObject(slack.PlainTextType, label, false, false))
	}
	return append(out, slack.NewActionBlock("ticket_"+n.TicketID,
		button("ask_again", "Ask Again"),
		button("clarify_ticket", "Provide More Info"),
		button("escalate_ticket", "Escalate"),
	))
}

// LogNotifier only logs. It is used when no Slack token is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates the fallback notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("notification",
		zap.String("ticket_id", n.TicketID),
		zap.String("kind", string(n.Kind)),
		zap.String("recipient", n.Recipient()),
		zap.String("thread_ts", n.ThreadTS),
		zap.String("text", Render(n)))
	return nil
}
