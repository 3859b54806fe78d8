// Package notify delivers user-facing messages about ticket activity.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects the message template.
type Kind string

const (
	KindTicketReceived   Kind = "ticket_received"
	KindResolved         Kind = "ticket_resolved"
	KindEscalated        Kind = "ticket_escalated"
	KindEscalationAlert  Kind = "escalation_alert"
	KindClarification    Kind = "clarification"
	KindAssigned         Kind = "ticket_assigned"
	KindSolutionProposed Kind = "solution_proposed"
	KindStaleDigest      Kind = "stale_digest"
)

// ErrNoRecipient is returned when neither a channel nor a chat user is known.
var ErrNoRecipient = errors.New("notification has no recipient")

// Notification is one outbound message. Channel wins over SlackUserID when
// both are set. DedupKey, when present, makes delivery at-most-once per key.
type Notification struct {
	UserID      string
	SlackUserID string
	Channel     string
	TicketID    string
	ExternalKey string
	Kind        Kind
	Params      map[string]any
	ThreadTS    string
	DedupKey    string
}

// Recipient resolves the destination channel or user id.
func (n Notification) Recipient() string {
	if n.Channel != "" {
		return n.Channel
	}
	return n.SlackUserID
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Render produces the plain-text body of a notification.
func Render(n Notification) string {
	ref := n.ExternalKey
	if ref == "" {
		ref = n.TicketID
	}
	var b strings.Builder
	switch n.Kind {
	case KindTicketReceived:
		fmt.Fprintf(&b, "Ticket %s created successfully! We'll get back to you soon.\n", ref)
		b.WriteString("If you have a screenshot, please upload it here and mention your ticket number.")
	case KindResolved:
		fmt.Fprintf(&b, "Your ticket %s has been resolved automatically.", ref)
		writeSteps(&b, "Resolution steps", stringList(n.Params["resolution_steps"]))
		if est := stringParam(n.Params, "estimated_time"); est != "" {
			fmt.Fprintf(&b, "\nEstimated time: %s", est)
		}
	case KindEscalated:
		fmt.Fprintf(&b, "Your ticket %s has been escalated to our support team.", ref)
		if team := stringParam(n.Params, "suggested_team"); team != "" {
			fmt.Fprintf(&b, "\nTeam: %s", team)
		}
	case KindEscalationAlert:
		fmt.Fprintf(&b, "*Escalation* for ticket %s", ref)
		if p := stringParam(n.Params, "priority"); p != "" {
			fmt.Fprintf(&b, " (priority %s)", p)
		}
		if reason := stringParam(n.Params, "escalation_reason"); reason != "" {
			fmt.Fprintf(&b, "\nReason: %s", reason)
		}
		if sev := stringParam(n.Params, "severity"); sev != "" {
			fmt.Fprintf(&b, "\nSeverity: %s", sev)
		}
	case KindClarification:
		fmt.Fprintf(&b, "We need a bit more information about ticket %s.", ref)
		writeSteps(&b, "Questions", stringList(n.Params["questions"]))
	case KindAssigned:
		fmt.Fprintf(&b, "Your ticket %s has been assigned to the %s team.", ref, stringParam(n.Params, "assigned_team"))
	case KindSolutionProposed:
		fmt.Fprintf(&b, "Here is a proposed solution for ticket %s.", ref)
		writeSteps(&b, "Try these steps", stringList(n.Params["solution_steps"]))
		if at := stringParam(n.Params, "followup_time"); at != "" {
			if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
				fmt.Fprintf(&b, "\nWe will check back at %s.", t.UTC().Format("15:04 MST"))
			}
		}
	case KindStaleDigest:
		b.WriteString("*Stale urgent tickets escalated*")
		for _, key := range stringList(n.Params["tickets"]) {
			fmt.Fprintf(&b, "\n• %s", key)
		}
	default:
		fmt.Fprintf(&b, "Update on ticket %s.", ref)
	}
	return b.String()
}

// Interactive reports whether the message invites a reply from the owner.
func Interactive(k Kind) bool {
	return k == KindClarification || k == KindSolutionProposed
}

func writeSteps(b *strings.Builder, title string, steps []string) {
	if len(steps) == 0 {
		return
	}
	fmt.Fprintf(b, "\n*%s:*", title)
	for i, s := range steps {
		fmt.Fprintf(b, "\n%d. %s", i+1, s)
	}
}

func stringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func stringList(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
