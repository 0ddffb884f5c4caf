package skill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/trigger"
	"go.uber.org/zap"
)

// DefaultHygieneKeywords is the subject denylist that marks mail as a
// candidate for archival.
var DefaultHygieneKeywords = []string{"urgent", "deadline", "compliance", "tax", "overdue", "panic"}

// classifyShare is the part of the remaining skill deadline spent on model
// calls. The rest is kept for archiving and reporting.
const classifyShare = 0.75

// minClassifyBudget is the smallest per-message budget worth a model call.
const minClassifyBudget = 5 * time.Millisecond

const defaultHygienePrompt = `Classify this email subject for archival: "{subject}". Reply 'ARCHIVE' or 'KEEP'.`

// Hygiene archives unread mail whose subject hits the denylist and which the
// model classifies as ARCHIVE.
//
// Default action: a flagged message whose verdict is unparsable, or whose
// classification call fails, is KEPT. Such messages are counted and reported
// in the status so the fallback is visible.
type Hygiene struct {
	keywords []string
	prompt   string
}

// NewHygiene builds the skill from optional settings.
func NewHygiene(s *Settings) *Hygiene {
	h := &Hygiene{keywords: DefaultHygieneKeywords, prompt: defaultHygienePrompt}
	if s != nil {
		if len(s.Keywords) > 0 {
			h.keywords = make([]string, len(s.Keywords))
			for i, kw := range s.Keywords {
				h.keywords[i] = strings.ToLower(kw)
			}
		}
		if s.Prompt != "" {
			h.prompt = s.Prompt
		}
	}
	return h
}

func (h *Hygiene) ID() string          { return "epistemic_hygiene" }
func (h *Hygiene) Name() string        { return "Epistemic Hygiene" }
func (h *Hygiene) Description() string { return "Purges low-vibe communications from the timeline." }
func (h *Hygiene) Triggers() []string  { return []string{trigger.EmailReceived} }

// Flagged returns the messages whose lower-cased subject contains a denylist
// keyword. It never touches the network.
func (h *Hygiene) Flagged(mails []capability.Mail) []capability.Mail {
	var out []capability.Mail
	for _, m := range mails {
		if _, hit := containsAny(strings.ToLower(m.Subject), h.keywords); hit {
			out = append(out, m)
		}
	}
	return out
}

func (h *Hygiene) Execute(ctx context.Context, cc *capability.Context) (*Result, error) {
	inbox, err := cc.Mail.FetchUnread(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch unread: %w", err)
	}

	flagged := h.Flagged(inbox)
	if len(flagged) == 0 {
		return nil, nil
	}

	var stop time.Time
	if dl, ok := ctx.Deadline(); ok {
		stop = time.Now().Add(time.Duration(float64(time.Until(dl)) * classifyShare))
	}

	var purged, defaulted, failed int
	for i, m := range flagged {
		verdict := VerdictUnparsable
		if stop.IsZero() {
			verdict = h.classify(ctx, cc, m)
		} else if budget := time.Until(stop) / time.Duration(len(flagged)-i); budget >= minClassifyBudget {
			cctx, cancel := context.WithTimeout(ctx, budget)
			verdict = h.classify(cctx, cc, m)
			cancel()
		} else {
			cc.Logger.Warn("classification budget spent, keeping message", zap.String("message", m.ID))
		}
		switch verdict {
		case VerdictArchive:
			err := cc.Mail.Archive(ctx, m.ID)
			switch {
			case err == nil:
				purged++
			case errors.Is(err, capability.ErrMessageNotFound):
				cc.Logger.Info("message already gone", zap.String("message", m.ID))
			default:
				failed++
				cc.Logger.Warn("archive failed", zap.String("message", m.ID), zap.Error(err))
			}
		case VerdictKeep:
		default:
			defaulted++
		}
	}

	if purged == 0 && defaulted == 0 && failed == 0 {
		return nil, nil
	}

	parts := []string{"[Epistemic Hygiene]"}
	if purged > 0 {
		parts = append(parts, fmt.Sprintf("Purged %s from the timeline.", plural(purged, "low-vibe signal")))
	}
	if defaulted > 0 {
		parts = append(parts, fmt.Sprintf("Kept %s by default: no usable verdict.", plural(defaulted, "flagged signal")))
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("Failed to archive %s.", plural(failed, "signal")))
	}
	return &Result{Status: strings.Join(parts, " ")}, nil
}

func (h *Hygiene) classify(ctx context.Context, cc *capability.Context, m capability.Mail) Verdict {
	subject := strings.ToLower(m.Subject)
	prompt := strings.ReplaceAll(h.prompt, "{subject}", subject)
	reply, err := cc.Model.Chat(ctx, []capability.ChatMessage{{Role: "system", Content: prompt}})
	if err != nil {
		cc.Logger.Warn("classification failed, keeping message",
			zap.String("message", m.ID), zap.Error(err))
		return VerdictUnparsable
	}
	v := ParseVerdict(reply)
	cc.Logger.Debug("classified message",
		zap.String("message", m.ID), zap.Stringer("verdict", v))
	return v
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
