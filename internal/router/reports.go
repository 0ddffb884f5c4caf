package router

import (
	"context"
	"fmt"

	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/gateway"
)

type chatOriginKey struct{}

// withChatOrigin marks dispatches whose report is already answered in the
// originating chat.
func withChatOrigin(ctx context.Context) context.Context {
	return context.WithValue(ctx, chatOriginKey{}, true)
}

func fromChat(ctx context.Context) bool {
	v, _ := ctx.Value(chatOriginKey{}).(bool)
	return v
}

// Broadcaster fans a message out to the chat platforms.
type Broadcaster interface {
	Send(ctx context.Context, msg *gateway.BroadcastMessage) error
}

// ReportSink broadcasts reports of background triggers as skill_status
// messages. Suppressed and silent reports, and reports already answered in
// chat, are not broadcast.
func ReportSink(b Broadcaster) dispatch.Sink {
	return dispatch.SinkFunc(func(ctx context.Context, r *dispatch.Report) error {
		if r.Suppressed || fromChat(ctx) || (len(r.Statuses) == 0 && len(r.Failures) == 0) {
			return nil
		}
		source := ""
		if len(r.Matched) == 1 {
			source = r.Matched[0]
		}
		return b.Send(ctx, &gateway.BroadcastMessage{
			Type:    gateway.BroadcastSkillStatus,
			Title:   fmt.Sprintf("Trigger %s", r.Trigger),
			Content: r.Summary(),
			Source:  source,
		})
	})
}

// StateHook announces gateway toggles on every platform.
func StateHook(b Broadcaster) gateway.ToggleHook {
	return func(ctx context.Context, state gateway.State) {
		_ = b.Send(ctx, &gateway.BroadcastMessage{
			Type:    gateway.BroadcastGatewayState,
			Title:   "Gateway " + string(state),
			Content: fmt.Sprintf("The gateway is now %s.", state),
		})
	}
}
