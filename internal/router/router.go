package router

import (
	"context"
	"strings"
	"time"

	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/command"
	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/gateway"
	"github.com/nidhogg/skillgate/internal/trigger"
	"go.uber.org/zap"
)

const (
	maxSubject     = 80
	handleTimeout  = 2 * time.Minute
	commandPrefix  = "/"
	commandErrText = "Command error: "
)

// Deliverer stores inbound chat messages as mail.
type Deliverer interface {
	Deliver(ctx context.Context, m capability.Mail) (capability.Mail, error)
}

// SeenMarker is told about mail the router dispatches itself, so the mail
// poller does not raise it a second time.
type SeenMarker interface {
	MarkSeen(ids ...string)
}

// Dispatcher raises triggers.
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger string, payload any) *dispatch.Report
}

// Sender delivers replies to a chat platform.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// MessageRouter routes inbound chat: slash commands go to the command
// registry, everything else lands in the mailbox and raises email_received.
type MessageRouter struct {
	commands *command.Registry
	disp     Dispatcher
	mail     Deliverer
	seen     SeenMarker
	sender   Sender
	logger   *zap.Logger
}

// New creates a new MessageRouter. seen may be nil.
func New(commands *command.Registry, disp Dispatcher, mail Deliverer, seen SeenMarker,
	sender Sender, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		commands: commands,
		disp:     disp,
		mail:     mail,
		seen:     seen,
		sender:   sender,
		logger:   logger,
	}
}

// Handle routes an inbound message. Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	mr.HandleContext(ctx, msg)
}

// HandleContext routes msg under ctx.
func (mr *MessageRouter) HandleContext(ctx context.Context, msg *gateway.InboundMessage) {
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}

	if strings.HasPrefix(content, commandPrefix) {
		cc := &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
		}
		result, err := mr.commands.Dispatch(ctx, content, cc)
		if err != nil {
			mr.logger.Error("command dispatch error", zap.Error(err))
			mr.sendReply(ctx, msg, commandErrText+err.Error())
			return
		}
		mr.sendReply(ctx, msg, result.Content)
		return
	}

	_, rep, err := mr.Ingest(withChatOrigin(ctx), toMail(msg, content))
	if err != nil {
		mr.logger.Error("deliver mail failed", zap.Error(err))
		mr.sendReply(ctx, msg, "Could not file your message: "+err.Error())
		return
	}
	mr.sendReply(ctx, msg, rep.Summary())
}

// Ingest files m in the mailbox and raises email_received for it.
func (mr *MessageRouter) Ingest(ctx context.Context, m capability.Mail) (capability.Mail, *dispatch.Report, error) {
	mail, err := mr.mail.Deliver(ctx, m)
	if err != nil {
		return mail, nil, err
	}
	if mr.seen != nil {
		mr.seen.MarkSeen(mail.ID)
	}
	rep := mr.disp.Dispatch(ctx, trigger.EmailReceived, trigger.MailPayload{
		IDs:     []string{mail.ID},
		From:    mail.From,
		Subject: mail.Subject,
	})
	return mail, rep, nil
}

func toMail(msg *gateway.InboundMessage, content string) capability.Mail {
	from := msg.UserName
	if from == "" {
		from = msg.UserID
	}
	if msg.Platform != "" {
		from += "@" + msg.Platform
	}

	subject, _, _ := strings.Cut(content, "\n")
	subject = strings.TrimSpace(subject)
	if r := []rune(subject); len(r) > maxSubject {
		subject = string(r[:maxSubject])
	}

	return capability.Mail{
		Subject:    subject,
		Body:       content,
		From:       from,
		ReceivedAt: msg.Timestamp,
	}
}

// sendReply sends a text reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, text string) {
	err := mr.sender.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
