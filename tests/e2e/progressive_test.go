//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/skillgate/internal/bus"
	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/gateway"
	pgstore "github.com/nidhogg/skillgate/internal/store"
	"github.com/nidhogg/skillgate/internal/trigger"
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	// 1. Start PostgreSQL
	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		os.Exit(1)
	}

	testPGStore, err = pgstore.New(ctx, pgDSN, testLogger)
	if err != nil {
		pgCleanup()
		fmt.Fprintf(os.Stderr, "pg store: %v\n", err)
		os.Exit(1)
	}

	if err := testPGStore.Migrate(ctx, "../../migrations"); err != nil {
		testPGStore.Close()
		pgCleanup()
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	// 2. Start Redis
	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		testPGStore.Close()
		pgCleanup()
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = redisURL

	code := m.Run()

	redisCleanup()
	testPGStore.Close()
	pgCleanup()
	os.Exit(code)
}

func TestProgressiveFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("L1_Storage", func(t *testing.T) {
		t.Run("MailboxContract", func(t *testing.T) {
			archiveAll(t)

			first, err := testPGStore.Deliver(ctx, capability.Mail{Subject: "  Tax deadline  ", Body: "pay up"})
			if err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if first.ID == "" || first.Subject != "Tax deadline" {
				t.Fatalf("delivered = %+v", first)
			}
			second, err := testPGStore.Deliver(ctx, capability.Mail{Subject: "lunch?", ReceivedAt: first.ReceivedAt.Add(time.Second)})
			if err != nil {
				t.Fatalf("Deliver: %v", err)
			}

			unread, err := testPGStore.FetchUnread(ctx)
			if err != nil {
				t.Fatalf("FetchUnread: %v", err)
			}
			if len(unread) != 2 || unread[0].ID != first.ID || unread[1].ID != second.ID {
				t.Fatalf("unread = %+v, want oldest first", unread)
			}

			if err := testPGStore.Archive(ctx, first.ID); err != nil {
				t.Fatalf("Archive: %v", err)
			}
			if err := testPGStore.Archive(ctx, first.ID); err != nil {
				t.Errorf("second Archive = %v, want nil", err)
			}
			if err := testPGStore.Archive(ctx, "no-such-id"); !errors.Is(err, capability.ErrMessageNotFound) {
				t.Errorf("Archive(missing) = %v, want ErrMessageNotFound", err)
			}

			unread, _ = testPGStore.FetchUnread(ctx)
			if len(unread) != 1 || unread[0].ID != second.ID {
				t.Errorf("unread after archive = %+v", unread)
			}
		})

		t.Run("RedeliveryIsNoop", func(t *testing.T) {
			archiveAll(t)
			m, err := testPGStore.Deliver(ctx, capability.Mail{ID: "fixed-id", Subject: "hello"})
			if err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if _, err := testPGStore.Deliver(ctx, m); err != nil {
				t.Fatalf("redeliver: %v", err)
			}
			unread, _ := testPGStore.FetchUnread(ctx)
			if len(unread) != 1 {
				t.Errorf("unread = %d, want 1", len(unread))
			}
		})
	})

	t.Run("L2_ChatToSkills", func(t *testing.T) {
		t.Run("HygienePurgesFlaggedMail", func(t *testing.T) {
			archiveAll(t)
			s := setupStack(t, "ARCHIVE", "e2e-l2a:")

			s.capture.Inject(&gateway.InboundMessage{
				ChannelID: "c1", UserID: "u1", UserName: "alice",
				Content: "URGENT: Q3 tax deadline",
			})

			reply := s.lastReply(t)
			if !strings.Contains(reply, "Purged 1 low-vibe signal") {
				t.Fatalf("reply = %q", reply)
			}

			unread, err := testPGStore.FetchUnread(ctx)
			if err != nil {
				t.Fatalf("FetchUnread: %v", err)
			}
			if len(unread) != 0 {
				t.Errorf("unread = %+v, want none", unread)
			}

			// Chat-originated reports are answered in chat, not broadcast.
			if b := s.broadcasts(); len(b) != 0 {
				t.Errorf("broadcasts = %q", b)
			}

			reps, err := testPGStore.ListReports(ctx, 5)
			if err != nil {
				t.Fatalf("ListReports: %v", err)
			}
			if len(reps) == 0 || reps[0].Trigger != trigger.EmailReceived {
				t.Fatalf("persisted reports = %+v", reps)
			}

			rdb := redisClient(t)
			waitFor(t, 5*time.Second, "report on the stream", func() bool {
				n, _ := rdb.XLen(ctx, "e2e-l2a:reports").Result()
				return n > 0
			})
		})

		t.Run("KeepVerdictLeavesMail", func(t *testing.T) {
			archiveAll(t)
			s := setupStack(t, "KEEP", "e2e-l2b:")

			s.capture.Inject(&gateway.InboundMessage{ChannelID: "c1", UserName: "bob", Content: "compliance review"})

			if reply := s.lastReply(t); reply != "No skill had anything to say." {
				t.Errorf("reply = %q", reply)
			}
			unread, _ := testPGStore.FetchUnread(ctx)
			if len(unread) != 1 || unread[0].From != "bob@test" {
				t.Errorf("unread = %+v", unread)
			}
		})

		t.Run("UnparsableVerdictIsKeptAndReported", func(t *testing.T) {
			archiveAll(t)
			s := setupStack(t, "maybe?", "e2e-l2c:")

			s.capture.Inject(&gateway.InboundMessage{ChannelID: "c1", UserName: "carol", Content: "panic mode"})

			if reply := s.lastReply(t); !strings.Contains(reply, "Kept 1 flagged signal by default") {
				t.Errorf("reply = %q", reply)
			}
			unread, _ := testPGStore.FetchUnread(ctx)
			if len(unread) != 1 {
				t.Errorf("unread = %d, want 1", len(unread))
			}
		})
	})

	t.Run("L3_GatewaySwitch", func(t *testing.T) {
		archiveAll(t)
		s := setupStack(t, "ARCHIVE", "e2e-l3:")

		s.capture.Inject(&gateway.InboundMessage{ChannelID: "c1", UserName: "dave", Content: "/gateway toggle"})
		if reply := s.lastReply(t); !strings.Contains(reply, "OFFLINE") {
			t.Fatalf("toggle reply = %q", reply)
		}
		waitFor(t, 5*time.Second, "gateway state broadcast", func() bool {
			for _, b := range s.broadcasts() {
				if strings.Contains(b, "now OFFLINE") {
					return true
				}
			}
			return false
		})

		s.capture.Inject(&gateway.InboundMessage{ChannelID: "c1", UserName: "dave", Content: "tax overdue notice"})
		if reply := s.lastReply(t); reply != "Gateway is OFFLINE; no skills ran." {
			t.Errorf("offline reply = %q", reply)
		}
		unread, _ := testPGStore.FetchUnread(ctx)
		if len(unread) != 1 {
			t.Fatalf("mail should still be filed while offline, unread = %d", len(unread))
		}

		s.capture.Inject(&gateway.InboundMessage{ChannelID: "c1", UserName: "dave", Content: "/gateway toggle"})
		if reply := s.lastReply(t); !strings.Contains(reply, "ONLINE") {
			t.Fatalf("toggle back reply = %q", reply)
		}

		// The poller skips mail the router already dispatched, so the backlog
		// is cleared by an explicit trigger.
		s.capture.Inject(&gateway.InboundMessage{ChannelID: "c1", UserName: "dave", Content: "/trigger email_received"})
		if reply := s.lastReply(t); !strings.Contains(reply, "Purged 1 low-vibe signal") {
			t.Errorf("trigger reply = %q", reply)
		}

		s.capture.Inject(&gateway.InboundMessage{ChannelID: "c1", UserName: "dave", Content: "/history 3"})
		if reply := s.lastReply(t); !strings.Contains(reply, "suppressed") {
			t.Errorf("history reply = %q", reply)
		}
	})

	t.Run("L4_TriggerStream", func(t *testing.T) {
		archiveAll(t)
		s := setupStack(t, "ARCHIVE", "e2e-l4:")

		consumeCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- s.bus.ConsumeTriggers(consumeCtx, s.fire) }()
		t.Cleanup(func() {
			cancel()
			<-done
		})

		producer, err := bus.New(ctx, testRedisURL, "e2e-l4:", testLogger)
		if err != nil {
			t.Fatalf("producer: %v", err)
		}
		defer producer.Close()

		// XRead starts at "$", so publish until the consumer has seen one.
		waitFor(t, 10*time.Second, "idle trigger dispatch", func() bool {
			if err := producer.PublishTrigger(ctx, &bus.TriggerMessage{
				Trigger: trigger.SystemIdle,
				Payload: json.RawMessage(`{"idle_seconds": 900}`),
				Source:  "e2e",
			}); err != nil {
				t.Fatalf("publish: %v", err)
			}
			time.Sleep(300 * time.Millisecond)
			return len(s.disp.History(1)) > 0
		})

		rep := s.disp.History(1)[0]
		if rep.Trigger != trigger.SystemIdle || len(rep.Statuses) == 0 {
			t.Fatalf("report = %+v", rep)
		}
		if !strings.Contains(rep.Statuses[0], "neon sigil over a cracked moon") {
			t.Errorf("status = %q", rep.Statuses[0])
		}

		// Sinks run after the report enters history.
		waitFor(t, 5*time.Second, "ritual broadcasts", func() bool {
			var notified, announced bool
			for _, b := range s.broadcasts() {
				if strings.Contains(b, "Weaving sigil") {
					notified = true
				}
				if strings.Contains(b, "Wallpaper transmuted") {
					announced = true
				}
			}
			return notified && announced
		})
	})
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL(testRedisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}
