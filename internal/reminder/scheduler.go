// Package reminder runs the scheduled-message worker: it polls the store
// for due reminders, delivers them through the live session and advances
// repeating rules.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rafaelmv/wacrm/internal/bus"
	"github.com/rafaelmv/wacrm/internal/status"
	"github.com/rafaelmv/wacrm/internal/store"
	"github.com/rafaelmv/wacrm/internal/wa"
)

// Sender delivers a text message through the session.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) (string, int64, error)
}

// Scheduler polls for due reminders on a fixed interval. Ticks are
// skipped entirely while the session is not ready; reminders stay pending
// and fire on the first ready tick after their due time.
type Scheduler struct {
	db        *store.DB
	bus       *bus.Bus
	machine   *status.Machine
	sender    Sender
	logger    *zap.Logger
	interval  time.Duration
	batch     int
	retention int

	parser cronlib.Parser
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler polling every interval, claiming up to batch
// reminders per tick.
func New(db *store.DB, b *bus.Bus, machine *status.Machine, sender Sender, logger *zap.Logger, interval time.Duration, batch, retention int) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 20
	}
	return &Scheduler{
		db:        db,
		bus:       b,
		machine:   machine,
		sender:    sender,
		logger:    logger,
		interval:  interval,
		batch:     batch,
		retention: retention,
		parser: cronlib.NewParser(
			cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
		),
		now: time.Now,
	}
}

// Start launches the polling loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("reminder scheduler started", zap.Duration("interval", s.interval))
}

// Stop terminates the polling loop and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("reminder scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.machine.IsReady() {
		return
	}
	s.processDue(ctx)
}

func (s *Scheduler) processDue(ctx context.Context) {
	now := s.now()
	due, err := s.db.DueReminders(now.UnixMilli(), s.batch)
	if err != nil {
		s.logger.Error("query due reminders", zap.Error(err))
		return
	}

	for i := range due {
		r := &due[i]
		claimed, err := s.db.MarkReminderProcessing(r.ID)
		if err != nil {
			s.logger.Error("claim reminder", zap.Int64("id", r.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		s.deliver(ctx, r, now)
	}
}

// deliver sends a claimed reminder to each recipient in order and settles
// its terminal state. Any failed recipient fails the whole reminder; a
// repeat rule reschedules it after a fully successful delivery.
func (s *Scheduler) deliver(ctx context.Context, r *store.Reminder, now time.Time) {
	var failures []string
	for _, to := range r.Recipients {
		chatID := wa.CanonicalChatID(to)
		msgID, ts, err := s.sender.SendText(ctx, chatID, r.Body)
		if err != nil {
			s.logger.Warn("reminder send failed",
				zap.Int64("id", r.ID), zap.String("to", chatID), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", chatID, err))
			continue
		}
		s.recordOutbound(chatID, msgID, r.Body, ts)
	}

	if len(failures) > 0 {
		reason := "partial send failure: " + strings.Join(failures, "; ")
		if err := s.db.MarkReminderFailed(r.ID, reason); err != nil {
			s.logger.Error("mark reminder failed", zap.Int64("id", r.ID), zap.Error(err))
		}
		s.bus.Emit(bus.ReminderFailed, bus.ReminderPayload{ID: r.ID, Error: reason})
		return
	}

	if r.RepeatRule == "" {
		s.markSent(r.ID, now)
		return
	}

	next, err := s.nextRun(r.RepeatRule, time.UnixMilli(r.ScheduledAt))
	if err != nil {
		// An unparseable rule cannot repeat; settle as sent rather than
		// leaving the reminder stuck in processing.
		s.logger.Warn("invalid repeat rule, reminder will not repeat",
			zap.Int64("id", r.ID), zap.String("rule", r.RepeatRule), zap.Error(err))
		s.markSent(r.ID, now)
		return
	}

	if err := s.db.RescheduleReminder(r.ID, next.UnixMilli()); err != nil {
		s.logger.Error("reschedule reminder", zap.Int64("id", r.ID), zap.Error(err))
		s.markSent(r.ID, now)
		return
	}
	s.logger.Info("reminder rescheduled",
		zap.Int64("id", r.ID), zap.Time("next", next))
	s.bus.Emit(bus.ReminderRescheduled, bus.ReminderPayload{ID: r.ID, NextAt: next.UnixMilli()})
}

func (s *Scheduler) markSent(id int64, now time.Time) {
	if err := s.db.MarkReminderSent(id, now.UnixMilli()); err != nil {
		s.logger.Error("mark reminder sent", zap.Int64("id", id), zap.Error(err))
	}
	s.bus.Emit(bus.ReminderSent, bus.ReminderPayload{ID: id})
}

// recordOutbound caches the message the reminder just sent, so it shows
// up in the chat like any hand-typed message.
func (s *Scheduler) recordOutbound(chatID, msgID, body string, tsMillis int64) {
	if err := s.db.EnsureChat(chatID); err != nil {
		s.logger.Warn("ensure chat", zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	m := &store.Message{
		ID:        msgID,
		ChatID:    chatID,
		Body:      body,
		Sender:    "me",
		Recipient: chatID,
		Timestamp: tsMillis / 1000,
		Type:      "text",
		FromMe:    true,
		AckState:  store.AckSent,
	}
	if err := s.db.UpsertMessage(m); err != nil {
		s.logger.Warn("cache reminder message", zap.String("id", msgID), zap.Error(err))
		return
	}
	if err := s.db.TouchChat(chatID, "", m.Timestamp, body); err != nil {
		s.logger.Warn("touch chat", zap.String("chat_id", chatID), zap.Error(err))
	}
	if err := s.db.TrimMessages(chatID, s.retention); err != nil {
		s.logger.Warn("trim messages", zap.String("chat_id", chatID), zap.Error(err))
	}
	s.bus.Emit(bus.UINewMessage, bus.NewMessagePayload{ChatID: chatID, Message: m})
	s.bus.Emit(bus.UIChatsChanged, nil)
}

// nextRun evaluates a 5-field cron rule strictly after the previous
// scheduled time, so a reminder processed late does not skip occurrences.
func (s *Scheduler) nextRun(rule string, after time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(rule)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse repeat rule %q: %w", rule, err)
	}
	return sched.Next(after), nil
}
