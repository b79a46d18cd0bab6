// Package chat routes inbound messages to per-session chat instances, runs
// the completion pipeline, and keeps usage statistics.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/config"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/session"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/usage"
)

const (
	// FallbackReply is sent when the completion pipeline fails.
	FallbackReply = "内部エラーが発生しました。しばらくしてからもう一度お試しください。"

	// UnavailableReply is sent to messages that arrive during shutdown.
	UnavailableReply = "ただいま停止処理中です。しばらくしてからもう一度お試しください。"
)

// Options configures Instances.
type Options struct {
	Store    session.Store
	Pipeline Pipeline

	// Persona renders the system prompt of each new session. Nil uses the
	// embedded template with the default character.
	Persona *Persona

	// Compactor summarizes old messages. Nil disables compaction.
	Compactor *session.Compactor

	// Ledger receives usage. Nil creates an empty one.
	Ledger *usage.Ledger

	// StatsPath is where SaveAll writes the ledger. Empty skips writing.
	StatsPath string

	MaxRecent          int
	SummarizeThreshold int

	// FlushOnExchange persists each exchange right after it is recorded
	// instead of waiting for SaveAll.
	FlushOnExchange bool

	// CompletionTimeout bounds one pipeline call. Zero means no extra bound.
	CompletionTimeout time.Duration

	// SaveConcurrency bounds how many sessions SaveAll flushes at once.
	SaveConcurrency int

	Clock  func() float64
	Logger *slog.Logger
}

// Instance is the state of one session.
type Instance struct {
	id      string
	prompt  string
	history *session.History

	// turn serializes exchanges within the session.
	turn sync.Mutex
}

func (i *Instance) SessionID() string         { return i.id }
func (i *Instance) Prompt() string            { return i.prompt }
func (i *Instance) History() *session.History { return i.history }

// Instances is the registry of live sessions.
type Instances struct {
	opts   Options
	ledger *usage.Ledger
	logger *slog.Logger

	mu        sync.RWMutex
	instances map[string]*Instance
	group     singleflight.Group

	stateMu  sync.Mutex
	closing  bool
	inflight sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates the registry. When StatsPath names an existing file its
// statistics are loaded into the ledger.
func New(opts Options) (*Instances, error) {
	if opts.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("chat: pipeline is required")
	}
	if opts.Persona == nil {
		p, err := NewPersona("", config.DefaultCharacter())
		if err != nil {
			return nil, err
		}
		opts.Persona = p
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.SaveConcurrency <= 0 {
		opts.SaveConcurrency = 8
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = usage.NewLedger()
	}
	if opts.StatsPath != "" {
		if err := ledger.Load(opts.StatsPath); err != nil {
			return nil, fmt.Errorf("load statistics: %w", err)
		}
	}
	return &Instances{
		opts:      opts,
		ledger:    ledger,
		logger:    opts.Logger,
		instances: make(map[string]*Instance),
	}, nil
}

// GetOrCreate returns the instance for id, building it and loading its
// history on first contact. Concurrent first contacts build it once. A
// failed load registers nothing.
func (r *Instances) GetOrCreate(ctx context.Context, id string) (*Instance, error) {
	if inst := r.lookup(id); inst != nil {
		return inst, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if inst := r.lookup(id); inst != nil {
			return inst, nil
		}

		prompt, err := r.opts.Persona.For(id)
		if err != nil {
			return nil, err
		}
		h := session.NewHistory(id, r.opts.Store, session.HistoryOptions{
			MaxRecent:          r.opts.MaxRecent,
			SummarizeThreshold: r.opts.SummarizeThreshold,
			Compactor:          r.opts.Compactor,
			Clock:              r.opts.Clock,
			Logger:             r.logger,
		})
		if err := h.Load(ctx); err != nil {
			return nil, err
		}

		inst := &Instance{id: id, prompt: prompt, history: h}
		r.ledger.Ensure(id)

		r.mu.Lock()
		r.instances[id] = inst
		r.mu.Unlock()
		r.logger.Info("session created", "session", id, "messages", h.Len())
		return inst, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance), nil
}

func (r *Instances) lookup(id string) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[id]
}

// HandleMessage runs one exchange for session id and returns the reply.
// A zero ts stamps the human message with the current time. Failures never
// reach the caller: a failed completion yields FallbackReply and records
// nothing.
func (r *Instances) HandleMessage(ctx context.Context, id, text string, ts float64) string {
	if !r.enter() {
		return UnavailableReply
	}
	defer r.inflight.Done()

	inst, err := r.GetOrCreate(ctx, id)
	if err != nil {
		r.logger.Error("session unavailable", "session", id, "err", err)
		return FallbackReply
	}

	inst.turn.Lock()
	defer inst.turn.Unlock()

	reply, err := r.invoke(ctx, inst, text)
	if err != nil {
		r.logger.Warn("completion failed", "session", id, "err", err)
		return FallbackReply
	}

	if _, err := inst.history.Append(session.Human(text, ts), session.Agent(reply.Text, 0)); err != nil {
		r.logger.Error("record exchange", "session", id, "err", err)
		return reply.Text
	}
	r.ledger.Record(id, reply.Usage)

	if _, err := inst.history.CompactIfNeeded(ctx); err != nil {
		r.logger.Warn("compaction postponed", "session", id, "err", err)
	}
	if r.opts.FlushOnExchange {
		if err := inst.history.Flush(ctx); err != nil {
			r.logger.Warn("flush failed", "session", id, "err", err)
		}
	}
	return reply.Text
}

func (r *Instances) invoke(ctx context.Context, inst *Instance, text string) (Reply, error) {
	if r.opts.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CompletionTimeout)
		defer cancel()
	}
	reply, err := r.opts.Pipeline.Invoke(ctx, Request{
		SystemPrompt: inst.prompt,
		History:      inst.history.Messages(),
		Input:        text,
	})
	if err != nil {
		if !errors.Is(err, ErrCompletion) {
			err = fmt.Errorf("%w: %w", ErrCompletion, err)
		}
		return Reply{}, err
	}
	return reply, nil
}

// enter registers an in-flight exchange unless shutdown has begun.
func (r *Instances) enter() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.closing {
		return false
	}
	r.inflight.Add(1)
	return true
}

// SaveAll flushes every session, compacting where due, then writes the
// ledger. A failing session does not stop the others; the returned error
// joins every storage failure.
func (r *Instances) SaveAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(r.opts.SaveConcurrency)
	for _, inst := range r.snapshot() {
		g.Go(func() error {
			if err := r.save(ctx, inst); err != nil {
				r.logger.Error("save session", "session", inst.id, "err", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if r.opts.StatsPath != "" {
		if err := r.ledger.Save(r.opts.StatsPath); err != nil {
			r.logger.Error("save statistics", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Instances) save(ctx context.Context, inst *Instance) error {
	if err := inst.history.Flush(ctx); err != nil {
		return err
	}
	if _, err := inst.history.CompactIfNeeded(ctx); err != nil {
		if errors.Is(err, session.ErrSummarization) {
			r.logger.Warn("compaction postponed", "session", inst.id, "err", err)
			return nil
		}
		return err
	}
	return nil
}

func (r *Instances) snapshot() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// Sessions returns the ids of live sessions in sorted order.
func (r *Instances) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Statistic returns the statistic of id, or the zero value if unknown.
func (r *Instances) Statistic(id string) usage.ChatStatistic {
	return r.ledger.Statistic(id)
}

// TotalUsage sums every session plus the summarizer.
func (r *Instances) TotalUsage() usage.TokenUsage {
	return r.ledger.Total()
}

// Ledger exposes the usage ledger, e.g. for the summarizer's usage hook.
func (r *Instances) Ledger() *usage.Ledger { return r.ledger }

// History returns a copy of the session's messages.
func (r *Instances) History(ctx context.Context, id string) ([]session.Message, error) {
	inst, err := r.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	return inst.history.Messages(), nil
}

// Clear erases the session's transcript. Statistics are kept.
func (r *Instances) Clear(ctx context.Context, id string) error {
	inst, err := r.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	inst.turn.Lock()
	defer inst.turn.Unlock()
	return inst.history.Clear(ctx)
}

func (r *Instances) Name() string { return "chat instances" }

// Shutdown stops accepting messages, waits for in-flight exchanges, and
// saves everything. If ctx expires before the drain completes, the save
// still runs. Later calls return the first call's result.
func (r *Instances) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.stateMu.Lock()
		r.closing = true
		r.stateMu.Unlock()

		drained := make(chan struct{})
		go func() {
			r.inflight.Wait()
			close(drained)
		}()

		var drainErr error
		select {
		case <-drained:
		case <-ctx.Done():
			drainErr = fmt.Errorf("drain in-flight exchanges: %w", ctx.Err())
			r.logger.Warn("shutdown before drain completed", "err", ctx.Err())
		}

		saveErr := r.SaveAll(context.WithoutCancel(ctx))
		r.shutdownErr = errors.Join(drainErr, saveErr)
	})
	return r.shutdownErr
}
