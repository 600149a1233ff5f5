package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vieroc/salespilot/internal/conversation"
	"github.com/vieroc/salespilot/internal/observability"
	"github.com/vieroc/salespilot/internal/reliability"
)

// ManagerConfig tunes the memory facade.
type ManagerConfig struct {
	// WindowSize is the hot-buffer window N.
	WindowSize int
	// SummaryEvery is the summarization cadence M in committed turns.
	SummaryEvery int64
	// TopK bounds semantic retrieval per assemble.
	TopK int
	// StartNode seeds the sales-node pointer of new conversations.
	StartNode string
	// QueueSize bounds the async summarize/index queue.
	QueueSize int
	// RetryAttempts/RetryBase/RetryCap shape background task retries.
	RetryAttempts int
	RetryBase     time.Duration
	RetryCap      time.Duration
	// TaskTimeout bounds one background task attempt.
	TaskTimeout time.Duration
	// Salient decides which committed turns earn a semantic index entry.
	// Nil means only turns explicitly flagged by a stage.
	Salient func(conversation.Turn) bool
	// Redact strips PII from turn content before it reaches the semantic
	// tier. Nil disables redaction.
	Redact func(string) (string, bool)
	// SynchronousTasks runs summarize/index inline instead of on the
	// background worker. Tests and one-shot tools use this.
	SynchronousTasks bool
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.SummaryEvery <= 0 {
		c.SummaryEvery = 50
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 5 * time.Second
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	return c
}

type taskKind int

const (
	taskSummarize taskKind = iota
	taskIndex
)

type memTask struct {
	kind   taskKind
	id     conversation.ID
	endSeq int64             // summarize: boundary to cover up to
	turn   conversation.Turn // index: turn to embed
}

// Manager composes the three memory tiers behind read (Assemble) and write
// (Commit) operations. Access for a single conversation is serialized; work
// for distinct conversations proceeds concurrently.
type Manager struct {
	cfg        ManagerConfig
	hot        *HotBuffer
	episodic   EpisodicStore
	semantic   SemanticIndex
	embedder   Embedder
	summarizer Summarizer
	trigger    SummaryTrigger
	metrics    *observability.Metrics

	mu    sync.Mutex
	locks map[conversation.ID]*sync.Mutex

	tasks  chan memTask
	wg     sync.WaitGroup
	closed chan struct{}
}

// NewManager wires the tiers together. semantic, embedder and summarizer may
// be nil; the corresponding features degrade rather than fail.
func NewManager(cfg ManagerConfig, episodic EpisodicStore, semantic SemanticIndex, embedder Embedder, summarizer Summarizer, metrics *observability.Metrics) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:        cfg,
		hot:        NewHotBuffer(cfg.WindowSize),
		episodic:   episodic,
		semantic:   semantic,
		embedder:   embedder,
		summarizer: summarizer,
		trigger:    NewSummaryTrigger(cfg.SummaryEvery),
		metrics:    metrics,
		locks:      make(map[conversation.ID]*sync.Mutex),
		tasks:      make(chan memTask, cfg.QueueSize),
		closed:     make(chan struct{}),
	}
	if !cfg.SynchronousTasks {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

func (m *Manager) convLock(id conversation.ID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// State returns the conversation's durable state, or a fresh unsaved state
// at the start node for a first contact.
func (m *Manager) State(ctx context.Context, id conversation.ID) (*conversation.State, error) {
	st, err := m.episodic.State(ctx, id)
	if err == ErrStateNotFound {
		return conversation.NewState(id, m.cfg.StartNode), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// SaveState writes the versioned state record back atomically.
func (m *Manager) SaveState(ctx context.Context, state *conversation.State) error {
	l := m.convLock(state.Conversation)
	l.Lock()
	defer l.Unlock()
	return m.episodic.SaveState(ctx, state)
}

// Commit appends a turn: hot append, two-phase eviction of any surplus,
// counter update, and async summarize/index enqueue. The returned turn
// carries its assigned sequence number.
func (m *Manager) Commit(ctx context.Context, id conversation.ID, turn conversation.Turn) (conversation.Turn, error) {
	started := time.Now()
	l := m.convLock(id)
	l.Lock()
	defer l.Unlock()

	st, err := m.episodic.State(ctx, id)
	if err == ErrStateNotFound {
		st = conversation.NewState(id, m.cfg.StartNode)
	} else if err != nil {
		return conversation.Turn{}, fmt.Errorf("load state: %w", err)
	}

	prev := st.CommittedTurns
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	// A commit retried after a failed eviction finds its turn already in the
	// window; reuse it instead of appending a duplicate.
	reused := false
	for _, existing := range m.hot.ReadWindow(id, 0) {
		if existing.ID == turn.ID {
			turn = existing
			reused = true
			break
		}
	}
	if !reused {
		turn.Seq = prev + 1
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = time.Now().UTC()
		}
		m.hot.Append(id, turn)
	}

	// Two-phase eviction: surplus entries become durable in the episodic
	// store first, then leave the hot buffer. AppendTurn is idempotent by
	// seq, so a retried eviction never duplicates log entries.
	if surplus := m.hot.Surplus(id); len(surplus) > 0 {
		for _, evictee := range surplus {
			if err := m.episodic.AppendTurn(ctx, id, evictee); err != nil {
				return conversation.Turn{}, fmt.Errorf("evict turn %d: %w", evictee.Seq, err)
			}
		}
		m.hot.EvictOldest(id, len(surplus))
		if m.metrics != nil {
			m.metrics.Evictions.Add(float64(len(surplus)))
		}
	}

	st.CommittedTurns = turn.Seq
	if err := m.episodic.SaveState(ctx, st); err != nil {
		return conversation.Turn{}, fmt.Errorf("save state: %w", err)
	}

	if endSeq, crossed := m.trigger.Crossed(prev, turn.Seq); crossed {
		m.enqueue(memTask{kind: taskSummarize, id: id, endSeq: endSeq})
	}
	if m.isSalient(turn) {
		m.enqueue(memTask{kind: taskIndex, id: id, turn: turn})
	}

	if m.metrics != nil {
		m.metrics.ObserveCommitLatency(time.Since(started))
	}
	return turn, nil
}

func (m *Manager) isSalient(turn conversation.Turn) bool {
	if m.cfg.Salient != nil {
		return m.cfg.Salient(turn)
	}
	return turn.Salient
}

// Assemble builds the context window for one request: recent turns from the
// hot tier (episodic fallback when cold), the latest summary, and top-K
// semantically relevant turns. Semantic-tier failures degrade the window to
// recency-only context.
func (m *Manager) Assemble(ctx context.Context, id conversation.ID, queryText string) (Window, error) {
	l := m.convLock(id)
	l.Lock()
	defer l.Unlock()

	var w Window
	recent := m.hot.ReadWindow(id, m.cfg.WindowSize)
	if len(recent) == 0 {
		// Cold start after restart: rebuild the window from the durable log.
		durable, err := m.episodic.ReadRecent(ctx, id, m.cfg.WindowSize)
		if err != nil {
			log.Printf("memory: episodic fallback failed for %s: %v", id, err)
		} else if len(durable) > 0 {
			m.hot.Seed(id, durable)
			recent = m.hot.ReadWindow(id, m.cfg.WindowSize)
		}
	}
	w.Recent = recent

	summary, err := m.episodic.LatestSummary(ctx, id)
	if err != nil {
		log.Printf("memory: latest summary read failed for %s: %v", id, err)
	} else {
		w.Summary = summary
	}

	w.Relevant = m.searchRelevant(ctx, id, queryText, recent)
	return w, nil
}

// searchRelevant is strictly best-effort; any failure degrades the window to
// recency-only context.
func (m *Manager) searchRelevant(ctx context.Context, id conversation.ID, queryText string, recent []conversation.Turn) []conversation.Turn {
	if m.semantic == nil || m.embedder == nil || queryText == "" {
		return nil
	}
	query, err := m.embedder.Embed(ctx, queryText)
	if err != nil {
		log.Printf("memory: query embedding failed for %s: %v", id, err)
		return nil
	}
	found, err := m.semantic.Search(ctx, id, query, m.cfg.TopK)
	if err != nil {
		log.Printf("memory: semantic search failed for %s: %v", id, err)
		return nil
	}

	inWindow := make(map[int64]bool, len(recent))
	for _, turn := range recent {
		inWindow[turn.Seq] = true
	}
	out := found[:0]
	for _, turn := range found {
		if !inWindow[turn.Seq] {
			out = append(out, turn)
		}
	}
	return out
}

func (m *Manager) enqueue(task memTask) {
	if m.cfg.SynchronousTasks {
		m.runTask(task)
		return
	}
	select {
	case m.tasks <- task:
	default:
		// Queue saturated. Both task kinds are idempotent and re-derivable,
		// so dropping with a trace beats blocking the commit path.
		log.Printf("memory: task queue full, dropping task kind=%d conv=%s", task.kind, task.id)
		if m.metrics != nil && task.kind == taskIndex {
			m.metrics.IndexWrites.WithLabelValues("dropped").Inc()
		}
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for task := range m.tasks {
		m.runTask(task)
	}
}

func (m *Manager) runTask(task memTask) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TaskTimeout)
	defer cancel()

	switch task.kind {
	case taskSummarize:
		if err := m.summarize(ctx, task.id, task.endSeq); err != nil {
			log.Printf("memory: summarize failed for %s up to %d: %v", task.id, task.endSeq, err)
		}
	case taskIndex:
		err := reliability.Retry(ctx, m.cfg.RetryAttempts, m.cfg.RetryBase, m.cfg.RetryCap, func() error {
			return m.indexTurn(ctx, task.id, task.turn)
		})
		if m.metrics != nil {
			if err != nil {
				m.metrics.IndexWrites.WithLabelValues("failure").Inc()
			} else {
				m.metrics.IndexWrites.WithLabelValues("success").Inc()
			}
		}
		if err != nil {
			log.Printf("memory: index failed for %s seq=%d: %v", task.id, task.turn.Seq, err)
		}
	}
}

// summarize covers (latest covered seq, endSeq] with one new summary. A
// redelivered request finds the range already covered and no-ops.
func (m *Manager) summarize(ctx context.Context, id conversation.ID, endSeq int64) error {
	if m.summarizer == nil {
		return nil
	}

	latest, err := m.episodic.LatestSummary(ctx, id)
	if err != nil {
		return fmt.Errorf("read latest summary: %w", err)
	}
	startSeq := int64(1)
	oldContent := ""
	if latest != nil {
		if latest.EndSeq >= endSeq {
			return nil
		}
		startSeq = latest.EndSeq + 1
		oldContent = latest.Content
	}

	turns, err := m.collectRange(ctx, id, startSeq, endSeq)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	summary, err := m.summarizer.Summarize(ctx, id, turns, oldContent)
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}
	summary.StartSeq = startSeq
	summary.EndSeq = endSeq

	err = reliability.Retry(ctx, m.cfg.RetryAttempts, m.cfg.RetryBase, m.cfg.RetryCap, func() error {
		return m.episodic.WriteSummary(ctx, id, summary)
	})
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if m.metrics != nil {
		m.metrics.SummariesWritten.Inc()
	}
	return nil
}

// collectRange merges the durable log with hot-buffer turns that have not
// been evicted yet, so a summary range spanning both tiers is complete.
func (m *Manager) collectRange(ctx context.Context, id conversation.ID, fromSeq, toSeq int64) ([]conversation.Turn, error) {
	durable, err := m.episodic.ReadRange(ctx, id, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	seen := make(map[int64]bool, len(durable))
	for _, turn := range durable {
		seen[turn.Seq] = true
	}

	out := durable
	for _, turn := range m.hot.ReadWindow(id, 0) {
		if turn.Seq >= fromSeq && turn.Seq <= toSeq && !seen[turn.Seq] {
			out = append(out, turn)
		}
	}
	sortTurnsBySeq(out)
	return out, nil
}

func sortTurnsBySeq(turns []conversation.Turn) {
	sort.Slice(turns, func(i, j int) bool { return turns[i].Seq < turns[j].Seq })
}

func (m *Manager) indexTurn(ctx context.Context, id conversation.ID, turn conversation.Turn) error {
	if m.semantic == nil || m.embedder == nil {
		return nil
	}
	content := turn.Content
	if m.cfg.Redact != nil {
		if redacted, changed := m.cfg.Redact(content); changed {
			content = redacted
		}
	}
	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	indexed := turn
	indexed.Content = content
	return m.semantic.Index(ctx, id, indexed, embedding)
}

// History returns up to n most recent committed turns across both tiers, in
// sequence order. n <= 0 means everything the episodic store holds plus the
// hot window.
func (m *Manager) History(ctx context.Context, id conversation.ID, n int) ([]conversation.Turn, error) {
	l := m.convLock(id)
	l.Lock()
	defer l.Unlock()

	durable, err := m.episodic.ReadRecent(ctx, id, n)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(durable))
	for _, turn := range durable {
		seen[turn.Seq] = true
	}
	out := durable
	for _, turn := range m.hot.ReadWindow(id, 0) {
		if !seen[turn.Seq] {
			out = append(out, turn)
		}
	}
	sortTurnsBySeq(out)
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// WindowSize returns the configured hot window N.
func (m *Manager) WindowSize() int { return m.cfg.WindowSize }

// Close drains the background queue and shuts the worker down. The stores
// themselves are closed by their owner.
func (m *Manager) Close() error {
	select {
	case <-m.closed:
		return nil
	default:
	}
	close(m.closed)
	close(m.tasks)
	m.wg.Wait()
	return nil
}
