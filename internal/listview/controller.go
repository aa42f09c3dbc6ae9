package listview

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"arcadeops/admin-console/internal/apiclient"
	"arcadeops/admin-console/internal/observability"
	"arcadeops/admin-console/internal/resource"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// FetchFunc loads one page (server mode) or one batch (client mode).
type FetchFunc[T any] func(ctx context.Context, q Query) (resource.Page[T], error)

type Config[T resource.Keyed] struct {
	Name         string
	Fields       []Field
	DefaultLimit int
	MaxLimit     int
	Mode         Mode
	// BatchSize caps the rows fetched in client mode.
	BatchSize     int
	Debounce      time.Duration
	DefaultSortBy string
	DefaultOrder  string
	// SortFields restricts SetSort. Empty allows any field.
	SortFields []string
	Fetch      FetchFunc[T]
	Logger     *slog.Logger
}

// Snapshot is the read-only view model of one table.
type Snapshot[T any] struct {
	Name       string   `json:"name"`
	Mode       Mode     `json:"mode"`
	Status     Status   `json:"status"`
	Items      []T      `json:"items"`
	Keys       []string `json:"keys"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalPages int      `json:"total_pages"`
	HasNext    bool     `json:"has_next"`
	HasPrev    bool     `json:"has_prev"`
	Error      string   `json:"error,omitempty"`
	InFlight   bool     `json:"in_flight"`
	// Truncated is set in client mode when the batch hit its cap, so more
	// rows may exist than were paged over.
	Truncated bool  `json:"truncated"`
	Query     Query `json:"query"`
}

type Controller[T resource.Keyed] struct {
	cfg Config[T]
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	query     Query
	status    Status
	rows      []T
	total     int
	errMsg    string
	truncated bool
	seq       uint64
	inFlight  bool
	running   int
	timer     *time.Timer
	timerGen  uint64
	changed   chan struct{}
	closed    bool
}

func New[T resource.Keyed](cfg Config[T]) (*Controller[T], error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return nil, fmt.Errorf("list view name is required")
	}
	if cfg.Fetch == nil {
		return nil, fmt.Errorf("list view %s: fetch func is required", cfg.Name)
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = MaxLimit
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		return nil, fmt.Errorf("list view %s: default limit must be <= %d", cfg.Name, cfg.MaxLimit)
	}
	if cfg.Debounce < 0 {
		return nil, fmt.Errorf("list view %s: debounce must be >= 0", cfg.Name)
	}
	if cfg.Mode == ModeClient && cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.MaxLimit
	}
	seen := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		if f.Key == "" || seen[f.Key] {
			return nil, fmt.Errorf("list view %s: filter keys must be unique and non-empty", cfg.Name)
		}
		seen[f.Key] = true
	}
	order, err := normalizeOrder(cfg.DefaultOrder)
	if err != nil {
		return nil, fmt.Errorf("list view %s: %w", cfg.Name, err)
	}
	if cfg.DefaultSortBy == "" {
		order = ""
	}
	cfg.DefaultOrder = order

	log := cfg.Logger
	if log == nil {
		log = observability.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller[T]{
		cfg:     cfg,
		log:     log.With("view", cfg.Name),
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusIdle,
		rows:    []T{},
		changed: make(chan struct{}),
	}
	c.query = c.defaults()
	return c, nil
}

func (c *Controller[T]) Name() string { return c.cfg.Name }

func (c *Controller[T]) Fields() []Field { return slices.Clone(c.cfg.Fields) }

func (c *Controller[T]) defaults() Query {
	q := Query{
		Filters:   make(map[string]string, len(c.cfg.Fields)),
		Page:      1,
		Limit:     c.cfg.DefaultLimit,
		SortBy:    c.cfg.DefaultSortBy,
		SortOrder: c.cfg.DefaultOrder,
	}
	for _, f := range c.cfg.Fields {
		q.Filters[f.Key] = f.Default
	}
	return q
}

func (c *Controller[T]) field(key string) (Field, bool) {
	for _, f := range c.cfg.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Load issues the first fetch of an idle view. It reports whether a fetch
// was started.
func (c *Controller[T]) Load() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status != StatusIdle || c.inFlight || c.timer != nil {
		return false
	}
	c.issueLocked()
	return true
}

// SetFilter changes one filter and resets the page. Text fields fetch after
// the debounce period; other fields fetch at once. Setting the current value
// again does nothing.
func (c *Controller[T]) SetFilter(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.field(key)
	if !ok {
		return fmt.Errorf("%w %q for %s", ErrUnknownFilter, key, c.cfg.Name)
	}
	if c.closed || c.query.Filters[key] == value {
		return nil
	}
	c.query.Filters[key] = value
	c.query.Page = 1

	if f.Kind == Text && c.cfg.Debounce > 0 {
		c.armLocked()
		return nil
	}
	c.stopTimerLocked()
	c.issueLocked()
	return nil
}

// SetPage moves to page n. Out-of-range or unchanged pages are no-ops and
// never fetch.
func (c *Controller[T]) SetPage(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || n < 1 || n > c.totalPagesLocked() || n == c.query.Page {
		return false
	}
	c.query.Page = n
	if c.cfg.Mode == ModeClient {
		c.notifyLocked()
		return true
	}
	// A pending filter fetch is folded into this one.
	c.stopTimerLocked()
	c.issueLocked()
	return true
}

func (c *Controller[T]) Next() bool {
	return c.SetPage(c.currentPage() + 1)
}

func (c *Controller[T]) Prev() bool {
	return c.SetPage(c.currentPage() - 1)
}

func (c *Controller[T]) currentPage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query.Page
}

// SetLimit clamps n into [1, MaxLimit] and resets the page. Client mode
// re-slices the batch it already holds.
func (c *Controller[T]) SetLimit(n int) bool {
	if n <= 0 {
		n = c.cfg.DefaultLimit
	}
	n = min(n, c.cfg.MaxLimit)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || n == c.query.Limit {
		return false
	}
	c.query.Limit = n
	c.query.Page = 1
	if c.cfg.Mode == ModeClient && c.status == StatusSuccess {
		c.notifyLocked()
		return true
	}
	c.stopTimerLocked()
	c.issueLocked()
	return true
}

func (c *Controller[T]) SetSort(by, order string) error {
	by = strings.TrimSpace(by)
	if by != "" && len(c.cfg.SortFields) > 0 && !slices.Contains(c.cfg.SortFields, by) {
		return fmt.Errorf("%w %q for %s", ErrUnknownSort, by, c.cfg.Name)
	}
	o, err := normalizeOrder(order)
	if err != nil {
		return err
	}
	if by == "" {
		o = ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (c.query.SortBy == by && c.query.SortOrder == o) {
		return nil
	}
	c.query.SortBy = by
	c.query.SortOrder = o
	c.query.Page = 1
	c.stopTimerLocked()
	c.issueLocked()
	return nil
}

// Refresh re-issues the current query, even when every filter is empty.
func (c *Controller[T]) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopTimerLocked()
	c.issueLocked()
}

// Reset restores every filter, the page, the limit and the sort to their
// defaults and fetches.
func (c *Controller[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopTimerLocked()
	c.query = c.defaults()
	c.truncated = false
	c.issueLocked()
}

// Invalidate drops the loaded rows, the error and the page and returns the
// view to idle, so the next Load fetches again. Filters, limit and sort are
// kept. Fetches already running are discarded when they resolve.
func (c *Controller[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopTimerLocked()
	c.seq++
	c.status = StatusIdle
	c.inFlight = false
	c.rows = []T{}
	c.total = 0
	c.errMsg = ""
	c.truncated = false
	c.query.Page = 1
	c.notifyLocked()
}

func (c *Controller[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.total
	if c.cfg.Mode == ModeClient {
		n = len(c.rows)
	}
	pages := TotalPages(n, c.query.Limit)
	s := Snapshot[T]{
		Name:       c.cfg.Name,
		Mode:       c.cfg.Mode,
		Status:     c.status,
		Total:      n,
		Page:       c.query.Page,
		Limit:      c.query.Limit,
		TotalPages: pages,
		HasNext:    c.query.Page < pages,
		HasPrev:    c.query.Page > 1,
		Error:      c.errMsg,
		InFlight:   c.inFlight,
		Truncated:  c.truncated,
		Query:      c.query.clone(),
	}
	s.Items = c.visibleLocked()
	s.Keys = make([]string, len(s.Items))
	for i, it := range s.Items {
		s.Keys[i] = it.Key()
	}
	return s
}

// State is Snapshot for callers that hold views of mixed row types.
func (c *Controller[T]) State() any {
	return c.Snapshot()
}

func (c *Controller[T]) visibleLocked() []T {
	if len(c.rows) == 0 {
		return []T{}
	}
	if c.cfg.Mode == ModeServer {
		return slices.Clone(c.rows)
	}
	start := (c.query.Page - 1) * c.query.Limit
	if start >= len(c.rows) {
		return []T{}
	}
	end := min(start+c.query.Limit, len(c.rows))
	return slices.Clone(c.rows[start:end])
}

// Settle blocks until no debounce timer is armed and no fetch is running.
func (c *Controller[T]) Settle(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.timer == nil && c.running == 0 {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops pending timers and cancels running fetches. Results that
// arrive afterwards are dropped.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.cancel()
	c.notifyLocked()
}

func (c *Controller[T]) totalPagesLocked() int {
	if c.cfg.Mode == ModeClient {
		return TotalPages(len(c.rows), c.query.Limit)
	}
	return TotalPages(c.total, c.query.Limit)
}

func (c *Controller[T]) fetchQueryLocked() Query {
	q := c.query.clone()
	if c.cfg.Mode == ModeClient {
		q.Page = 1
		q.Limit = c.cfg.BatchSize
	}
	return q
}

func (c *Controller[T]) armLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(c.cfg.Debounce, func() { c.fire(gen) })
}

func (c *Controller[T]) fire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A timer that was re-armed or stopped while this callback waited for
	// the lock is superseded.
	if c.closed || gen != c.timerGen {
		return
	}
	c.timer = nil
	c.issueLocked()
}

func (c *Controller[T]) stopTimerLocked() {
	if c.timer == nil {
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.timerGen++
	c.notifyLocked()
}

// issueLocked starts a fetch for the current query under a new sequence
// number. Only the result carrying the latest number is applied.
func (c *Controller[T]) issueLocked() {
	c.seq++
	seq := c.seq
	q := c.fetchQueryLocked()
	c.status = StatusLoading
	c.inFlight = true
	c.running++
	c.notifyLocked()
	go c.run(seq, q)
}

func (c *Controller[T]) run(seq uint64, q Query) {
	page, err := c.cfg.Fetch(c.ctx, q)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.running--
	defer c.notifyLocked()

	if c.closed {
		return
	}
	if seq != c.seq {
		c.log.Debug("discarding stale list result", "seq", seq, "latest", c.seq)
		return
	}
	c.inFlight = false

	if err != nil {
		c.status = StatusError
		c.rows = []T{}
		c.total = 0
		c.truncated = false
		c.errMsg = apiclient.UserMessage(err)
		c.log.Warn("list fetch failed", "page", q.Page, "error", err)
		return
	}

	c.status = StatusSuccess
	c.errMsg = ""
	c.rows = page.Items
	if c.rows == nil {
		c.rows = []T{}
	}

	if c.cfg.Mode == ModeClient {
		c.total = len(c.rows)
		c.truncated = len(c.rows) >= c.cfg.BatchSize
		if pages := TotalPages(len(c.rows), c.query.Limit); c.query.Page > pages {
			c.query.Page = pages
		}
		return
	}

	c.total = max(0, page.Total)
	if len(c.rows) == 0 && c.query.Page > 1 {
		// The page ran past the end, e.g. after rows were deleted.
		if last := TotalPages(c.total, c.query.Limit); c.query.Page > last {
			c.log.Debug("clamping page past the end", "page", c.query.Page, "last", last)
			c.query.Page = last
			c.issueLocked()
		}
	}
}

func (c *Controller[T]) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
