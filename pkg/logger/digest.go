package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships a digest batch, typically to a Kafka topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type DigestConfig struct {
	Interval  time.Duration // flush period
	MaxUnique int           // flush once this many distinct entries accumulate
	Topic     string
	Publisher Publisher
}

// DigestEntry counts occurrences of one distinct log line.
type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// Digest deduplicates warnings and errors and publishes them in batches,
// so a scan that fails the same way on every window yields one entry.
type Digest struct {
	cfg     *DigestConfig
	mu      sync.Mutex
	entries map[string]*DigestEntry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sent    sync.WaitGroup
}

func NewDigest(cfg *DigestConfig) *Digest {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxUnique <= 0 {
		cfg.MaxUnique = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Digest{
		cfg:     cfg,
		entries: make(map[string]*DigestEntry),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

func (d *Digest) Add(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := digestKey(level, message, fields, caller)

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		d.entries[key] = &DigestEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	if len(d.entries) >= d.cfg.MaxUnique {
		d.flushLocked()
	}
}

// Pending returns the number of distinct entries awaiting a flush.
func (d *Digest) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func digestKey(level, message string, fields map[string]interface{}, caller string) string {
	raw, _ := json.Marshal(struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{level, message, fields, caller})
	return fmt.Sprintf("%x", sha256.Sum256(raw))
}

func (d *Digest) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mu.Lock()
			d.flushLocked()
			d.mu.Unlock()
		case <-d.ctx.Done():
			d.mu.Lock()
			d.flushLocked()
			d.mu.Unlock()
			return
		}
	}
}

func (d *Digest) flushLocked() {
	if len(d.entries) == 0 || d.cfg.Publisher == nil {
		return
	}
	batch := make([]DigestEntry, 0, len(d.entries))
	for _, e := range d.entries {
		batch = append(batch, *e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	d.entries = make(map[string]*DigestEntry)

	d.sent.Add(1)
	go func() {
		defer d.sent.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.cfg.Publisher.PublishMessage(ctx, d.cfg.Topic, batch); err != nil {
			fmt.Fprintf(os.Stderr, "log digest publish failed: %v\n", err)
		}
	}()
}

// Close flushes what is pending and waits for in-flight publishes.
func (d *Digest) Close() {
	d.cancel()
	d.wg.Wait()
	d.sent.Wait()
}
