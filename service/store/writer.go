package store

import (
	"context"
	"sync"
	"time"

	"NProject/logger"
)

// WriterConf tunes the write-behind persistence loop.
type WriterConf struct {
	RetryBase         time.Duration // first retry delay (default 250ms)
	RetryCap          time.Duration // backoff ceiling (default 10s)
	SaveTimeout       time.Duration // per-attempt timeout (default 5s)
	DegradedThreshold int           // consecutive failures before OnDegraded fires (default 5)
}

func (c *WriterConf) norm() {
	if c.RetryBase <= 0 {
		c.RetryBase = 250 * time.Millisecond
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 10 * time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 5 * time.Second
	}
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = 5
	}
}

type snapshot struct {
	content string
	version int64
}

// Writer persists one note's snapshots behind its room. Enqueue never blocks
// and keeps only the latest snapshot; the loop retries failed saves with
// bounded exponential backoff. Accepted edits are never dropped from memory,
// only their persistence is delayed.
type Writer struct {
	noteID string
	store  DocumentStore
	conf   WriterConf

	// OnDegraded fires once when DegradedThreshold consecutive saves failed;
	// OnRecovered fires on the next success after that.
	OnDegraded  func(failures int)
	OnRecovered func()

	ch       chan snapshot
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func NewWriter(noteID string, st DocumentStore, conf WriterConf) *Writer {
	conf.norm()
	w := &Writer{
		noteID: noteID,
		store:  st,
		conf:   conf,
		ch:     make(chan snapshot, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	return w
}

// Start launches the persistence loop.
func (w *Writer) Start() {
	go w.loop()
}

// Enqueue replaces any pending snapshot with the newer one. Versions are
// strictly increasing, so dropping the older pending snapshot is safe.
func (w *Writer) Enqueue(content string, version int64) {
	s := snapshot{content: content, version: version}
	for {
		select {
		case w.ch <- s:
			return
		default:
		}
		select {
		case <-w.ch:
		default:
		}
	}
}

// Close stops the loop after a final attempt at any pending snapshot.
func (w *Writer) Close() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Writer) loop() {
	defer close(w.doneCh)

	var pending *snapshot
	fails := 0
	backoff := w.conf.RetryBase

	for {
		if pending == nil {
			select {
			case s := <-w.ch:
				pending = &s
			case <-w.stopCh:
				w.drainFinal(nil)
				return
			}
		}

		err := w.save(*pending)
		if err == nil {
			if fails >= w.conf.DegradedThreshold && w.OnRecovered != nil {
				w.OnRecovered()
			}
			fails = 0
			backoff = w.conf.RetryBase
			pending = nil
			continue
		}

		fails++
		logger.Warnf("[store] save failed note=%s version=%d fails=%d err=%v",
			w.noteID, pending.version, fails, err)
		if fails == w.conf.DegradedThreshold && w.OnDegraded != nil {
			w.OnDegraded(fails)
		}

		t := time.NewTimer(backoff)
		select {
		case s := <-w.ch:
			t.Stop()
			pending = &s
		case <-t.C:
		case <-w.stopCh:
			t.Stop()
			w.drainFinal(pending)
			return
		}
		backoff *= 2
		if backoff > w.conf.RetryCap {
			backoff = w.conf.RetryCap
		}
	}
}

// drainFinal makes one last attempt at whatever is newest before shutdown.
func (w *Writer) drainFinal(pending *snapshot) {
	select {
	case s := <-w.ch:
		pending = &s
	default:
	}
	if pending == nil {
		return
	}
	if err := w.save(*pending); err != nil {
		logger.Errorf("[store] final save failed note=%s version=%d err=%v",
			w.noteID, pending.version, err)
	}
}

func (w *Writer) save(s snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.conf.SaveTimeout)
	defer cancel()
	return w.store.Save(ctx, w.noteID, s.content, s.version)
}
