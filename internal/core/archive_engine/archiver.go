package archive_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/models"
)

// Archiver is the contract the session ledger and the app rely on.
type Archiver interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(sessionID, userID string) bool
	Stop()
}

type job struct {
	SessionID string
	UserID    string
}

// Transcript is the document written to object storage.
type Transcript struct {
	SessionID  string               `json:"sessionId"`
	UserID     string               `json:"userId"`
	StartedAt  time.Time            `json:"startedAt"`
	EndedAt    *time.Time           `json:"endedAt"`
	ArchivedAt time.Time            `json:"archivedAt"`
	Messages   []models.ChatMessage `json:"messages"`
}

type Store interface {
	core.SessionStore
	core.MessageStore
}

// TranscriptArchiver uploads ended sessions to a bucket from a bounded queue.
type TranscriptArchiver struct {
	store  Store
	obj    core.ObjectClient
	bucket string
	log    *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

var _ Archiver = (*TranscriptArchiver)(nil)

// NewTranscriptArchiver constructs the archiver with a bounded job queue (64).
func NewTranscriptArchiver(store Store, obj core.ObjectClient, bucket string, log *slog.Logger) *TranscriptArchiver {
	return &TranscriptArchiver{
		store: store, obj: obj, bucket: bucket, log: log, now: time.Now,
		jobs: make(chan job, 64),
	}
}

// Start runs numWorkers goroutines that upload queued transcripts until Stop
// closes the queue. ctx only carries values; cancelling it does not stop the
// workers, so jobs accepted during an HTTP drain still get uploaded.
func (a *TranscriptArchiver) Start(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	base := context.WithoutCancel(ctx)
	for w := 1; w <= numWorkers; w++ {
		a.wg.Add(1)
		go func(w int) {
			defer a.wg.Done()
			for j := range a.jobs {
				if err := a.processOne(base, j); err != nil {
					a.log.Error("archive transcript failed", "worker", w, "session_id", j.SessionID, "err", err)
				}
			}
			a.log.Info("transcript archiver worker shutting down", "worker", w)
		}(w)
	}
}

// Enqueue schedules an ended session. It never blocks; false means the
// queue was full or already stopped and the job was dropped.
func (a *TranscriptArchiver) Enqueue(sessionID, userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	select {
	case a.jobs <- job{SessionID: sessionID, UserID: userID}:
		return true
	default:
		return false
	}
}

// Stop closes the queue and blocks until the workers have uploaded every job
// already accepted. It is safe to call more than once.
func (a *TranscriptArchiver) Stop() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *TranscriptArchiver) processOne(ctx context.Context, j job) error {
	proctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	session, err := a.store.GetSession(proctx, j.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	msgs, err := a.store.GetAllMessages(proctx, j.SessionID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}

	body, err := json.Marshal(Transcript{
		SessionID:  session.ID,
		UserID:     session.UserID,
		StartedAt:  session.StartedAt,
		EndedAt:    session.EndedAt,
		ArchivedAt: a.now().UTC(),
		Messages:   msgs,
	})
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	url, err := a.obj.UploadFile(proctx, a.bucket, TranscriptKey(session.UserID, session.ID), body, "application/json")
	if err != nil {
		return fmt.Errorf("upload transcript: %w", err)
	}
	a.log.Info("transcript archived", "session_id", session.ID, "messages", len(msgs), "url", url)
	return nil
}

func TranscriptKey(userID, sessionID string) string {
	return fmt.Sprintf("transcripts/%s/%s.json", userID, sessionID)
}
