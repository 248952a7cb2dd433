package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
	"github.com/theapemachine/minne/pkg/memory"
)

/*
Snapshot is one archived view of a session: whatever short-term memory
held at archive time, as a single JSON document. Snapshots are
immutable; archiving the same session twice produces two objects.
*/
type Snapshot struct {
	CallerID   string       `json:"caller_id"`
	SessionID  string       `json:"session_id"`
	ArchivedAt time.Time    `json:"archived_at"`
	Turns      []convo.Turn `json:"turns"`
}

/*
Archiver copies session history out of short-term memory into object
storage before the TTL erases it. Objects are keyed
<caller>/<session>/<timestamp>.json so per-caller listing is a prefix
scan and no caller can collide with another.
*/
type Archiver struct {
	store     ObjectStore
	shortTerm memory.ShortTerm
	window    int
}

type ArchiverOption func(*Archiver)

func NewArchiver(store ObjectStore, shortTerm memory.ShortTerm, options ...ArchiverOption) *Archiver {
	archiver := &Archiver{
		store:     store,
		shortTerm: shortTerm,
		window:    100,
	}

	for _, option := range options {
		option(archiver)
	}

	return archiver
}

// WithWindow caps how many recent turns one snapshot holds.
func WithWindow(window int) ArchiverOption {
	return func(archiver *Archiver) {
		archiver.window = window
	}
}

/*
ArchiveSession snapshots a live session and returns the object key.
An expired or empty session is NotFound: there is nothing to keep.
*/
func (archiver *Archiver) ArchiveSession(
	ctx context.Context, callerID, sessionID string,
) (string, *errors.Error) {
	turns, err := archiver.shortTerm.GetRecent(ctx, sessionID, archiver.window)
	if err != nil {
		log.Error("failed to read session for archiving", "session_id", sessionID, "error", err)
		return "", errors.ErrInternal.WithMessagef("failed to read session: %v", err)
	}

	if len(turns) == 0 {
		return "", errors.ErrNotFound.WithMessagef("session %s has no turns to archive", sessionID)
	}

	snapshot := Snapshot{
		CallerID:   callerID,
		SessionID:  sessionID,
		ArchivedAt: time.Now().UTC(),
		Turns:      turns,
	}

	data, marshalErr := json.Marshal(snapshot)
	if marshalErr != nil {
		return "", errors.ErrInternal.WithMessagef("failed to marshal snapshot: %v", marshalErr)
	}

	key := fmt.Sprintf(
		"%s/%s/%s.json",
		callerID, sessionID, snapshot.ArchivedAt.Format("20060102T150405.000Z"),
	)

	if err := archiver.store.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		log.Error("failed to store snapshot", "key", key, "error", err)
		return "", errors.ErrInternal.WithMessagef("failed to store snapshot: %v", err)
	}

	return key, nil
}

// List returns the snapshot keys of one caller's session, oldest first.
func (archiver *Archiver) List(
	ctx context.Context, callerID, sessionID string,
) ([]string, *errors.Error) {
	keys, err := archiver.store.List(ctx, fmt.Sprintf("%s/%s/", callerID, sessionID))
	if err != nil {
		return nil, errors.ErrInternal.WithMessagef("failed to list snapshots: %v", err)
	}

	return keys, nil
}

/*
Load fetches one snapshot. The key must belong to the requesting
caller; keys are caller-prefixed, so the check is a prefix match.
*/
func (archiver *Archiver) Load(
	ctx context.Context, callerID, key string,
) (*Snapshot, *errors.Error) {
	if !strings.HasPrefix(key, callerID+"/") {
		return nil, errors.ErrNotFound.WithMessagef("no snapshot %s", key)
	}

	buf, err := archiver.store.Get(ctx, key)
	if err != nil {
		return nil, errors.ErrNotFound.WithMessagef("no snapshot %s", key)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(buf.Bytes(), &snapshot); err != nil {
		return nil, errors.ErrInternal.WithMessagef("failed to unmarshal snapshot: %v", err)
	}

	return &snapshot, nil
}
