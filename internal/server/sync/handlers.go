package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ddanilov/podvault/internal/common"
	"github.com/ddanilov/podvault/internal/server/repositories/changelog"
	"github.com/ddanilov/podvault/internal/syncwire"
)

// Push item types understood by the server.
const (
	TypeReactionUpsert     = "reaction.upsert"
	TypeCommentInsert      = "comment.insert"
	TypeProgressUpdate     = "progress.update"
	TypePlayCountIncrement = "play_count.increment"
)

type reactionUpsertPayload struct {
	ID        string `json:"id"`
	EpisodeID string `json:"episode_id"`
	Kind      string `json:"kind"`
}

type commentInsertPayload struct {
	ID        string `json:"id"`
	EpisodeID string `json:"episode_id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
}

type progressUpdatePayload struct {
	EpisodeID  string `json:"episode_id"`
	PositionMs int64  `json:"position_ms"`
	DurationMs int64  `json:"duration_ms"`
	UpdatedAt  int64  `json:"updated_at"`
}

type playCountIncrementPayload struct {
	EpisodeID string `json:"episode_id"`
	Delta     int64  `json:"delta"`
}

// buildChange validates one pushed item against current state and produces
// the change to append. Validation failures return rejection errors
// (matched by isRejection); anything else is infrastructure.
func (s *Service) buildChange(ctx context.Context, repo changelog.Repository, deviceID string, item syncwire.PushItem) (*syncwire.Change, error) {
	switch item.Type {
	case TypeReactionUpsert:
		return s.reactionUpsert(ctx, repo, deviceID, item.Payload)
	case TypeCommentInsert:
		return s.commentInsert(ctx, repo, deviceID, item.Payload)
	case TypeProgressUpdate:
		return s.progressUpdate(ctx, repo, item.Payload)
	case TypePlayCountIncrement:
		return s.playCountIncrement(ctx, repo, item.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownItemType, item.Type)
	}
}

func (s *Service) reactionUpsert(ctx context.Context, repo changelog.Repository, deviceID string, payload json.RawMessage) (*syncwire.Change, error) {
	p := reactionUpsertPayload{}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	if p.ID == "" || p.EpisodeID == "" || p.Kind == "" {
		return nil, fmt.Errorf("%w: reaction requires id, episode_id and kind", common.ErrInvalidPayload)
	}

	fields := map[string]any{
		"episode_id": p.EpisodeID,
		"device_id":  deviceID,
		"kind":       p.Kind,
	}
	return s.nextChange(ctx, repo, "reactions", p.ID, fields, 0)
}

func (s *Service) commentInsert(ctx context.Context, repo changelog.Repository, deviceID string, payload json.RawMessage) (*syncwire.Change, error) {
	p := commentInsertPayload{}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	if p.ID == "" || p.EpisodeID == "" || p.Body == "" {
		return nil, fmt.Errorf("%w: comment requires id, episode_id and body", common.ErrInvalidPayload)
	}

	existing, err := repo.GetRecord(ctx, "comments", p.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if existing != nil && !existing.Deleted {
		return nil, fmt.Errorf("%w: comment %q already exists", common.ErrVersionConflict, p.ID)
	}

	fields := map[string]any{
		"episode_id": p.EpisodeID,
		"author":     p.Author,
		"body":       p.Body,
		"device_id":  deviceID,
	}
	return s.nextChange(ctx, repo, "comments", p.ID, fields, 0)
}

func (s *Service) progressUpdate(ctx context.Context, repo changelog.Repository, payload json.RawMessage) (*syncwire.Change, error) {
	p := progressUpdatePayload{}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	if p.EpisodeID == "" || p.PositionMs < 0 {
		return nil, fmt.Errorf("%w: progress requires episode_id and a non-negative position", common.ErrInvalidPayload)
	}

	fields := map[string]any{
		"position_ms": p.PositionMs,
		"duration_ms": p.DurationMs,
	}
	return s.nextChange(ctx, repo, "episode_progress", p.EpisodeID, fields, p.UpdatedAt)
}

func (s *Service) playCountIncrement(ctx context.Context, repo changelog.Repository, payload json.RawMessage) (*syncwire.Change, error) {
	p := playCountIncrementPayload{}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
	}
	if p.EpisodeID == "" {
		return nil, fmt.Errorf("%w: play count requires episode_id", common.ErrInvalidPayload)
	}
	if p.Delta == 0 {
		p.Delta = 1
	}

	// counters accumulate server-side, so concurrent devices never lose
	// increments
	count := p.Delta
	existing, err := repo.GetRecord(ctx, "play_counts", p.EpisodeID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		count += asInt64(existing.Fields["count"])
	}

	return s.nextChange(ctx, repo, "play_counts", p.EpisodeID, map[string]any{"count": count}, 0)
}

// nextChange assembles the change for an upsert of (table, id): version is
// the previous record version plus one, the operation reflects whether the
// record existed.
func (s *Service) nextChange(ctx context.Context, repo changelog.Repository, table, id string, fields map[string]any, updatedAt int64) (*syncwire.Change, error) {
	op := syncwire.OpInsert
	version := int64(1)
	existing, err := repo.GetRecord(ctx, table, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		op = syncwire.OpUpdate
		version = existing.Version + 1
	}

	if updatedAt == 0 {
		updatedAt = s.now()
	}
	return &syncwire.Change{
		Table:     table,
		Operation: op,
		Timestamp: s.now(),
		Version:   version,
		Record: syncwire.Record{
			Table:     table,
			ID:        id,
			Fields:    fields,
			UpdatedAt: updatedAt,
			Version:   version,
		},
	}, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
