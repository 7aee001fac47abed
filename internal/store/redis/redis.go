package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draftmill/draftmill/internal/store"
)

// RedisStore keeps run state in Redis for deployments where the pipeline's
// durable cache lives alongside other ephemeral serving state. Checkpoints
// use HSETNX so a recorded step can never be overwritten.
type RedisStore struct {
	client *redis.Client
}

func New(addr string, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewWithClient wraps an existing client; tests use this with miniredis.
func NewWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func runKey(sessionID string) string        { return "run:" + sessionID }
func reportKey(sessionID string) string     { return "report:" + sessionID }
func checkpointKey(sessionID string) string { return "checkpoints:" + sessionID }
func eventsKey(sessionID string) string     { return "events:" + sessionID }
func seqKey(sessionID string) string        { return "eventseq:" + sessionID }

const runsIndexKey = "runs"

func (r *RedisStore) CreateRun(ctx context.Context, run store.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	created, err := r.client.SetNX(ctx, runKey(run.SessionID), payload, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("run already exists: %s", run.SessionID)
	}
	return r.client.SAdd(ctx, runsIndexKey, run.SessionID).Err()
}

func (r *RedisStore) GetRun(ctx context.Context, sessionID string) (*store.Run, error) {
	payload, err := r.client.Get(ctx, runKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var run store.Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RedisStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	ids, err := r.client.SMembers(ctx, runsIndexKey).Result()
	if err != nil {
		return nil, err
	}
	runs := make([]store.Run, 0, len(ids))
	for _, id := range ids {
		run, err := r.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run != nil {
			runs = append(runs, *run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt == runs[j].CreatedAt {
			return runs[i].SessionID < runs[j].SessionID
		}
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
	return runs, nil
}

func (r *RedisStore) UpdateRunStatus(ctx context.Context, sessionID string, status string, phase string, reason string) error {
	run, err := r.GetRun(ctx, sessionID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", sessionID)
	}
	if status != "" {
		run.Status = status
	}
	if phase != "" {
		run.Phase = phase
	}
	if reason != "" {
		run.CompletionReason = reason
	}
	run.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, runKey(sessionID), payload, 0).Err()
}

func (r *RedisStore) PutReport(ctx context.Context, sessionID string, artifact store.ReportArtifact) error {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, reportKey(sessionID), payload, 0).Err()
}

func (r *RedisStore) GetReport(ctx context.Context, sessionID string) (*store.ReportArtifact, error) {
	payload, err := r.client.Get(ctx, reportKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var artifact store.ReportArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (r *RedisStore) PutCheckpoint(ctx context.Context, checkpoint store.Checkpoint) error {
	payload, err := json.Marshal(checkpoint)
	if err != nil {
		return err
	}
	return r.client.HSetNX(ctx, checkpointKey(checkpoint.SessionID), checkpoint.StepID, payload).Err()
}

func (r *RedisStore) GetCheckpoint(ctx context.Context, sessionID string, stepID string) (*store.Checkpoint, error) {
	payload, err := r.client.HGet(ctx, checkpointKey(sessionID), stepID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var checkpoint store.Checkpoint
	if err := json.Unmarshal(payload, &checkpoint); err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

func (r *RedisStore) ListCheckpoints(ctx context.Context, sessionID string) ([]store.Checkpoint, error) {
	fields, err := r.client.HGetAll(ctx, checkpointKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	checkpoints := make([]store.Checkpoint, 0, len(fields))
	for _, payload := range fields {
		var checkpoint store.Checkpoint
		if err := json.Unmarshal([]byte(payload), &checkpoint); err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].StepID < checkpoints[j].StepID
	})
	return checkpoints, nil
}

func (r *RedisStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, eventsKey(event.SessionID), payload).Err()
}

func (r *RedisStore) ListEvents(ctx context.Context, sessionID string, afterSeq int64) ([]store.RunEvent, error) {
	raw, err := r.client.LRange(ctx, eventsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var events []store.RunEvent
	for _, payload := range raw {
		var event store.RunEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, err
		}
		if event.Seq > afterSeq {
			events = append(events, event)
		}
	}
	return events, nil
}

func (r *RedisStore) NextSeq(ctx context.Context, sessionID string) (int64, error) {
	return r.client.Incr(ctx, seqKey(sessionID)).Result()
}
