// Package sync implements the synchronization engine: a single-flight
// orchestrator that pushes local changes to the remote store in atomic
// batches, resolves conflicts deterministically, checkpoints progress for
// crash recovery, and defers failed writes to a durable retry queue.
package sync

import (
	"context"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/opsledger/fieldsync/internal/clock"
	"github.com/opsledger/fieldsync/internal/config"
	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/logging"
	"github.com/opsledger/fieldsync/internal/models"
	"github.com/opsledger/fieldsync/internal/remote"
	"github.com/opsledger/fieldsync/internal/store"
	"github.com/opsledger/fieldsync/internal/sync/checkpoint"
	"github.com/opsledger/fieldsync/internal/sync/conflict"
	"github.com/opsledger/fieldsync/internal/sync/queue"
	"github.com/opsledger/fieldsync/internal/sync/retry"
	"github.com/opsledger/fieldsync/internal/synclog"
)

// State is the orchestrator's coarse lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Backpressure threshold. A pass failing more than half its records points at
// a systemic problem; the engine pauses itself instead of hammering the
// remote until an operator resumes it.
const failureRatePauseThreshold = 0.5

// Connectivity is the slice of the connectivity monitor the orchestrator
// consumes.
type Connectivity interface {
	IsConnected() bool
	Subscribe() <-chan bool
}

// Orchestrator drives sync passes. At most one pass runs at a time; extra
// triggers fail fast with ErrSyncInProgress instead of queueing.
type Orchestrator struct {
	cfg         *config.Config
	store       store.LocalRecordStore
	remote      remote.Store
	conn        Connectivity
	checkpoints *checkpoint.Manager
	queue       *queue.Manager
	detector    *conflict.Detector
	resolver    *conflict.Resolver
	executor    *retry.Executor
	policy      retry.Policy
	audit       *synclog.Logger
	clock       clock.Clock

	mu          stdsync.Mutex
	state       State
	paused      bool
	pauseReason string
	lastSyncAt  *time.Time
	lastResults map[models.RecordType]*models.SyncResult

	started bool
	stopCh  chan struct{}
	kick    chan struct{}
	wg      stdsync.WaitGroup
}

// NewOrchestrator wires the engine together.
func NewOrchestrator(cfg *config.Config, st store.LocalRecordStore, rem remote.Store, conn Connectivity, checkpoints *checkpoint.Manager, q *queue.Manager, audit *synclog.Logger, executor *retry.Executor, clk clock.Clock) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		store:       st,
		remote:      rem,
		conn:        conn,
		checkpoints: checkpoints,
		queue:       q,
		detector:    conflict.NewDetector(rem),
		resolver:    conflict.NewResolver(),
		executor:    executor,
		policy:      retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay},
		audit:       audit,
		clock:       clk,
		state:       StateIdle,
		stopCh:      make(chan struct{}),
		kick:        make(chan struct{}, 1),
	}
}

// Start launches the scheduled sync loop. A pass runs immediately when the
// device is connected, then on the configured interval, on every reconnection
// transition and on Resume.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	events := o.conn.Subscribe()
	o.wg.Add(1)
	go o.run(ctx, events)

	logging.Info("Sync orchestrator started", logging.Fields{
		"interval": o.cfg.SyncInterval.String(),
	})
}

// Stop shuts the scheduled loop down. In-flight passes finish on their own
// context; Stop does not interrupt them.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	close(o.stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, events <-chan bool) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.SyncInterval)
	defer ticker.Stop()

	// Local changes accumulated while the engine was down should not wait a
	// full interval. TriggerSync rejects offline and paused starts itself.
	o.triggerScheduled(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.triggerScheduled(ctx, "interval")
		case <-o.kick:
			o.triggerScheduled(ctx, "resume")
		case connected, ok := <-events:
			if !ok {
				return
			}
			if connected {
				o.triggerScheduled(ctx, "reconnect")
			}
		}
	}
}

func (o *Orchestrator) triggerScheduled(ctx context.Context, cause string) {
	if _, err := o.TriggerSync(ctx); err != nil {
		// Offline, paused and already-running are normal here.
		logging.Debug("Scheduled sync skipped", logging.Fields{
			"cause":  cause,
			"reason": err.Error(),
		})
	}
}

// Pause stops new passes from starting until Resume. The engine also pauses
// itself when a pass fails more than half its records.
func (o *Orchestrator) Pause(reason string) {
	o.mu.Lock()
	o.paused = true
	o.pauseReason = reason
	o.mu.Unlock()

	o.audit.Log(models.LogLevelWarning, "engine", "sync paused",
		map[string]interface{}{"reason": reason}, "")
}

// Resume lifts a pause. When the scheduled loop is running and the device is
// connected, an immediate pass is triggered rather than waiting for the next
// interval tick.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.pauseReason = ""
	started := o.started
	o.mu.Unlock()

	o.audit.Log(models.LogLevelInfo, "engine", "sync resumed", nil, "")

	if started && o.conn.IsConnected() {
		select {
		case o.kick <- struct{}{}:
		default:
		}
	}
}

// EngineStatus is a point-in-time snapshot of the engine.
type EngineStatus struct {
	State        State                                   `json:"state"`
	Paused       bool                                    `json:"paused"`
	PauseReason  string                                  `json:"pause_reason,omitempty"`
	Connected    bool                                    `json:"connected"`
	PendingQueue int                                     `json:"pending_queue"`
	LastSyncAt   *time.Time                              `json:"last_sync_at,omitempty"`
	LastResults  map[models.RecordType]*models.SyncResult `json:"last_results,omitempty"`
}

// Status reports the current engine snapshot.
func (o *Orchestrator) Status(ctx context.Context) (*EngineStatus, error) {
	pending, err := o.queue.PendingCount(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return &EngineStatus{
		State:        o.state,
		Paused:       o.paused,
		PauseReason:  o.pauseReason,
		Connected:    o.conn.IsConnected(),
		PendingQueue: pending,
		LastSyncAt:   o.lastSyncAt,
		LastResults:  o.lastResults,
	}, nil
}

// TriggerSync runs one full sync pass: every record type in order, then a
// replay of the durable retry queue. Exactly one pass runs at a time.
func (o *Orchestrator) TriggerSync(ctx context.Context) (map[models.RecordType]*models.SyncResult, error) {
	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "a sync pass is already running")
	}
	if o.paused {
		reason := o.pauseReason
		o.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress,
			fmt.Sprintf("sync is paused: %s", reason))
	}
	if !o.conn.IsConnected() {
		o.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrOffline, "device is offline")
	}
	o.state = StateRunning
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.state = StateIdle
		o.mu.Unlock()
	}()

	o.audit.Log(models.LogLevelInfo, "sync_pass", "pass started", nil, "")
	started := o.clock.Now()

	results := make(map[models.RecordType]*models.SyncResult)
	var pauseReasons []string
	for _, rt := range models.DefaultRecordTypes() {
		result := o.syncRecordType(ctx, rt)
		results[rt] = result

		// A failing type must not starve the types behind it; the pause
		// decision waits until every type has had its pass.
		if result.FailureRate() > failureRatePauseThreshold {
			pauseReasons = append(pauseReasons, fmt.Sprintf("%s pass failed %d of %d records",
				rt, result.FailureCount, result.TotalRecords))
		}
	}
	if len(pauseReasons) > 0 {
		o.Pause(strings.Join(pauseReasons, "; "))
	}

	o.replayQueue(ctx)

	if purged := o.audit.Purge(); purged > 0 {
		logging.Debug("Expired audit entries purged", logging.Fields{"removed": purged})
	}

	now := o.clock.Now()
	o.mu.Lock()
	o.lastSyncAt = &now
	o.lastResults = results
	o.mu.Unlock()

	md := passMetadata(results)
	md["duration_ms"] = now.Sub(started).Milliseconds()
	o.audit.Log(models.LogLevelInfo, "sync_pass", "pass finished", md, "")
	return results, nil
}

func passMetadata(results map[models.RecordType]*models.SyncResult) map[string]interface{} {
	md := map[string]interface{}{}
	for rt, r := range results {
		md[string(rt)] = map[string]interface{}{
			"total":   r.TotalRecords,
			"success": r.SuccessCount,
			"failed":  r.FailureCount,
		}
	}
	return md
}

func (o *Orchestrator) replayQueue(ctx context.Context) {
	replay, err := o.queue.Replay(ctx)
	if err != nil {
		logging.Error("Retry queue replay failed", err, nil)
		return
	}
	for _, perm := range replay.PermanentFailures {
		o.audit.Log(models.LogLevelError, "queue", "deferred write dropped permanently",
			map[string]interface{}{
				"record_id": perm.RecordID,
				"message":   perm.Message,
			}, "")
		if err := o.store.MarkFailed(ctx, perm.RecordID, perm.Message); err != nil {
			logging.Error("Failed to flag permanently failed record", err,
				logging.Fields{"record_id": perm.RecordID})
		}
	}
}

// pendingWrite pairs a record with the remote write produced for it.
type pendingWrite struct {
	rec   *models.SyncableRecord
	write models.RemoteWrite
}

// syncRecordType runs the pass for one record type. Failures are contained
// per record; the returned result is never nil and always has its counters
// populated, even after a panic.
func (o *Orchestrator) syncRecordType(ctx context.Context, rt models.RecordType) (result *models.SyncResult) {
	result = &models.SyncResult{SyncType: rt, StartTime: o.clock.Now()}
	defer func() { result.EndTime = o.clock.Now() }()

	var cp *models.SyncCheckpoint
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic during %s pass: %v", rt, r)
			result.AddError("", string(apperrors.ErrCriticalSync), msg)
			cpID := ""
			if cp != nil {
				cpID = cp.ID.String()
				if err := o.checkpoints.RecordError(ctx, cp.ID, msg); err != nil {
					logging.Error("Failed to record panic on checkpoint", err, nil)
				}
			}
			o.audit.Log(models.LogLevelCritical, "sync_pass", msg, nil, cpID)
		}
	}()

	cp, err := o.checkpoints.FindIncompleteSync(ctx, rt)
	if err != nil {
		result.AddError("", string(apperrors.CodeOf(err)), err.Error())
		return result
	}
	if cp != nil {
		o.audit.Log(models.LogLevelInfo, "checkpoint", "resuming interrupted pass",
			map[string]interface{}{
				"record_type":     string(rt),
				"processed":       cp.ProcessedRecords,
				"resume_batch":    cp.ResumeBatchNumber(),
				"total_records":   cp.TotalRecords,
			}, cp.ID.String())
	} else {
		total, err := o.store.CountUnsynced(ctx, rt)
		if err != nil {
			result.AddError("", string(apperrors.CodeOf(err)), err.Error())
			return result
		}
		if total == 0 {
			return result
		}
		cp, err = o.checkpoints.CreateCheckpoint(ctx, rt, total)
		if err != nil {
			result.AddError("", string(apperrors.CodeOf(err)), err.Error())
			return result
		}
	}
	result.TotalRecords = cp.TotalRecords

	batchNum := cp.ResumeBatchNumber()
	var attempted []string

	for {
		if err := ctx.Err(); err != nil {
			o.recordPassError(ctx, cp, err)
			return result
		}

		// Failed records stay unsynced; excluding attempted ids keeps the
		// window moving so records behind a failing head are still reached.
		// The loop ends, and the checkpoint completes, only once every
		// unsynced record has been attempted.
		fetched, err := o.store.GetUnsyncedBatch(ctx, rt, o.cfg.FetchBatchSize, true, attempted)
		if err != nil {
			result.AddError("", string(apperrors.CodeOf(err)), err.Error())
			o.recordPassError(ctx, cp, err)
			return result
		}
		if len(fetched) == 0 {
			break
		}
		for _, rec := range fetched {
			attempted = append(attempted, rec.ID.String())
		}

		commits := o.prepareWrites(ctx, rt, fetched, cp, result)
		batchNum = o.commitWrites(ctx, commits, cp, batchNum, result)

		nonCommitted := len(fetched) - len(commits)
		if nonCommitted > 0 {
			cp.ProcessedRecords += nonCommitted
			if err := o.checkpoints.UpdateCheckpoint(ctx, cp); err != nil {
				logging.Error("Checkpoint update failed", err,
					logging.Fields{"checkpoint_id": cp.ID.String()})
			}
		}
	}

	if skipped := result.TotalRecords - result.SuccessCount - result.FailureCount; skipped > 0 {
		result.SkippedCount = skipped
	}
	if err := o.checkpoints.CompleteCheckpoint(ctx, cp.ID); err != nil {
		logging.Error("Checkpoint completion failed", err,
			logging.Fields{"checkpoint_id": cp.ID.String()})
	}
	return result
}

// prepareWrites validates, classifies and resolves each record, returning the
// writes that should be pushed. Remote-wins pulls and manual-review parks are
// settled here and never reach the remote commit.
func (o *Orchestrator) prepareWrites(ctx context.Context, rt models.RecordType, recs []*models.SyncableRecord, cp *models.SyncCheckpoint, result *models.SyncResult) []pendingWrite {
	var commits []pendingWrite
	for _, rec := range recs {
		id := rec.ID.String()

		if err := ValidateSyncTimestamp(rec, o.clock.Now()); err != nil {
			o.failRecord(ctx, rec, cp, result, err)
			continue
		}

		c, err := o.detector.Detect(ctx, string(rt), rec)
		if err != nil {
			o.failRecord(ctx, rec, cp, result, err)
			continue
		}

		res := o.resolver.Resolve(c)
		switch res.Strategy {
		case models.StrategyRemoteWins:
			if err := o.store.ApplyRemote(ctx, id, c.Remote); err != nil {
				o.failRecord(ctx, rec, cp, result, err)
				continue
			}
			o.dropDeferred(ctx, id)
			result.SuccessCount++
			o.audit.Log(models.LogLevelInfo, "conflict", "remote version pulled",
				map[string]interface{}{"record_id": id}, cp.ID.String())

		case models.StrategyManualReviewRequired:
			reviewErr := apperrors.New(apperrors.ErrConflictUnresolved, res.ErrorMessage)
			o.failRecord(ctx, rec, cp, result, reviewErr)
			o.audit.Log(models.LogLevelWarning, "conflict", "record parked for manual review",
				map[string]interface{}{
					"record_id":     id,
					"conflict_type": string(c.Type),
					"reason":        res.ErrorMessage,
				}, cp.ID.String())

		default:
			if res.Strategy == models.StrategyMerge {
				o.audit.Log(models.LogLevelInfo, "conflict", "concurrent edits merged",
					map[string]interface{}{"record_id": id}, cp.ID.String())
			}
			rec.Payload = res.ResolvedData
			commits = append(commits, pendingWrite{
				rec: rec,
				write: models.RemoteWrite{
					Collection:    string(rt),
					DocumentID:    id,
					Data:          res.ResolvedData,
					Merge:         true,
					Version:       rec.Version,
					SyncTimestamp: *rec.SyncTimestamp,
				},
			})
		}
	}
	return commits
}

// commitWrites pushes prepared writes in atomic sub-batches, checkpointing
// after each one. Returns the next batch number.
func (o *Orchestrator) commitWrites(ctx context.Context, commits []pendingWrite, cp *models.SyncCheckpoint, batchNum int, result *models.SyncResult) int {
	for start := 0; start < len(commits); start += o.cfg.CommitBatchSize {
		end := start + o.cfg.CommitBatchSize
		if end > len(commits) {
			end = len(commits)
		}
		chunk := commits[start:end]

		writes := make([]models.RemoteWrite, len(chunk))
		for i, p := range chunk {
			writes[i] = p.write
		}

		_, err := o.executor.Execute(ctx, func(ctx context.Context) error {
			return o.remote.CommitBatch(ctx, writes)
		}, o.policy, nil, nil)

		switch {
		case err == nil:
			for _, p := range chunk {
				if msErr := o.store.MarkSynced(ctx, p.rec); msErr != nil {
					logging.Error("Failed to mark record synced", msErr,
						logging.Fields{"record_id": p.rec.ID.String()})
				}
				o.dropDeferred(ctx, p.rec.ID.String())
				result.SuccessCount++
			}
			o.audit.Log(models.LogLevelInfo, "batch_commit", "batch committed",
				map[string]interface{}{
					"batch_number": batchNum,
					"size":         len(chunk),
				}, cp.ID.String())

		case apperrors.IsRetryable(err):
			// In-pass retries are exhausted; park the writes durably.
			for _, p := range chunk {
				o.deferWrite(ctx, p, cp, result, err)
			}

		default:
			for _, p := range chunk {
				o.failRecord(ctx, p.rec, cp, result, err)
			}
		}

		cp.ProcessedRecords += len(chunk)
		cp.CurrentBatchNumber = batchNum
		cp.ProcessedBatches = append(cp.ProcessedBatches, batchNum)
		if upErr := o.checkpoints.UpdateCheckpoint(ctx, cp); upErr != nil {
			logging.Error("Checkpoint update failed", upErr,
				logging.Fields{"checkpoint_id": cp.ID.String()})
		}
		batchNum++
	}
	return batchNum
}

// dropDeferred removes any queue entry parked for the record. A successful
// push supersedes the deferred write; replaying its older snapshot afterwards
// would roll the remote back.
func (o *Orchestrator) dropDeferred(ctx context.Context, id string) {
	if err := o.store.RemoveQueueEntry(ctx, id); err != nil {
		logging.Error("Failed to drop superseded queue entry", err,
			logging.Fields{"record_id": id})
	}
}

func (o *Orchestrator) failRecord(ctx context.Context, rec *models.SyncableRecord, cp *models.SyncCheckpoint, result *models.SyncResult, cause error) {
	id := rec.ID.String()
	code := string(apperrors.CodeOf(cause))
	result.AddError(id, code, cause.Error())
	cp.FailedRecords = append(cp.FailedRecords, id)

	if err := o.store.MarkFailed(ctx, id, cause.Error()); err != nil {
		logging.Error("Failed to record sync error on record", err,
			logging.Fields{"record_id": id})
	}
}

func (o *Orchestrator) deferWrite(ctx context.Context, p pendingWrite, cp *models.SyncCheckpoint, result *models.SyncResult, cause error) {
	id := p.rec.ID.String()
	op := models.QueueOperationCreate
	if p.rec.EverSynced() {
		op = models.QueueOperationUpdate
	}

	entry := &models.SyncQueueEntry{
		ID:            p.rec.ID,
		Operation:     op,
		CollectionRef: p.write.Collection,
		DocumentID:    id,
		Data:          p.write.Data,
		Version:       p.write.Version,
		SyncTimestamp: p.write.SyncTimestamp,
		CreatedAt:     o.clock.Now().Unix(),
		LastError:     cause.Error(),
	}
	if err := o.queue.Defer(ctx, entry); err != nil {
		logging.Error("Failed to defer write to retry queue", err,
			logging.Fields{"record_id": id})
	}

	o.failRecord(ctx, p.rec, cp, result, cause)
	o.audit.Log(models.LogLevelWarning, "queue", "write deferred after retry exhaustion",
		map[string]interface{}{"record_id": id}, cp.ID.String())
}

func (o *Orchestrator) recordPassError(ctx context.Context, cp *models.SyncCheckpoint, cause error) {
	if cp == nil {
		return
	}
	if err := o.checkpoints.RecordError(ctx, cp.ID, cause.Error()); err != nil {
		logging.Error("Failed to record pass error on checkpoint", err,
			logging.Fields{"checkpoint_id": cp.ID.String()})
	}
}
