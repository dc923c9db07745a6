// Package worker runs the service's background loops: the capsule expiry
// sweep and the artifact offload to blob storage.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mnemo.evalgo.org/capsule"
	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/storage"
)

// Config controls the background loop cadence and batch sizes.
type Config struct {
	SweepInterval   time.Duration
	OffloadInterval time.Duration
	OffloadBatch    int
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   time.Minute,
		OffloadInterval: 30 * time.Second,
		OffloadBatch:    20,
	}
}

// Runner drives the background loops. Start launches them; Stop blocks
// until both have drained their current iteration.
type Runner struct {
	capsules  *capsule.Engine
	artifacts repository.ArtifactRepository
	blobs     storage.BlobStore
	config    Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. Blobs may be nil, in which case artifact
// offload is disabled and bytes stay inline in the database.
func NewRunner(capsules *capsule.Engine, artifacts repository.ArtifactRepository, blobs storage.BlobStore, config Config) *Runner {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	if config.OffloadInterval <= 0 {
		config.OffloadInterval = DefaultConfig().OffloadInterval
	}
	if config.OffloadBatch <= 0 {
		config.OffloadBatch = DefaultConfig().OffloadBatch
	}
	return &Runner{
		capsules:  capsules,
		artifacts: artifacts,
		blobs:     blobs,
		config:    config,
	}
}

// Start launches the background loops.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go r.sweepLoop(ctx)

	if r.blobs != nil {
		r.wg.Add(1)
		go r.offloadLoop(ctx)
	}

	common.Logger.WithFields(map[string]interface{}{
		"sweep_interval":   r.config.SweepInterval,
		"offload_enabled":  r.blobs != nil,
		"offload_interval": r.config.OffloadInterval,
	}).Info("background workers started")
}

// Stop cancels the loops and waits for them to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	common.Logger.Info("background workers stopped")
}

func (r *Runner) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.capsules.Sweep(ctx); err != nil {
				common.Logger.WithError(err).Warn("capsule sweep failed")
			}
		}
	}
}

func (r *Runner) offloadLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.OffloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.offloadBatch(ctx); err != nil {
				common.Logger.WithError(err).Warn("artifact offload batch failed")
			}
		}
	}
}

// offloadBatch moves one batch of pending artifacts to blob storage.
// Each artifact is uploaded before the row is updated, so a crash in
// between leaves the bytes inline and the next batch retries.
func (r *Runner) offloadBatch(ctx context.Context) error {
	pending, err := r.artifacts.PendingOffload(ctx, r.config.OffloadBatch)
	if err != nil {
		return err
	}

	for _, a := range pending {
		key := fmt.Sprintf("%s/%s", a.TenantID, a.ArtifactID)
		if err := r.blobs.Put(ctx, key, a.Bytes, "application/octet-stream"); err != nil {
			common.Logger.WithError(err).WithField("artifact_id", a.ArtifactID).Warn("artifact upload failed")
			continue
		}
		if err := r.artifacts.MarkOffloaded(ctx, a.TenantID, a.ArtifactID, key); err != nil {
			common.Logger.WithError(err).WithField("artifact_id", a.ArtifactID).Warn("artifact mark offloaded failed")
			continue
		}
		common.Logger.WithFields(map[string]interface{}{
			"artifact_id": a.ArtifactID,
			"storage_key": key,
			"size":        a.Size,
		}).Debug("artifact offloaded")
	}
	return nil
}
