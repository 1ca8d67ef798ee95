// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.

package teaching

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// AccumulatorBufferSize is the size of the mlocked buffer that collects
	// a streamed answer before persistence. 256 KB holds roughly 65,000
	// tokens at 4 bytes each, far beyond any single teaching reply.
	AccumulatorBufferSize = 256 * 1024

	// MinMlockLimitKB is the minimum mlock resource limit, in kilobytes,
	// required to run with secure buffers.
	MinMlockLimitKB = 256
)

// insecureMemoryEnv acknowledges running without mlocked buffers.
const insecureMemoryEnv = "PRAXIS_INSECURE_MEMORY"

// =============================================================================
// Package Variables
// =============================================================================

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// =============================================================================
// Interfaces
// =============================================================================

// TokenAccumulator collects streamed answer tokens for persistence.
//
// # Description
//
// While an answer streams to the student, its tokens are also accumulated
// so the finished reply can be written to the learner's memory. Tokens are
// hashed incrementally as they arrive, so the hash covers exactly what was
// streamed. The secure implementation keeps the buffer in mlocked memory;
// student conversations must not end up in swap.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Example
//
//	acc, err := NewTokenAccumulator()
//	if err != nil {
//	    return err
//	}
//	defer acc.Destroy()
//
//	acc.Write("Hello ")
//	acc.Write("world")
//	answer, digest, err := acc.Finalize()
//
// # Limitations
//
//   - The buffer is fixed-size; oversized answers flag overflow and fail.
//   - An accumulator cannot be reused after Finalize or Destroy.
type TokenAccumulator interface {
	// Write appends one token. Returns an error after overflow, Finalize,
	// or Destroy.
	Write(token string) error

	// Finalize returns the accumulated answer and its SHA-256 hex digest,
	// then wipes the buffer. The accumulator is unusable afterwards.
	Finalize() (answer string, digest string, err error)

	// Destroy wipes the buffer without returning data. Idempotent; use on
	// error paths.
	Destroy()

	// ID returns a unique identifier for log correlation.
	ID() string

	// CreatedAt returns when the accumulator was created.
	CreatedAt() time.Time
}

// =============================================================================
// Constructor
// =============================================================================

// NewTokenAccumulator creates an accumulator backed by mlocked memory.
//
// When the mlock limit is too low, the behavior depends on the
// PRAXIS_INSECURE_MEMORY environment variable: "true" degrades to plain Go
// memory with a warning, anything else is a hard error. A deployment has
// to opt in to letting conversations touch swap.
func NewTokenAccumulator() (TokenAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		if os.Getenv(insecureMemoryEnv) == "true" {
			slog.Warn("mlock limit too low, using insecure accumulator",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
			return newPlainAccumulator(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB; raise the limit or set %s=true",
			currentMlockLimitKB, MinMlockLimitKB, insecureMemoryEnv,
		)
	}

	buf := memguard.NewBuffer(AccumulatorBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", AccumulatorBufferSize)
	}
	buf.Melt()

	acc := &lockedAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}
	slog.Debug("created secure token accumulator",
		"accumulator_id", acc.id,
		"buffer_size", AccumulatorBufferSize,
	)
	return acc, nil
}

// =============================================================================
// Secure Implementation
// =============================================================================

// lockedAccumulator stores tokens in a memguard LockedBuffer: mlocked
// against swap, guard-paged against overruns, and explicitly zeroed on
// destruction.
type lockedAccumulator struct {
	id        string
	createdAt time.Time

	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func (a *lockedAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflowed, response too large")
	}

	tokenBytes := []byte(token)
	if a.offset+len(tokenBytes) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), AccumulatorBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], tokenBytes)
	a.offset += len(tokenBytes)
	// Hashed on arrival so tokens never sit unhashed in the buffer.
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *lockedAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("finalized secure token accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
	)
	return answer, digest, nil
}

func (a *lockedAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("destroyed secure token accumulator", "accumulator_id", a.id)
}

func (a *lockedAccumulator) ID() string {
	return a.id
}

func (a *lockedAccumulator) CreatedAt() time.Time {
	return a.createdAt
}

// wipe destroys the locked buffer and marks the accumulator dead.
// Callers hold a.mu.
func (a *lockedAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// Insecure Fallback Implementation
// =============================================================================

// plainAccumulator is the fallback for systems without usable mlock. Same
// contract, ordinary Go memory: the kernel may swap it.
type plainAccumulator struct {
	id        string
	createdAt time.Time

	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func newPlainAccumulator() TokenAccumulator {
	acc := &plainAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		data:      make([]byte, 0, AccumulatorBufferSize),
		hasher:    sha256.New(),
	}
	slog.Warn("created INSECURE token accumulator, data may be swapped to disk",
		"accumulator_id", acc.id,
	)
	return acc
}

func (a *plainAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflowed, response too large")
	}

	tokenBytes := []byte(token)
	if len(a.data)+len(tokenBytes) > AccumulatorBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), AccumulatorBufferSize-len(a.data))
	}

	a.data = append(a.data, tokenBytes...)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *plainAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, digest, nil
}

func (a *plainAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
}

func (a *plainAccumulator) ID() string {
	return a.id
}

func (a *plainAccumulator) CreatedAt() time.Time {
	return a.createdAt
}

// wipe zeroes the slice before releasing it. Best effort only: the GC may
// already have copied the backing array during growth.
func (a *plainAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Package Initialization Functions
// =============================================================================

// initMemguard wires interrupt handling and checks the mlock limit once.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		} else {
			slog.Warn("mlock limit insufficient for secure memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
				"override", insecureMemoryEnv+"=true",
			)
		}
	})
}

// checkMlockLimit queries the kernel for the mlock resource limit and
// compares it to the minimum the accumulator needs. A limit of -1 means
// unlimited.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// =============================================================================
// Utility Functions
// =============================================================================

// IsMlockAvailable reports whether secure buffers can be allocated, and
// the current mlock limit in KB (-1 if unlimited).
func IsMlockAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeSecureMemory wipes every memguard allocation. Call during graceful
// shutdown; all live accumulators become invalid.
func PurgeSecureMemory() {
	memguard.Purge()
	slog.Info("purged all secure memory")
}
