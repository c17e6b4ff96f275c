// Package creds resolves the credential objects referenced by a
// block's CredentialsMetaInput fields and coordinates the per-credential
// locks the Node Executor takes before running a block (§4.2 step 3,
// §6).
package creds

import (
	"context"
	"fmt"

	"github.com/flowstack/graphexec/engine/lock"
)

// Meta is the shape a block's credential field carries: enough to
// locate the full credential and to key its lock.
type Meta struct {
	ID       string
	Provider string
	Type     string
}

// Credential is the resolved secret handed to a block at execution
// time. Fields beyond ID/Provider are opaque to the engine.
type Credential struct {
	ID       string
	Provider string
	Type     string
	Payload  map[string]any
}

// Store resolves credential metadata to full credentials and manages
// the locks that serialize concurrent use of a single credential
// across graph runs, mirroring the original's `creds_manager` +
// `acquire` context manager pair.
type Store interface {
	// GetCredsByID returns the full credential for userID/meta, or
	// ok=false if it does not exist or does not belong to userID.
	GetCredsByID(ctx context.Context, userID string, meta Meta) (*Credential, bool, error)

	// Acquire takes the exclusive per-credential lock for meta. The
	// returned release func must run exactly once, even on error
	// paths, per §5's "always released, even on panic" requirement.
	Acquire(ctx context.Context, meta Meta) (release func(context.Context) error, err error)

	// ReleaseAllLocks force-releases every lock currently held by this
	// process; cmd/graphexecd invokes it on process shutdown (§6).
	ReleaseAllLocks(ctx context.Context) error
}

// NewMemStore builds a Store whose credential payloads come from
// creds and whose mutual exclusion comes from locker.
func NewMemStore(locker lock.Locker, creds map[string]Credential) *MemStore {
	return &MemStore{
		locker: locker,
		held:   newHeldSet(),
		creds:  creds,
	}
}

// MemStore is an in-memory credential Store, the reference
// implementation used by tests and the default single-process deploy.
type MemStore struct {
	locker lock.Locker
	held   *heldSet
	creds  map[string]Credential
}

func (s *MemStore) GetCredsByID(_ context.Context, userID string, meta Meta) (*Credential, bool, error) {
	c, ok := s.creds[meta.ID]
	if !ok || c.Provider != meta.Provider || c.Type != meta.Type {
		return nil, false, nil
	}
	return &c, true, nil
}

func (s *MemStore) Acquire(ctx context.Context, meta Meta) (func(context.Context) error, error) {
	key := lock.CredentialLockKey(meta.Provider, meta.ID)
	held, err := s.locker.Acquire(ctx, key, lock.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("creds: acquire %s: %w", key, err)
	}
	s.held.add(key, held)
	return func(ctx context.Context) error {
		s.held.remove(key)
		return held.Release(ctx)
	}, nil
}

func (s *MemStore) ReleaseAllLocks(ctx context.Context) error {
	return s.held.releaseAll(ctx)
}
