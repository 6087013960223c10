// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/mobiletoly/go-offlinepos/localstore"
	"github.com/mobiletoly/go-offlinepos/posdata"
	"github.com/mobiletoly/go-offlinepos/possync"
	"github.com/mobiletoly/go-offlinepos/remote"
	"github.com/mobiletoly/go-offlinepos/repo"
)

// engine is the sync stack assembled from the posctl configuration.
type engine struct {
	store    *localstore.Store
	queue    *possync.Queue
	orch     *possync.Orchestrator
	repos    *repo.Repos
	identity possync.IdentityProvider
}

func openEngine(opts *RootOptions) (*engine, error) {
	cfg := opts.config
	store, err := localstore.Open(cfg.Database, opts.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	var identity possync.IdentityProvider = noIdentity{}
	if cfg.Token != "" && cfg.JWTSecret != "" {
		identity = &remote.TokenIdentity{Auth: remote.NewJWTAuth(cfg.JWTSecret), Token: remote.StaticToken(cfg.Token)}
	}
	var rs remote.DataStore = offlineStore{}
	if cfg.RemoteURL != "" {
		rs = remote.NewHTTPStore(cfg.RemoteURL, remote.StaticToken(cfg.Token))
	}

	q := possync.NewQueue(store, opts.logger)
	e := &engine{
		store:    store,
		queue:    q,
		orch:     possync.NewOrchestrator(store, q, rs, identity, cfg.SyncSettings(), opts.logger),
		repos:    repo.New(q),
		identity: identity,
	}
	e.orch.SetNotifier(possync.NotifierFunc(func(n possync.Notice) {
		opts.logger.Info(n.Message, "table", n.Kind, "id", n.RecordID)
	}))
	return e, nil
}

func (e *engine) Close() error { return e.store.Close() }

// userID resolves the signed-in user from the token, falling back to the
// profile cached by an earlier online session.
func (e *engine) userID(ctx context.Context) (string, error) {
	id, err := e.identity.CurrentIdentity(ctx)
	if err != nil {
		return "", err
	}
	if id != nil {
		if err := e.store.SaveProfile(ctx, &posdata.UserProfile{ID: id.ID, Email: id.Email}); err != nil {
			return "", err
		}
		return id.ID, nil
	}
	profile, err := e.store.LoadProfile(ctx)
	if errors.Is(err, localstore.ErrNotFound) {
		return "", errors.New("no user: configure a token or sign in online once")
	}
	if err != nil {
		return "", err
	}
	return profile.ID, nil
}

type noIdentity struct{}

func (noIdentity) CurrentIdentity(context.Context) (*posdata.Identity, error) { return nil, nil }

var errNoRemote = errors.New("remote_url is not configured")

// offlineStore stands in for the remote store when none is configured.
// Cycles never reach it because there is no identity without a token.
type offlineStore struct{}

func (offlineStore) Select(context.Context, string, ...remote.Filter) ([]remote.Row, error) {
	return nil, errNoRemote
}
func (offlineStore) Insert(context.Context, string, remote.Row) error         { return errNoRemote }
func (offlineStore) Update(context.Context, string, string, remote.Row) error { return errNoRemote }
func (offlineStore) Delete(context.Context, string, string) error             { return errNoRemote }
