package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nao1215/adsweep/internal/channel"
	"github.com/nao1215/adsweep/internal/store"
)

// Register installs the session's inbound actions on a router.
func (s *Session) Register(r *channel.Router) {
	r.Handle(channel.ActionGetStats, s.handleGetStats)
	r.Handle(channel.ActionUpdateFilter, s.handleUpdateFilter)
	r.Handle(channel.ActionSelectAll, s.handleSelectAll)
	r.Handle(channel.ActionUserLoggedIn, s.handleUserLoggedIn)
	r.Handle(channel.ActionUserLoggedOut, s.handleUserLoggedOut)
	r.Handle(channel.ActionForceInject, s.handleForceInject)
}

func (s *Session) handleGetStats(context.Context, json.RawMessage) (any, error) {
	return s.Stats(), nil
}

func (s *Session) handleUpdateFilter(ctx context.Context, payload json.RawMessage) (any, error) {
	var p channel.UpdateFilterPayload
	if err := channel.Decode(payload, &p); err != nil {
		return nil, err
	}
	if err := s.SetFilter(ctx, p.Filter, p.Value); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Session) handleSelectAll(ctx context.Context, _ json.RawMessage) (any, error) {
	s.SelectAll(ctx)
	return nil, nil
}

// handleUserLoggedIn refreshes the login state. The token itself is owned by
// the settings store; the message only carries the email.
func (s *Session) handleUserLoggedIn(ctx context.Context, payload json.RawMessage) (any, error) {
	var p channel.UserLoggedInPayload
	if err := channel.Decode(payload, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Email) == "" {
		return nil, fmt.Errorf("%w: email is required", channel.ErrInvalidPayload)
	}

	auth := s.currentAuth()
	if s.settings != nil {
		stored, err := s.settings.LoadAuth(ctx)
		if err != nil {
			return nil, err
		}
		auth = stored
	}
	auth.UserEmail = p.Email
	if auth.AccessToken == "" {
		// Logged in elsewhere; the token is not ours to see.
		auth.AccessToken = "external"
	}

	s.mu.Lock()
	s.auth = auth
	s.mu.Unlock()
	s.logger.Info("user logged in", "email", p.Email)
	return nil, nil
}

func (s *Session) handleUserLoggedOut(context.Context, json.RawMessage) (any, error) {
	s.mu.Lock()
	s.auth.AccessToken = ""
	s.auth.UserEmail = ""
	s.mu.Unlock()
	s.logger.Info("user logged out")
	return nil, nil
}

func (s *Session) handleForceInject(context.Context, json.RawMessage) (any, error) {
	ran := s.scheduler.ForceScan()
	return map[string]bool{"success": ran}, nil
}

func (s *Session) currentAuth() store.Auth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}
