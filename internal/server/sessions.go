package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/push"
	"github.com/nhle/mailsetup/internal/setup"
)

// sessions keeps one setup workflow per user.
type sessions struct {
	mu        sync.Mutex
	workflows map[string]*setup.Workflow

	base   setup.Options
	hub    *push.Hub
	logger *zap.Logger
}

func newSessions(base setup.Options, hub *push.Hub, logger *zap.Logger) *sessions {
	return &sessions{
		workflows: make(map[string]*setup.Workflow),
		base:      base,
		hub:       hub,
		logger:    logger,
	}
}

// get returns the user's workflow, creating it when create is set.
func (s *sessions) get(userID string, create bool) *setup.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workflows[userID]; ok {
		return w
	}
	if !create {
		return nil
	}

	opts := s.base
	opts.UserID = userID
	opts.Logger = s.logger
	opts.OnChange = func(v setup.View) { s.publish(userID, push.TypeSetupState, v) }
	opts.OnComplete = func(acc *model.Account) { s.publish(userID, push.TypeAccountCreated, acc) }

	w := setup.NewWorkflow(opts)
	s.workflows[userID] = w
	return w
}

// drop closes and forgets the user's workflow.
func (s *sessions) drop(userID string) {
	s.mu.Lock()
	w := s.workflows[userID]
	delete(s.workflows, userID)
	s.mu.Unlock()

	if w != nil {
		w.Close()
	}
}

func (s *sessions) closeAll() {
	s.mu.Lock()
	all := s.workflows
	s.workflows = make(map[string]*setup.Workflow)
	s.mu.Unlock()

	for _, w := range all {
		w.Close()
	}
}

func (s *sessions) publish(userID, typ string, data any) {
	msg, err := push.NewMessage(typ, data)
	if err != nil {
		s.logger.Error("encoding push message", zap.String("type", typ), zap.Error(err))
		return
	}
	s.hub.Publish(userID, msg)
}
