package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Nyukimin/picoagent/pkg/storage"
	"github.com/Nyukimin/picoagent/pkg/tools"
)

const (
	defaultExpiry  = 24 * time.Hour
	defaultChannel = "cli"
)

// Service owns the pending-action lifecycle: proposals park a tool call,
// approval executes it synchronously, and a sweeper expires stale entries.
type Service struct {
	store    storage.PendingActionStore
	registry *tools.Registry
	now      func() time.Time
}

func NewService(store storage.PendingActionStore, registry *tools.Registry) *Service {
	return &Service{
		store:    store,
		registry: registry,
		now:      time.Now,
	}
}

// Propose records a deferred tool invocation. A non-positive expiry is
// normalized to 24 hours.
func (s *Service) Propose(ctx context.Context, conversationID, tool string, args map[string]interface{}, description string, expiresInHours float64) (*storage.PendingAction, error) {
	expiry := time.Duration(expiresInHours * float64(time.Hour))
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	now := s.now().UTC()
	action := &storage.PendingAction{
		ID:              uuid.NewString(),
		ConversationID:  conversationID,
		Tool:            tool,
		Arguments:       args,
		Description:     description,
		DeliveryChannel: defaultChannel,
		Status:          storage.StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(expiry),
	}
	if err := s.store.SavePendingAction(ctx, action); err != nil {
		return nil, fmt.Errorf("propose action: %w", err)
	}
	slog.Info("action proposed", "id", action.ID, "tool", tool, "expires_at", action.ExpiresAt)
	return action, nil
}

// Approve executes a pending action. An action past its deadline is
// transitioned to expired and reported as a failure without executing; a
// non-pending action is reported with its current status and left alone.
func (s *Service) Approve(ctx context.Context, id string) (*storage.PendingAction, error) {
	action, err := s.store.GetPendingAction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("approve action %s: %w", id, err)
	}
	if action.Status != storage.StatusPending {
		return action, fmt.Errorf("action %s is %s, not pending", id, action.Status)
	}
	now := s.now().UTC()
	if now.After(action.ExpiresAt) {
		action.Status = storage.StatusExpired
		action.ResolvedAt = now
		if err := s.store.UpdatePendingAction(ctx, action); err != nil {
			return action, fmt.Errorf("expire action %s: %w", id, err)
		}
		return action, fmt.Errorf("action %s expired at %s", id, action.ExpiresAt.Format(time.RFC3339))
	}

	action.Status = storage.StatusApproved
	if err := s.store.UpdatePendingAction(ctx, action); err != nil {
		return action, fmt.Errorf("approve action %s: %w", id, err)
	}

	result := s.execute(ctx, action)
	action.Result = result.Text()
	action.ResolvedAt = s.now().UTC()
	if result.Success {
		action.Status = storage.StatusExecuted
	} else {
		action.Status = storage.StatusFailed
	}
	if err := s.store.UpdatePendingAction(ctx, action); err != nil {
		return action, fmt.Errorf("record action result %s: %w", id, err)
	}
	slog.Info("action resolved", "id", id, "status", action.Status)
	return action, nil
}

func (s *Service) execute(ctx context.Context, action *storage.PendingAction) (result tools.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("approved action panicked", "id", action.ID, "tool", action.Tool, "panic", r)
			result = tools.Fail("tool %s panicked: %v", action.Tool, r)
		}
	}()

	tool, ok := s.registry.Get(action.Tool)
	if !ok {
		return tools.Fail("unknown tool: %s", action.Tool)
	}
	if err := s.registry.ValidateArgs(action.Tool, action.Arguments); err != nil {
		return tools.Fail("%v", err)
	}
	return tool.Execute(ctx, action.Arguments)
}

// Reject marks a pending action rejected without executing it.
func (s *Service) Reject(ctx context.Context, id, reason string) (*storage.PendingAction, error) {
	return s.resolve(ctx, id, storage.StatusRejected, reason)
}

// Cancel withdraws a proposal, for the side that created it.
func (s *Service) Cancel(ctx context.Context, id string) (*storage.PendingAction, error) {
	return s.resolve(ctx, id, storage.StatusRejected, "cancelled by proposer")
}

func (s *Service) resolve(ctx context.Context, id, status, result string) (*storage.PendingAction, error) {
	action, err := s.store.GetPendingAction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve action %s: %w", id, err)
	}
	if action.Status != storage.StatusPending {
		return action, fmt.Errorf("action %s is %s, not pending", id, action.Status)
	}
	action.Status = status
	action.Result = result
	action.ResolvedAt = s.now().UTC()
	if err := s.store.UpdatePendingAction(ctx, action); err != nil {
		return action, fmt.Errorf("resolve action %s: %w", id, err)
	}
	return action, nil
}

func (s *Service) List(ctx context.Context, status string) ([]*storage.PendingAction, error) {
	return s.store.ListPendingActions(ctx, status)
}

// ExpireStale transitions every pending action past its deadline to
// expired and returns how many were swept.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingActions(ctx, storage.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending actions: %w", err)
	}
	now := s.now().UTC()
	expired := 0
	for _, action := range pending {
		if !now.After(action.ExpiresAt) {
			continue
		}
		action.Status = storage.StatusExpired
		action.ResolvedAt = now
		if err := s.store.UpdatePendingAction(ctx, action); err != nil {
			return expired, fmt.Errorf("expire action %s: %w", action.ID, err)
		}
		expired++
	}
	return expired, nil
}

// StartSweeper expires stale actions on a fixed interval until the context
// is cancelled.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := s.ExpireStale(ctx); err != nil {
					slog.Warn("pending action sweep failed", "error", err)
				} else if n > 0 {
					slog.Info("expired stale actions", "count", n)
				}
			}
		}
	}()
}
