package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jarvislabs/jarvisd/ent"
	"github.com/jarvislabs/jarvisd/ent/agent"
	"github.com/jarvislabs/jarvisd/ent/thread"
	"github.com/jarvislabs/jarvisd/ent/threadmessage"
	"github.com/jarvislabs/jarvisd/pkg/models"
)

// DefaultSupervisorModel is used when the owner has no model preference.
const DefaultSupervisorModel = "gpt-5"

// ThreadService manages agents, threads, and thread messages.
type ThreadService struct {
	client *ent.Client

	// Per-owner locks serialize lazy creation of the supervisor singletons.
	mu         sync.Mutex
	ownerLocks map[string]*sync.Mutex
}

// NewThreadService creates a new ThreadService.
func NewThreadService(client *ent.Client) *ThreadService {
	return &ThreadService{
		client:     client,
		ownerLocks: make(map[string]*sync.Mutex),
	}
}

func (s *ThreadService) ownerLock(ownerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ownerLocks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		s.ownerLocks[ownerID] = l
	}
	return l
}

// GetOrCreateSupervisorAgent returns the owner's singleton supervisor agent,
// creating it lazily. Model and instructions are refreshed on every call so
// configuration changes take effect without a migration.
func (s *ThreadService) GetOrCreateSupervisorAgent(ctx context.Context, ownerID, model, instructions string) (*ent.Agent, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if model == "" {
		model = DefaultSupervisorModel
	}

	existing, err := s.client.Agent.Query().
		Where(agent.OwnerIDEQ(ownerID), agent.KindEQ(agent.KindSupervisor)).
		First(ctx)
	if err == nil {
		if existing.Model == model && existing.Instructions == instructions {
			return existing, nil
		}
		return existing.Update().
			SetModel(model).
			SetInstructions(instructions).
			Save(ctx)
	}
	if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query supervisor agent: %w", err)
	}

	created, err := s.client.Agent.Create().
		SetID(uuid.New().String()).
		SetOwnerID(ownerID).
		SetKind(agent.KindSupervisor).
		SetName("Supervisor").
		SetModel(model).
		SetInstructions(instructions).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create supervisor agent: %w", err)
	}
	return created, nil
}

// GetOrCreateSupervisorThread returns the owner's singleton long-lived
// supervisor thread, creating it lazily.
func (s *ThreadService) GetOrCreateSupervisorThread(ctx context.Context, agentID, ownerID string) (*ent.Thread, error) {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.client.Thread.Query().
		Where(thread.AgentIDEQ(agentID), thread.OwnerIDEQ(ownerID), thread.Active(true)).
		First(ctx)
	if err == nil {
		return existing, nil
	}
	if !ent.IsNotFound(err) {
		return nil, fmt.Errorf("failed to query supervisor thread: %w", err)
	}

	created, err := s.client.Thread.Create().
		SetID(uuid.New().String()).
		SetAgentID(agentID).
		SetOwnerID(ownerID).
		SetTitle("Supervisor").
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create supervisor thread: %w", err)
	}
	return created, nil
}

// GetAgent retrieves an agent by ID.
func (s *ThreadService) GetAgent(ctx context.Context, agentID string) (*ent.Agent, error) {
	ag, err := s.client.Agent.Get(ctx, agentID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return ag, nil
}

// GetThread retrieves a thread by ID.
func (s *ThreadService) GetThread(ctx context.Context, threadID string) (*ent.Thread, error) {
	th, err := s.client.Thread.Get(ctx, threadID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return th, nil
}

// MessageOptions carries the optional fields of a thread message.
type MessageOptions struct {
	ToolCalls  []models.ToolCall
	ToolCallID string
	ParentID   string
	Internal   bool
}

// AppendMessage appends a message to a thread.
func (s *ThreadService) AppendMessage(ctx context.Context, threadID, role, content string, opts MessageOptions) (*ent.ThreadMessage, error) {
	builder := s.client.ThreadMessage.Create().
		SetID(uuid.New().String()).
		SetThreadID(threadID).
		SetRole(threadmessage.Role(role)).
		SetContent(content).
		SetInternal(opts.Internal)

	if len(opts.ToolCalls) > 0 {
		builder = builder.SetToolCalls(opts.ToolCalls)
	}
	if opts.ToolCallID != "" {
		builder = builder.SetToolCallID(opts.ToolCallID)
	}
	if opts.ParentID != "" {
		builder = builder.SetParentID(opts.ParentID)
	}

	msg, err := builder.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// GetOrCreateToolMessage idempotently records a tool result on a thread.
// The partial unique index on (thread_id, role, tool_call_id) makes the
// create race-safe: a constraint error means another actor won, so the
// existing row is returned.
func (s *ThreadService) GetOrCreateToolMessage(ctx context.Context, threadID, toolCallID, content, parentID string) (*ent.ThreadMessage, bool, error) {
	if toolCallID == "" {
		return nil, false, NewValidationError("tool_call_id", "required")
	}

	existing, err := s.findToolMessage(ctx, threadID, toolCallID)
	if err == nil {
		return existing, false, nil
	}
	if !ent.IsNotFound(err) {
		return nil, false, fmt.Errorf("failed to query tool message: %w", err)
	}

	msg, err := s.AppendMessage(ctx, threadID, models.RoleTool, content, MessageOptions{
		ToolCallID: toolCallID,
		ParentID:   parentID,
	})
	if err != nil {
		if ent.IsConstraintError(err) {
			existing, qerr := s.findToolMessage(ctx, threadID, toolCallID)
			if qerr != nil {
				return nil, false, fmt.Errorf("failed to re-query tool message: %w", qerr)
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return msg, true, nil
}

func (s *ThreadService) findToolMessage(ctx context.Context, threadID, toolCallID string) (*ent.ThreadMessage, error) {
	return s.client.ThreadMessage.Query().
		Where(
			threadmessage.ThreadIDEQ(threadID),
			threadmessage.RoleEQ(threadmessage.RoleTool),
			threadmessage.ToolCallIDEQ(toolCallID),
		).
		First(ctx)
}

// History returns the full transcript of a thread in send order.
func (s *ThreadService) History(ctx context.Context, threadID string) ([]*ent.ThreadMessage, error) {
	msgs, err := s.client.ThreadMessage.Query().
		Where(threadmessage.ThreadIDEQ(threadID)).
		Order(ent.Asc(threadmessage.FieldSentAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread history: %w", err)
	}
	return msgs, nil
}

// FindAssistantMessageForToolCall locates the assistant message that issued
// a given tool call. Falls back to the most recent assistant message carrying
// any tool calls when the id does not match (resume after partial writes).
func (s *ThreadService) FindAssistantMessageForToolCall(ctx context.Context, threadID, toolCallID string) (*ent.ThreadMessage, error) {
	candidates, err := s.client.ThreadMessage.Query().
		Where(
			threadmessage.ThreadIDEQ(threadID),
			threadmessage.RoleEQ(threadmessage.RoleAssistant),
			threadmessage.ToolCallsNotNil(),
		).
		Order(ent.Desc(threadmessage.FieldSentAt)).
		Limit(50).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query assistant messages: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}

	for _, msg := range candidates {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return msg, nil
			}
		}
	}
	// Fallback: newest assistant-with-tool-calls message.
	return candidates[0], nil
}

// MarkProcessed flags messages as already fed into the LLM.
func (s *ThreadService) MarkProcessed(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.client.ThreadMessage.Update().
		Where(threadmessage.IDIn(messageIDs...)).
		SetProcessed(true).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark messages processed: %w", err)
	}
	return nil
}
