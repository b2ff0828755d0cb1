package service

import (
	"context"
	"strconv"
	"time"

	"codexverse/internal/models"
	"codexverse/internal/realtime"
	"codexverse/internal/repository"
)

// DefaultMuteDuration applies when a mute request carries no duration.
const DefaultMuteDuration = time.Hour

// MaxMuteDuration bounds a single mute.
const MaxMuteDuration = 365 * 24 * time.Hour

// Audited admin action names.
const (
	ActionBanUser    = "ban_user"
	ActionUnbanUser  = "unban_user"
	ActionMuteUser   = "mute_user"
	ActionUnmuteUser = "unmute_user"
	ActionDeleteUser = "delete_user"
	ActionSetRole    = "set_role"
)

// UserService serves profile reads and the admin moderation actions. Each
// moderation action is audited and, where users need to know, broadcast.
type UserService struct {
	userRepo repository.UserRepository
	events   EventPublisher
	audit    ActionLogger
	totals   *TotalsCounter
	now      func() time.Time
}

// NewUserService builds a UserService. events, audit and totals may be nil.
func NewUserService(userRepo repository.UserRepository, events EventPublisher, audit ActionLogger, totals *TotalsCounter) *UserService {
	if events == nil {
		events = nopPublisher{}
	}
	if audit == nil {
		audit = nopActionLogger{}
	}
	return &UserService{userRepo: userRepo, events: events, audit: audit, totals: totals, now: time.Now}
}

func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	return s.userRepo.List(ctx, limit, offset)
}

func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// Ban flags the user, broadcasts user_banned and drops their sockets.
func (s *UserService) Ban(ctx context.Context, adminID, targetID uint) (*models.User, error) {
	if err := s.guardSelf(adminID, targetID); err != nil {
		return nil, err
	}
	if err := s.userRepo.SetBanned(ctx, targetID, true); err != nil {
		return nil, err
	}

	s.audit.LogAction(adminID, ActionBanUser, map[string]string{"banned_user_id": idString(targetID)})
	s.events.BroadcastAll(realtime.Event{Type: realtime.EventUserBanned, Payload: userPayload{UserID: targetID}})
	s.events.DisconnectUser(targetID)
	return s.userRepo.GetByID(ctx, targetID)
}

// Unban clears the flag. Nothing is broadcast.
func (s *UserService) Unban(ctx context.Context, adminID, targetID uint) (*models.User, error) {
	if err := s.userRepo.SetBanned(ctx, targetID, false); err != nil {
		return nil, err
	}
	s.audit.LogAction(adminID, ActionUnbanUser, map[string]string{"unbanned_user_id": idString(targetID)})
	return s.userRepo.GetByID(ctx, targetID)
}

// Mute silences the user's socket messages until now+duration.
func (s *UserService) Mute(ctx context.Context, adminID, targetID uint, duration time.Duration) (*models.User, error) {
	if err := s.guardSelf(adminID, targetID); err != nil {
		return nil, err
	}
	if duration < 0 {
		return nil, models.NewValidationError("duration must not be negative")
	}
	if duration > MaxMuteDuration {
		return nil, models.NewValidationError("duration must not exceed 365 days")
	}
	if duration == 0 {
		duration = DefaultMuteDuration
	}

	until := s.now().UTC().Add(duration)
	if err := s.userRepo.SetMutedUntil(ctx, targetID, &until); err != nil {
		return nil, err
	}

	s.audit.LogAction(adminID, ActionMuteUser, map[string]string{
		"muted_user_id": idString(targetID),
		"duration":      strconv.FormatInt(int64(duration/time.Second), 10),
	})
	s.events.BroadcastAll(realtime.Event{Type: realtime.EventUserMuted, Payload: mutePayload{UserID: targetID, Until: until}})
	return s.userRepo.GetByID(ctx, targetID)
}

// Unmute clears any mute and broadcasts user_unmuted.
func (s *UserService) Unmute(ctx context.Context, adminID, targetID uint) (*models.User, error) {
	if err := s.userRepo.SetMutedUntil(ctx, targetID, nil); err != nil {
		return nil, err
	}
	s.audit.LogAction(adminID, ActionUnmuteUser, map[string]string{"unmuted_user_id": idString(targetID)})
	s.events.BroadcastAll(realtime.Event{Type: realtime.EventUserUnmuted, Payload: userPayload{UserID: targetID}})
	return s.userRepo.GetByID(ctx, targetID)
}

// Delete removes the account, broadcasts user_deleted and drops their sockets.
func (s *UserService) Delete(ctx context.Context, adminID, targetID uint) error {
	if err := s.guardSelf(adminID, targetID); err != nil {
		return err
	}
	if err := s.userRepo.Delete(ctx, targetID); err != nil {
		return err
	}
	if s.totals != nil {
		s.totals.Invalidate(ctx)
	}

	s.audit.LogAction(adminID, ActionDeleteUser, map[string]string{"deleted_user_id": idString(targetID)})
	s.events.BroadcastAll(realtime.Event{Type: realtime.EventUserDeleted, Payload: userPayload{UserID: targetID}})
	s.events.DisconnectUser(targetID)
	return nil
}

// SetRole changes the user's role. Admins cannot change their own role.
func (s *UserService) SetRole(ctx context.Context, adminID, targetID uint, role models.Role) (*models.User, error) {
	if err := s.guardSelf(adminID, targetID); err != nil {
		return nil, err
	}
	if err := s.userRepo.SetRole(ctx, targetID, role); err != nil {
		return nil, err
	}
	s.audit.LogAction(adminID, ActionSetRole, map[string]string{"user_id": idString(targetID), "role": string(role)})
	return s.userRepo.GetByID(ctx, targetID)
}

func (s *UserService) guardSelf(adminID, targetID uint) error {
	if adminID != 0 && adminID == targetID {
		return models.NewValidationError("You cannot apply this action to your own account")
	}
	return nil
}

type userPayload struct {
	UserID uint `json:"user_id"`
}

type mutePayload struct {
	UserID uint      `json:"user_id"`
	Until  time.Time `json:"until"`
}

func idString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
