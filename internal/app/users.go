package app

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"quill/api/internal/logging"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

func (s *Service) Me(ctx context.Context, sess Session) (UserView, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if store.IsNotFound(err) {
			return UserView{}, notFound("User")
		}
		return UserView{}, err
	}
	return userView(user), nil
}

func (s *Service) ListUsers(ctx context.Context, sess Session) ([]UserView, error) {
	if !s.Can(sess.Role, rbac.ActionAdmin) {
		return nil, forbidden("Only admins can manage users")
	}
	items, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]UserView, 0, len(items))
	for _, item := range items {
		views = append(views, userView(item))
	}
	return views, nil
}

type UserInput struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"displayName"`
	Role        *string `json:"role"`
	AvatarURL   *string `json:"avatarUrl"`
	IsActive    *bool   `json:"isActive"`
}

func (s *Service) CreateUser(ctx context.Context, sess Session, in UserInput, ip string) (UserView, error) {
	if !s.Can(sess.Role, rbac.ActionAdmin) {
		return UserView{}, forbidden("Only admins can manage users")
	}
	address := strings.ToLower(strings.TrimSpace(in.Email))
	name := strings.TrimSpace(derefString(in.DisplayName))
	role := firstNonBlank(derefString(in.Role), string(rbac.RoleAuthor))

	details := map[string]string{}
	if !validEmail(address) {
		details["email"] = "a valid email is required"
	}
	if name == "" {
		details["displayName"] = "display name is required"
	}
	if !rbac.Valid(role) {
		details["role"] = "role must be author, editor or admin"
	}
	if len(details) > 0 {
		return UserView{}, validationError("User is invalid", details)
	}
	hash, err := s.passwords.HashPassword(in.Password)
	if err != nil {
		return UserView{}, err
	}

	created, err := s.store.InsertUser(ctx, store.AdminUser{
		Email:        address,
		PasswordHash: hash,
		DisplayName:  name,
		Role:         role,
		AvatarURL:    strings.TrimSpace(derefString(in.AvatarURL)),
	})
	if err != nil {
		if store.IsConflict(err) {
			return UserView{}, conflict("A user with this email already exists", map[string]string{"email": address})
		}
		return UserView{}, err
	}
	s.recordActivity(ctx, sess, "user.create", "user", created.ID, map[string]any{"email": created.Email, "role": created.Role}, ip)
	return userView(created), nil
}

// lastAdminGuard refuses changes that would leave no active admin.
func (s *Service) lastAdminGuard(ctx context.Context, target store.AdminUser, nextRole string, nextActive bool) error {
	if target.Role != string(rbac.RoleAdmin) || !target.IsActive {
		return nil
	}
	if nextRole == string(rbac.RoleAdmin) && nextActive {
		return nil
	}
	admins, err := s.store.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return domainError(http.StatusConflict, "LAST_ADMIN", "At least one active admin is required", nil)
	}
	return nil
}

func (s *Service) UpdateUser(ctx context.Context, sess Session, userID string, in UserInput, ip string) (UserView, error) {
	if !s.Can(sess.Role, rbac.ActionAdmin) {
		return UserView{}, forbidden("Only admins can manage users")
	}
	current, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return UserView{}, notFound("User")
		}
		return UserView{}, err
	}
	next := current
	if in.DisplayName != nil {
		next.DisplayName = strings.TrimSpace(*in.DisplayName)
		if next.DisplayName == "" {
			return UserView{}, validationError("User is invalid", map[string]string{"displayName": "display name is required"})
		}
	}
	if in.Role != nil {
		if !rbac.Valid(*in.Role) {
			return UserView{}, validationError("User is invalid", map[string]string{"role": "role must be author, editor or admin"})
		}
		next.Role = *in.Role
	}
	if in.AvatarURL != nil {
		next.AvatarURL = strings.TrimSpace(*in.AvatarURL)
	}
	if in.IsActive != nil {
		next.IsActive = *in.IsActive
	}
	if userID == sess.UserID && (!next.IsActive || next.Role != current.Role) {
		return UserView{}, forbidden("You cannot change your own role or deactivate yourself")
	}
	if err := s.lastAdminGuard(ctx, current, next.Role, next.IsActive); err != nil {
		return UserView{}, err
	}

	updated, err := s.store.UpdateUser(ctx, next)
	if err != nil {
		return UserView{}, err
	}
	if in.Password != "" {
		hash, err := s.passwords.HashPassword(in.Password)
		if err != nil {
			return UserView{}, err
		}
		if err := s.store.SetPasswordHash(ctx, userID, hash); err != nil {
			return UserView{}, err
		}
	}
	details := map[string]any{}
	if updated.Role != current.Role {
		details["role"] = map[string]string{"from": current.Role, "to": updated.Role}
	}
	if updated.IsActive != current.IsActive {
		details["isActive"] = updated.IsActive
	}
	s.recordActivity(ctx, sess, "user.update", "user", userID, details, ip)
	return userView(updated), nil
}

// DeleteUser deactivates the account and revokes its sessions. Rows are kept
// so authored content and activity stay attributed.
func (s *Service) DeleteUser(ctx context.Context, sess Session, userID, ip string) error {
	if !s.Can(sess.Role, rbac.ActionAdmin) {
		return forbidden("Only admins can manage users")
	}
	if userID == sess.UserID {
		return forbidden("You cannot delete your own account")
	}
	current, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("User")
		}
		return err
	}
	if err := s.lastAdminGuard(ctx, current, current.Role, false); err != nil {
		return err
	}
	if err := s.store.DeactivateUser(ctx, userID); err != nil {
		return err
	}
	s.recordActivity(ctx, sess, "user.delete", "user", userID, map[string]any{"email": current.Email}, ip)
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, sess Session, current, next, ip string) error {
	if err := s.passwords.ChangePassword(ctx, sess.UserID, current, next); err != nil {
		return err
	}
	s.recordActivity(ctx, sess, "user.change_password", "user", sess.UserID, nil, ip)
	return nil
}

// ForgotPassword emails a reset link. It succeeds for unknown addresses too.
func (s *Service) ForgotPassword(ctx context.Context, address, ip string) error {
	token, user, err := s.passwords.RequestPasswordReset(ctx, address)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}
	resetURL := strings.TrimRight(firstNonBlank(s.cfg.AdminURL, s.cfg.SiteURL), "/") + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.DisplayName, resetURL); err != nil {
		logging.FromContext(ctx).Warn("send password reset email", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.recordActivity(ctx, Session{UserID: user.ID, UserName: user.DisplayName}, "user.forgot_password", "user", user.ID, nil, ip)
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password, ip string) error {
	userID, err := s.passwords.ResetPassword(ctx, token, password)
	if err != nil {
		return err
	}
	s.recordActivity(ctx, Session{UserID: userID}, "user.reset_password", "user", userID, nil, ip)
	return nil
}
