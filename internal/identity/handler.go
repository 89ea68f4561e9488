package identity

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
	"github.com/vcard-pay/vcard_pay/internal/validation"
)

// WalletProvisioner creates the platform wallet of a new user.
type WalletProvisioner interface {
	Provision(ctx context.Context, ownerID string) (string, error)
}

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	wallets WalletProvisioner
	logger  *slog.Logger
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service, wallets WalletProvisioner, logger *slog.Logger) *Handler {
	return &Handler{service: service, wallets: wallets, logger: logger}
}

type registerRequest struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
	ReferralCode string `json:"referral_code" validate:"omitempty,max=16"`
}

type userResponse struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	ReferralCode string `json:"referral_code"`
	WalletID     string `json:"wallet_id,omitempty"`
}

// Register onboards a user and provisions the platform wallet.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	user, err := h.service.Register(c.UserContext(), Credentials{Email: req.Email, Password: req.Password, ReferralCode: req.ReferralCode})
	if err != nil {
		return apperr.ToFiber(err)
	}
	walletID, err := h.wallets.Provision(c.UserContext(), user.ID)
	if err != nil {
		h.logger.Error("wallet provisioning failed", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return apperr.ToFiber(err)
	}
	h.logger.Info("identity.register completed",
		slog.String("user_id", user.ID),
		slog.String("wallet_id", walletID),
		slog.Bool("referred", user.ReferredBy != ""),
	)
	return c.Status(http.StatusCreated).JSON(userResponse{
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
		ReferralCode: user.ReferralCode,
		WalletID:     walletID,
	})
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	user, err := h.service.FindByID(c.UserContext(), uid)
	if err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user_id":       user.ID,
		"email":         user.Email,
		"role":          user.Role,
		"referral_code": user.ReferralCode,
		"referred":      user.ReferredBy != "",
		"created_at":    user.CreatedAt,
		"last_login":    user.LastLogin,
	})
}

type roleRequest struct {
	Role string `json:"role" validate:"required,role"`
}

// SetRole changes a user's role (admin).
func (h *Handler) SetRole(c *fiber.Ctx) error {
	var req roleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := validation.Struct(req); err != nil {
		return apperr.ToFiber(err)
	}
	if err := h.service.SetRole(c.UserContext(), c.Params("id"), req.Role); err != nil {
		return apperr.ToFiber(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"user_id": c.Params("id"), "role": req.Role})
}
