// File: internal/profile/handler.go
package profile

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"kopiclub_backend/internal/common"
	"kopiclub_backend/internal/filestorage"
	"kopiclub_backend/internal/middleware"
	"kopiclub_backend/internal/points"
)

// Handler exposes the profile sync and loyalty points operations over HTTP.
type Handler struct {
	manager *Manager
	staging *filestorage.StagingService
	journal points.Journal
	logger  *zap.Logger
}

// NewHandler creates a new profile handler.
func NewHandler(manager *Manager, staging *filestorage.StagingService, journal points.Journal, logger *zap.Logger) *Handler {
	return &Handler{
		manager: manager,
		staging: staging,
		journal: journal,
		logger:  logger,
	}
}

// SetFieldRequest mutates one editable draft field.
type SetFieldRequest struct {
	Field string `json:"field" binding:"required,oneof=display_name email phone address"`
	Value string `json:"value" binding:"max=500"`
}

// PurchaseRequest reports a purchase for points accrual. Amount is in the
// smallest reporting unit (IDR).
type PurchaseRequest struct {
	Amount int64 `json:"amount" binding:"required,gte=0"`
}

// RegisterRoutes sets up the routes for profile, points and session
// operations. All of them require authentication.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, authMW gin.HandlerFunc) {
	profileGroup := router.Group("/profile", authMW)
	{
		profileGroup.GET("", h.getProfile)
		profileGroup.POST("/edit", h.beginEdit)
		profileGroup.PATCH("/edit", h.setField)
		profileGroup.POST("/edit/photo", h.pickImage)
		profileGroup.DELETE("/edit", h.cancelEdit)
		profileGroup.POST("/save", h.save)
	}

	pointsGroup := router.Group("/points", authMW)
	{
		pointsGroup.POST("/purchase", h.purchase)
		pointsGroup.POST("/redeem", h.redeem)
		pointsGroup.GET("/history", h.history)
	}

	sessionGroup := router.Group("/session", authMW)
	{
		sessionGroup.POST("/signout", h.signOut)
	}
}

// controller resolves the caller's live controller, creating it on first use.
func (h *Handler) controller(c *gin.Context) (*Controller, bool) {
	ident := middleware.GetIdentityFromContext(c)
	if ident == nil {
		h.logger.Error("Identity not found in context", zap.String("path", c.Request.URL.Path))
		common.RespondWithError(c, common.ErrUnauthorized)
		return nil, false
	}
	ctrl, err := h.manager.Controller(c.Request.Context(), ident)
	if err != nil {
		common.RespondWithError(c, err)
		return nil, false
	}
	return ctrl, true
}

func (h *Handler) getProfile(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	common.RespondOK(c, "", ctrl.View())
}

func (h *Handler) beginEdit(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.BeginEdit(); err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Edit session started.", ctrl.View())
}

func (h *Handler) setField(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	var req SetFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			common.RespondWithError(c, common.NewValidationAPIError(common.FormatValidationErrors(ve)))
			return
		}
		common.RespondWithError(c, common.ErrBadRequest.WithDetails(err.Error()))
		return
	}

	if err := ctrl.SetField(req.Field, req.Value); err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "", ctrl.View())
}

func (h *Handler) pickImage(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("photo")
	if err != nil {
		common.RespondWithError(c, common.ErrBadRequest.WithDetails("A 'photo' file is required."))
		return
	}

	localRef, err := h.staging.StageUploadedFile(fileHeader, ctrl.UserID())
	if err != nil {
		h.logger.Warn("Failed to stage picked image", zap.Error(err))
		common.RespondWithError(c, common.ErrBadRequest.WithDetails(err.Error()))
		return
	}

	if err := ctrl.PickImage(localRef); err != nil {
		// The session was not editing; the staged file is orphaned otherwise.
		if derr := h.staging.Discard(localRef); derr != nil {
			h.logger.Warn("Failed to discard orphaned staged image", zap.Error(derr))
		}
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Image staged for upload on save.", ctrl.View())
}

func (h *Handler) cancelEdit(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.CancelEdit(); err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Edit session discarded.", ctrl.View())
}

func (h *Handler) save(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	saved, err := ctrl.Save(c.Request.Context())
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Profile saved.", saved)
}

func (h *Handler) purchase(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			common.RespondWithError(c, common.NewValidationAPIError(common.FormatValidationErrors(ve)))
			return
		}
		common.RespondWithError(c, common.ErrBadRequest.WithDetails(err.Error()))
		return
	}

	acc, err := ctrl.Purchase(c.Request.Context(), req.Amount)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "", gin.H{
		"earned":      acc.Earned,
		"new_balance": acc.NewBalance,
		"no_accrual":  acc.NoAccrual(),
	})
}

func (h *Handler) redeem(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	newBalance, err := ctrl.RedeemPoints(c.Request.Context())
	if err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Points redeemed.", gin.H{"new_balance": newBalance})
}

func (h *Handler) history(c *gin.Context) {
	ident := middleware.GetIdentityFromContext(c)
	if ident == nil {
		common.RespondWithError(c, common.ErrUnauthorized)
		return
	}

	page, pageSize := common.ParsePagination(c)
	entries, total, err := h.journal.ListByUser(c.Request.Context(), ident.UserID, page, pageSize)
	if err != nil {
		h.logger.Error("Failed to list points journal", zap.Error(err))
		common.RespondWithError(c, common.ErrInternalServer)
		return
	}
	common.RespondPaginated(c, "", entries, common.NewPagination(total, page, pageSize))
}

func (h *Handler) signOut(c *gin.Context) {
	ident := middleware.GetIdentityFromContext(c)
	if ident == nil {
		common.RespondWithError(c, common.ErrUnauthorized)
		return
	}
	if err := h.manager.SignOut(c.Request.Context(), ident.UserID); err != nil {
		common.RespondWithError(c, err)
		return
	}
	common.RespondOK(c, "Signed out.", nil)
}
