package onboarding

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"garage-portal/portal-backend/internal/auth"
	"garage-portal/portal-backend/internal/notifications/websocket"
	"garage-portal/portal-backend/internal/provisioning"
	"garage-portal/portal-backend/internal/sms"
)

// Handler handles HTTP requests for the onboarding workflow
type Handler struct {
	service *Service
	sockets *websocket.Manager
	logger  *zap.Logger
}

// NewHandler creates a new onboarding handler. sockets may be nil, which
// disables the live state endpoint.
func NewHandler(service *Service, sockets *websocket.Manager, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		sockets: sockets,
		logger:  logger,
	}
}

// RegisterRoutes mounts /onboarding. The super-admin form and read routes
// accept anonymous callers; reset and later steps need an account.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, optionalAuth, requireAuth gin.HandlerFunc) {
	onboarding := r.Group("/onboarding")
	{
		onboarding.POST("/validate", h.Validate)

		open := onboarding.Group("", optionalAuth)
		open.GET("/state", h.GetState)
		open.GET("/progress", h.GetProgress)
		open.POST("/initialize", h.Initialize)
		open.POST("/navigate", h.Navigate)
		open.POST("/super-admin", h.SubmitSuperAdmin)
		open.GET("/ws", h.Subscribe)

		steps := onboarding.Group("", requireAuth)
		steps.DELETE("", h.Reset)
		steps.POST("/pricing", h.SelectPlan)
		steps.POST("/admin", h.SubmitAdmin)
		steps.POST("/organization", h.SubmitOrganization)
		steps.POST("/sms/send", h.SendSMSCode)
		steps.POST("/sms/verify", h.VerifySMSCode)
		steps.POST("/garage", h.SubmitGarage)
	}
}

// GetState handles GET /onboarding/state
func (h *Handler) GetState(c *gin.Context) {
	state, err := h.service.State(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, state, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetProgress handles GET /onboarding/progress
func (h *Handler) GetProgress(c *gin.Context) {
	state, err := h.service.State(c.Request.Context(), auth.UserID(c))
	if err != nil && !errors.Is(err, ErrProbeFailed) {
		h.respondError(c, state, err)
		return
	}
	c.JSON(http.StatusOK, BuildProgress(state))
}

// Initialize handles POST /onboarding/initialize
func (h *Handler) Initialize(c *gin.Context) {
	state, err := h.service.Initialize(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, state, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type navigateRequest struct {
	Step string `json:"step" binding:"required"`
}

// Navigate handles POST /onboarding/navigate
func (h *Handler) Navigate(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := h.service.Navigate(c.Request.Context(), auth.UserID(c), req.Step)
	if err != nil {
		h.respondError(c, state, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Reset handles DELETE /onboarding
func (h *Handler) Reset(c *gin.Context) {
	state, err := h.service.Reset(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.respondError(c, state, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type validateRequest struct {
	Field  string            `json:"field"`
	Value  string            `json:"value"`
	Fields map[string]string `json:"fields"`
}

// Validate handles POST /onboarding/validate. It checks either one field or
// a whole form and never changes state.
func (h *Handler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Fields) > 0 {
		failures := ValidateForm(req.Fields)
		c.JSON(http.StatusOK, gin.H{"is_valid": len(failures) == 0, "fields": failures})
		return
	}
	if req.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field is required"})
		return
	}
	c.JSON(http.StatusOK, ValidateFormField(req.Field, req.Value))
}

// SubmitSuperAdmin handles POST /onboarding/super-admin
func (h *Handler) SubmitSuperAdmin(c *gin.Context) {
	var req SuperAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.service.SubmitSuperAdmin(c.Request.Context(), req)
	if err != nil {
		var state State
		if result != nil {
			state = result.State
		}
		h.respondError(c, state, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// SelectPlan handles POST /onboarding/pricing
func (h *Handler) SelectPlan(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := h.service.SelectPlan(c.Request.Context(), auth.UserID(c), req)
	h.respondState(c, state, err)
}

// SubmitAdmin handles POST /onboarding/admin
func (h *Handler) SubmitAdmin(c *gin.Context) {
	var req AdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := h.service.SubmitAdmin(c.Request.Context(), auth.UserID(c), req)
	h.respondState(c, state, err)
}

// SubmitOrganization handles POST /onboarding/organization
func (h *Handler) SubmitOrganization(c *gin.Context) {
	var req OrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := h.service.SubmitOrganization(c.Request.Context(), auth.UserID(c), req)
	h.respondState(c, state, err)
}

type smsRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// SendSMSCode handles POST /onboarding/sms/send
func (h *Handler) SendSMSCode(c *gin.Context) {
	var req smsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.service.SendSMSCode(c.Request.Context(), auth.UserID(c), req.Phone)
	if err != nil {
		h.respondError(c, State{}, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

// VerifySMSCode handles POST /onboarding/sms/verify
func (h *Handler) VerifySMSCode(c *gin.Context) {
	var req smsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := h.service.VerifySMSCode(c.Request.Context(), auth.UserID(c), req.Phone, req.Code)
	h.respondState(c, state, err)
}

// SubmitGarage handles POST /onboarding/garage
func (h *Handler) SubmitGarage(c *gin.Context) {
	var req GarageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var email string
	if claims := auth.ClaimsFrom(c); claims != nil {
		email = claims.Email
	}
	state, err := h.service.SubmitGarage(c.Request.Context(), auth.UserID(c), email, req)
	h.respondState(c, state, err)
}

// Subscribe handles GET /onboarding/ws. The current state is pushed right
// after the upgrade, then every change.
func (h *Handler) Subscribe(c *gin.Context) {
	if h.sockets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates are disabled"})
		return
	}
	userID := auth.UserID(c)
	if _, err := h.sockets.HandleConnection(c.Writer, c.Request, h.service.IdentityKey(userID)); err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	state, err := h.service.State(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, ErrProbeFailed) {
		h.logger.Warn("Failed to load state for new subscriber", zap.Error(err))
		return
	}
	h.service.publish(state)
}

func (h *Handler) respondState(c *gin.Context, state State, err error) {
	if err != nil {
		h.respondError(c, state, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// respondError maps workflow and collaborator errors to HTTP statuses. The
// body carries the state the UI should keep rendering.
func (h *Handler) respondError(c *gin.Context, state State, err error) {
	body := gin.H{"error": err.Error()}
	if state.CurrentStep != "" {
		body["state"] = state
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
		c.JSON(http.StatusBadRequest, body)
		return
	}
	if re, ok := provisioning.IsRemote(err); ok {
		body["error"] = re.Message
		c.JSON(http.StatusBadGateway, body)
		return
	}

	switch {
	case errors.Is(err, ErrUnknownStep),
		errors.Is(err, sms.ErrInvalidPhone),
		errors.Is(err, sms.ErrNoCode),
		errors.Is(err, sms.ErrCodeExpired),
		errors.Is(err, sms.ErrCodeInvalid):
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, auth.ErrNoSession):
		c.JSON(http.StatusUnauthorized, body)
	case errors.Is(err, ErrNavigationGuard),
		errors.Is(err, ErrStepMismatch),
		errors.Is(err, ErrTerminal),
		errors.Is(err, ErrUnconfirmed),
		errors.Is(err, auth.ErrAccountExists):
		c.JSON(http.StatusConflict, body)
	case errors.Is(err, ErrInFlight),
		errors.Is(err, sms.ErrTooManyAttempts),
		errors.Is(err, sms.ErrTooManyCodes):
		c.JSON(http.StatusTooManyRequests, body)
	case errors.Is(err, ErrProbeFailed):
		c.JSON(http.StatusServiceUnavailable, body)
	default:
		h.logger.Error("Onboarding request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["error"] = "internal server error"
		c.JSON(http.StatusInternalServerError, body)
	}
}
