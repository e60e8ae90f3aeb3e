package identity

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Put(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController exposes the identity core as a JSON API.
type HTTPController struct {
	Debug        bool
	Logger       Logger
	ErrorHandler func(router.Context, error) error

	facade     SessionFacade
	directory  *Directory
	principals Principals
	tokens     TokenService
}

type HTTPControllerOption func(*HTTPController) *HTTPController

func WithHTTPLogger(l Logger) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		if l != nil {
			c.Logger = l
		}
		return c
	}
}

func WithHTTPDebug(debug bool) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Debug = debug
		return c
	}
}

// WithTokenService makes sign-in responses include a locally minted JWT.
func WithTokenService(tokens TokenService) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.tokens = tokens
		return c
	}
}

// NewHTTPController wires the session facade and directory into a JSON
// controller.
func NewHTTPController(facade SessionFacade, directory *Directory, principals Principals, opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger:     defLogger{},
		facade:     facade,
		directory:  directory,
		principals: principals,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	c.ErrorHandler = c.jsonErrHandler

	if c.facade == nil {
		panic("Missing SessionFacade in identity controller...")
	}
	if c.directory == nil {
		panic("Missing Directory in identity controller...")
	}

	return c
}

// RegisterRoutes registers the identity API routes.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar, protected ...router.MiddlewareFunc) {
	group.Post("/auth/sign-in", c.SignIn)
	group.Post("/auth/sign-up", c.SignUp)
	group.Post("/auth/sign-out", c.SignOut)
	group.Get("/auth/me", c.Me, protected...)

	group.Get("/principals/:id", c.ShowProfile, protected...)
	group.Put("/principals/:id", c.UpdateProfile, protected...)
	group.Put("/principals/:id/role", c.ChangeRole, protected...)
	group.Delete("/principals/:id", c.DeletePrincipal, protected...)
	group.Get("/principals/:id/audits", c.ListAudits, protected...)
}

// CredentialsPayload is the sign-in and sign-up request body.
type CredentialsPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (p CredentialsPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

func (c *HTTPController) SignIn(ctx router.Context) error {
	payload := new(CredentialsPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, errors.Wrap(err, errors.CategoryBadInput, "failed to parse payload").
			WithCode(errors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "validation failed",
			"validation": err.Error(),
		})
	}

	if c.Debug {
		fmt.Println("======= IDENTITY SIGN IN ======")
		fmt.Println(print.MaybePrettyJSON(map[string]any{"email": payload.Email}))
		fmt.Println("===============================")
	}

	principal, err := c.facade.SignIn(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return c.sessionResponse(ctx, principal)
}

func (c *HTTPController) SignUp(ctx router.Context) error {
	payload := new(CredentialsPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, errors.Wrap(err, errors.CategoryBadInput, "failed to parse payload").
			WithCode(errors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "validation failed",
			"validation": err.Error(),
		})
	}

	principal, err := c.facade.SignUp(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return c.sessionResponse(ctx, principal)
}

func (c *HTTPController) SignOut(ctx router.Context) error {
	if err := c.facade.SignOut(ctx.Context()); err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, map[string]string{"status": "signed_out"})
}

func (c *HTTPController) Me(ctx router.Context) error {
	principal, ok := c.facade.CurrentPrincipal()
	if !ok {
		return c.ErrorHandler(ctx, ErrSignedOut)
	}
	return ctx.JSON(router.StatusOK, map[string]any{
		"principal": principal.PublicProfile(),
		"role":      principal.Role,
	})
}

func (c *HTTPController) ShowProfile(ctx router.Context) error {
	subjectID, err := paramUUID(ctx, "id")
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	principal, err := c.directory.GetProfile(ctx.Context(), subjectID)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"principal": principal.PublicProfile(),
	})
}

// ProfileUpdatePayload carries the self-service profile fields. Role is not
// bindable through this payload.
type ProfileUpdatePayload struct {
	DisplayName *string `json:"display_name" form:"display_name"`
	Email       *string `json:"email" form:"email"`
}

// Validate will run validation rules
func (p ProfileUpdatePayload) Validate() error {
	if p.Email != nil {
		if err := validation.Validate(*p.Email, validation.Required, is.Email); err != nil {
			return err
		}
	}
	if p.DisplayName != nil {
		if err := validation.Validate(*p.DisplayName, validation.Length(0, 200)); err != nil {
			return err
		}
	}
	return nil
}

func (c *HTTPController) UpdateProfile(ctx router.Context) error {
	actor, err := c.currentActor(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	subjectID, err := paramUUID(ctx, "id")
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	payload := new(ProfileUpdatePayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, errors.Wrap(err, errors.CategoryBadInput, "failed to parse payload").
			WithCode(errors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "validation failed",
			"validation": err.Error(),
		})
	}

	principal, err := c.directory.UpdateProfile(ctx.Context(), actor, subjectID, ProfileChanges{
		DisplayName: payload.DisplayName,
		Email:       payload.Email,
	})
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"principal": principal.PublicProfile(),
	})
}

// RoleChangePayload is the admin role-change request body.
type RoleChangePayload struct {
	Role   string `json:"role" form:"role"`
	Reason string `json:"reason" form:"reason"`
}

// Validate will run validation rules
func (p RoleChangePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Role, validation.Required),
		validation.Field(&p.Reason, validation.Length(0, 500)),
	)
}

func (c *HTTPController) ChangeRole(ctx router.Context) error {
	actor, err := c.currentActor(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	subjectID, err := paramUUID(ctx, "id")
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	payload := new(RoleChangePayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, errors.Wrap(err, errors.CategoryBadInput, "failed to parse payload").
			WithCode(errors.CodeBadRequest))
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "validation failed",
			"validation": err.Error(),
		})
	}

	role, ok := ParseRole(payload.Role)
	if !ok {
		return c.ErrorHandler(ctx, ErrInvalidRole)
	}

	principal, err := c.directory.ChangeRole(ctx.Context(), actor, subjectID, role, payload.Reason)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"principal": principal.PublicProfile(),
		"role":      principal.Role,
	})
}

func (c *HTTPController) DeletePrincipal(ctx router.Context) error {
	actor, err := c.currentActor(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	subjectID, err := paramUUID(ctx, "id")
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if err := c.directory.DeletePrincipal(ctx.Context(), actor, subjectID); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{"status": "deleted"})
}

func (c *HTTPController) ListAudits(ctx router.Context) error {
	actor, err := c.currentActor(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	subjectID, err := paramUUID(ctx, "id")
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	records, err := c.directory.AuditTrail(ctx.Context(), actor, subjectID)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if c.Debug {
		fmt.Println(print.MaybePrettyJSON(records))
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"audits": records,
	})
}

func (c *HTTPController) sessionResponse(ctx router.Context, principal *Principal) error {
	response := map[string]any{
		"principal": principal.PublicProfile(),
		"role":      principal.Role,
	}

	if c.tokens != nil {
		token, err := c.tokens.Generate(ctx.Context(), NewIdentityFromPrincipal(principal))
		if err != nil {
			return c.ErrorHandler(ctx, err)
		}
		response["token"] = token
	}

	return ctx.JSON(router.StatusOK, response)
}

// currentActor resolves the acting principal from validated request claims,
// falling back to the facade's session.
func (c *HTTPController) currentActor(ctx router.Context) (*Principal, error) {
	if claims, ok := GetClaims(ctx.Context()); ok && c.principals != nil {
		if id, err := uuid.Parse(claims.UserID()); err == nil {
			return c.principals.Get(ctx.Context(), id)
		}
	}

	if principal, ok := c.facade.CurrentPrincipal(); ok {
		return principal, nil
	}

	return nil, ErrSignedOut
}

func paramUUID(ctx router.Context, name string) (uuid.UUID, error) {
	raw := ctx.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.CategoryBadInput, "invalid principal id").
			WithCode(errors.CodeBadRequest)
	}
	return id, nil
}

func (c *HTTPController) jsonErrHandler(ctx router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	c.Logger.Info(
		"request error: %s category=%s details=%s",
		richErr.Message,
		richErr.Category,
		print.MaybePrettyJSON(richErr.Metadata),
	)

	status := richErr.Code
	if status == 0 {
		status = router.StatusInternalServerError
	}

	return ctx.JSON(status, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}
