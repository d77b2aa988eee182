package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/eficia/eficia-api/internal/middleware"
	jwtpkg "github.com/eficia/eficia-api/internal/pkg/jwt"
	"github.com/eficia/eficia-api/internal/pkg/logger"
	"github.com/eficia/eficia-api/internal/pkg/response"
)

// AdminClaims for admin JWT tokens
type AdminClaims struct {
	AdminID uuid.UUID `json:"admin_id"`
	Email   string    `json:"email"`
	Role    Role      `json:"role"`
	jwt.RegisteredClaims
}

type capabilityKey struct{}

// JWTService for generating admin tokens
type JWTService struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTService creates admin JWT service
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// GenerateToken creates a new admin JWT
func (s *JWTService) GenerateToken(admin *AdminUser) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		AdminID: admin.ID,
		Email:   admin.Email,
		Role:    admin.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   admin.ID.String(),
			Issuer:    jwtpkg.AdminIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates admin JWT and returns claims. User tokens signed
// with the same secret are rejected by the issuer check.
func (s *JWTService) ValidateToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(jwtpkg.AdminIssuer),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AdminClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// AuthMiddleware resolves the admin's Capability from the token and the
// current admin row. Any failure stops the request.
func AuthMiddleware(jwtSvc *JWTService, adminSvc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := middleware.BearerToken(r)
			if !ok {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			claims, err := jwtSvc.ValidateToken(token)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			// Role comes from the row, not the token, so demotions apply immediately
			admin, err := adminSvc.GetAdminByID(r.Context(), claims.AdminID)
			if err != nil {
				response.Unauthorized(w, "Admin not found")
				return
			}
			if !admin.IsActive {
				response.Forbidden(w, "Admin account is inactive")
				return
			}

			ctx := WithCapability(r.Context(), NewCapability(admin))
			l := logger.FromContext(ctx).With().Str("admin_id", admin.ID.String()).Logger()
			ctx = logger.WithContext(ctx, &l)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithCapability stores c in the context.
func WithCapability(ctx context.Context, c Capability) context.Context {
	return context.WithValue(ctx, capabilityKey{}, c)
}

// GetCapability returns the request's capability, or the zero value which
// grants nothing.
func GetCapability(ctx context.Context) Capability {
	c, _ := ctx.Value(capabilityKey{}).(Capability)
	return c
}
