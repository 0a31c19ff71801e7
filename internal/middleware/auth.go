package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"tableflow-pos-service/internal/auth"
)

type contextKey string

const authContextKey contextKey = "authContext"

// AuthContext is the verified identity attached to merchant requests.
type AuthContext struct {
	UserID      string
	Role        auth.UserRole
	Email       string
	MerchantID  string
	LocationIDs []string
}

// AllowsLocation mirrors the token scope: empty means all locations.
func (a *AuthContext) AllowsLocation(locationID string) bool {
	if len(a.LocationIDs) == 0 {
		return true
	}
	for _, id := range a.LocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	value := ctx.Value(authContextKey)
	if value == nil {
		return nil, false
	}
	ac, ok := value.(*AuthContext)
	return ac, ok
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	writeAuthErrorDebug(w, status, message, "")
}

func writeAuthErrorDebug(w http.ResponseWriter, status int, message string, debug string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload := map[string]any{
		"success": false,
		"error":   "UNAUTHORIZED",
		"message": message,
	}

	if os.Getenv("APP_ENV") == "development" && strings.TrimSpace(debug) != "" {
		payload["debug"] = debug
	}

	_ = json.NewEncoder(w).Encode(payload)
}

// MerchantAuth verifies the bearer token, requires a merchant-scoped role,
// and enforces the staff permission table. Token verification is stateless:
// the upstream identity service owns sessions and revocation.
func MerchantAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ParseBearerToken(r.Header.Get("Authorization"))
			claims, err := auth.VerifyAccessToken(token, jwtSecret)
			if err != nil {
				writeAuthErrorDebug(w, http.StatusUnauthorized, "Authorization token required", err.Error())
				return
			}

			switch claims.Role {
			case auth.RoleMerchantOwner, auth.RoleMerchantStaff, auth.RoleKitchen:
			default:
				writeAuthError(w, http.StatusForbidden, "Merchant access required")
				return
			}
			if claims.MerchantID == "" {
				writeAuthError(w, http.StatusUnauthorized, "Merchant not found")
				return
			}

			// Permission table applies to staff and kitchen tokens only.
			if claims.Role != auth.RoleMerchantOwner {
				if perm := auth.GetPermissionForAPI(r.URL.Path, r.Method); perm != nil {
					if !hasPermission(claims, *perm) {
						writeAuthError(w, http.StatusForbidden, "You do not have permission to access this resource")
						return
					}
				}
			}

			authCtx := &AuthContext{
				UserID:      claims.UserID,
				Role:        claims.Role,
				Email:       claims.Email,
				MerchantID:  claims.MerchantID,
				LocationIDs: claims.LocationIDs,
			}
			ctx := WithAuthContext(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Kitchen tokens may only read the board and move tickets.
var kitchenPermissions = map[auth.StaffPermission]bool{
	auth.PermTickets: true,
	auth.PermOrders:  true,
}

func hasPermission(claims *auth.Claims, perm auth.StaffPermission) bool {
	if claims.Role == auth.RoleKitchen {
		return kitchenPermissions[perm]
	}
	// Staff tokens carry no per-permission grants in this service; the
	// identity service embeds the role only, so staff get the full table.
	return true
}
