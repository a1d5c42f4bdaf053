package watch

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"bizlinkone/backend/internal/realtime/presence"
)

// IdentityFromToken reads the subject and display name from an access token without verifying
// it. The gateway verifies the token on join; the client only needs to know who it claims to be.
func IdentityFromToken(token string) (presence.Self, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return presence.Self{}, fmt.Errorf("watch: parse token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return presence.Self{}, fmt.Errorf("watch: token subject: %w", err)
	}
	if sub == "" {
		return presence.Self{}, errors.New("watch: token has no subject")
	}
	name, _ := claims["name"].(string)
	return presence.Self{UserID: sub, DisplayName: name}, nil
}
