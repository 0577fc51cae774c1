// Package auth implements an onAuthenticate extension verifying the
// per-connection opaque token as a signed JWT, grounded on
// bringyour-connect's use of golang-jwt/jwt/v5 (connect/jwt.go).
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yproto/server/internal/codec"
	"github.com/yproto/server/internal/hooks"
	"github.com/yproto/server/internal/models"
)

// Claims is the expected shape of a verified token.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// presenceColors is the palette every authenticated user's color is picked
// from, by a hash of UserID, so the same user always gets the same cursor
// color (spec's "Presence colors"). Tokens carry no color claim.
var presenceColors = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
}

func presenceColorFor(userID string) string {
	var h uint32
	for i := 0; i < len(userID); i++ {
		h = h*31 + uint32(userID[i])
	}
	return presenceColors[int(h)%len(presenceColors)]
}

// Extension returns an onAuthenticate hook that verifies payload.Token as a
// JWT signed with secret using HMAC. On success it merges the verified
// user's id, name, and assigned presence color into the handshake context
// (spec §4.6.2 "merge context").
func Extension(secret string) *hooks.Extension {
	key := []byte(secret)
	return &hooks.Extension{
		Name:     "auth",
		Priority: 100,
		OnAuthenticate: func(ctx context.Context, payload *hooks.Payload) (any, error) {
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(payload.Token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				return nil, &hooks.HandlerError{
					Code:   codec.Forbidden.Code,
					Reason: "permission-denied",
				}
			}
			info := models.UserInfo{
				ID:    claims.UserID,
				Name:  claims.Name,
				Color: presenceColorFor(claims.UserID),
			}
			return info.Context(), nil
		},
	}
}
