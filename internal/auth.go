package internal

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Tokens are issued by the identity provider; this service only verifies
// them. The subject claim is the user id.

var errNoSubject = errors.New("token has no subject")

func tokenFromRequest(c *gin.Context, cookie string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	tok, err := c.Cookie(cookie)
	if err != nil {
		return ""
	}
	return tok
}

func parseToken(secret, tokenStr string) (string, error) {
	var cl jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(tokenStr, &cl, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !tok.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	if cl.Subject == "" {
		return "", errNoSubject
	}
	return cl.Subject, nil
}

// Logout clears the auth cookie.
func Logout(cookie string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetCookie(cookie, "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}
