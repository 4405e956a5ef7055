package server

import (
	"fmt"
	"time"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

// roomTokenIssuer signs the management tokens handed to hosts on room creation.
// The registry's token map stays the authority on whether a token is live,
// the signature only lets us reject forged tokens without touching the maps.
type roomTokenIssuer struct {
	secret []byte
}

func newRoomTokenIssuer(secret string) *roomTokenIssuer {
	return &roomTokenIssuer{secret: []byte(secret)}
}

func (issuer *roomTokenIssuer) issue(roomID string) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.StandardClaims{
		Id:       uuid.New().String(),
		Issuer:   common.SoftwareName,
		Subject:  roomID,
		IssuedAt: time.Now().Unix(),
	})
	return t.SignedString(issuer.secret)
}

// verify checks the signature and returns the room id the token was issued for
func (issuer *roomTokenIssuer) verify(tokenStr string) (string, bool) {
	decodedToken, err := jwt.ParseWithClaims(tokenStr, &jwt.StandardClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return issuer.secret, nil
	})
	if err != nil {
		return "", false
	}

	if claims, ok := decodedToken.Claims.(*jwt.StandardClaims); ok && decodedToken.Valid {
		return claims.Subject, true
	}
	return "", false
}
