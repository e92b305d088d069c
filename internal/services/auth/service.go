package auth

import "context"

// Service validates bearer tokens minted by the account service. Sessions
// live there; this side only trusts the signature and expiry.
type Service struct {
	jwt *JWTManager
}

func NewService(jwtManager *JWTManager) *Service {
	return &Service{jwt: jwtManager}
}

func (s *Service) ValidateAccessToken(_ context.Context, accessToken string) (AccessClaims, error) {
	if s == nil || s.jwt == nil {
		return AccessClaims{}, ErrUnauthorized
	}
	return s.jwt.ParseAccessToken(accessToken)
}
