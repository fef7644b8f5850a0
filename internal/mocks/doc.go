// Package mocks provides shared mock implementations for testing.
//
// Mocks use function fields so each test can script exactly the behavior it
// needs, with static defaults when a function is not set:
//
//	jwtService := &mocks.MockJWTService{
//	    ValidateTokenFn: func(ctx context.Context, token string) (*auth.Claims, error) {
//	        return nil, auth.ErrExpiredToken
//	    },
//	}
package mocks
