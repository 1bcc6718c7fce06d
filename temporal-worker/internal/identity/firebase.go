package identity

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/rshare/ride-booking-system/shared/models"
	"google.golang.org/api/option"
)

// FirebaseVerifier checks ID tokens issued by Firebase Authentication
type FirebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier initializes the Firebase app from a service account
// file
func NewFirebaseVerifier(ctx context.Context, credentialsFile string) (*FirebaseVerifier, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase: error initializing app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: error getting Auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (f *FirebaseVerifier) Verify(ctx context.Context, idToken string) (string, error) {
	token, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", &models.GatewayError{Message: "Sign-in was rejected by the identity provider.", Err: err}
	}
	return IdentityFromClaims(token.Claims, token.UID), nil
}

// IdentityFromClaims picks the display identity from token claims: the
// display name, else the phone number, else the email, else the user ID
func IdentityFromClaims(claims map[string]interface{}, uid string) string {
	for _, key := range []string{"name", "phone_number", "email"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return uid
}
