// Package auth holds Firebase identity plumbing. Authentication is
// optional for this API: a valid bearer token attributes projects to
// the caller, an absent one leaves them anonymous.
package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

// InitializeFirebase initializes the Firebase Admin SDK against the
// GCP project and returns an Auth client. Uses application default
// credentials.
func InitializeFirebase(ctx context.Context, gcpProject string) (*auth.Client, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: gcpProject})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Auth client: %w", err)
	}

	return authClient, nil
}
